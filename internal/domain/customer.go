package domain

import (
	"context"
	"time"
)

// CustomerStatus is the account-level standing of a customer.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "active"
	CustomerSuspended CustomerStatus = "suspended"
	CustomerBlocked   CustomerStatus = "blocked"
)

// Customer represents a prepaid subscriber identity. The username/password
// pair is the network login the NAS authenticates against; AAA rows are
// keyed by Username and must be released before the customer is deleted.
type Customer struct {
	ID        string         `bson:"_id,omitempty" json:"id"`
	Phone     string         `bson:"phone,omitempty" json:"phone"` // unique, required
	Email     string         `bson:"email,omitempty" json:"email,omitempty"`
	FullName  string         `bson:"full_name,omitempty" json:"full_name"`
	Username  string         `bson:"username,omitempty" json:"username"`
	Password  string         `bson:"password,omitempty" json:"-"`
	Status    CustomerStatus `bson:"status,omitempty" json:"status"`
	CreatedAt time.Time      `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at,omitempty" json:"updated_at"`
}

// CustomerRepository defines operations for managing customers
type CustomerRepository interface {
	Create(ctx context.Context, customer *Customer) error
	GetByID(ctx context.Context, id string) (*Customer, error)
	GetByPhone(ctx context.Context, phone string) (*Customer, error)
	GetByUsername(ctx context.Context, username string) (*Customer, error)
	Update(ctx context.Context, customer *Customer) error
	Delete(ctx context.Context, id string) error
}
