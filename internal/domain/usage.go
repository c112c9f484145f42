package domain

import (
	"context"
	"fmt"
	"time"
)

// UsageDateLayout is the day bucket key for DataUsageRecord rows.
const UsageDateLayout = "2006-01-02"

// DataUsageRecord is the per (subscription, day) usage aggregate, upserted
// incrementally as accounting records arrive.
type DataUsageRecord struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	SubscriptionID string    `bson:"subscription_id,omitempty" json:"subscription_id"`
	Date           string    `bson:"date,omitempty" json:"date"` // UsageDateLayout, UTC
	BytesUp        int64     `bson:"bytes_up" json:"bytes_up"`
	BytesDown      int64     `bson:"bytes_down" json:"bytes_down"`
	BytesTotal     int64     `bson:"bytes_total" json:"bytes_total"`
	SessionCount   int       `bson:"session_count" json:"session_count"`
	SessionSeconds int64     `bson:"session_seconds" json:"session_seconds"`
	PeakConcurrent int       `bson:"peak_concurrent" json:"peak_concurrent"`
	CreatedAt      time.Time `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at,omitempty" json:"updated_at"`
}

// UsageDelta is one increment folded into a daily record.
type UsageDelta struct {
	BytesUp        int64
	BytesDown      int64
	SessionDelta   int
	SecondsDelta   int64
	ConcurrentNow  int
}

// AccountingEventType is the kind of a raw accounting record.
type AccountingEventType string

const (
	AccountingStart   AccountingEventType = "start"
	AccountingInterim AccountingEventType = "interim"
	AccountingStop    AccountingEventType = "stop"
)

// AccountingRecord is a normalized raw accounting event as delivered by the
// ingestion layer. Byte counters are session-cumulative, the way a NAS
// reports them.
type AccountingRecord struct {
	Type      AccountingEventType `json:"type"`
	Username  string              `json:"username"`
	NasID     string              `json:"nas_id"`
	SessionID string              `json:"session_id"`
	StartedAt time.Time           `json:"started_at"`
	StoppedAt *time.Time          `json:"stopped_at,omitempty"`
	BytesIn   int64               `json:"bytes_in"`
	BytesOut  int64               `json:"bytes_out"`
}

// NaturalKey is the dedup key for a session: (username, start, NAS).
func (r *AccountingRecord) NaturalKey() string {
	return fmt.Sprintf("%s|%d|%s", r.Username, r.StartedAt.UTC().Unix(), r.NasID)
}

// SessionState is the bookkeeping state of an accounting session.
type SessionState string

const (
	SessionOpen       SessionState = "open"
	SessionClosed     SessionState = "closed"
	SessionTerminated SessionState = "terminated" // closed administratively, not by a stop record
)

// AccountingSession tracks one NAS session. LastBytesIn/Out hold the last
// cumulative counters seen, so replayed or out-of-order records fold into
// the daily aggregates without double counting.
type AccountingSession struct {
	ID             string       `bson:"_id,omitempty" json:"id"`
	NaturalKey     string       `bson:"natural_key,omitempty" json:"natural_key"` // unique
	Username       string       `bson:"username,omitempty" json:"username"`
	SubscriptionID string       `bson:"subscription_id,omitempty" json:"subscription_id"`
	NasID          string       `bson:"nas_id,omitempty" json:"nas_id"`
	SessionID      string       `bson:"session_id,omitempty" json:"session_id"`
	State          SessionState `bson:"state,omitempty" json:"state"`
	StartedAt      time.Time    `bson:"started_at,omitempty" json:"started_at"`
	StoppedAt      *time.Time   `bson:"stopped_at,omitempty" json:"stopped_at,omitempty"`
	LastBytesIn    int64        `bson:"last_bytes_in" json:"last_bytes_in"`
	LastBytesOut   int64        `bson:"last_bytes_out" json:"last_bytes_out"`
	LastSeenAt     time.Time    `bson:"last_seen_at,omitempty" json:"last_seen_at"`
	CreatedAt      time.Time    `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt      time.Time    `bson:"updated_at,omitempty" json:"updated_at"`
}

// UsageSnapshot is the read model for dashboards: current usage against the
// package cap with threshold flags.
type UsageSnapshot struct {
	SubscriptionID string  `json:"subscription_id"`
	UsedBytes      int64   `json:"used_bytes"`
	CapBytes       *int64  `json:"cap_bytes,omitempty"` // nil = unlimited
	Percent        float64 `json:"percent"`
	Approaching    bool    `json:"approaching"`
	Over           bool    `json:"over"`
}

// UsageRepository defines persistence for daily usage aggregates.
type UsageRepository interface {
	// UpsertDaily folds delta into the (subscriptionID, date) row, creating
	// it when absent. Peak concurrent is kept as a running max.
	UpsertDaily(ctx context.Context, subscriptionID, date string, delta UsageDelta) error
	GetDaily(ctx context.Context, subscriptionID, date string) (*DataUsageRecord, error)
	ListBySubscription(ctx context.Context, subscriptionID string, from, to string) ([]*DataUsageRecord, error)
}

// AccountingRepository defines persistence for raw session bookkeeping.
type AccountingRepository interface {
	// CreateSession inserts a session row; ErrDuplicateAccounting when the
	// natural key already exists.
	CreateSession(ctx context.Context, s *AccountingSession) error
	GetByNaturalKey(ctx context.Context, key string) (*AccountingSession, error)

	// AdvanceCounters moves the session's cumulative counters forward and
	// returns the applied delta. Counters never move backwards, so replays
	// and reordered interims apply a zero delta.
	AdvanceCounters(ctx context.Context, key string, bytesIn, bytesOut int64, seenAt time.Time) (inDelta, outDelta int64, err error)

	CloseSession(ctx context.Context, key string, stoppedAt time.Time, state SessionState) error
	CountOpenByUsername(ctx context.Context, username string) (int64, error)
	FindOpenBySubscriptionIDs(ctx context.Context, subscriptionIDs []string) ([]*AccountingSession, error)
	FindOpenSessions(ctx context.Context, limit int64) ([]*AccountingSession, error)
}
