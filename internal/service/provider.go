package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nusawave/prepaidnet/internal/config"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/infrastructure/ipaymu"
	"github.com/oklog/ulid/v2"
)

// VAResponse represents the response from a payment provider
type VAResponse struct {
	VANumber  string
	SessionID string
	ExpiresAt time.Time
}

// PaymentProvider defines the interface for payment gateway integrations
type PaymentProvider interface {
	// GenerateVA creates a Virtual Account for the given bank and amount
	GenerateVA(ctx context.Context, bank string, amount int64, customer *domain.Customer, paymentID string) (*VAResponse, error)

	// Charge attempts an immediate debit for auto-renewal. Providers
	// without a card-on-file flow return an error and the renewal falls
	// through to the expire sweep.
	Charge(ctx context.Context, customer *domain.Customer, amount int64, reference string) (trxID string, err error)

	// Refund returns part or all of a settled transaction. A context
	// deadline here means "unknown", never success.
	Refund(ctx context.Context, trxID string, amount int64, reason, reference string) (refundTrxID string, err error)

	// CheckTransaction reports the provider-side status of a transaction:
	// one of "berhasil", "pending", "expired", "refunded".
	CheckTransaction(ctx context.Context, trxID string) (string, error)
}

// NewPaymentProvider returns the configured provider, or the mock client
// when no gateway credentials are present.
func NewPaymentProvider(cfg config.IPaymuConfig) PaymentProvider {
	if cfg.APIKey == "" || cfg.VA == "" {
		log.Println("[Payment] Using mock gateway client (no credentials configured)")
		return &MockGatewayClient{}
	}

	webhookURL := ""
	if cfg.NotifyURL != "" {
		webhookURL = cfg.NotifyURL + ipaymu.WebhookPath
	}

	log.Printf("[Payment] Using iPaymu client (base: %s, notify: %s)", cfg.BaseURL, webhookURL)
	client := ipaymu.NewClient(ipaymu.Config{
		VA:        cfg.VA,
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		NotifyURL: webhookURL,
	})
	return &IPaymuClientAdapter{client: client}
}

// MockGatewayClient is a development stand-in that approves everything.
type MockGatewayClient struct{}

func (m *MockGatewayClient) GenerateVA(_ context.Context, bank string, _ int64, _ *domain.Customer, _ string) (*VAResponse, error) {
	sessionID := ulid.Make().String()

	var vaNumber string
	switch bank {
	case "BCA":
		vaNumber = fmt.Sprintf("8888-MOCK-BCA-%s", sessionID[:8])
	case "Mandiri":
		vaNumber = fmt.Sprintf("8888-MOCK-MDR-%s", sessionID[:8])
	case "BNI":
		vaNumber = fmt.Sprintf("8888-MOCK-BNI-%s", sessionID[:8])
	default:
		vaNumber = fmt.Sprintf("8888-MOCK-GEN-%s", sessionID[:8])
	}

	return &VAResponse{
		VANumber:  vaNumber,
		SessionID: sessionID,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}, nil
}

func (m *MockGatewayClient) Charge(_ context.Context, _ *domain.Customer, _ int64, _ string) (string, error) {
	return "MOCK-TRX-" + ulid.Make().String(), nil
}

func (m *MockGatewayClient) Refund(_ context.Context, _ string, _ int64, _, _ string) (string, error) {
	return "MOCK-RFD-" + ulid.Make().String(), nil
}

func (m *MockGatewayClient) CheckTransaction(_ context.Context, _ string) (string, error) {
	return "berhasil", nil
}

// IPaymuClientAdapter adapts the ipaymu.Client to PaymentProvider
type IPaymuClientAdapter struct {
	client *ipaymu.Client
}

func (a *IPaymuClientAdapter) GenerateVA(ctx context.Context, bank string, amount int64, customer *domain.Customer, paymentID string) (*VAResponse, error) {
	email := customer.Email
	if email == "" {
		email = "subscriber@prepaidnet.app"
	}

	resp, err := a.client.CreateDirectVA(ctx, paymentID, amount, ipaymu.MapBankCode(bank), customer.FullName, email, customer.Phone)
	if err != nil {
		log.Printf("[Payment] iPaymu API error: %v", err)
		return nil, fmt.Errorf("payment provider error: %w", err)
	}

	return &VAResponse{
		VANumber:  resp.VANumber,
		SessionID: resp.SessionID,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

func (a *IPaymuClientAdapter) Charge(_ context.Context, _ *domain.Customer, _ int64, _ string) (string, error) {
	// VA-based merchants have nothing to debit without the subscriber
	// paying manually; the renewal then falls through to the expire sweep.
	return "", fmt.Errorf("ipaymu: card-on-file charge not enabled for this merchant")
}

func (a *IPaymuClientAdapter) Refund(ctx context.Context, trxID string, amount int64, reason, reference string) (string, error) {
	resp, err := a.client.Refund(ctx, trxID, amount, reason, reference)
	if err != nil {
		return "", fmt.Errorf("payment provider error: %w", err)
	}
	return resp.TransactionID, nil
}

func (a *IPaymuClientAdapter) CheckTransaction(ctx context.Context, trxID string) (string, error) {
	status, err := a.client.CheckTransaction(ctx, trxID)
	if err != nil {
		return "", fmt.Errorf("payment provider error: %w", err)
	}
	return status.Status, nil
}
