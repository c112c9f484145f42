package ipaymu

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// WebhookPath is the route the gateway posts payment notifications to. The
// notify URL registered at checkout and the mounted webhook route both use
// this constant so they cannot drift apart.
const WebhookPath = "/api/payments/webhook/ipaymu"

// BankCode represents supported bank codes for VA
type BankCode string

const (
	BankBCA     BankCode = "bca"
	BankMandiri BankCode = "mandiri"
	BankBNI     BankCode = "bni"
	BankBRI     BankCode = "bri"
	BankCIMB    BankCode = "cimb"
)

// Config holds iPaymu API configuration
type Config struct {
	VA        string // merchant VA
	APIKey    string // API Key from iPaymu
	BaseURL   string // sandbox or production
	NotifyURL string // webhook URL for payment notifications
}

// Client is the iPaymu API client
type Client struct {
	config     Config
	httpClient *http.Client
}

// VAResponse represents the response from VA creation
type VAResponse struct {
	VANumber  string
	SessionID string
	ExpiresAt time.Time
}

// RefundResponse represents the provider's answer to a refund request
type RefundResponse struct {
	TransactionID string
	Status        string // "success", "pending", "failed"
}

// TransactionStatus represents the provider-side state of a transaction
type TransactionStatus struct {
	TransactionID string
	Status        string // "berhasil", "pending", "expired", "refunded"
	Amount        int64
}

// DirectPaymentRequest represents the request body for direct VA payment
type DirectPaymentRequest struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Amount         int64  `json:"amount"`
	NotifyURL      string `json:"notifyUrl"`
	Expired        int    `json:"expired"` // expiry in hours
	Comments       string `json:"comments"`
	ReferenceID    string `json:"referenceId"`
	PaymentMethod  string `json:"paymentMethod"`
	PaymentChannel string `json:"paymentChannel"`
}

// DirectPaymentResponse represents the iPaymu API response
type DirectPaymentResponse struct {
	Status  int    `json:"Status"`
	Message string `json:"Message"`
	Data    struct {
		SessionID     string `json:"SessionId"`
		TransactionID int64  `json:"TransactionId"`
		ReferenceID   string `json:"ReferenceId"`
		Via           string `json:"Via"`
		Channel       string `json:"Channel"`
		PaymentNo     string `json:"PaymentNo"` // the VA number
		PaymentName   string `json:"PaymentName"`
		Total         int64  `json:"Total"`
		Fee           int64  `json:"Fee"`
		Expired       string `json:"Expired"` // ISO date string
	} `json:"Data"`
}

type refundRequest struct {
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	ReferenceID   string `json:"referenceId"`
}

type refundResponse struct {
	Status  int    `json:"Status"`
	Message string `json:"Message"`
	Data    struct {
		RefundID string `json:"RefundId"`
		Status   string `json:"Status"`
	} `json:"Data"`
}

type checkResponse struct {
	Status  int    `json:"Status"`
	Message string `json:"Message"`
	Data    struct {
		TransactionID int64  `json:"TransactionId"`
		StatusDesc    string `json:"StatusDesc"`
		Amount        int64  `json:"Amount"`
	} `json:"Data"`
}

// NewClient creates a new iPaymu client
func NewClient(cfg Config) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// generateSignature creates the HMAC-SHA256 signature for iPaymu API
// Step 1: bodyHash = lowercase(sha256(jsonBody))
// Step 2: stringToSign = METHOD + ":" + va + ":" + bodyHash + ":" + apiKey
// Step 3: signature = lowercase(hmacSha256(apiKey, stringToSign))
func (c *Client) generateSignature(jsonBody []byte, method string) string {
	bodyHashBytes := sha256.Sum256(jsonBody)
	bodyHash := strings.ToLower(hex.EncodeToString(bodyHashBytes[:]))

	stringToSign := fmt.Sprintf("%s:%s:%s:%s", method, c.config.VA, bodyHash, c.config.APIKey)

	h := hmac.New(sha256.New, []byte(c.config.APIKey))
	h.Write([]byte(stringToSign))
	return strings.ToLower(hex.EncodeToString(h.Sum(nil)))
}

func (c *Client) post(ctx context.Context, endpoint string, reqBody any) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	signature := c.generateSignature(jsonBody, "POST")

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("va", c.config.VA)
	req.Header.Set("signature", signature)
	req.Header.Set("timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("iPaymu API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// CreateDirectVA creates a Virtual Account for direct payment
func (c *Client) CreateDirectVA(ctx context.Context, paymentID string, amount int64, bankCode BankCode, name, email, phone string) (*VAResponse, error) {
	reqBody := DirectPaymentRequest{
		Name:           name,
		Phone:          phone,
		Email:          email,
		Amount:         amount,
		NotifyURL:      c.config.NotifyURL,
		Expired:        24, // VA valid for 24 hours
		Comments:       fmt.Sprintf("Payment: %s", paymentID),
		ReferenceID:    paymentID,
		PaymentMethod:  "va",
		PaymentChannel: string(bankCode),
	}

	log.Printf("[iPaymu] Creating VA: payment=%s bank=%s amount=%d", paymentID, bankCode, amount)

	respBody, err := c.post(ctx, "/api/v2/payment/direct", reqBody)
	if err != nil {
		return nil, err
	}

	var apiResp DirectPaymentResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if apiResp.Status != 200 {
		return nil, fmt.Errorf("iPaymu API error: %s", apiResp.Message)
	}

	expiresAt, _ := time.Parse(time.RFC3339, apiResp.Data.Expired)
	if expiresAt.IsZero() {
		expiresAt = time.Now().UTC().Add(24 * time.Hour)
	}

	return &VAResponse{
		VANumber:  apiResp.Data.PaymentNo,
		SessionID: apiResp.Data.SessionID,
		ExpiresAt: expiresAt,
	}, nil
}

// Refund asks the provider to return part or all of a settled transaction.
// The caller bounds ctx; a deadline here must be treated as "still
// processing", never as success.
func (c *Client) Refund(ctx context.Context, trxID string, amount int64, reason, reference string) (*RefundResponse, error) {
	reqBody := refundRequest{
		TransactionID: trxID,
		Amount:        amount,
		Reason:        reason,
		ReferenceID:   reference,
	}

	log.Printf("[iPaymu] Refunding trx=%s amount=%d ref=%s", trxID, amount, reference)

	respBody, err := c.post(ctx, "/api/v2/refund", reqBody)
	if err != nil {
		return nil, err
	}

	var apiResp refundResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if apiResp.Status != 200 {
		return nil, fmt.Errorf("iPaymu API error: %s", apiResp.Message)
	}

	return &RefundResponse{
		TransactionID: apiResp.Data.RefundID,
		Status:        apiResp.Data.Status,
	}, nil
}

// CheckTransaction fetches the provider-side status of a transaction, used
// to reconcile refunds left in processing after a timeout.
func (c *Client) CheckTransaction(ctx context.Context, trxID string) (*TransactionStatus, error) {
	respBody, err := c.post(ctx, "/api/v2/transaction", map[string]string{"transactionId": trxID})
	if err != nil {
		return nil, err
	}

	var apiResp checkResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if apiResp.Status != 200 {
		return nil, fmt.Errorf("iPaymu API error: %s", apiResp.Message)
	}

	return &TransactionStatus{
		TransactionID: fmt.Sprintf("%d", apiResp.Data.TransactionID),
		Status:        apiResp.Data.StatusDesc,
		Amount:        apiResp.Data.Amount,
	}, nil
}

// MapBankCode converts a frontend bank name to an iPaymu bank code
func MapBankCode(bank string) BankCode {
	switch strings.ToUpper(bank) {
	case "BCA":
		return BankBCA
	case "MANDIRI":
		return BankMandiri
	case "BNI":
		return BankBNI
	case "BRI":
		return BankBRI
	case "CIMB":
		return BankCIMB
	default:
		return BankBCA
	}
}
