package pay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"housingBack/internal/booking/ledger"
)

// Client queries a KHQR-style settlement API for correlation hash status.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	secret     string
	logger     *slog.Logger
}

// NewClient constructs a settlement client. secret enables request signing.
func NewClient(httpClient *http.Client, baseURL, token, secret string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		secret:     secret,
		logger:     logger,
	}
}

type apiResponse struct {
	ResponseCode    int             `json:"responseCode"`
	ResponseMessage string          `json:"responseMessage"`
	ErrorCode       *int            `json:"errorCode"`
	Data            json.RawMessage `json:"data"`
}

type bulkItem struct {
	MD5     string `json:"md5"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Status reports whether hash has settled.
func (c *Client) Status(ctx context.Context, hash string) (ledger.Status, error) {
	var resp apiResponse
	if err := c.post(ctx, "/v1/check_transaction_by_md5", map[string]string{"md5": hash}, &resp); err != nil {
		return "", err
	}
	switch {
	case resp.ResponseCode == 0:
		return ledger.StatusPaid, nil
	case resp.ErrorCode != nil && *resp.ErrorCode == 1:
		// transaction not found yet
		return ledger.StatusUnknown, nil
	default:
		return "", fmt.Errorf("settlement: %s", resp.ResponseMessage)
	}
}

// PaidAmong returns the subset of hashes that settled. Callers keep
// requests at or below ledger.MaxBulk hashes.
func (c *Client) PaidAmong(ctx context.Context, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	if len(hashes) > ledger.MaxBulk {
		return nil, fmt.Errorf("settlement: %d hashes exceeds bulk limit %d", len(hashes), ledger.MaxBulk)
	}
	var resp apiResponse
	if err := c.post(ctx, "/v1/check_transaction_by_md5_list", hashes, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != 0 {
		return nil, fmt.Errorf("settlement: %s", resp.ResponseMessage)
	}
	var items []bulkItem
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &items); err != nil {
			return nil, fmt.Errorf("settlement: decode bulk data: %w", err)
		}
	}
	paid := make([]string, 0, len(items))
	for _, it := range items {
		if strings.EqualFold(it.Status, "SUCCESS") {
			paid = append(paid, strings.ToLower(it.MD5))
		}
	}
	return paid, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out *apiResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.secret != "" {
		req.Header.Set("X-Signature", Sign(body, c.secret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("settlement request failed", "op", "pay.post", "path", path, "status", resp.StatusCode, "body", string(snippet))
		return fmt.Errorf("settlement: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("settlement: decode response: %w", err)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC validates a signature using HMAC-SHA256.
func VerifyHMAC(body []byte, signature, secret string) bool {
	expected, err := hex.DecodeString(Sign(body, secret))
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sigBytes)
}
