package clients

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const coinexSource = "coinex"

// CoinExCredentials are read from settings on every call
type CoinExCredentials struct {
	AccessID  string
	SecretKey string
}

// Empty reports whether either half of the key pair is missing
func (c CoinExCredentials) Empty() bool {
	return strings.TrimSpace(c.AccessID) == "" || strings.TrimSpace(c.SecretKey) == ""
}

// CoinExClient client for the CoinEx v2 REST API
type CoinExClient struct {
	baseURL    string
	signPrefix string // path prefix included in the signature, "/v2" for the public API
	pageLimit  int
	httpClient *http.Client
	now        func() time.Time
}

// NewCoinExClient creates a new CoinEx client
func NewCoinExClient(baseURL string, pageLimit int, timeout time.Duration) *CoinExClient {
	if baseURL == "" {
		baseURL = "https://api.coinex.com/v2"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	prefix := "/v2"
	if u, err := url.Parse(baseURL); err == nil {
		prefix = u.Path
	}
	if pageLimit <= 0 || pageLimit > 100 {
		pageLimit = 100
	}
	return &CoinExClient{
		baseURL:    baseURL,
		signPrefix: prefix,
		pageLimit:  pageLimit,
		httpClient: newHTTPClient(timeout),
		now:        time.Now,
	}
}

// CoinExDeposit is one entry of the deposit history
type CoinExDeposit struct {
	DepositID     json.Number     `json:"deposit_id"`
	TxID          string          `json:"tx_id"`
	FromAddress   string          `json:"from_address"`
	ToAddress     string          `json:"to_address"`
	Amount        decimal.Decimal `json:"amount"`
	Ccy           string          `json:"ccy"`
	Chain         string          `json:"chain"`
	DepositMethod string          `json:"deposit_method"` // "on_chain" or "inter_user"
	Status        string          `json:"status"`
	Confirmations int64           `json:"confirmations"`
	CreatedAt     int64           `json:"created_at"` // unix ms
}

// CreatedTime converts the millisecond timestamp
func (d *CoinExDeposit) CreatedTime() time.Time {
	if d.CreatedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(d.CreatedAt).UTC()
}

// ExternalID is the stable id used to journal the deposit
func (d *CoinExDeposit) ExternalID() string {
	if id := d.DepositID.String(); id != "" {
		return id
	}
	return d.TxID
}

// DepositHistoryQuery filters GET /assets/deposit-history
type DepositHistoryQuery struct {
	Ccy    string
	Status string
	TxID   string
	Page   int
	Limit  int
}

type coinexEnvelope struct {
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Pagination *struct {
		HasNext bool `json:"has_next"`
	} `json:"pagination,omitempty"`
}

// Sign computes the request signature: lowercase hex HMAC-SHA256 over
// METHOD + prefix + path [+ "?" + query] + body + timestamp
func (c *CoinExClient) Sign(secret, method, path, rawQuery, body string, timestampMs int64) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteString(c.signPrefix)
	b.WriteString(path)
	if rawQuery != "" {
		b.WriteString("?")
		b.WriteString(rawQuery)
	}
	b.WriteString(body)
	b.WriteString(strconv.FormatInt(timestampMs, 10))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// get performs a signed GET and returns the envelope data
func (c *CoinExClient) get(ctx context.Context, creds CoinExCredentials, path string, query url.Values) (*coinexEnvelope, error) {
	rawQuery := query.Encode() // sorted by key
	endpoint := c.baseURL + path
	if rawQuery != "" {
		endpoint += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	ts := c.now().UnixMilli()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-COINEX-KEY", creds.AccessID)
	req.Header.Set("X-COINEX-SIGN", c.Sign(creds.SecretKey, http.MethodGet, path, rawQuery, "", ts))
	req.Header.Set("X-COINEX-TIMESTAMP", strconv.FormatInt(ts, 10))

	body, err := doRequest(c.httpClient, req, coinexSource, path)
	if err != nil {
		return nil, err
	}

	var env coinexEnvelope
	if err := decodeJSON(body, &env, coinexSource, path); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, &APIError{Source: coinexSource, Endpoint: path, StatusCode: http.StatusOK, Code: env.Code, Message: env.Message}
	}
	return &env, nil
}

// DepositHistory lists one page of inbound deposits
func (c *CoinExClient) DepositHistory(ctx context.Context, creds CoinExCredentials, q DepositHistoryQuery) ([]CoinExDeposit, bool, error) {
	query := url.Values{}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	limit := q.Limit
	if limit <= 0 || limit > c.pageLimit {
		limit = c.pageLimit
	}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	if q.Ccy != "" {
		query.Set("ccy", strings.ToUpper(q.Ccy))
	}
	if q.Status != "" {
		query.Set("status", q.Status)
	}
	if q.TxID != "" {
		query.Set("tx_id", q.TxID)
	}

	env, err := c.get(ctx, creds, "/assets/deposit-history", query)
	if err != nil {
		return nil, false, err
	}

	var deposits []CoinExDeposit
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := decodeJSON(env.Data, &deposits, coinexSource, "/assets/deposit-history"); err != nil {
			return nil, false, err
		}
	}
	hasNext := env.Pagination != nil && env.Pagination.HasNext
	return deposits, hasNext, nil
}

// AccountInfo calls GET /account/info; used to check the key pair
func (c *CoinExClient) AccountInfo(ctx context.Context, creds CoinExCredentials) (map[string]interface{}, error) {
	env, err := c.get(ctx, creds, "/account/info", url.Values{})
	if err != nil {
		return nil, err
	}
	info := map[string]interface{}{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := decodeJSON(env.Data, &info, coinexSource, "/account/info"); err != nil {
			return nil, err
		}
	}
	return info, nil
}
