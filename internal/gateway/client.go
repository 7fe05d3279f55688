package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the SePay user API.
	DefaultBaseURL = "https://my.sepay.vn/userapi"
	dateLayout     = "2006-01-02 15:04:05"
	maxBodyBytes   = 4 << 20
)

// Config configures the outbound gateway client.
type Config struct {
	BaseURL       string
	APIToken      string
	AccountNumber string
	// RequestsPerSecond throttles outbound calls; zero means 2.
	RequestsPerSecond float64
	Timeout           time.Duration
	Location          *time.Location
}

// Client queries the gateway's transaction history.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a gateway client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// ListTransactions fetches inbound transfers dated at or after since.
func (c *Client) ListTransactions(ctx context.Context, since time.Time) ([]Entry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	q := url.Values{}
	if c.cfg.AccountNumber != "" {
		q.Set("account_number", c.cfg.AccountNumber)
	}
	if !since.IsZero() {
		q.Set("transaction_date_min", since.In(c.cfg.Location).Format(dateLayout))
	}
	endpoint := c.cfg.BaseURL + "/transactions/list"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrGatewayUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	return c.parse(body)
}

func (c *Client) parse(body []byte) ([]Entry, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrGatewayUnavailable)
	}
	list := gjson.GetBytes(body, "transactions")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: missing transactions", ErrGatewayUnavailable)
	}

	var entries []Entry
	list.ForEach(func(_, item gjson.Result) bool {
		amount, err := decimal.NewFromString(strings.TrimSpace(item.Get("amount_in").String()))
		if err != nil || !amount.IsPositive() {
			return true
		}
		e := Entry{
			ID:       item.Get("id").String(),
			Content:  item.Get("transaction_content").String(),
			AmountIn: amount,
		}
		if ts, err := time.ParseInLocation(dateLayout, item.Get("transaction_date").String(), c.cfg.Location); err == nil {
			e.Date = ts
		}
		entries = append(entries, e)
		return true
	})
	return entries, nil
}
