// Package coinex implements the exchange interfaces for the CoinEx spot
// market (v1 REST API).
package coinex

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vkarpenko/spreadbot/internal/domain"
	"github.com/vkarpenko/spreadbot/internal/exchange"
)

const defaultBaseURL = "https://api.coinex.com/v1"

// CoinEx v1 error codes that matter to the engine.
const (
	codeOK                  = 0
	codeInsufficientBalance = 107
)

// Client is a REST client for the CoinEx spot API.
type Client struct {
	baseURL    string
	accessID   string
	secretKey  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Config holds CoinEx client parameters.
type Config struct {
	BaseURL   string
	AccessID  string
	SecretKey string
	// RateLimit caps requests per second; CoinEx allows 20 r/s per endpoint
	// group, the default stays well under that.
	RateLimit rate.Limit
}

// NewClient creates a CoinEx client. Public endpoints work without
// credentials; order placement requires AccessID and SecretKey.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}
	return &Client{
		baseURL:   baseURL,
		accessID:  cfg.AccessID,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Name identifies the venue.
func (c *Client) Name() string { return "coinex" }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type depthData struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	Time int64      `json:"time"`
}

// GetOrderBook fetches the merged depth snapshot for a market, e.g. "BTCUSDT".
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 20
	}
	params := url.Values{}
	params.Set("market", strings.ReplaceAll(symbol, "/", ""))
	params.Set("merge", "0")
	params.Set("limit", strconv.Itoa(depth))

	body, err := c.do(ctx, http.MethodGet, "/market/depth?"+params.Encode(), nil, false)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("coinex: get depth %s: %w", symbol, err)
	}

	var data depthData
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("coinex: decode depth: %w", err)
	}

	snap := domain.OrderBookSnapshot{
		Symbol:    symbol,
		Exchange:  c.Name(),
		Kind:      domain.MarketSpot,
		Bids:      parseLevels(data.Bids),
		Asks:      parseLevels(data.Asks),
		Timestamp: time.UnixMilli(data.Time),
	}
	if data.Time == 0 {
		snap.Timestamp = time.Now().UTC()
	}
	return snap, nil
}

type orderData struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// PlaceOrder submits a spot market order.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side exchange.Side, volume float64) (exchange.OrderResult, error) {
	params := url.Values{}
	params.Set("market", strings.ReplaceAll(symbol, "/", ""))
	params.Set("type", string(side))
	params.Set("amount", strconv.FormatFloat(volume, 'f', -1, 64))

	body, err := c.do(ctx, http.MethodPost, "/order/market", params, true)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("coinex: place %s order %s: %w", side, symbol, err)
	}

	var data orderData
	if err := json.Unmarshal(body, &data); err != nil {
		return exchange.OrderResult{}, fmt.Errorf("coinex: decode order: %w", err)
	}
	return exchange.OrderResult{
		OrderID: strconv.FormatInt(data.ID, 10),
		Status:  data.Status,
	}, nil
}

// do performs one HTTP request against the CoinEx API, honoring the rate
// limiter and unwrapping the {code,message,data} envelope.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	var encoded string
	if form != nil {
		if signed {
			form.Set("access_id", c.accessID)
			form.Set("tonce", strconv.FormatInt(time.Now().UnixMilli(), 10))
		}
		encoded = form.Encode()
		reqBody = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if signed {
		req.Header.Set("authorization", c.sign(form))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, exchange.ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", exchange.ErrRejectedByVenue, resp.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != codeOK {
		if env.Code == codeInsufficientBalance {
			return nil, fmt.Errorf("%w: %s", exchange.ErrInsufficientFunds, env.Message)
		}
		return nil, fmt.Errorf("%w: code %d: %s", exchange.ErrRejectedByVenue, env.Code, env.Message)
	}
	return env.Data, nil
}

// sign builds the CoinEx v1 authorization header: MD5 of the sorted query
// string with the secret key appended, upper-cased hex.
func (c *Client) sign(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(form.Get(k))
	}
	sb.WriteString("&secret_key=")
	sb.WriteString(c.secretKey)

	sum := md5.Sum([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func parseLevels(raw [][]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(lvl[0], 64)
		volume, err2 := strconv.ParseFloat(lvl[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Volume: volume})
	}
	return levels
}

// Compile-time interface check.
var _ exchange.Venue = (*Client)(nil)
