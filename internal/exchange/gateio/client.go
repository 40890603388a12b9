// Package gateio implements the exchange interfaces for Gate.io USDT-settled
// perpetual futures (v4 REST API).
package gateio

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vkarpenko/spreadbot/internal/domain"
	"github.com/vkarpenko/spreadbot/internal/exchange"
)

const (
	defaultBaseURL = "https://api.gateio.ws"
	apiPrefix      = "/api/v4"
	settle         = "usdt"
)

// Client is a REST client for the Gate.io futures API.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu          sync.RWMutex
	multipliers map[string]float64 // contract -> coins per contract
}

// Config holds Gate.io client parameters.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	RateLimit rate.Limit
}

// NewClient creates a Gate.io futures client. Public endpoints work without
// credentials; order placement requires APIKey and APISecret.
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
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter:     rate.NewLimiter(limit, 1),
		multipliers: make(map[string]float64),
	}
}

// Name identifies the venue.
func (c *Client) Name() string { return "gateio" }

type bookLevel struct {
	Price string  `json:"p"`
	Size  float64 `json:"s"`
}

type bookData struct {
	Current float64     `json:"current"`
	Asks    []bookLevel `json:"asks"`
	Bids    []bookLevel `json:"bids"`
}

// GetOrderBook fetches the futures depth snapshot for a contract, e.g.
// "BTC_USDT".
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 20
	}
	params := url.Values{}
	params.Set("contract", contractName(symbol))
	params.Set("limit", strconv.Itoa(depth))

	path := fmt.Sprintf("%s/futures/%s/order_book", apiPrefix, settle)
	body, err := c.do(ctx, http.MethodGet, path, params, nil, false)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("gateio: get order book %s: %w", symbol, err)
	}

	var data bookData
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("gateio: decode order book: %w", err)
	}

	ts := time.Now().UTC()
	if data.Current > 0 {
		sec, frac := int64(data.Current), data.Current-float64(int64(data.Current))
		ts = time.Unix(sec, int64(frac*1e9))
	}
	return domain.OrderBookSnapshot{
		Symbol:    symbol,
		Exchange:  c.Name(),
		Kind:      domain.MarketFutures,
		Bids:      parseLevels(data.Bids),
		Asks:      parseLevels(data.Asks),
		Timestamp: ts,
	}, nil
}

type futuresOrder struct {
	Contract string `json:"contract"`
	Size     int64  `json:"size"` // contracts; negative = short
	Price    string `json:"price"`
	TIF      string `json:"tif"`
}

type orderAck struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Label  string `json:"label"`
}

// contractInfo is the subset of the contract metadata the client needs.
type contractInfo struct {
	Name             string `json:"name"`
	QuantoMultiplier string `json:"quanto_multiplier"`
}

// contractMultiplier returns how many coins one contract of the given
// contract represents (e.g. 0.0001 BTC for BTC_USDT). Fetched once per
// contract and cached for the life of the client.
func (c *Client) contractMultiplier(ctx context.Context, contract string) (float64, error) {
	c.mu.RLock()
	mult, ok := c.multipliers[contract]
	c.mu.RUnlock()
	if ok {
		return mult, nil
	}

	path := fmt.Sprintf("%s/futures/%s/contracts/%s", apiPrefix, settle, contract)
	body, err := c.do(ctx, http.MethodGet, path, nil, nil, false)
	if err != nil {
		return 0, err
	}
	var info contractInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return 0, fmt.Errorf("decode contract info: %w", err)
	}
	mult, err = strconv.ParseFloat(info.QuantoMultiplier, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quanto_multiplier %q: %w", info.QuantoMultiplier, err)
	}
	if mult <= 0 {
		// Some contracts quote whole coins and report a zero multiplier.
		mult = 1
	}

	c.mu.Lock()
	c.multipliers[contract] = mult
	c.mu.Unlock()
	return mult, nil
}

// PlaceOrder submits a futures market order. A sell opens/extends the short
// hedge leg; a buy reduces it. Volume is in coins and is converted to whole
// contracts using the contract's quanto multiplier; a volume that rounds to
// zero contracts is rejected rather than padded up, so the futures leg never
// over-hedges the spot leg.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side exchange.Side, volume float64) (exchange.OrderResult, error) {
	contract := contractName(symbol)
	mult, err := c.contractMultiplier(ctx, contract)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("gateio: contract info %s: %w", symbol, err)
	}

	size := int64(math.Round(volume / mult))
	if size <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("%w: volume %g below one contract (%g coins)",
			exchange.ErrRejectedByVenue, volume, mult)
	}
	if side == exchange.SideSell {
		size = -size
	}

	order := futuresOrder{
		Contract: contract,
		Size:     size,
		Price:    "0", // market order
		TIF:      "ioc",
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("gateio: marshal order: %w", err)
	}

	path := fmt.Sprintf("%s/futures/%s/orders", apiPrefix, settle)
	body, err := c.do(ctx, http.MethodPost, path, nil, payload, true)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("gateio: place %s order %s: %w", side, symbol, err)
	}

	var ack orderAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return exchange.OrderResult{}, fmt.Errorf("gateio: decode order ack: %w", err)
	}
	return exchange.OrderResult{
		OrderID: strconv.FormatInt(ack.ID, 10),
		Status:  ack.Status,
	}, nil
}

type apiError struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// do performs one HTTP request against the Gate.io API, honoring the rate
// limiter and mapping error labels to the execution taxonomy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	rawQuery := ""
	if query != nil {
		rawQuery = query.Encode()
	}
	fullURL := c.baseURL + path
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		c.signRequest(req, method, path, rawQuery, payload)
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
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Label != "" {
			switch apiErr.Label {
			case "BALANCE_NOT_ENOUGH", "MARGIN_BALANCE_NOT_ENOUGH":
				return nil, fmt.Errorf("%w: %s", exchange.ErrInsufficientFunds, apiErr.Message)
			default:
				return nil, fmt.Errorf("%w: %s: %s", exchange.ErrRejectedByVenue, apiErr.Label, apiErr.Message)
			}
		}
		return nil, fmt.Errorf("%w: status %d: %s", exchange.ErrRejectedByVenue, resp.StatusCode, string(raw))
	}
	return raw, nil
}

// signRequest attaches the Gate.io v4 HMAC-SHA512 signature headers.
func (c *Client) signRequest(req *http.Request, method, path, rawQuery string, payload []byte) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	bodyHash := sha512.Sum512(payload)
	msg := strings.Join([]string{
		method,
		path,
		rawQuery,
		hex.EncodeToString(bodyHash[:]),
		ts,
	}, "\n")

	mac := hmac.New(sha512.New, []byte(c.apiSecret))
	mac.Write([]byte(msg))

	req.Header.Set("KEY", c.apiKey)
	req.Header.Set("Timestamp", ts)
	req.Header.Set("SIGN", hex.EncodeToString(mac.Sum(nil)))
}

// contractName maps "BTC/USDT" style symbols to Gate.io contract names.
func contractName(symbol string) string {
	return strings.ReplaceAll(strings.ReplaceAll(symbol, "/", "_"), ":USDT", "")
}

func parseLevels(raw []bookLevel) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Volume: lvl.Size})
	}
	return levels
}

// Compile-time interface check.
var _ exchange.Venue = (*Client)(nil)
