package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/greeks"
	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

const defaultHTTPTimeout = 10 * time.Second

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error %d: %s", e.Status, e.Body)
}

// Client is the REST gateway client. It holds no trading state; every method
// takes a context and respects its deadline.
type Client struct {
	apiKey    string
	accountID string
	baseURL   string
	http      *http.Client
}

// Ensure Client implements Broker at compile time.
var _ Broker = (*Client)(nil)

// NewClient creates a REST gateway client.
func NewClient(apiKey, accountID, baseURL string) *Client {
	return &Client{
		apiKey:    apiKey,
		accountID: accountID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// WithHTTPClient swaps the underlying HTTP client, primarily for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

type quoteResponse struct {
	Quotes struct {
		Quote []struct {
			Symbol string  `json:"symbol"`
			Bid    float64 `json:"bid"`
			Ask    float64 `json:"ask"`
			Last   float64 `json:"last"`
			Volume int64   `json:"volume"`
		} `json:"quote"`
	} `json:"quotes"`
}

// GetQuote retrieves the current market quote for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("symbols", symbol)

	var resp quoteResponse
	if err := c.get(ctx, "/v1/markets/quotes", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Quotes.Quote) == 0 {
		return nil, ErrNoQuote
	}
	q := resp.Quotes.Quote[0]
	return &Quote{
		Symbol: q.Symbol,
		Bid:    q.Bid,
		Ask:    q.Ask,
		Last:   q.Last,
		Volume: q.Volume,
		Time:   time.Now().UTC(),
	}, nil
}

type chainResponse struct {
	Options struct {
		Option []struct {
			Symbol       string  `json:"symbol"`
			Underlying   string  `json:"underlying"`
			OptionType   string  `json:"option_type"`
			Strike       float64 `json:"strike"`
			Expiration   string  `json:"expiration_date"`
			Bid          float64 `json:"bid"`
			Ask          float64 `json:"ask"`
			Volume       int64   `json:"volume"`
			OpenInterest int64   `json:"open_interest"`
			Greeks       *struct {
				Delta float64 `json:"delta"`
				Gamma float64 `json:"gamma"`
				Theta float64 `json:"theta"`
				Vega  float64 `json:"vega"`
				MidIV float64 `json:"mid_iv"`
			} `json:"greeks,omitempty"`
		} `json:"option"`
	} `json:"options"`
}

// GetOptionChain retrieves the option chain for one expiration, mapped into
// immutable OptionLeg snapshots. Greeks are passed through when the gateway
// supplies them; absent Greeks leave zero values for the strategy layer to
// derive via the pricing engine.
func (c *Client) GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionLeg, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration.Format("2006-01-02"))
	params.Set("greeks", "true")

	var resp chainResponse
	if err := c.get(ctx, "/v1/markets/options/chains", params, &resp); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	legs := make([]models.OptionLeg, 0, len(resp.Options.Option))
	for _, o := range resp.Options.Option {
		right := greeks.Put
		if strings.EqualFold(o.OptionType, "call") {
			right = greeks.Call
		}
		exp, err := time.Parse("2006-01-02", o.Expiration)
		if err != nil {
			exp = expiration
		}
		leg := models.OptionLeg{
			Symbol:       o.Symbol,
			Underlying:   o.Underlying,
			Right:        right,
			Strike:       o.Strike,
			Expiration:   exp,
			Bid:          o.Bid,
			Ask:          o.Ask,
			Volume:       o.Volume,
			OpenInterest: o.OpenInterest,
			QuoteTime:    now,
		}
		if o.Greeks != nil {
			leg.Delta = o.Greeks.Delta
			leg.Gamma = o.Greeks.Gamma
			leg.Theta = o.Greeks.Theta
			leg.Vega = o.Greeks.Vega
			leg.IV = o.Greeks.MidIV
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

type clockResponse struct {
	Clock struct {
		State string `json:"state"`
	} `json:"clock"`
}

// IsMarketOpen reports whether the market clock state is "open".
func (c *Client) IsMarketOpen(ctx context.Context) (bool, error) {
	var resp clockResponse
	if err := c.get(ctx, "/v1/markets/clock", nil, &resp); err != nil {
		return false, err
	}
	return resp.Clock.State == "open", nil
}

type balancesResponse struct {
	Balances struct {
		OptionBuyingPower float64 `json:"option_buying_power"`
	} `json:"balances"`
}

// GetOptionBuyingPower returns the account's available option buying power.
func (c *Client) GetOptionBuyingPower(ctx context.Context) (float64, error) {
	var resp balancesResponse
	path := fmt.Sprintf("/v1/accounts/%s/balances", c.accountID)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balances.OptionBuyingPower, nil
}

type orderResponse struct {
	Order struct {
		ID           int     `json:"id"`
		Status       string  `json:"status"`
		AvgFillPrice float64 `json:"avg_fill_price"`
		ReasonDesc   string  `json:"reason_description"`
		Legs         []struct {
			OptionSymbol string  `json:"option_symbol"`
			AvgFillPrice float64 `json:"avg_fill_price"`
		} `json:"leg,omitempty"`
	} `json:"order"`
}

func (r *orderResponse) toResult() *OrderResult {
	res := &OrderResult{
		ID:       strconv.Itoa(r.Order.ID),
		Status:   normalizeStatus(r.Order.Status),
		AvgPrice: r.Order.AvgFillPrice,
		Reason:   r.Order.ReasonDesc,
	}
	for _, l := range r.Order.Legs {
		res.Fills = append(res.Fills, LegFill{Symbol: l.OptionSymbol, Price: l.AvgFillPrice})
	}
	return res
}

func normalizeStatus(s string) OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return StatusFilled
	case "rejected", "error":
		return StatusRejected
	case "canceled", "cancelled":
		return StatusCanceled
	case "expired":
		return StatusExpired
	default:
		return StatusPending
	}
}

// PlaceStrangleOrder submits a sell-to-open multileg order at a net credit
// limit.
func (c *Client) PlaceStrangleOrder(ctx context.Context, req StrangleOrderRequest) (*OrderResult, error) {
	form := url.Values{}
	form.Set("class", "multileg")
	form.Set("symbol", req.Symbol)
	form.Set("type", "credit")
	form.Set("duration", "day")
	form.Set("price", fmt.Sprintf("%.2f", req.Limit))
	form.Set("tag", req.Tag)
	qty := strconv.Itoa(req.Quantity)
	form.Set("option_symbol[0]", req.CallSymbol)
	form.Set("side[0]", "sell_to_open")
	form.Set("quantity[0]", qty)
	form.Set("option_symbol[1]", req.PutSymbol)
	form.Set("side[1]", "sell_to_open")
	form.Set("quantity[1]", qty)

	return c.submitOrder(ctx, form)
}

// CloseStrangle submits a buy-to-close multileg order at a net debit limit.
func (c *Client) CloseStrangle(ctx context.Context, req CloseStrangleRequest) (*OrderResult, error) {
	form := url.Values{}
	form.Set("class", "multileg")
	form.Set("symbol", req.Symbol)
	form.Set("type", "debit")
	form.Set("duration", "day")
	form.Set("price", fmt.Sprintf("%.2f", req.MaxDebit))
	form.Set("tag", req.Tag)
	qty := strconv.Itoa(req.Quantity)
	form.Set("option_symbol[0]", req.CallSymbol)
	form.Set("side[0]", "buy_to_close")
	form.Set("quantity[0]", qty)
	form.Set("option_symbol[1]", req.PutSymbol)
	form.Set("side[1]", "buy_to_close")
	form.Set("quantity[1]", qty)

	return c.submitOrder(ctx, form)
}

// CloseLeg submits a single-leg buy-to-close at a price limit.
func (c *Client) CloseLeg(ctx context.Context, legSymbol string, quantity int, maxPrice float64) (*OrderResult, error) {
	form := url.Values{}
	form.Set("class", "option")
	form.Set("option_symbol", legSymbol)
	form.Set("side", "buy_to_close")
	form.Set("quantity", strconv.Itoa(quantity))
	form.Set("type", "limit")
	form.Set("duration", "day")
	form.Set("price", fmt.Sprintf("%.2f", maxPrice))

	return c.submitOrder(ctx, form)
}

// GetOrderStatus retrieves the current state of an order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error) {
	var resp orderResponse
	path := fmt.Sprintf("/v1/accounts/%s/orders/%s", c.accountID, orderID)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

func (c *Client) submitOrder(ctx context.Context, form url.Values) (*OrderResult, error) {
	var resp orderResponse
	path := fmt.Sprintf("/v1/accounts/%s/orders", c.accountID)
	if err := c.post(ctx, path, form, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
