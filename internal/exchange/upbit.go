package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/1uv0cean/coin-trader/internal/data"
)

const defaultBaseURL = "https://api.upbit.com/v1"

// Upbit enforces separate quotation and exchange rate limits.
const (
	publicRPS  = 8
	privateRPS = 6
	maxRetries = 3
	retryBase  = 250 * time.Millisecond
)

var _ Client = (*UpbitClient)(nil)

// UpbitClient talks to the Upbit REST API. Requests pass through a token
// bucket per endpoint class and a circuit breaker; transient failures are
// retried with bounded exponential backoff.
type UpbitClient struct {
	baseURL   string
	accessKey string
	secretKey string
	quote     string

	http    *http.Client
	public  *rate.Limiter
	private *rate.Limiter
	breaker *cb.CircuitBreaker
	log     zerolog.Logger
}

// NewUpbitClient builds a client. Empty keys restrict it to public market
// data; private endpoints then fail with an auth error.
func NewUpbitClient(accessKey, secretKey, quote string, log zerolog.Logger) *UpbitClient {
	if quote == "" {
		quote = "KRW"
	}
	st := cb.Settings{Name: "upbit"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}

	return &UpbitClient{
		baseURL:   defaultBaseURL,
		accessKey: accessKey,
		secretKey: secretKey,
		quote:     quote,
		http:      &http.Client{Timeout: 10 * time.Second},
		public:    rate.NewLimiter(rate.Limit(publicRPS), publicRPS),
		private:   rate.NewLimiter(rate.Limit(privateRPS), privateRPS),
		breaker:   cb.NewCircuitBreaker(st),
		log:       log,
	}
}

// Markets lists instrument codes for the configured quote currency.
func (c *UpbitClient) Markets(ctx context.Context) ([]string, error) {
	var raw []struct {
		Market string `json:"market"`
	}
	if err := c.getPublic(ctx, "/market/all", nil, &raw); err != nil {
		return nil, err
	}
	prefix := c.quote + "-"
	var out []string
	for _, m := range raw {
		if strings.HasPrefix(m.Market, prefix) {
			out = append(out, m.Market)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Candles returns up to count candles at the given interval, oldest first.
// Interval is "minute1".."minute240", "day" or "week".
func (c *UpbitClient) Candles(ctx context.Context, instrument, interval string, count int) (data.Series, error) {
	path := "/candles/days"
	if strings.HasPrefix(interval, "minute") {
		path = "/candles/minutes/" + strings.TrimPrefix(interval, "minute")
	} else if interval == "week" {
		path = "/candles/weeks"
	}

	var raw []struct {
		Timestamp int64   `json:"timestamp"`
		Open      float64 `json:"opening_price"`
		High      float64 `json:"high_price"`
		Low       float64 `json:"low_price"`
		Close     float64 `json:"trade_price"`
		Volume    float64 `json:"candle_acc_trade_volume"`
	}
	q := url.Values{"market": {instrument}, "count": {strconv.Itoa(count)}}
	if err := c.getPublic(ctx, path, q, &raw); err != nil {
		return nil, err
	}

	// Upbit returns newest first.
	series := make(data.Series, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		r := raw[i]
		series = append(series, data.Candle{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	if err := series.Validate(); err != nil {
		return nil, &Error{Op: "candles", Err: err}
	}
	return series, nil
}

// CurrentPrice returns the last trade price for an instrument.
func (c *UpbitClient) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	tickers, err := c.Tickers(ctx, []string{instrument})
	if err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		return 0, &Error{Op: "ticker", Err: fmt.Errorf("no quote for %s", instrument)}
	}
	return tickers[0].Price, nil
}

// Tickers fetches current quotes for the given instruments.
func (c *UpbitClient) Tickers(ctx context.Context, instruments []string) ([]Ticker, error) {
	if len(instruments) == 0 {
		return nil, nil
	}
	var raw []struct {
		Market     string  `json:"market"`
		TradePrice float64 `json:"trade_price"`
		AccVolume  float64 `json:"acc_trade_price_24h"`
		ChangeRate float64 `json:"signed_change_rate"`
		HighPrice  float64 `json:"high_price"`
		LowPrice   float64 `json:"low_price"`
	}
	q := url.Values{"markets": {strings.Join(instruments, ",")}}
	if err := c.getPublic(ctx, "/ticker", q, &raw); err != nil {
		return nil, err
	}
	out := make([]Ticker, 0, len(raw))
	for _, r := range raw {
		out = append(out, Ticker{
			Instrument:   r.Market,
			Price:        r.TradePrice,
			Volume24h:    r.AccVolume,
			Change24hPct: r.ChangeRate * 100,
			High24h:      r.HighPrice,
			Low24h:       r.LowPrice,
		})
	}
	return out, nil
}

// Balances returns the full account balance list.
func (c *UpbitClient) Balances(ctx context.Context) ([]Balance, error) {
	var raw []struct {
		Currency     string `json:"currency"`
		Balance      string `json:"balance"`
		Locked       string `json:"locked"`
		AvgBuyPrice  string `json:"avg_buy_price"`
	}
	if err := c.doPrivate(ctx, http.MethodGet, "/accounts", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(raw))
	for _, r := range raw {
		out = append(out, Balance{
			Currency:  r.Currency,
			Available: parseFloat(r.Balance),
			Locked:    parseFloat(r.Locked),
			AvgPrice:  parseFloat(r.AvgBuyPrice),
		})
	}
	return out, nil
}

// Holdings maps the non-quote balances into instrument positions.
func (c *UpbitClient) Holdings(ctx context.Context) ([]Holding, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return nil, err
	}
	var out []Holding
	for _, b := range balances {
		if b.Currency == c.quote || b.Available+b.Locked <= 0 {
			continue
		}
		out = append(out, Holding{
			Instrument: c.quote + "-" + b.Currency,
			Quantity:   b.Available + b.Locked,
			AvgPrice:   b.AvgPrice,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

// MarketBuy places a market order spending amount of quote currency.
func (c *UpbitClient) MarketBuy(ctx context.Context, instrument string, amount float64) (Order, error) {
	return c.placeOrder(ctx, url.Values{
		"market":   {instrument},
		"side":     {string(SideBuy)},
		"ord_type": {"price"},
		"price":    {strconv.FormatFloat(amount, 'f', -1, 64)},
	})
}

// MarketSell places a market order selling qty of the base asset.
func (c *UpbitClient) MarketSell(ctx context.Context, instrument string, qty float64) (Order, error) {
	return c.placeOrder(ctx, url.Values{
		"market":   {instrument},
		"side":     {string(SideSell)},
		"ord_type": {"market"},
		"volume":   {strconv.FormatFloat(qty, 'f', -1, 64)},
	})
}

func (c *UpbitClient) placeOrder(ctx context.Context, params url.Values) (Order, error) {
	var raw struct {
		UUID      string `json:"uuid"`
		Market    string `json:"market"`
		Side      string `json:"side"`
		Price     string `json:"price"`
		Volume    string `json:"volume"`
		CreatedAt string `json:"created_at"`
	}
	if err := c.doPrivate(ctx, http.MethodPost, "/orders", params, &raw); err != nil {
		return Order{}, err
	}
	created, _ := time.Parse(time.RFC3339, raw.CreatedAt)
	return Order{
		ID:         raw.UUID,
		Instrument: raw.Market,
		Side:       Side(raw.Side),
		Price:      parseFloat(raw.Price),
		Quantity:   parseFloat(raw.Volume),
		CreatedAt:  created,
	}, nil
}

func (c *UpbitClient) getPublic(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, c.public, http.MethodGet, path, q, "", out)
}

func (c *UpbitClient) doPrivate(ctx context.Context, method, path string, params url.Values, out any) error {
	if c.accessKey == "" || c.secretKey == "" {
		return &Error{Op: path, Err: fmt.Errorf("api keys not configured")}
	}
	token, err := c.signToken(params)
	if err != nil {
		return &Error{Op: path, Err: err}
	}
	return c.do(ctx, c.private, method, path, params, token, out)
}

// do executes one request through the limiter, breaker and retry policy.
func (c *UpbitClient) do(ctx context.Context, lim *rate.Limiter, method, path string, params url.Values, token string, out any) error {
	op := method + " " + path
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return &Error{Op: op, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
		if err := lim.Wait(ctx); err != nil {
			return &Error{Op: op, Err: err}
		}

		body, err := c.breaker.Execute(func() (any, error) {
			return c.roundTrip(ctx, method, path, params, token)
		})
		if err == nil {
			if out == nil {
				return nil
			}
			if uerr := json.Unmarshal(body.([]byte), out); uerr != nil {
				return &Error{Op: op, Err: fmt.Errorf("decode response: %w", uerr)}
			}
			return nil
		}

		lastErr = err
		if !IsTransient(err) {
			break
		}
		c.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("retrying exchange call")
	}
	if _, ok := lastErr.(*Error); ok {
		return lastErr
	}
	return &Error{Op: op, Transient: true, Err: lastErr}
}

func (c *UpbitClient) roundTrip(ctx context.Context, method, path string, params url.Values, token string) ([]byte, error) {
	endpoint := c.baseURL + path
	var bodyReader io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	} else if len(params) > 0 {
		bodyReader = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, &Error{Op: path, Err: err}
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: path, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{Op: path, Transient: true, Err: err}
	}
	if resp.StatusCode >= 400 {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, &Error{Op: path, Status: resp.StatusCode, Transient: transient,
			Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}
	return body, nil
}

// signToken builds the JWT Upbit expects: HS512 over a payload carrying the
// access key, a nonce, and a SHA512 hash of the query string when present.
func (c *UpbitClient) signToken(params url.Values) (string, error) {
	payload := map[string]any{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if len(params) > 0 {
		sum := sha512.Sum512([]byte(params.Encode()))
		payload["query_hash"] = hex.EncodeToString(sum[:])
		payload["query_hash_alg"] = "SHA512"
	}

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS512","typ":"JWT"}`))
	claims, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	signing := header + "." + base64.RawURLEncoding.EncodeToString(claims)

	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write([]byte(signing))
	return signing + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
