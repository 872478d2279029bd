package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1uv0cean/coin-trader/internal/data"
)

var _ Client = (*PaperClient)(nil)

// PaperClient simulates an exchange in memory: market orders fill
// immediately at the posted price, fees are deducted at the configured
// rate. Safe for concurrent use.
type PaperClient struct {
	mu      sync.RWMutex
	quote   string
	feeRate float64
	cash    float64
	candles map[string]data.Series
	prices  map[string]float64
	holding map[string]*Holding
	clock   func() time.Time
}

// NewPaperClient creates a simulated exchange seeded with cash in the
// quote currency.
func NewPaperClient(quote string, cash, feeRate float64) *PaperClient {
	if quote == "" {
		quote = "KRW"
	}
	return &PaperClient{
		quote:   quote,
		feeRate: feeRate,
		cash:    cash,
		candles: make(map[string]data.Series),
		prices:  make(map[string]float64),
		holding: make(map[string]*Holding),
		clock:   time.Now,
	}
}

// SetCandles loads candle history for an instrument and pins its current
// price to the last close.
func (p *PaperClient) SetCandles(instrument string, series data.Series) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[instrument] = series
	if last, ok := series.Last(); ok {
		p.prices[instrument] = last.Close
	}
}

// SetPrice overrides the current price for an instrument.
func (p *PaperClient) SetPrice(instrument string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[instrument] = price
}

// SetClock replaces the fill-timestamp source, for tests.
func (p *PaperClient) SetClock(clock func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
}

func (p *PaperClient) Markets(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.candles))
	for inst := range p.candles {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out, nil
}

func (p *PaperClient) Candles(_ context.Context, instrument, _ string, count int) (data.Series, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	series, ok := p.candles[instrument]
	if !ok {
		return nil, &Error{Op: "candles", Err: fmt.Errorf("unknown instrument %s", instrument)}
	}
	if count > 0 && len(series) > count {
		series = series[len(series)-count:]
	}
	out := make(data.Series, len(series))
	copy(out, series)
	return out, nil
}

func (p *PaperClient) CurrentPrice(_ context.Context, instrument string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[instrument]
	if !ok {
		return 0, &Error{Op: "price", Err: fmt.Errorf("unknown instrument %s", instrument)}
	}
	return price, nil
}

func (p *PaperClient) Tickers(_ context.Context, instruments []string) ([]Ticker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Ticker, 0, len(instruments))
	for _, inst := range instruments {
		price, ok := p.prices[inst]
		if !ok {
			continue
		}
		t := Ticker{Instrument: inst, Price: price}
		if series, ok := p.candles[inst]; ok && len(series) > 0 {
			last := series[len(series)-1]
			t.Volume24h = last.Volume * last.Close
			t.High24h = last.High
			t.Low24h = last.Low
			if last.Open > 0 {
				t.Change24hPct = (last.Close - last.Open) / last.Open * 100
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (p *PaperClient) Balances(_ context.Context) ([]Balance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := []Balance{{Currency: p.quote, Available: p.cash}}
	for inst, h := range p.holding {
		out = append(out, Balance{
			Currency:  baseCurrency(inst),
			Available: h.Quantity,
			AvgPrice:  h.AvgPrice,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (p *PaperClient) Holdings(_ context.Context) ([]Holding, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Holding, 0, len(p.holding))
	for _, h := range p.holding {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

func (p *PaperClient) MarketBuy(_ context.Context, instrument string, amount float64) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[instrument]
	if !ok || price <= 0 {
		return Order{}, &Error{Op: "buy", Err: fmt.Errorf("no price for %s", instrument)}
	}
	if amount <= 0 || amount > p.cash {
		return Order{}, &Error{Op: "buy", Err: fmt.Errorf("amount %.2f exceeds cash %.2f", amount, p.cash)}
	}

	fee := amount * p.feeRate
	qty := (amount - fee) / price
	p.cash -= amount

	h, exists := p.holding[instrument]
	if !exists {
		p.holding[instrument] = &Holding{Instrument: instrument, Quantity: qty, AvgPrice: price}
	} else {
		total := h.Quantity + qty
		h.AvgPrice = (h.AvgPrice*h.Quantity + price*qty) / total
		h.Quantity = total
	}

	return Order{
		ID: uuid.NewString(), Instrument: instrument, Side: SideBuy,
		Price: price, Quantity: qty, CreatedAt: p.clock(),
	}, nil
}

func (p *PaperClient) MarketSell(_ context.Context, instrument string, qty float64) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[instrument]
	if !ok || price <= 0 {
		return Order{}, &Error{Op: "sell", Err: fmt.Errorf("no price for %s", instrument)}
	}
	h, exists := p.holding[instrument]
	if !exists || h.Quantity < qty {
		return Order{}, &Error{Op: "sell", Err: fmt.Errorf("insufficient holding for %s", instrument)}
	}

	proceeds := qty * price
	p.cash += proceeds - proceeds*p.feeRate
	h.Quantity -= qty
	if h.Quantity*price < 1e-8 {
		delete(p.holding, instrument)
	}

	return Order{
		ID: uuid.NewString(), Instrument: instrument, Side: SideSell,
		Price: price, Quantity: qty, CreatedAt: p.clock(),
	}, nil
}

func baseCurrency(instrument string) string {
	for i := 0; i < len(instrument); i++ {
		if instrument[i] == '-' {
			return instrument[i+1:]
		}
	}
	return instrument
}
