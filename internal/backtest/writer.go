package backtest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// WriteJSON streams the result as indented JSON.
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// SaveJSON writes the result to a file, creating or truncating it.
func (r *Result) SaveJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := r.WriteJSON(f); err != nil {
		return err
	}
	return f.Close()
}

// Summary renders a compact human-readable report.
func (r *Result) Summary() string {
	return fmt.Sprintf(
		"return %.2f%% | sharpe %.2f | maxDD %.2f%% | trades %d | win %.1f%% | pf %.2f | fees %.0f",
		r.TotalReturnPct, r.SharpeRatio, r.MaxDrawdownPct,
		r.TotalTrades, r.WinRate*100, r.ProfitFactor, r.TotalFees)
}
