package risk

import (
	"math"
	"sort"
)

// minCorrelationSamples is the smallest return window that yields a
// correlation considered reliable.
const minCorrelationSamples = 20

// Matrix is a symmetric pairwise return-correlation matrix over a fixed
// instrument set. Built once per refresh, read-only afterwards.
type Matrix struct {
	instruments []string
	corr        map[string]map[string]float64
}

// DailyReturns converts a close-price series to simple returns.
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1.0)
	}
	return out
}

// ComputeMatrix builds a correlation matrix from per-instrument return
// series. Pairs with fewer than minCorrelationSamples overlapping points are
// omitted (treated as uncorrelated by lookups).
func ComputeMatrix(returns map[string][]float64) *Matrix {
	instruments := make([]string, 0, len(returns))
	for inst := range returns {
		instruments = append(instruments, inst)
	}
	sort.Strings(instruments)

	m := &Matrix{
		instruments: instruments,
		corr:        make(map[string]map[string]float64, len(instruments)),
	}
	for _, inst := range instruments {
		m.corr[inst] = make(map[string]float64)
		m.corr[inst][inst] = 1.0
	}

	for i := 0; i < len(instruments); i++ {
		for j := i + 1; j < len(instruments); j++ {
			a, b := instruments[i], instruments[j]
			n := len(returns[a])
			if len(returns[b]) < n {
				n = len(returns[b])
			}
			if n < minCorrelationSamples {
				continue
			}
			// Align on the most recent n points.
			ra := returns[a][len(returns[a])-n:]
			rb := returns[b][len(returns[b])-n:]
			c := pearson(ra, rb)
			if math.IsNaN(c) {
				continue
			}
			m.corr[a][b] = c
			m.corr[b][a] = c
		}
	}
	return m
}

// Corr returns the correlation between two instruments if known.
func (m *Matrix) Corr(a, b string) (float64, bool) {
	row, ok := m.corr[a]
	if !ok {
		return 0, false
	}
	c, ok := row[b]
	return c, ok
}

// MaxAbsWith returns the open instrument with the largest absolute
// correlation to the candidate, and that correlation. Unknown pairs count
// as zero.
func (m *Matrix) MaxAbsWith(candidate string, open []string) (string, float64) {
	best, bestCorr := "", 0.0
	for _, inst := range open {
		if inst == candidate {
			continue
		}
		if c, ok := m.Corr(candidate, inst); ok && math.Abs(c) > math.Abs(bestCorr) {
			best, bestCorr = inst, c
		}
	}
	return best, bestCorr
}

// DiversifiedSelect greedily picks up to max instruments minimizing the
// worst pairwise correlation with the already-selected set. Candidate order
// breaks ties, so selection is deterministic.
func (m *Matrix) DiversifiedSelect(candidates []string, max int) []string {
	if len(candidates) <= max {
		out := make([]string, len(candidates))
		copy(out, candidates)
		return out
	}

	selected := []string{candidates[0]}
	for len(selected) < max {
		best := ""
		bestWorst := math.Inf(1)
		for _, cand := range candidates {
			if contains(selected, cand) {
				continue
			}
			worst := 0.0
			for _, sel := range selected {
				if c, ok := m.Corr(cand, sel); ok {
					worst = math.Max(worst, math.Abs(c))
				}
			}
			if worst < bestWorst {
				bestWorst = worst
				best = cand
			}
		}
		if best == "" {
			break
		}
		selected = append(selected, best)
	}
	return selected
}

// PortfolioMetrics summarizes concentration risk for a set of holdings.
type PortfolioMetrics struct {
	AvgCorrelation float64 `json:"avg_correlation"`
	MaxCorrelation float64 `json:"max_correlation"`
	RiskScore      string  `json:"risk_score"` // LOW / MEDIUM / HIGH / VERY_HIGH
}

// Metrics computes average and maximum absolute pairwise correlation for
// the given instruments.
func (m *Matrix) Metrics(instruments []string) PortfolioMetrics {
	var corrs []float64
	for i := 0; i < len(instruments); i++ {
		for j := i + 1; j < len(instruments); j++ {
			if c, ok := m.Corr(instruments[i], instruments[j]); ok {
				corrs = append(corrs, math.Abs(c))
			}
		}
	}
	if len(corrs) == 0 {
		return PortfolioMetrics{RiskScore: "LOW"}
	}

	sum, maxC := 0.0, 0.0
	for _, c := range corrs {
		sum += c
		maxC = math.Max(maxC, c)
	}

	score := "LOW"
	switch {
	case maxC > 0.8:
		score = "VERY_HIGH"
	case maxC > 0.7:
		score = "HIGH"
	case maxC > 0.5:
		score = "MEDIUM"
	}
	return PortfolioMetrics{
		AvgCorrelation: sum / float64(len(corrs)),
		MaxCorrelation: maxC,
		RiskScore:      score,
	}
}

func pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return math.NaN()
	}
	meanX, meanY := mean(x), mean(y)
	num, sumX, sumY := 0.0, 0.0, 0.0
	for i := range x {
		dx, dy := x[i]-meanX, y[i]-meanY
		num += dx * dy
		sumX += dx * dx
		sumY += dy * dy
	}
	den := math.Sqrt(sumX * sumY)
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
