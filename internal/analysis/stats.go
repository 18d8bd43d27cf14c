// Package analysis summarizes a batch of cell results and orders cells for pack matching.
package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"cell-tester/internal/model"

	"gonum.org/v1/gonum/stat"
)

// Metric selects one scalar of a result.
type Metric string

const (
	MetricOCV  Metric = "ocv"
	MetricR0   Metric = "r0"
	MetricDCIR Metric = "dcir"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricOCV, MetricR0, MetricDCIR:
		return m, nil
	case "":
		return MetricDCIR, nil
	default:
		return "", fmt.Errorf("unknown metric %q (want ocv, r0 or dcir)", s)
	}
}

// Value returns the metric in volts or ohms.
func (m Metric) Value(r model.CellTestResult) float64 {
	switch m {
	case MetricOCV:
		return r.OCV
	case MetricR0:
		return r.R0.Value
	default:
		return r.DCIR.Value
	}
}

// Stats is a distribution summary of one metric over a batch.
type Stats struct {
	Metric Metric  `json:"metric"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P05    float64 `json:"p05"`
	P95    float64 `json:"p95"`
	// Spread is P95 - P05.
	Spread float64 `json:"spread"`
}

func Compute(results []model.CellTestResult, m Metric) Stats {
	s := Stats{Metric: m, Count: len(results)}
	if len(results) == 0 {
		return s
	}
	vals := make([]float64, 0, len(results))
	for _, r := range results {
		vals = append(vals, m.Value(r))
	}
	sort.Float64s(vals)
	s.Min = vals[0]
	s.Max = vals[len(vals)-1]
	s.Mean = stat.Mean(vals, nil)
	s.StdDev = stat.PopStdDev(vals, nil)
	s.P05 = percentileSorted(vals, 0.05)
	s.P95 = percentileSorted(vals, 0.95)
	s.Spread = s.P95 - s.P05
	return s
}

// BatchSummary covers all three metrics of a batch.
type BatchSummary struct {
	Count int   `json:"count"`
	OCV   Stats `json:"ocv"`
	R0    Stats `json:"r0"`
	DCIR  Stats `json:"dcir"`
}

func Summarize(results []model.CellTestResult) BatchSummary {
	return BatchSummary{
		Count: len(results),
		OCV:   Compute(results, MetricOCV),
		R0:    Compute(results, MetricR0),
		DCIR:  Compute(results, MetricDCIR),
	}
}

func percentileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	// Linear interpolation between order stats.
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
