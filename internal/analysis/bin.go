// Package analysis bins recorded activity, averages it over replicates and
// plots the result.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"flyassay/internal/results"
)

// ErrNoBaseline is returned when no rows fall inside the baseline window or
// their mean is zero.
var ErrNoBaseline = errors.New("no baseline activity")

// Series is one replicate binned into right-closed intervals (Right[i]-BinSize, Right[i]].
type Series struct {
	BinSize int
	Right   []float64
	Mean    []float64 // NaN for empty bins
}

// Label returns the interval of bin i, e.g. "(0, 10]".
func (s Series) Label(i int) string {
	return fmt.Sprintf("(%g, %g]", s.Right[i]-float64(s.BinSize), s.Right[i])
}

// Bin divides counts by scale and averages them per bin. Edges run 0, b, 2b,
// ... below the rounded experiment duration, so a trailing partial bin is
// dropped. A scale of zero leaves counts unchanged.
func Bin(rows []results.Row, binSize int, scale float64) Series {
	s := Series{BinSize: binSize}
	if binSize <= 0 || len(rows) == 0 {
		return s
	}
	if scale == 0 {
		scale = 1
	}

	maxElapsed := rows[0].Elapsed
	for _, r := range rows[1:] {
		maxElapsed = math.Max(maxElapsed, r.Elapsed)
	}
	duration := int(math.RoundToEven(maxElapsed))

	var edges []int
	for e := 0; e < duration; e += binSize {
		edges = append(edges, e)
	}
	if len(edges) < 2 {
		return s
	}

	n := len(edges) - 1
	sums := make([]float64, n)
	counts := make([]int, n)
	last := float64(edges[n])
	for _, r := range rows {
		if r.Elapsed <= 0 || r.Elapsed > last {
			continue
		}
		i := int(math.Ceil(r.Elapsed/float64(binSize))) - 1
		if i >= n {
			i = n - 1
		}
		sums[i] += r.Count / scale
		counts[i]++
	}

	s.Right = make([]float64, n)
	s.Mean = make([]float64, n)
	for i := 0; i < n; i++ {
		s.Right[i] = float64(edges[i+1])
		if counts[i] == 0 {
			s.Mean[i] = math.NaN()
		} else {
			s.Mean[i] = sums[i] / float64(counts[i])
		}
	}
	return s
}

// StimWindow returns the first and last elapsed time with stimulation on.
func StimWindow(rows []results.Row) (start, end float64, ok bool) {
	for _, r := range rows {
		if !r.Stimulation {
			continue
		}
		if !ok {
			start = r.Elapsed
			ok = true
		}
		end = r.Elapsed
	}
	return start, end, ok
}

// NormalizeToBaseline divides every count by the mean count of the rows with
// elapsed <= window.
func NormalizeToBaseline(rows []results.Row, window float64) ([]results.Row, error) {
	var baseline []float64
	for _, r := range rows {
		if r.Elapsed <= window {
			baseline = append(baseline, r.Count)
		}
	}
	if len(baseline) == 0 {
		return nil, fmt.Errorf("%w in the first %gs", ErrNoBaseline, window)
	}
	avg := stat.Mean(baseline, nil)
	if avg == 0 {
		return nil, fmt.Errorf("%w in the first %gs", ErrNoBaseline, window)
	}

	out := make([]results.Row, len(rows))
	for i, r := range rows {
		r.Count /= avg
		out[i] = r
	}
	return out, nil
}

// Scale divides every count by factor.
func Scale(rows []results.Row, factor float64) []results.Row {
	out := make([]results.Row, len(rows))
	for i, r := range rows {
		r.Count /= factor
		out[i] = r
	}
	return out
}

// Summary is the mean and standard error over replicates, bin by bin.
type Summary struct {
	BinSize int
	Right   []float64
	Mean    []float64
	SEM     []float64
	N       []int // replicates with data in the bin
}

// Aggregate averages replicates aligned by bin. Empty bins are ignored; the
// SEM uses the sample standard deviation and is NaN with fewer than two values.
func Aggregate(replicates []Series) Summary {
	var sum Summary
	for _, s := range replicates {
		if len(s.Right) > len(sum.Right) {
			sum.Right = s.Right
		}
		sum.BinSize = s.BinSize
	}

	n := len(sum.Right)
	sum.Mean = make([]float64, n)
	sum.SEM = make([]float64, n)
	sum.N = make([]int, n)

	values := make([]float64, 0, len(replicates))
	for i := 0; i < n; i++ {
		values = values[:0]
		for _, s := range replicates {
			if i < len(s.Mean) && !math.IsNaN(s.Mean[i]) {
				values = append(values, s.Mean[i])
			}
		}
		sum.N[i] = len(values)
		switch len(values) {
		case 0:
			sum.Mean[i], sum.SEM[i] = math.NaN(), math.NaN()
		case 1:
			sum.Mean[i], sum.SEM[i] = values[0], math.NaN()
		default:
			mean, std := stat.MeanStdDev(values, nil)
			sum.Mean[i] = mean
			sum.SEM[i] = std / math.Sqrt(float64(len(values)))
		}
	}
	return sum
}
