// Package histogram accumulates fixed-bin similarity histograms over [0, 1].
//
// A value v lands in bin i when edges[i] <= v < edges[i+1]. The top bin is closed on
// the right, values below 0 are clipped into the first bin and values above 1 into the
// last. Incremental and batch binning share Bin, so accumulating sample by sample gives
// exactly the counts of binning everything at once.
package histogram

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/embedsim/internal/models"
)

// DefaultBins is the number of equal-width bins over [0, 1].
const DefaultBins = 20

// Edges returns bins+1 equally spaced edges from 0 to 1.
func Edges(bins int) []float64 {
	edges := make([]float64, bins+1)
	for i := range edges {
		edges[i] = float64(i) / float64(bins)
	}
	return edges
}

// Bin returns the bin index of v for the given edges.
func Bin(edges []float64, v float64) int {
	last := len(edges) - 2
	i := sort.Search(len(edges), func(k int) bool { return edges[k] > v }) - 1
	if i < 0 {
		return 0
	}
	if i > last {
		return last
	}
	return i
}

// Count bins values in one batch.
func Count(edges []float64, values []float64) []int64 {
	counts := make([]int64, len(edges)-1)
	for _, v := range values {
		counts[Bin(edges, v)]++
	}
	return counts
}

// Add adds src into dst bin by bin.
func Add(dst, src []int64) {
	for i := range src {
		dst[i] += src[i]
	}
}

// Aggregator keeps the intra and inter running histograms for one run.
// It accepts samples until Finalize; afterwards it is read-only.
type Aggregator struct {
	mu        sync.Mutex
	edges     []float64
	intra     []int64
	inter     []int64
	finalized bool
}

// NewAggregator creates an aggregator with the given number of bins.
func NewAggregator(bins int) (*Aggregator, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("bins must be positive, got %d", bins)
	}
	return &Aggregator{
		edges: Edges(bins),
		intra: make([]int64, bins),
		inter: make([]int64, bins),
	}, nil
}

// Add bins the sample's values and adds them to the histogram of its kind.
func (a *Aggregator) Add(s *models.Sample) error {
	local := Count(a.edges, s.Values)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return models.ErrAggregatorFinalized
	}
	if s.Kind == models.KindIntra {
		Add(a.intra, local)
	} else {
		Add(a.inter, local)
	}
	return nil
}

// Finalize stops accumulation and returns the final counts with the shared edges.
// Calling it again returns the same result.
func (a *Aggregator) Finalize() *models.Histograms {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalized = true
	return a.snapshot()
}

// Snapshot returns a copy of the current counts without finalizing.
func (a *Aggregator) Snapshot() *models.Histograms {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

// Finalized reports whether Finalize has been called.
func (a *Aggregator) Finalized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalized
}

func (a *Aggregator) snapshot() *models.Histograms {
	return &models.Histograms{
		Edges: append([]float64(nil), a.edges...),
		Intra: append([]int64(nil), a.intra...),
		Inter: append([]int64(nil), a.inter...),
	}
}
