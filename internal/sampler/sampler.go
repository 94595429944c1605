// Package sampler picks a bounded, seed-reproducible subset of tracks for pairwise work.
package sampler

import (
	"math/rand/v2"

	"github.com/hyperjump/embedsim/internal/trackstore"
)

// Selection is the result of sampling a store.
type Selection struct {
	Keys     []string // selected keys in selection order; this order drives the engine
	Eligible int      // non-empty tracks available
	Empty    []string // tracks excluded for having no frames
	Seed     uint64
}

// Insufficient reports whether fewer tracks were eligible than requested.
func (s *Selection) Insufficient(k int) bool {
	return k > 0 && s.Eligible < k
}

// Sampler draws uniform random subsets from a fixed seed.
type Sampler struct {
	seed uint64
}

// New creates a Sampler. The same seed always yields the same selection from the same store.
func New(seed uint64) *Sampler {
	return &Sampler{seed: seed}
}

// NewRandom creates a Sampler with a freshly drawn seed; Seed reports it so a run can be repeated.
func NewRandom() *Sampler {
	return &Sampler{seed: rand.Uint64()}
}

// Seed returns the sampler's seed.
func (s *Sampler) Seed() uint64 {
	return s.seed
}

// Sample returns at most k keys chosen uniformly from the store's non-empty tracks.
// When fewer than k tracks are eligible all of them are returned, still in shuffled order.
// k <= 0 selects nothing. The store is not modified.
func (s *Sampler) Sample(store *trackstore.Store, k int) *Selection {
	eligible := store.Eligible()
	sel := &Selection{Eligible: len(eligible), Empty: store.Empty(), Seed: s.seed}
	if k <= 0 {
		sel.Keys = []string{}
		return sel
	}
	if k > len(eligible) {
		k = len(eligible)
	}
	// Partial Fisher-Yates: the first k positions are a uniform k-subset in random order.
	rng := rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15))
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(eligible)-i)
		eligible[i], eligible[j] = eligible[j], eligible[i]
	}
	sel.Keys = eligible[:k:k]
	return sel
}
