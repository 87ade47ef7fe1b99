// Package shuffle produces stable, candidate-specific orderings of exam content.
//
// The ordering is a fairness mechanism against collusion, not a security boundary:
// anyone who knows the (candidate, assessment) pair can reproduce it.
package shuffle

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// Generator yields floats in [0, 1).
type Generator interface {
	Float64() float64
}

// Source builds a Generator from a seed.
type Source func(seed uint32) Generator

const (
	lcgMultiplier = 1103515245
	lcgIncrement  = 12345
	lcgModulus    = 1 << 31
)

// LCG is the linear congruential generator state = (state*1103515245 + 12345) mod 2^31.
type LCG struct {
	state uint64
}

// NewLCG seeds an LCG.
func NewLCG(seed uint32) Generator {
	return &LCG{state: uint64(seed)}
}

// Float64 advances the state and returns state / 2^31.
func (g *LCG) Float64() float64 {
	g.state = (g.state*lcgMultiplier + lcgIncrement) % lcgModulus
	return float64(g.state) / lcgModulus
}

// Seed hashes the parts joined by ":" with SHA-256 and reads the first 32 bits big-endian.
func Seed(parts ...string) uint32 {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return binary.BigEndian.Uint32(sum[:4])
}

// Engine derives permutations from a keyed seed.
type Engine struct {
	source Source
}

// New creates an Engine. A nil source selects the LCG.
func New(source Source) *Engine {
	if source == nil {
		source = NewLCG
	}
	return &Engine{source: source}
}

// Permutation returns a Fisher-Yates permutation of [0, n) for the key.
func (e *Engine) Permutation(n int, key ...string) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	g := e.source(Seed(key...))
	for i := n - 1; i > 0; i-- {
		j := int(g.Float64() * float64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// Apply returns a new slice with items reordered by e's permutation for key.
// items is left unmodified.
func Apply[T any](e *Engine, items []T, key ...string) []T {
	perm := e.Permutation(len(items), key...)
	out := make([]T, len(items))
	for i, p := range perm {
		out[i] = items[p]
	}
	return out
}
