package mltl

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultCacheSize bounds the number of parsed formulas kept by an Evaluator.
const DefaultCacheSize = 1 << 16

// Evaluator parses formula strings once and evaluates them against traces.
// It is safe for concurrent use.
type Evaluator struct {
	cache *ristretto.Cache[string, *Formula]
}

// NewEvaluator builds an Evaluator whose parse cache admits at most size
// formulas. size <= 0 selects DefaultCacheSize.
func NewEvaluator(size int64) (*Evaluator, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Formula]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create formula cache: %w", err)
	}
	return &Evaluator{cache: cache}, nil
}

// Parse returns the cached parse of formula, parsing it on a miss.
func (e *Evaluator) Parse(formula string) (*Formula, error) {
	if f, ok := e.cache.Get(formula); ok {
		return f, nil
	}
	f, err := Parse(formula)
	if err != nil {
		return nil, err
	}
	e.cache.Set(formula, f, 1)
	return f, nil
}

// Evaluate reports whether formula holds on trace.
func (e *Evaluator) Evaluate(formula string, trace []string) (bool, error) {
	f, err := e.Parse(formula)
	if err != nil {
		return false, err
	}
	return f.Evaluate(trace)
}

func (e *Evaluator) Close() {
	e.cache.Close()
}
