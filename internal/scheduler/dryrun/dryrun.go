// Package dryrun provides a deterministic execution backend for local
// development and smoke tests. No code is actually run: each test's outcome
// is derived from a stable hash of its identity, so repeated executions of
// the same suite produce the same verdicts.
package dryrun

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/verdict-ml/verdict-go/internal/scheduler"
)

type Backend struct {
	failureRate float64
	decide      func(seed string) float64
}

// New returns a backend where every test passes.
func New() *Backend {
	return NewWithFailureRate(0)
}

// NewWithFailureRate fails roughly the given fraction of tests,
// deterministically per (suite, test, arguments).
func NewWithFailureRate(rate float64) *Backend {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &Backend{failureRate: rate, decide: deterministicScore}
}

func (b *Backend) Run(_ context.Context, req scheduler.RunRequest) (scheduler.RunResult, error) {
	score := b.decide(seed(req))
	metric := score
	passed := score >= b.failureRate
	message := fmt.Sprintf("dry run score %.3f", score)
	if !passed {
		message = fmt.Sprintf("dry run simulated failure, score %.3f", score)
	}
	return scheduler.RunResult{Passed: passed, Message: message, Metric: &metric}, nil
}

// seed excludes the execution id so reruns of the same suite with the same
// arguments are reproducible.
func seed(req scheduler.RunRequest) string {
	keys := make([]string, 0, len(req.Args))
	for key := range req.Args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+3)
	parts = append(parts, req.SuiteID, req.SuiteTestID, req.Callable.Fingerprint())
	for _, key := range keys {
		parts = append(parts, key+"="+req.Args[key])
	}
	return strings.Join(parts, ":")
}

func deterministicScore(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	value := binary.BigEndian.Uint64(sum[:8])
	return float64(value) / float64(math.MaxUint64)
}
