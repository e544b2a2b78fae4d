// Package shard implements deterministic work partitioning for parallel
// pipeline stages. Each stage runs as an indexed batch job: replica i of n
// owns every item whose position is congruent to i modulo n. The assignment
// is a pure function of (position, index, total), so a retried replica
// always recomputes exactly the subset it owned before.
package shard

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables through which the scheduler communicates the shard
// identity to a replica. JOB_COMPLETION_INDEX is injected by Kubernetes for
// Indexed jobs; JOB_COMPLETIONS is set explicitly on the job spec.
const (
	EnvIndex = "JOB_COMPLETION_INDEX"
	EnvTotal = "JOB_COMPLETIONS"
)

// Context identifies one worker out of a fixed-size set. It is constructed
// once at process entry and passed explicitly; library code never reads the
// shard identity from the environment.
type Context struct {
	Index int
	Total int
}

// New validates and builds a shard context.
// Total must be at least 1 and Index must lie in [0, Total).
func New(index, total int) (Context, error) {
	if total < 1 {
		return Context{}, fmt.Errorf("%w: total %d, must be >= 1", ErrInvalidShardConfig, total)
	}
	if index < 0 || index >= total {
		return Context{}, fmt.Errorf("%w: index %d out of range [0, %d)", ErrInvalidShardConfig, index, total)
	}
	return Context{Index: index, Total: total}, nil
}

// Single is the context of an unsharded run: one worker owning everything.
func Single() Context {
	return Context{Index: 0, Total: 1}
}

// FromEnv builds the shard context from the job environment. Missing
// variables default to the single-worker context, so binaries behave
// sensibly when run outside the cluster.
func FromEnv() (Context, error) {
	index, err := envInt(EnvIndex, 0)
	if err != nil {
		return Context{}, err
	}
	total, err := envInt(EnvTotal, 1)
	if err != nil {
		return Context{}, err
	}
	return New(index, total)
}

// IsAggregator reports whether this shard is the designated aggregator
// (index 0). Global artifacts are produced by the explicit aggregation step
// after all shards complete; this is retained only for logging.
func (c Context) IsAggregator() bool {
	return c.Index == 0
}

// String returns "index/total" in 1-based human form, e.g. "2/4".
func (c Context) String() string {
	return fmt.Sprintf("%d/%d", c.Index+1, c.Total)
}

// Partition returns the subsequence of items owned by the context's worker.
// Item at position i belongs to worker i mod total; relative order is
// preserved. Over all indices 0..total-1 the outputs form an exact
// partition of items, including when total exceeds len(items), in which
// case some workers receive an empty subsequence.
func Partition[T any](items []T, c Context) []T {
	owned := make([]T, 0, (len(items)+c.Total-1)/c.Total)
	for i, item := range items {
		if i%c.Total == c.Index {
			owned = append(owned, item)
		}
	}
	return owned
}

// LagRange returns the integer sequence 0..maxLag inclusive. The analysis
// engine partitions this sequence across shards so that every lag is owned
// by exactly one worker.
func LagRange(maxLag int) []int {
	if maxLag < 0 {
		return nil
	}
	lags := make([]int, maxLag+1)
	for i := range lags {
		lags[i] = i
	}
	return lags
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidShardConfig, key, raw)
	}
	return v, nil
}
