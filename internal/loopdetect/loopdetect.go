// Package loopdetect guards against a model repeating the same tool call
// over and over by tracking consecutive identical (tool, args) calls per
// agentic-loop run and raising warn/block thresholds.
package loopdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Default thresholds, configurable per Detector instance.
const (
	DefaultWarnAt  = 5
	DefaultBlockAt = 10
)

type entry struct {
	hash  string
	count int
}

// Detector holds per-tool run-length state for the lifetime of a single
// agentic-loop run. It is not safe to share across runs.
type Detector struct {
	mu      sync.Mutex
	warnAt  int
	blockAt int
	last    map[string]entry
}

// New builds a Detector with the default thresholds.
func New() *Detector {
	return NewWithThresholds(DefaultWarnAt, DefaultBlockAt)
}

// NewWithThresholds builds a Detector with custom warn/block thresholds.
func NewWithThresholds(warnAt, blockAt int) *Detector {
	return &Detector{
		warnAt:  warnAt,
		blockAt: blockAt,
		last:    make(map[string]entry),
	}
}

// HashArgs canonicalizes raw tool arguments into a stable hash key.
func HashArgs(args []byte) string {
	sum := sha256.Sum256(args)
	return hex.EncodeToString(sum[:])
}

// Observe records a call to tool with the given argument hash and returns
// the current consecutive run-length for that exact (tool, argsHash)
// pair. A call to the same tool with a different argsHash resets that
// tool's run to 1; calls to other tools leave it unchanged.
func (d *Detector) Observe(tool, argsHash string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.last[tool]
	if ok && e.hash == argsHash {
		e.count++
	} else {
		e = entry{hash: argsHash, count: 1}
	}
	d.last[tool] = e
	return e.count
}

// ShouldWarn reports whether the given run-length meets the warn
// threshold (inclusive).
func (d *Detector) ShouldWarn(count int) bool {
	return count >= d.warnAt
}

// ShouldBlock reports whether the given run-length meets the block
// threshold (inclusive).
func (d *Detector) ShouldBlock(count int) bool {
	return count >= d.blockAt
}

// WarnAt returns the configured warn threshold.
func (d *Detector) WarnAt() int { return d.warnAt }

// BlockAt returns the configured block threshold.
func (d *Detector) BlockAt() int { return d.blockAt }

// Reset clears all tracked state, e.g. between turns if desired.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = make(map[string]entry)
}
