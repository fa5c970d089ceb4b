package oracle

import (
	"errors"
	"fmt"
	"sync"

	fpmath "PerpVault/internal/math"
)

var (
	ErrInvalidPrice  = errors.New("invalid price")
	ErrNoAnswer      = errors.New("feed has no answer")
	ErrRoundNotFound = errors.New("round not found")
	ErrNoPriceFeed   = errors.New("no price feed for asset")
)

// MaxRoundHistory bounds the answers a Feed keeps in memory.
const MaxRoundHistory = 64

// Feed is a round-based price source for one asset. Round ids start at 1
// and increase by one per answer.
type Feed struct {
	mu       sync.RWMutex
	decimals uint8
	answers  []fpmath.Uint
	latest   uint64
}

// NewFeed creates a feed whose answers carry the given decimals
// (8 for USD-quoted feeds).
func NewFeed(decimals uint8) *Feed {
	return &Feed{decimals: decimals}
}

func (f *Feed) Decimals() uint8 {
	return f.decimals
}

// SetLatestAnswer appends a new round and returns its id.
func (f *Feed) SetLatestAnswer(answer fpmath.Uint) (uint64, error) {
	if answer.IsZero() {
		return 0, fmt.Errorf("%w: zero answer", ErrInvalidPrice)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.answers = append(f.answers, answer)
	if len(f.answers) > MaxRoundHistory {
		f.answers = f.answers[len(f.answers)-MaxRoundHistory:]
	}
	f.latest++
	return f.latest, nil
}

func (f *Feed) LatestRound() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest
}

func (f *Feed) LatestAnswer() (fpmath.Uint, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == 0 {
		return fpmath.Uint{}, ErrNoAnswer
	}
	return f.answers[len(f.answers)-1], nil
}

// RoundData returns the answer recorded for round.
func (f *Feed) RoundData(round uint64) (fpmath.Uint, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	oldest := f.latest - uint64(len(f.answers)) + 1
	if round == 0 || round > f.latest || round < oldest {
		return fpmath.Uint{}, fmt.Errorf("%w: %d", ErrRoundNotFound, round)
	}
	return f.answers[round-oldest], nil
}

// recent returns up to n of the newest answers, newest first, read under
// one lock so a concurrent update cannot interleave.
func (f *Feed) recent(n int) []fpmath.Uint {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n > len(f.answers) {
		n = len(f.answers)
	}
	out := make([]fpmath.Uint, 0, n)
	for i := len(f.answers) - 1; i >= len(f.answers)-n; i-- {
		out = append(out, f.answers[i])
	}
	return out
}
