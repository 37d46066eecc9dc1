// Package scanner drives a door device: one scan at a time, validate, wait for
// the operator, then commit.
package scanner

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/boomfest/boom-tickets/internal/domain"
)

var (
	// ErrBusy is returned while a previous scan is still being processed.
	ErrBusy = errors.New("scanner busy, previous scan still in progress")
	// ErrNothingPending is returned by Confirm when no VALID scan awaits confirmation.
	ErrNothingPending = errors.New("no ticket waiting for confirmation")
)

// Session holds the state of one door device. Scans arriving while another
// is in flight are dropped, which debounces repeated reads of the same code.
type Session struct {
	api    API
	device string

	busy atomic.Bool

	mu      sync.Mutex
	pending *Result
}

func NewSession(api API, device string) *Session {
	return &Session{api: api, device: device}
}

// Scan validates payload. A VALID result is kept until Confirm or Reset.
func (s *Session) Scan(ctx context.Context, payload string) (Result, error) {
	if strings.TrimSpace(payload) == "" {
		return Result{}, errors.Wrap(domain.ErrInvalidInput, "empty scan")
	}
	if !s.busy.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer s.busy.Store(false)

	res, err := s.api.Validate(ctx, payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if err != nil {
		return Result{}, err
	}
	if res.Verdict == domain.VerdictValid && res.Order != nil {
		s.pending = &res
	}
	return res, nil
}

// Confirm commits the pending VALID scan. Only a Result with Admit=true means
// the person may enter.
func (s *Session) Confirm(ctx context.Context) (Result, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if pending == nil {
		return Result{}, ErrNothingPending
	}
	return s.api.Commit(ctx, pending.Order.ID, s.device)
}

// Reset discards a pending scan without committing it.
func (s *Session) Reset() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Pending returns the scan awaiting confirmation, if any.
func (s *Session) Pending() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Result{}, false
	}
	return *s.pending, true
}
