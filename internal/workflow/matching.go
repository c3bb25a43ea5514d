package workflow

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// Matching statuses shown to the investigator.
const (
	StatusReady     = "Ready to scan"
	StatusInit      = "Initializing scan..."
	StatusAnalyzing = "Analyzing handwriting patterns..."
	StatusComplete  = "Scan complete"
	StatusFailed    = "Scan failed - please try again"
	StatusNoInput   = "No evidence or suspects selected"
)

// Matching defaults.
const (
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultProgressCap      = 90.0
	DefaultHoldDelay        = 2 * time.Second
)

// ErrScanInProgress is returned by Start while a match request is outstanding.
var ErrScanInProgress = errors.New("scan already in progress")

// Matcher is the part of the API client the matching session needs.
type Matcher interface {
	Match(ctx context.Context, evidenceSampleID api.ID, suspectIDs []api.ID) ([]api.MatchResult, error)
}

// MatchSnapshot is the observable state of a MatchingSession.
type MatchSnapshot struct {
	Scanning bool
	Progress float64
	Status   string
	Results  []api.MatchResult
	Err      error
}

// MatchingOptions configures a MatchingSession.
type MatchingOptions struct {
	// Interval between simulated progress ticks.
	Interval time.Duration
	// Cap bounds simulated progress while the request is outstanding.
	Cap float64
	// Step returns the next progress increment. Defaults to a uniform 0..15.
	Step func() float64
	// HoldDelay is how long "Scan complete" stays before "Ready to scan".
	HoldDelay  time.Duration
	OnComplete func([]api.MatchResult)
	OnChange   func(MatchSnapshot)
	Logger     *zap.Logger
}

// MatchingSession runs one match request at a time and reports simulated
// progress while it is outstanding.
type MatchingSession struct {
	matcher Matcher
	opts    MatchingOptions
	logger  *zap.Logger

	mu        sync.Mutex
	snap      MatchSnapshot
	running   bool
	gen       uint64
	cancel    context.CancelFunc
	holdTimer *time.Timer
}

// NewMatchingSession creates an idle session.
func NewMatchingSession(matcher Matcher, opts MatchingOptions) *MatchingSession {
	if opts.Interval <= 0 {
		opts.Interval = DefaultProgressInterval
	}
	if opts.Cap <= 0 || opts.Cap >= 100 {
		opts.Cap = DefaultProgressCap
	}
	if opts.Step == nil {
		opts.Step = func() float64 { return rand.Float64() * 15 }
	}
	if opts.HoldDelay <= 0 {
		opts.HoldDelay = DefaultHoldDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &MatchingSession{
		matcher: matcher,
		opts:    opts,
		logger:  opts.Logger.Named("matching"),
		snap:    MatchSnapshot{Status: StatusReady},
	}
}

// Snapshot returns a copy of the current state.
func (m *MatchingSession) Snapshot() MatchSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

func (m *MatchingSession) copyLocked() MatchSnapshot {
	s := m.snap
	s.Results = append([]api.MatchResult(nil), m.snap.Results...)
	return s
}

// update applies fn under the lock when gen is still current and publishes
// the result. It reports whether fn ran.
func (m *MatchingSession) update(gen uint64, fn func(*MatchSnapshot)) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	fn(&m.snap)
	s := m.copyLocked()
	m.mu.Unlock()
	if m.opts.OnChange != nil {
		m.opts.OnChange(s)
	}
	return true
}

// Start validates the inputs, issues exactly one match request and blocks
// until it settles. Without an evidence id or suspects the status becomes
// StatusNoInput and no request is made.
func (m *MatchingSession) Start(ctx context.Context, evidenceSampleID api.ID, suspectIDs []api.ID) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrScanInProgress
	}
	if evidenceSampleID == "" || len(suspectIDs) == 0 {
		gen := m.gen
		m.mu.Unlock()
		m.update(gen, func(s *MatchSnapshot) {
			s.Status = StatusNoInput
			s.Err = nil
		})
		return api.ErrValidation
	}
	m.stopHoldLocked()
	m.gen++
	gen := m.gen
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.snap = MatchSnapshot{Scanning: true, Status: StatusInit}
	m.mu.Unlock()
	defer cancel()

	m.update(gen, func(*MatchSnapshot) {})

	tickCtx, stopTicks := context.WithCancel(runCtx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.tick(tickCtx, gen)
	}()

	m.update(gen, func(s *MatchSnapshot) { s.Status = StatusAnalyzing })
	m.logger.Info("match started", zap.String("evidence", evidenceSampleID.String()), zap.Int("suspects", len(suspectIDs)))

	results, err := m.matcher.Match(runCtx, evidenceSampleID, suspectIDs)
	stopTicks()
	wg.Wait()

	m.mu.Lock()
	if gen == m.gen {
		m.running = false
		m.cancel = nil
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("match failed", zap.Error(err))
		if !m.update(gen, func(s *MatchSnapshot) {
			s.Scanning = false
			s.Progress = 0
			s.Status = StatusFailed
			s.Err = err
		}) {
			return context.Canceled
		}
		return err
	}

	if results == nil {
		results = []api.MatchResult{}
	}
	if !m.update(gen, func(s *MatchSnapshot) {
		s.Progress = 100
		s.Status = StatusComplete
		s.Results = results
		s.Err = nil
	}) {
		return context.Canceled
	}
	m.logger.Info("match complete", zap.Int("matches", len(results)))

	if m.opts.OnComplete != nil {
		m.opts.OnComplete(append([]api.MatchResult(nil), results...))
	}
	m.scheduleHold(gen)
	return nil
}

// tick advances simulated progress until ctx ends, never above the cap.
func (m *MatchingSession) tick(ctx context.Context, gen uint64) {
	t := time.NewTicker(m.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.update(gen, func(s *MatchSnapshot) {
				if s.Progress >= m.opts.Cap {
					return
				}
				s.Progress = math.Min(m.opts.Cap, s.Progress+m.opts.Step())
			})
		}
	}
}

func (m *MatchingSession) scheduleHold(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.stopHoldLocked()
	m.holdTimer = time.AfterFunc(m.opts.HoldDelay, func() {
		m.update(gen, func(s *MatchSnapshot) {
			s.Scanning = false
			s.Status = StatusReady
		})
	})
}

func (m *MatchingSession) stopHoldLocked() {
	if m.holdTimer != nil {
		m.holdTimer.Stop()
		m.holdTimer = nil
	}
}

// Reset cancels any outstanding request and pending hold, and returns the
// session to its initial state. A request cancelled this way reports nothing.
func (m *MatchingSession) Reset() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.stopHoldLocked()
	m.gen++
	m.running = false
	m.snap = MatchSnapshot{Status: StatusReady}
	s := m.copyLocked()
	m.mu.Unlock()
	if m.opts.OnChange != nil {
		m.opts.OnChange(s)
	}
}

// Close cancels anything still pending. The session stays usable.
func (m *MatchingSession) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.stopHoldLocked()
}
