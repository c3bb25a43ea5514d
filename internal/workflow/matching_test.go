package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edi-forensics/hwid-console/internal/api"
)

type fakeMatcher struct {
	calls   int32
	release chan struct{}
	results []api.MatchResult
	err     error
}

func (f *fakeMatcher) Match(ctx context.Context, evidenceSampleID api.ID, suspectIDs []api.ID) ([]api.MatchResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, f.err
}

func TestMatchingGuardMakesNoCall(t *testing.T) {
	m := &fakeMatcher{}
	s := NewMatchingSession(m, MatchingOptions{})
	defer s.Close()

	err := s.Start(context.Background(), "", []api.ID{"p1"})
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, StatusNoInput, s.Snapshot().Status)

	err = s.Start(context.Background(), "e1", nil)
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, StatusNoInput, s.Snapshot().Status)

	assert.Zero(t, atomic.LoadInt32(&m.calls))
}

func TestMatchingStoresResultsInReceivedOrder(t *testing.T) {
	results := []api.MatchResult{
		{PersonID: "p2", SimilarityScore: 0.55, PersonDetails: api.Person{Name: "Bob"}},
		{PersonID: "p1", SimilarityScore: 0.92, PersonDetails: api.Person{Name: "Alice"}},
	}
	m := &fakeMatcher{results: results}

	st := NewAppState()
	st.SetCase(api.Case{ID: "1", CaseName: "Case A"})
	st.AddEvidence(api.Sample{SampleID: "e1"})
	st.ToggleSuspect(person("p1", "Alice"))
	st.ToggleSuspect(person("p2", "Bob"))

	s := NewMatchingSession(m, MatchingOptions{
		HoldDelay:  time.Hour,
		OnComplete: st.SetResults,
	})
	defer s.Close()

	snap := st.Snapshot()
	require.NoError(t, s.Start(context.Background(), snap.EvidenceSampleID(), snap.SuspectIDs()))

	ms := s.Snapshot()
	assert.Equal(t, 100.0, ms.Progress)
	assert.Equal(t, StatusComplete, ms.Status)
	assert.Equal(t, results, ms.Results)
	assert.Equal(t, results, st.Snapshot().Results)
	assert.Equal(t, StageResultsAvailable, st.Stage())
	assert.EqualValues(t, 1, atomic.LoadInt32(&m.calls))
}

func TestMatchingProgressNeverExceedsCap(t *testing.T) {
	m := &fakeMatcher{release: make(chan struct{}), results: []api.MatchResult{}}
	var mu sync.Mutex
	var maxWhileScanning float64
	s := NewMatchingSession(m, MatchingOptions{
		Interval:  time.Millisecond,
		Step:      func() float64 { return 40 },
		HoldDelay: 5 * time.Millisecond,
		OnChange: func(ms MatchSnapshot) {
			mu.Lock()
			defer mu.Unlock()
			if ms.Status == StatusAnalyzing && ms.Progress > maxWhileScanning {
				maxWhileScanning = ms.Progress
			}
		},
	})
	defer s.Close()

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background(), "e1", []api.ID{"p1"}) }()

	require.Eventually(t, func() bool {
		return s.Snapshot().Progress == DefaultProgressCap
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, DefaultProgressCap, s.Snapshot().Progress)

	close(m.release)
	require.NoError(t, <-done)
	assert.Equal(t, 100.0, s.Snapshot().Progress)

	mu.Lock()
	assert.LessOrEqual(t, maxWhileScanning, DefaultProgressCap)
	mu.Unlock()

	require.Eventually(t, func() bool {
		return s.Snapshot().Status == StatusReady
	}, time.Second, time.Millisecond)
	assert.False(t, s.Snapshot().Scanning)
}

func TestMatchingFailure(t *testing.T) {
	m := &fakeMatcher{err: errors.New("connection refused")}
	completed := false
	s := NewMatchingSession(m, MatchingOptions{OnComplete: func([]api.MatchResult) { completed = true }})
	defer s.Close()

	err := s.Start(context.Background(), "e1", []api.ID{"p1"})
	require.Error(t, err)

	ms := s.Snapshot()
	assert.Equal(t, StatusFailed, ms.Status)
	assert.Zero(t, ms.Progress)
	assert.False(t, ms.Scanning)
	assert.Error(t, ms.Err)
	assert.False(t, completed)

	// Failure leaves the operation re-triggerable.
	m.err = nil
	require.NoError(t, s.Start(context.Background(), "e1", []api.ID{"p1"}))
	assert.EqualValues(t, 2, atomic.LoadInt32(&m.calls))
}

func TestMatchingSecondStartWhileRunning(t *testing.T) {
	m := &fakeMatcher{release: make(chan struct{})}
	s := NewMatchingSession(m, MatchingOptions{HoldDelay: time.Millisecond})
	defer s.Close()

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background(), "e1", []api.ID{"p1"}) }()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&m.calls) == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Start(context.Background(), "e1", []api.ID{"p1"}), ErrScanInProgress)

	close(m.release)
	require.NoError(t, <-done)
}

func TestMatchingResetCancelsOutstanding(t *testing.T) {
	m := &fakeMatcher{release: make(chan struct{})}
	completed := false
	s := NewMatchingSession(m, MatchingOptions{
		Interval:   time.Millisecond,
		OnComplete: func([]api.MatchResult) { completed = true },
	})
	defer s.Close()

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background(), "e1", []api.ID{"p1"}) }()
	require.Eventually(t, func() bool { return s.Snapshot().Progress > 0 }, time.Second, time.Millisecond)

	s.Reset()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, completed)

	ms := s.Snapshot()
	assert.Equal(t, StatusReady, ms.Status)
	assert.Zero(t, ms.Progress)
	assert.Empty(t, ms.Results)
	assert.False(t, ms.Scanning)
}

func TestMatchingResetClearsResults(t *testing.T) {
	m := &fakeMatcher{results: []api.MatchResult{{PersonID: "p1", SimilarityScore: 0.7}}}
	s := NewMatchingSession(m, MatchingOptions{HoldDelay: time.Hour})
	require.NoError(t, s.Start(context.Background(), "e1", []api.ID{"p1"}))
	require.Len(t, s.Snapshot().Results, 1)

	s.Reset()
	assert.Equal(t, MatchSnapshot{Status: StatusReady}, s.Snapshot())
}
