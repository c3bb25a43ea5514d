package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memoryBus struct {
	NullBus
	mu   sync.Mutex
	msgs []WorkflowMessage
}

func (m *memoryBus) Publish(ctx context.Context, msg WorkflowMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memoryBus) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.msgs))
	for _, msg := range m.msgs {
		out = append(out, msg.Type)
	}
	return out
}

func TestNewBusFallsBackToNull(t *testing.T) {
	b := NewBus("", nil)
	_, ok := b.(*NullBus)
	assert.True(t, ok)

	// Invalid URL also yields the null bus.
	b = NewBus("not-a-url", nil)
	_, ok = b.(*NullBus)
	assert.True(t, ok)
	require.NoError(t, b.Close())
}

func TestNullBus(t *testing.T) {
	nb := NewNullBus(nil)
	ctx := context.Background()
	require.NoError(t, nb.Publish(ctx, WorkflowMessage{Type: TypeCaseCreated}))
	require.NoError(t, nb.HealthCheck(ctx))
	require.NoError(t, nb.Reset(ctx))

	stats, err := nb.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "null", stats["type"])

	readCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = nb.ReadWorkflow(readCtx, "g", "c", func(context.Context, WorkflowMessage) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeWorkflow(t *testing.T) {
	msg := decodeWorkflow(StreamMessage{Fields: map[string]string{
		"type":      TypeMatchCompleted,
		"case_id":   "1",
		"actor":     "J. Doe",
		"data":      `{"matches":"2"}`,
		"timestamp": "1700000000000",
	}})
	assert.Equal(t, TypeMatchCompleted, msg.Type)
	assert.Equal(t, "1", msg.CaseID)
	assert.Equal(t, "2", msg.Data["matches"])
	assert.EqualValues(t, 1700000000, msg.Timestamp)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("1700000000")
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000, ts)

	ts, err = parseTimestamp("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000, ts)

	_, err = parseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestRecorderPublishesTransitions(t *testing.T) {
	mb := &memoryBus{}
	rec := NewRecorder(mb, "J. Doe", nil)
	state := workflow.NewAppState()
	detach := rec.Attach(state)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	alice := api.Person{ID: "p1", Name: "Alice"}
	state.SetCase(api.Case{ID: "1", CaseName: "Case A", InvestigatorName: "J. Doe"})
	state.AddEvidence(api.Sample{SampleID: "s1"}, api.Sample{SampleID: "s2"})
	state.ToggleSuspect(alice)
	state.ToggleSuspect(alice)
	rec.ObserveMatch(workflow.MatchSnapshot{Status: workflow.StatusAnalyzing})
	rec.ObserveMatch(workflow.MatchSnapshot{Status: workflow.StatusFailed, Err: errors.New("boom")})
	rec.ObserveMatch(workflow.MatchSnapshot{Status: workflow.StatusComplete, Results: []api.MatchResult{{PersonID: "p1", SimilarityScore: 0.9}}})
	rec.ObserveMatch(workflow.MatchSnapshot{Status: workflow.StatusComplete})
	state.ClearCase()

	want := []string{
		TypeCaseCreated,
		TypeEvidenceUploaded,
		TypeSuspectToggled,
		TypeSuspectToggled,
		TypeMatchFailed,
		TypeMatchCompleted,
		TypeSessionReset,
	}
	require.Eventually(t, func() bool { return len(mb.types()) == len(want) }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, want, mb.types())
	mb.mu.Lock()
	defer mb.mu.Unlock()
	assert.Equal(t, "J. Doe", mb.msgs[0].Actor)
	assert.Equal(t, "1", mb.msgs[0].CaseID)
	assert.Equal(t, "2", mb.msgs[1].Data["count"])
	assert.Equal(t, "s1,s2", mb.msgs[1].Data["sample_ids"])
	assert.Equal(t, "true", mb.msgs[2].Data["selected"])
	assert.Equal(t, "false", mb.msgs[3].Data["selected"])
	assert.Equal(t, "boom", mb.msgs[4].Data["error"])
	assert.Equal(t, "p1", mb.msgs[5].Data["top_person_id"])
}

func TestRecorderFlushesOnCancel(t *testing.T) {
	mb := &memoryBus{}
	rec := NewRecorder(mb, "tester", nil)
	rec.Emit(WorkflowMessage{Type: TypeSessionReset, CaseID: "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = rec.Run(ctx)
	assert.Equal(t, []string{TypeSessionReset}, mb.types())
}
