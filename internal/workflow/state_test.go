package workflow

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edi-forensics/hwid-console/internal/api"
)

func person(id, name string) api.Person {
	return api.Person{ID: api.ID(id), Name: name}
}

func TestNewCaseStartsAtCaseCreated(t *testing.T) {
	st := NewAppState()
	assert.Equal(t, StageNoCase, st.Stage())

	st.SetCase(api.Case{ID: "1", CaseName: "Case A", InvestigatorName: "J. Doe"})

	snap := st.Snapshot()
	assert.Equal(t, StageCaseCreated, snap.Stage())
	assert.False(t, snap.HasEvidence())
	assert.False(t, snap.HasSuspects())
	assert.False(t, snap.HasResults())
}

func TestToggleTwiceRestoresSelection(t *testing.T) {
	st := NewAppState()
	st.SetCase(api.Case{ID: "1", CaseName: "Case A"})
	alice, bob := person("p1", "Alice"), person("p2", "Bob")

	require.True(t, st.ToggleSuspect(alice))
	before := st.Snapshot().Suspects

	require.True(t, st.ToggleSuspect(bob))
	assert.True(t, st.IsSelected(bob))
	require.True(t, st.ToggleSuspect(bob))

	assert.Equal(t, before, st.Snapshot().Suspects)
	assert.False(t, st.IsSelected(bob))
	assert.True(t, st.IsSelected(alice))
}

func TestToggleMatchesByID(t *testing.T) {
	st := NewAppState()
	st.SetCase(api.Case{ID: "1"})

	st.ToggleSuspect(api.Person{ID: "p1", Name: "Alice"})
	// A refreshed copy of the same person deselects it.
	st.ToggleSuspect(api.Person{ID: "p1", Name: "Alice", SampleCount: 3})

	assert.Empty(t, st.Snapshot().Suspects)
}

func TestToggleWithoutCaseIsNoop(t *testing.T) {
	st := NewAppState()
	assert.False(t, st.ToggleSuspect(person("p1", "Alice")))
	assert.Empty(t, st.Snapshot().Suspects)

	assert.False(t, st.AddEvidence(api.Sample{SampleID: "s1"}))
	st.SetResults([]api.MatchResult{{SimilarityScore: 0.5}})
	assert.Equal(t, StageNoCase, st.Stage())
}

func TestStageProgression(t *testing.T) {
	st := NewAppState()
	st.SetCase(api.Case{ID: "1"})

	st.AddEvidence(api.Sample{SampleID: "s1"}, api.Sample{SampleID: "s2"})
	assert.Equal(t, StageEvidenceUploaded, st.Stage())
	assert.Equal(t, api.ID("s1"), st.Snapshot().EvidenceSampleID())

	st.ToggleSuspect(person("p1", "Alice"))
	assert.Equal(t, StageSuspectsSelected, st.Stage())

	st.SetResults([]api.MatchResult{{PersonID: "p1", SimilarityScore: 0.9}})
	assert.Equal(t, StageResultsAvailable, st.Stage())

	// A new case resets every derived flag.
	st.SetCase(api.Case{ID: "2"})
	assert.Equal(t, StageCaseCreated, st.Stage())

	st.ClearCase()
	assert.Equal(t, StageNoCase, st.Stage())
}

func TestSetResultsKeepsReceivedOrder(t *testing.T) {
	st := NewAppState()
	st.SetCase(api.Case{ID: "1"})
	results := []api.MatchResult{
		{PersonID: "p2", SimilarityScore: 0.55},
		{PersonID: "p1", SimilarityScore: 0.92},
	}
	st.SetResults(results)
	assert.Equal(t, results, st.Snapshot().Results)
}

func TestSubscribeNotifiesUntilUnsubscribed(t *testing.T) {
	st := NewAppState()
	var stages []Stage
	unsub := st.Subscribe(func(s Snapshot) { stages = append(stages, s.Stage()) })

	st.SetCase(api.Case{ID: "1"})
	st.AddEvidence(api.Sample{SampleID: "s1"})
	unsub()
	st.ToggleSuspect(person("p1", "Alice"))

	assert.Equal(t, []Stage{StageCaseCreated, StageEvidenceUploaded}, stages)
}

func TestStepGating(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*AppState)
		evidence  bool
		suspects  bool
		analysis  bool
		completed []bool
	}{
		{
			name:      "no case",
			setup:     func(*AppState) {},
			completed: []bool{false, false, false},
		},
		{
			name:      "case only",
			setup:     func(a *AppState) { a.SetCase(api.Case{ID: "1"}) },
			evidence:  true,
			completed: []bool{false, false, false},
		},
		{
			name: "suspects without evidence",
			setup: func(a *AppState) {
				a.SetCase(api.Case{ID: "1"})
				a.ToggleSuspect(person("p1", "Alice"))
			},
			evidence:  true,
			completed: []bool{false, true, false},
		},
		{
			name: "evidence only",
			setup: func(a *AppState) {
				a.SetCase(api.Case{ID: "1"})
				a.AddEvidence(api.Sample{SampleID: "s1"})
			},
			evidence:  true,
			suspects:  true,
			completed: []bool{true, false, false},
		},
		{
			name: "evidence and suspects",
			setup: func(a *AppState) {
				a.SetCase(api.Case{ID: "1"})
				a.AddEvidence(api.Sample{SampleID: "s1"})
				a.ToggleSuspect(person("p1", "Alice"))
			},
			evidence:  true,
			suspects:  true,
			analysis:  true,
			completed: []bool{true, true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewAppState()
			tt.setup(st)
			steps := st.Snapshot().Steps()
			require.Len(t, steps, 3)
			assert.Equal(t, tt.evidence, steps[0].Enabled)
			assert.Equal(t, tt.suspects, steps[1].Enabled)
			assert.Equal(t, tt.analysis, steps[2].Enabled)
			for i, done := range tt.completed {
				assert.Equal(t, done, steps[i].Completed, steps[i].Name)
			}
		})
	}
}

func TestStepLabels(t *testing.T) {
	st := NewAppState()
	st.SetCase(api.Case{ID: "1"})
	step, ok := st.Snapshot().Step(StepEvidence)
	require.True(t, ok)
	assert.Equal(t, "Upload Evidence", step.Action)

	st.AddEvidence(api.Sample{SampleID: "s1"})
	step, _ = st.Snapshot().Step(StepEvidence)
	assert.Equal(t, "Add More", step.Action)
	assert.Equal(t, "1 sample(s) uploaded", step.Summary)

	_, ok = st.Snapshot().Step("unknown")
	assert.False(t, ok)
}

func TestConcurrentTogglesDeliverFinalState(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		st := NewAppState()
		st.SetCase(api.Case{ID: "c1"})

		var mu sync.Mutex
		var last Snapshot
		var order []int
		st.Subscribe(func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			last = s
			order = append(order, len(s.Suspects))
		})

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				st.ToggleSuspect(person(fmt.Sprintf("p%d", i), "P"))
			}()
		}
		wg.Wait()

		mu.Lock()
		require.Len(t, last.Suspects, 32)
		assert.Equal(t, st.Snapshot().SuspectIDs(), last.SuspectIDs())
		// Only additions happen, so delivered snapshots never shrink.
		for i := 1; i < len(order); i++ {
			require.Greater(t, order[i], order[i-1])
		}
		mu.Unlock()
	}
}

func TestAddCaseEvidenceIgnoresStaleCase(t *testing.T) {
	st := NewAppState()
	st.SetCase(api.Case{ID: "c1"})
	st.SetCase(api.Case{ID: "c2"})

	assert.False(t, st.AddCaseEvidence("c1", api.Sample{SampleID: "s1", CaseID: "c1"}))
	assert.False(t, st.AddCaseEvidence("", api.Sample{SampleID: "s0"}))
	assert.Equal(t, StageCaseCreated, st.Stage())

	assert.True(t, st.AddCaseEvidence("c2", api.Sample{SampleID: "s2", CaseID: "c2"}))
	assert.Equal(t, api.ID("s2"), st.Snapshot().EvidenceSampleID())
}

func TestOpenCaseSeedsEvidenceAndSuspects(t *testing.T) {
	st := NewAppState()
	st.SetCase(api.Case{ID: "old"})
	st.SetResults([]api.MatchResult{{PersonID: "p9"}})

	st.OpenCase(api.Case{ID: "c1"},
		[]api.Sample{{SampleID: "e1", CaseID: "c1"}},
		[]api.Person{person("p1", "Alice"), person("p1", "Alice"), person("p2", "Bob")})

	snap := st.Snapshot()
	assert.Equal(t, StageSuspectsSelected, snap.Stage())
	assert.Equal(t, []api.ID{"p1", "p2"}, snap.SuspectIDs())
	assert.Empty(t, snap.Results)
}
