// Package workflow holds the client-side case workflow: the shared application
// state with its suspect selection, the upload coordinator and the matching
// session.
package workflow

import (
	"fmt"
	"sync"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// Stage is the derived progress of the active case.
type Stage int

const (
	StageNoCase Stage = iota
	StageCaseCreated
	StageEvidenceUploaded
	StageSuspectsSelected
	StageResultsAvailable
)

func (s Stage) String() string {
	switch s {
	case StageNoCase:
		return "NoCase"
	case StageCaseCreated:
		return "CaseCreated"
	case StageEvidenceUploaded:
		return "EvidenceUploaded"
	case StageSuspectsSelected:
		return "SuspectsSelected"
	case StageResultsAvailable:
		return "ResultsAvailable"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Snapshot is a copy of the application state safe to hand to views.
type Snapshot struct {
	Case     *api.Case
	Evidence []api.Sample
	Suspects []api.Person
	Results  []api.MatchResult
	Persons  []api.Person
}

// HasCase reports whether a case is active.
func (s Snapshot) HasCase() bool { return s.Case != nil }

// HasEvidence is the EvidenceUploaded flag.
func (s Snapshot) HasEvidence() bool { return s.Case != nil && len(s.Evidence) > 0 }

// HasSuspects is the SuspectsSelected flag.
func (s Snapshot) HasSuspects() bool { return s.Case != nil && len(s.Suspects) > 0 }

// HasResults is the ResultsAvailable flag.
func (s Snapshot) HasResults() bool { return s.Case != nil && len(s.Results) > 0 }

// Stage derives the furthest stage whose flags all hold.
func (s Snapshot) Stage() Stage {
	switch {
	case s.Case == nil:
		return StageNoCase
	case !s.HasEvidence():
		return StageCaseCreated
	case !s.HasSuspects():
		return StageEvidenceUploaded
	case !s.HasResults():
		return StageSuspectsSelected
	default:
		return StageResultsAvailable
	}
}

// IsSelected reports whether p is in the suspect selection.
func (s Snapshot) IsSelected(p api.Person) bool {
	return indexOf(s.Suspects, p.Key()) >= 0
}

// SuspectIDs returns the selected suspect ids in selection order.
func (s Snapshot) SuspectIDs() []api.ID {
	ids := make([]api.ID, 0, len(s.Suspects))
	for _, p := range s.Suspects {
		ids = append(ids, p.Key())
	}
	return ids
}

// EvidenceSampleID is the sample matched against suspects: the first one uploaded.
func (s Snapshot) EvidenceSampleID() api.ID {
	if len(s.Evidence) == 0 {
		return ""
	}
	return s.Evidence[0].SampleID
}

// AppState is the single application state object shared by every view.
// Each mutation snapshots the state under its lock and subscribers receive
// those snapshots in mutation order. A snapshot overtaken by a newer one
// before delivery is dropped, so the last delivered snapshot is always the
// current state. Subscribers must not mutate the state synchronously.
type AppState struct {
	mu       sync.RWMutex
	current  *api.Case
	evidence []api.Sample
	suspects []api.Person
	results  []api.MatchResult
	persons  []api.Person
	seq      uint64

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)

	deliverMu sync.Mutex
	delivered uint64
}

// NewAppState returns an empty state in StageNoCase.
func NewAppState() *AppState {
	return &AppState{subs: make(map[int]func(Snapshot))}
}

// Subscribe registers fn for change notifications and returns its unsubscribe func.
func (a *AppState) Subscribe(fn func(Snapshot)) func() {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	return func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		delete(a.subs, id)
	}
}

// commitLocked numbers a mutation and snapshots its result. a.mu must be
// held for writing.
func (a *AppState) commitLocked() (Snapshot, uint64) {
	a.seq++
	return a.snapshotLocked(), a.seq
}

func (a *AppState) notify(snap Snapshot, seq uint64) {
	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()
	if seq <= a.delivered {
		return
	}
	a.delivered = seq

	a.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Snapshot copies the current state.
func (a *AppState) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *AppState) snapshotLocked() Snapshot {
	var c *api.Case
	if a.current != nil {
		cp := *a.current
		cp.Suspects = append([]api.ID(nil), a.current.Suspects...)
		c = &cp
	}
	return Snapshot{
		Case:     c,
		Evidence: append([]api.Sample(nil), a.evidence...),
		Suspects: append([]api.Person(nil), a.suspects...),
		Results:  append([]api.MatchResult(nil), a.results...),
		Persons:  append([]api.Person(nil), a.persons...),
	}
}

// Stage is shorthand for Snapshot().Stage().
func (a *AppState) Stage() Stage { return a.Snapshot().Stage() }

// SetCase makes c the current case. Evidence, suspects and results from any
// previous case are discarded.
func (a *AppState) SetCase(c api.Case) {
	a.OpenCase(c, nil, nil)
}

// OpenCase makes c the current case with evidence and suspects it already
// holds. Results from any previous case are discarded.
func (a *AppState) OpenCase(c api.Case, evidence []api.Sample, suspects []api.Person) {
	a.mu.Lock()
	a.current = &c
	a.evidence = append([]api.Sample(nil), evidence...)
	a.suspects = nil
	for _, p := range suspects {
		if p.Key() != "" && indexOf(a.suspects, p.Key()) < 0 {
			a.suspects = append(a.suspects, p)
		}
	}
	a.results = nil
	snap, seq := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, seq)
}

// ClearCase returns to StageNoCase.
func (a *AppState) ClearCase() {
	a.mu.Lock()
	a.current = nil
	a.evidence = nil
	a.suspects = nil
	a.results = nil
	snap, seq := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, seq)
}

// SetPersons replaces the persons list.
func (a *AppState) SetPersons(persons []api.Person) {
	a.mu.Lock()
	a.persons = append([]api.Person(nil), persons...)
	snap, seq := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, seq)
}

// AddPerson appends a newly created person.
func (a *AppState) AddPerson(p api.Person) {
	a.mu.Lock()
	a.persons = append(a.persons, p)
	snap, seq := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, seq)
}

// AddEvidence records uploaded samples on the current case. Without an active
// case it does nothing and returns false.
func (a *AppState) AddEvidence(samples ...api.Sample) bool {
	return a.addEvidence("", samples)
}

// AddCaseEvidence records samples only if caseID is still the current case.
// Uploads that settle after the user moved to another case return false.
func (a *AppState) AddCaseEvidence(caseID api.ID, samples ...api.Sample) bool {
	if caseID == "" {
		return false
	}
	return a.addEvidence(caseID, samples)
}

func (a *AppState) addEvidence(caseID api.ID, samples []api.Sample) bool {
	a.mu.Lock()
	if a.current == nil || (caseID != "" && a.current.Key() != caseID) {
		a.mu.Unlock()
		return false
	}
	a.evidence = append(a.evidence, samples...)
	snap, seq := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, seq)
	return true
}

// ToggleSuspect adds p to the selection if absent and removes it otherwise.
// It is a no-op returning false when no case is active. Every view toggles
// through this method so the selection cannot diverge between them.
func (a *AppState) ToggleSuspect(p api.Person) bool {
	a.mu.Lock()
	if a.current == nil || p.Key() == "" {
		a.mu.Unlock()
		return false
	}
	if i := indexOf(a.suspects, p.Key()); i >= 0 {
		a.suspects = append(a.suspects[:i:i], a.suspects[i+1:]...)
	} else {
		a.suspects = append(a.suspects, p)
	}
	snap, seq := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, seq)
	return true
}

// IsSelected reports whether p is a selected suspect.
func (a *AppState) IsSelected(p api.Person) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return indexOf(a.suspects, p.Key()) >= 0
}

// SetResults stores match results as received. Without an active case the
// results are dropped.
func (a *AppState) SetResults(results []api.MatchResult) {
	a.mu.Lock()
	if a.current == nil {
		a.mu.Unlock()
		return
	}
	a.results = append([]api.MatchResult(nil), results...)
	snap, seq := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, seq)
}

func indexOf(persons []api.Person, id api.ID) int {
	if id == "" {
		return -1
	}
	for i, p := range persons {
		if p.Key() == id {
			return i
		}
	}
	return -1
}
