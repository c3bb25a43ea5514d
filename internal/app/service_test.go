package app

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/backend"
	"github.com/edi-forensics/hwid-console/internal/store"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

type fixture struct {
	svc     *Service
	stub    *backend.Server
	journal *store.Store
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stub := backend.New(backend.Options{})
	ts := httptest.NewServer(stub.Handler())
	t.Cleanup(ts.Close)

	journal, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	svc := New(Options{
		Backend:          api.NewClient(api.Options{BaseURL: ts.URL, HTTPClient: ts.Client()}),
		Store:            journal,
		Investigator:     "J. Doe",
		CloseDelay:       10 * time.Millisecond,
		ProgressInterval: time.Millisecond,
	})
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, stub: stub, journal: journal, server: ts}
}

func actions(t *testing.T, s *Service) []string {
	t.Helper()
	entries, err := s.AuditTrail(context.Background(), "", 0)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Action)
	}
	return out
}

func TestFullCaseWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.stub.AddPerson(api.PersonInput{Name: "Alice"})
	bob := f.stub.AddPerson(api.PersonInput{Name: "Bob"})

	persons, stale, err := f.svc.LoadPersons(ctx)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Len(t, persons, 2)

	c, err := f.svc.CreateCase(ctx, api.CaseInput{CaseName: "Ransom note"})
	require.NoError(t, err)
	assert.Equal(t, "J. Doe", c.InvestigatorName)
	assert.Equal(t, workflow.StageCaseCreated, f.svc.State().Stage())

	sum, err := f.svc.UploadEvidence(ctx, workflow.BytesFile("note.png", []byte("png")))
	require.NoError(t, err)
	assert.Equal(t, "Successfully uploaded 1 file", sum.Message)
	assert.Equal(t, workflow.StageEvidenceUploaded, f.svc.State().Stage())

	assert.True(t, f.svc.ToggleSuspect(ctx, alice))
	assert.True(t, f.svc.ToggleSuspect(ctx, bob))

	m := f.svc.NewMatching(nil)
	defer m.Close()
	require.NoError(t, f.svc.StartMatch(ctx, m))
	assert.Equal(t, workflow.StatusComplete, m.Snapshot().Status)

	snap := f.svc.State().Snapshot()
	require.Len(t, snap.Results, 2)
	assert.Equal(t, workflow.StageResultsAvailable, snap.Stage())

	records, err := f.journal.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	samples, err := f.journal.SamplesByCase(ctx, c.Key().String())
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "note.png", samples[0].FileName)

	assert.Equal(t, []string{
		store.ActionCaseCreated,
		store.ActionEvidenceUpload,
		store.ActionSuspectsChanged,
		store.ActionSuspectsChanged,
		store.ActionMatchCompleted,
	}, actions(t, f.svc))
}

func TestCreateCaseWithEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := workflow.BytesFile("letter.jpeg", []byte("jpeg"))

	c, err := f.svc.CreateCaseWithEvidence(ctx, api.CaseInput{CaseName: "Letter"}, &ev)
	require.NoError(t, err)
	require.NotEmpty(t, c.EvidenceSampleID)

	snap := f.svc.State().Snapshot()
	assert.Equal(t, workflow.StageEvidenceUploaded, snap.Stage())
	assert.Equal(t, c.EvidenceSampleID, snap.EvidenceSampleID())

	samples, err := f.journal.SamplesByCase(ctx, c.Key().String())
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	bad := workflow.BytesFile("letter.pdf", []byte("pdf"))
	_, err = f.svc.CreateCaseWithEvidence(ctx, api.CaseInput{CaseName: "Other"}, &bad)
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestStartMatchWithoutInput(t *testing.T) {
	f := newFixture(t)
	m := f.svc.NewMatching(nil)
	defer m.Close()
	err := f.svc.StartMatch(context.Background(), m)
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, workflow.StatusNoInput, m.Snapshot().Status)
}

func TestPersonUploadIsNotEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stub.AddPerson(api.PersonInput{Name: "Carol"})
	_, err := f.svc.CreateCase(ctx, api.CaseInput{CaseName: "A"})
	require.NoError(t, err)

	up := f.svc.NewUpload(UploadHooks{PersonID: p.Key()})
	defer up.Close()
	_, err = up.Add(workflow.BytesFile("ref.jpg", []byte("x")))
	require.NoError(t, err)
	_, err = up.Upload(ctx)
	require.NoError(t, err)
	assert.False(t, f.svc.State().Snapshot().HasEvidence())
}

func TestLoadPersonsFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stub.AddPerson(api.PersonInput{Name: "Alice"})
	_, _, err := f.svc.LoadPersons(ctx)
	require.NoError(t, err)

	f.server.Close()
	offline := New(Options{
		Backend: api.NewClient(api.Options{BaseURL: f.server.URL}),
		Store:   f.journal,
	})
	defer offline.Close()

	persons, stale, err := offline.LoadPersons(ctx)
	require.NoError(t, err)
	assert.True(t, stale)
	require.Len(t, persons, 1)
	assert.Equal(t, "Alice", persons[0].Name)
	assert.Len(t, offline.State().Snapshot().Persons, 1)
}

func TestLoadPersonsBackendErrorIsNotMasked(t *testing.T) {
	stub := backend.New(backend.Options{Token: "x"})
	ts := httptest.NewServer(stub.Handler())
	defer ts.Close()
	journal, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer journal.Close()
	require.NoError(t, journal.CachePersons(context.Background(), []api.Person{{ID: "1", Name: "Old"}}))

	svc := New(Options{Backend: api.NewClient(api.Options{BaseURL: ts.URL, HTTPClient: ts.Client()}), Store: journal})
	defer svc.Close()
	_, _, err = svc.LoadPersons(context.Background())
	assert.Equal(t, api.KindBackend, api.Kind(err))
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.Login(ctx, "alice", ""), api.ErrValidation)
	assert.ErrorIs(t, f.svc.Login(ctx, "", "pw"), api.ErrValidation)
	assert.Equal(t, "J. Doe", f.svc.Investigator())

	require.NoError(t, f.svc.Login(ctx, "alice", "pw"))
	assert.Equal(t, "alice", f.svc.Investigator())
	assert.Equal(t, []string{store.ActionLogin}, actions(t, f.svc))
}

func TestNoJournal(t *testing.T) {
	svc := New(Options{Backend: api.NewClient(api.Options{})})
	defer svc.Close()
	_, err := svc.AuditTrail(context.Background(), "", 10)
	assert.Error(t, err)
}

// gatedBackend blocks evidence uploads until release is closed.
type gatedBackend struct {
	*api.Client
	started chan struct{}
	release chan struct{}
}

func (g *gatedBackend) UploadSample(ctx context.Context, file api.UploadFile, personID, caseID api.ID) (*api.Sample, error) {
	close(g.started)
	<-g.release
	return g.Client.UploadSample(ctx, file, personID, caseID)
}

func TestLateUploadDoesNotLeakIntoNewCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gated := &gatedBackend{
		Client:  api.NewClient(api.Options{BaseURL: f.server.URL, HTTPClient: f.server.Client()}),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := New(Options{Backend: gated, Store: f.journal, CloseDelay: 10 * time.Millisecond})
	defer svc.Close()

	c1, err := svc.CreateCase(ctx, api.CaseInput{CaseName: "First"})
	require.NoError(t, err)
	up := svc.NewUpload(UploadHooks{})
	defer up.Close()
	_, err = up.Add(workflow.BytesFile("note.png", []byte("png")))
	require.NoError(t, err)

	done := make(chan workflow.Summary, 1)
	go func() {
		sum, _ := up.Upload(ctx)
		done <- sum
	}()
	<-gated.started

	c2, err := svc.CreateCase(ctx, api.CaseInput{CaseName: "Second"})
	require.NoError(t, err)
	close(gated.release)
	sum := <-done
	require.Len(t, sum.Succeeded, 1)

	snap := svc.State().Snapshot()
	assert.Equal(t, c2.Key(), snap.Case.Key())
	assert.Equal(t, workflow.StageCaseCreated, snap.Stage())
	assert.Empty(t, snap.Evidence)

	// The sample is still journalled against the case it was uploaded for.
	samples, err := f.journal.SamplesByCase(ctx, c1.Key().String())
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestOpenCaseRestoresEvidenceAndSuspects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.stub.AddPerson(api.PersonInput{Name: "Alice"})
	bob := f.stub.AddPerson(api.PersonInput{Name: "Bob"})
	ev := workflow.BytesFile("letter.png", []byte("png"))

	c, err := f.svc.CreateCaseWithEvidence(ctx, api.CaseInput{
		CaseName: "Letter",
		Suspects: []api.ID{alice.Key(), bob.Key()},
	}, &ev)
	require.NoError(t, err)
	f.svc.CloseCase()

	detail, err := f.svc.OpenCase(ctx, c.Key())
	require.NoError(t, err)
	assert.Equal(t, c.Key(), detail.Case.Key())

	snap := f.svc.State().Snapshot()
	assert.Equal(t, workflow.StageSuspectsSelected, snap.Stage())
	assert.Equal(t, c.EvidenceSampleID, snap.EvidenceSampleID())
	require.Len(t, snap.Suspects, 2)
	assert.Equal(t, "Alice", snap.Suspects[0].Name)
	assert.Equal(t, "Bob", snap.Suspects[1].Name)
}
