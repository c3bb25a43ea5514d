package ui

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/app"
	"github.com/edi-forensics/hwid-console/internal/backend"
	"github.com/edi-forensics/hwid-console/internal/store"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

type harness struct {
	ui   *UI
	svc  *app.Service
	stub *backend.Server
}

// newHarness builds a console over a stub backend. The tview application is
// never run, so state updates render inline.
func newHarness(t *testing.T) *harness {
	t.Helper()
	stub := backend.New(backend.Options{})
	ts := httptest.NewServer(stub.Handler())
	t.Cleanup(ts.Close)

	st, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatalf("store.NewStore error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := app.New(app.Options{
		Backend: api.NewClient(api.Options{BaseURL: ts.URL, HTTPClient: ts.Client()}),
		Store:   st,
	})
	t.Cleanup(svc.Close)

	ui := NewUI(context.Background(), svc, Options{ExportDir: t.TempDir()})
	t.Cleanup(ui.shutdown)
	return &harness{ui: ui, svc: svc, stub: stub}
}

// strip removes tview color tags so assertions can use plain text.
func strip(s string) string {
	var b strings.Builder
	in := false
	for _, r := range s {
		if r == '[' {
			in = true
			continue
		}
		if r == ']' {
			in = false
			continue
		}
		if !in {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func key(r rune) *tcell.EventKey { return tcell.NewEventKey(tcell.KeyRune, r, 0) }

func TestNewUI(t *testing.T) {
	h := newHarness(t)
	if h.ui.current != viewCases {
		t.Fatalf("expected initial view %q, got %q", viewCases, h.ui.current)
	}
	if !strings.Contains(h.ui.dashboard.GetText(true), "No active case") {
		t.Errorf("dashboard should prompt for a case, got: %s", h.ui.dashboard.GetText(true))
	}
	if h.ui.globalInputCapture == nil {
		t.Fatalf("global input handler not initialized")
	}
	if h.ui.match.Status != workflow.StatusReady {
		t.Errorf("expected matching status %q, got %q", workflow.StatusReady, h.ui.match.Status)
	}
}

func TestDashboardFollowsCaseState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.CreateCase(ctx, api.CaseInput{CaseName: "Ransom note"}); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	text := h.ui.dashboard.GetText(true)
	for _, want := range []string{"Ransom note", workflow.StepEvidence, workflow.StepSuspects, workflow.StepAnalysis} {
		if !strings.Contains(text, want) {
			t.Errorf("dashboard missing %q:\n%s", want, text)
		}
	}
	if !strings.Contains(strip(h.ui.caseInfo.GetText(false)), "Ransom note") {
		t.Errorf("case panel should name the active case")
	}

	// Analysis is disabled until evidence and suspects exist.
	capture := h.ui.dashboard.GetInputCapture()
	if ret := capture(key('3')); ret != nil {
		t.Fatalf("expected '3' to be consumed")
	}
	if !strings.Contains(h.ui.statusBar.GetText(true), "not available") {
		t.Errorf("expected a not-available status, got: %s", h.ui.statusBar.GetText(true))
	}
}

func TestToggleSuspectFromPersonsTable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stub.AddPerson(api.PersonInput{Name: "Alice"})
	if _, _, err := h.svc.LoadPersons(ctx); err != nil {
		t.Fatalf("LoadPersons: %v", err)
	}
	if got := h.ui.personsTable.GetRowCount(); got != 2 {
		t.Fatalf("expected header and one person row, got %d rows", got)
	}

	capture := h.ui.personsTable.GetInputCapture()
	h.ui.personsTable.Select(1, 0)

	// Without a case the toggle is refused.
	if ret := capture(key(' ')); ret != nil {
		t.Fatalf("expected space to be consumed")
	}
	if len(h.ui.snap.Suspects) != 0 {
		t.Fatalf("no suspects expected without a case")
	}
	if !strings.Contains(h.ui.statusBar.GetText(true), "Create a case") {
		t.Errorf("expected a create-a-case hint, got: %s", h.ui.statusBar.GetText(true))
	}

	if _, err := h.svc.CreateCase(ctx, api.CaseInput{CaseName: "A"}); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	capture(key(' '))
	if len(h.ui.snap.Suspects) != 1 {
		t.Fatalf("expected one suspect, got %d", len(h.ui.snap.Suspects))
	}
	if got := h.ui.personsTable.GetCell(1, 0).Text; got != tview.Escape("[x]") {
		t.Errorf("expected selected marker, got %q", got)
	}

	capture(key(' '))
	if len(h.ui.snap.Suspects) != 0 {
		t.Fatalf("second toggle should deselect")
	}
}

func TestGlobalKeys(t *testing.T) {
	h := newHarness(t)

	// Closing with no case is a no-op but still consumed.
	if ret := h.ui.globalInputCapture(key('C')); ret != nil {
		t.Fatalf("expected 'C' to be consumed")
	}
	// Upload without a case only warns.
	h.ui.globalInputCapture(key('u'))
	if h.ui.isDialogActive() {
		t.Fatalf("upload form should not open without a case")
	}

	h.ui.globalInputCapture(key('?'))
	if !h.ui.helpActive {
		t.Fatalf("expected help to be active")
	}
	// While help is up, keys pass through to it.
	if ret := h.ui.globalInputCapture(key('n')); ret == nil {
		t.Fatalf("expected keys to pass through while help is open")
	}
	h.ui.restoreMainLayout()
	if h.ui.helpActive {
		t.Fatalf("help should be closed")
	}
}

func TestHintsFollowView(t *testing.T) {
	h := newHarness(t)
	cases := map[string]string{
		viewPersons:   "space:suspect",
		viewSearch:    "e:export",
		viewDatabase:  "b:backup",
		viewAnalytics: "e:export",
		viewMatching:  "s:scan",
	}
	for view, want := range cases {
		h.ui.showView(view)
		if hints := strip(h.ui.shortcutHints()); !strings.Contains(hints, want) {
			t.Errorf("%s: expected hints to contain %q, got %s", view, want, hints)
		}
	}
}

func TestMatchingRendersResults(t *testing.T) {
	h := newHarness(t)
	results := []api.MatchResult{
		{PersonID: "2", SimilarityScore: 0.55, PersonDetails: api.Person{Name: "Bob"}},
		{PersonID: "1", SimilarityScore: 0.92, PersonDetails: api.Person{Name: "Alice"}},
	}
	h.ui.onMatchChanged(workflow.MatchSnapshot{Status: workflow.StatusComplete, Progress: 100, Results: results})

	if got := h.ui.resultsTable.GetRowCount(); got != 3 {
		t.Fatalf("expected header and two rows, got %d", got)
	}
	// Rows keep the order the backend returned.
	if got := h.ui.resultsTable.GetCell(1, 1).Text; got != "Bob" {
		t.Errorf("expected Bob first, got %q", got)
	}
	if got := h.ui.resultsTable.GetCell(2, 4).Text; got != "strong" {
		t.Errorf("expected strong for 0.92, got %q", got)
	}
	if got := h.ui.resultsTable.GetCell(1, 3).Text; got != "55.0%" {
		t.Errorf("expected 55.0%%, got %q", got)
	}
	if n := strings.Count(h.ui.radarView.GetText(true), "●"); n == 0 {
		t.Errorf("expected radar dots")
	}
	if !strings.Contains(h.ui.matchStatus.GetText(true), workflow.StatusComplete) {
		t.Errorf("status panel should show completion")
	}

	capture := h.ui.resultsTable.GetInputCapture()
	capture(key('x'))
	if h.ui.match.Status != workflow.StatusReady {
		t.Errorf("reset should return to %q, got %q", workflow.StatusReady, h.ui.match.Status)
	}
}

func TestSearchExport(t *testing.T) {
	h := newHarness(t)
	h.stub.AddPerson(api.PersonInput{Name: "Alice"})
	h.stub.AddPerson(api.PersonInput{Name: "Bob"})
	if _, _, err := h.svc.LoadPersons(context.Background()); err != nil {
		t.Fatalf("LoadPersons: %v", err)
	}

	h.ui.filter.Term = "ali"
	h.ui.runSearch()
	if len(h.ui.searchResults) != 1 {
		t.Fatalf("expected one match, got %d", len(h.ui.searchResults))
	}

	capture := h.ui.searchTable.GetInputCapture()
	if ret := capture(key('e')); ret != nil {
		t.Fatalf("expected 'e' to be consumed")
	}
	data, err := os.ReadFile(filepath.Join(h.ui.opts.ExportDir, workflow.SearchResultsFileName))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "Alice,") {
		t.Errorf("unexpected CSV:\n%s", data)
	}
}

func TestBackupAndAnalyticsExport(t *testing.T) {
	h := newHarness(t)
	h.ui.databaseView.GetInputCapture()(key('b'))
	h.ui.analyticsView.GetInputCapture()(key('e'))

	matches, err := filepath.Glob(filepath.Join(h.ui.opts.ExportDir, "*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected backup and analytics files, got %v", matches)
	}

	entries, err := h.svc.AuditTrail(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != store.ActionExport {
		t.Errorf("expected two export audit entries, got %+v", entries)
	}
}

func TestSplitPaths(t *testing.T) {
	got := splitPaths(" a.png, b.jpg\n\nc.gif ,")
	want := []string{"a.png", "b.jpg", "c.gif"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("splitPaths = %v, want %v", got, want)
	}
}

func TestThemeCycle(t *testing.T) {
	h := newHarness(t)
	start := h.ui.themeName
	for range nextTheme {
		h.ui.cycleTheme()
	}
	if h.ui.themeName != start {
		t.Fatalf("expected theme cycle to return to %q, got %q", start, h.ui.themeName)
	}
}
