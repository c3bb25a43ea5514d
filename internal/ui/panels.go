package ui

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

const (
	progressWidth = 40
	radarCols     = 41
	radarRows     = 21
	journalLimit  = 10
)

func (ui *UI) buildDatabaseView() tview.Primitive {
	ui.databaseView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	ui.databaseView.SetTitle(" Database ")
	ui.databaseView.SetBorder(true)
	ui.databaseView.SetTitleAlign(tview.AlignLeft)
	ui.databaseView.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyRune && ev.Rune() == 'b' {
			ui.exportBackup()
			return nil
		}
		return ev
	})
	return ui.databaseView
}

func (ui *UI) renderDatabase() {
	st := workflow.ComputeStats(ui.snap.Persons, ui.snap.Results)
	var b strings.Builder
	fmt.Fprintf(&b, "[%s::b]Overview[-::-]\n", ui.theme.TagAccent)
	fmt.Fprintf(&b, "  Persons            %d\n", st.TotalPersons)
	fmt.Fprintf(&b, "  Samples            %d\n", st.TotalSamples)
	fmt.Fprintf(&b, "  Cases              %d\n", st.TotalCases)
	fmt.Fprintf(&b, "  Samples per person %d\n", st.AvgSamplesPerPerson)
	if ui.staleList {
		fmt.Fprintf(&b, "  [%s]Persons are served from the local cache[-]\n", ui.theme.TagWarning)
	}

	journal := ui.svc.Journal()
	if journal == nil {
		fmt.Fprintf(&b, "\n[%s]No local journal configured[-]\n", ui.theme.TagMuted)
		ui.databaseView.SetText(b.String())
		return
	}

	cases, err := journal.ListCases(ui.ctx)
	fmt.Fprintf(&b, "\n[%s::b]Journalled cases[-::-]\n", ui.theme.TagAccent)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "  [%s]%s[-]\n", ui.theme.TagError, tview.Escape(err.Error()))
	case len(cases) == 0:
		fmt.Fprintf(&b, "  [%s]none[-]\n", ui.theme.TagMuted)
	}
	for i, c := range cases {
		if i == journalLimit {
			fmt.Fprintf(&b, "  [%s]... %d more[-]\n", ui.theme.TagMuted, len(cases)-journalLimit)
			break
		}
		fmt.Fprintf(&b, "  %s  %-24s %s\n", c.CreatedAt.Local().Format("2006-01-02 15:04"),
			tview.Escape(c.Name), tview.Escape(c.Investigator))
	}

	entries, err := journal.GetAuditEntries(ui.ctx, "", journalLimit)
	fmt.Fprintf(&b, "\n[%s::b]Recent activity[-::-]\n", ui.theme.TagAccent)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "  [%s]%s[-]\n", ui.theme.TagError, tview.Escape(err.Error()))
	case len(entries) == 0:
		fmt.Fprintf(&b, "  [%s]none[-]\n", ui.theme.TagMuted)
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s  [%s]%-18s[-] %s\n", e.Timestamp.Local().Format("15:04:05"),
			ui.theme.TagAccent, e.Action, tview.Escape(e.Actor))
	}
	ui.databaseView.SetText(b.String())
}

func (ui *UI) exportBackup() {
	now := time.Now()
	path := filepath.Join(ui.opts.ExportDir, workflow.BackupFileName(now))
	err := writeFile(path, func(f *os.File) error {
		return workflow.WriteBackupJSON(f, ui.snap.Persons, ui.snap.Evidence, now)
	})
	if err != nil {
		ui.logger.Warn("backup failed", zap.Error(err))
		ui.setStatusDirect("[%s]Backup failed: %s[-]", ui.theme.TagError, tview.Escape(err.Error()))
		return
	}
	ui.svc.Export(ui.ctx, "backup_json", path)
	ui.setStatusDirect("[%s]Backup written to %s[-]", ui.theme.TagSuccess, tview.Escape(path))
}

func (ui *UI) buildAnalyticsView() tview.Primitive {
	ui.analyticsView = tview.NewTextView().SetDynamicColors(true)
	ui.analyticsView.SetTitle(" Analytics ")
	ui.analyticsView.SetBorder(true)
	ui.analyticsView.SetTitleAlign(tview.AlignLeft)
	ui.analyticsView.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyRune && ev.Rune() == 'e' {
			ui.exportAnalytics()
			return nil
		}
		return ev
	})
	return ui.analyticsView
}

func (ui *UI) renderAnalytics() {
	st := workflow.ComputeStats(ui.snap.Persons, ui.snap.Results)
	var b strings.Builder
	fmt.Fprintf(&b, "[%s::b]Activity[-::-]\n", ui.theme.TagAccent)
	fmt.Fprintf(&b, "  Persons  %d\n  Samples  %d\n  Matches  %d\n", st.TotalPersons, st.TotalSamples, st.TotalMatches)

	fmt.Fprintf(&b, "\n[%s::b]Performance[-::-]\n", ui.theme.TagAccent)
	for _, m := range st.Metrics {
		color := ui.theme.TagSuccess
		if !m.Positive {
			color = ui.theme.TagError
		}
		fmt.Fprintf(&b, "  %-15s %-8s [%s]%+g%%[-]", m.Label, m.Value, color, m.Change)
		if m.Placeholder {
			fmt.Fprintf(&b, "  [%s](placeholder)[-]", ui.theme.TagMuted)
		}
		b.WriteString("\n")
	}
	ui.analyticsView.SetText(b.String())
}

func (ui *UI) exportAnalytics() {
	now := time.Now()
	report := workflow.ComputeStats(ui.snap.Persons, ui.snap.Results).Report(now)
	path := filepath.Join(ui.opts.ExportDir, workflow.AnalyticsFileName(now))
	if err := writeFile(path, func(f *os.File) error { return workflow.WriteAnalyticsJSON(f, report) }); err != nil {
		ui.logger.Warn("analytics export failed", zap.Error(err))
		ui.setStatusDirect("[%s]Export failed: %s[-]", ui.theme.TagError, tview.Escape(err.Error()))
		return
	}
	ui.svc.Export(ui.ctx, "analytics_json", path)
	ui.setStatusDirect("[%s]Analytics written to %s[-]", ui.theme.TagSuccess, tview.Escape(path))
}

func (ui *UI) buildMatchingView() tview.Primitive {
	ui.matchStatus = tview.NewTextView().SetDynamicColors(true)
	ui.matchStatus.SetTitle(" Scan ")
	ui.matchStatus.SetBorder(true)
	ui.matchStatus.SetTitleAlign(tview.AlignLeft)

	ui.radarView = tview.NewTextView().SetDynamicColors(true)
	ui.radarView.SetTitle(" Radar ")
	ui.radarView.SetBorder(true)
	ui.radarView.SetTitleAlign(tview.AlignLeft)

	ui.resultsTable = tview.NewTable()
	ui.resultsTable.SetTitle(" Matches ")
	ui.resultsTable.SetBorder(true)
	ui.resultsTable.SetTitleAlign(tview.AlignLeft)
	ui.resultsTable.SetSelectable(true, false)
	ui.resultsTable.SetFixed(1, 0)
	ui.resultsTable.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyRune && ev.Rune() == 'x' {
			ui.matching.Reset()
			ui.radar = nil
			ui.setStatusDirect("Scan reset")
			return nil
		}
		return ev
	})

	body := tview.NewFlex().
		AddItem(ui.radarView, radarCols+4, 0, false).
		AddItem(ui.resultsTable, 0, 1, true)
	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.matchStatus, 6, 0, false).
		AddItem(body, 0, 1, true)
}

// onMatchChanged runs on the UI goroutine for every session change.
func (ui *UI) onMatchChanged(ms workflow.MatchSnapshot) {
	prev := ui.match
	ui.match = ms
	if len(ms.Results) != len(prev.Results) || (ms.Status == workflow.StatusComplete && prev.Status != workflow.StatusComplete) {
		ui.radar = workflow.RadarPoints(ms.Results, nil)
	}
	switch ms.Status {
	case workflow.StatusFailed:
		ui.setStatusDirect("[%s]%s[-]", ui.theme.TagError, ms.Status)
	case workflow.StatusComplete:
		ui.setStatusDirect("[%s]%s: %d matches[-]", ui.theme.TagSuccess, ms.Status, len(ms.Results))
	}
	ui.renderMatching()
}

// displayedMatches prefers the live session and falls back to the case's
// stored results.
func (ui *UI) displayedMatches() []api.MatchResult {
	if len(ui.match.Results) > 0 {
		return ui.match.Results
	}
	return ui.snap.Results
}

func (ui *UI) renderMatching() {
	ui.matchStatus.SetText(ui.progressText())
	matches := ui.displayedMatches()
	if len(ui.radar) != len(matches) {
		ui.radar = workflow.RadarPoints(matches, nil)
	}
	ui.radarView.SetText(ui.radarText(ui.radar))
	ui.renderResults(matches)
}

func (ui *UI) progressText() string {
	ms := ui.match
	filled := int(math.Round(ms.Progress / 100 * progressWidth))
	filled = max(0, min(progressWidth, filled))
	color := ui.theme.TagAccent
	switch ms.Status {
	case workflow.StatusComplete:
		color = ui.theme.TagSuccess
	case workflow.StatusFailed, workflow.StatusNoInput:
		color = ui.theme.TagError
	}
	var b strings.Builder
	fmt.Fprintf(&b, " [%s]%s[-]\n", color, ms.Status)
	fmt.Fprintf(&b, " [%s]%s[-][%s]%s[-] %3.0f%%\n", color, strings.Repeat("█", filled),
		ui.theme.TagMuted, strings.Repeat("░", progressWidth-filled), ms.Progress)
	fmt.Fprintf(&b, " Evidence: %d  Suspects: %d", len(ui.snap.Evidence), len(ui.snap.Suspects))
	if !ms.Scanning {
		fmt.Fprintf(&b, "  [%s]s to scan[-]", ui.theme.TagMuted)
	}
	return b.String()
}

// radarText draws rings, a crosshair and one dot per match on a character grid.
func (ui *UI) radarText(points []workflow.RadarPoint) string {
	grid := make([][]string, radarRows)
	for r := range grid {
		grid[r] = make([]string, radarCols)
		for c := range grid[r] {
			x := float64(c) / float64(radarCols-1) * 100
			y := float64(r) / float64(radarRows-1) * 100
			d := math.Hypot(x-50, y-50)
			switch {
			case r == radarRows/2 && c == radarCols/2:
				grid[r][c] = "+"
			case math.Abs(math.Mod(d, 16)-8) > 6.5 && d <= 50:
				grid[r][c] = fmt.Sprintf("[%s]·[-]", ui.theme.TagMuted)
			default:
				grid[r][c] = " "
			}
		}
	}
	for _, p := range points {
		c := int(math.Round(p.X / 100 * float64(radarCols-1)))
		r := int(math.Round(p.Y / 100 * float64(radarRows-1)))
		grid[r][c] = fmt.Sprintf("[%s]●[-]", strengthTag(ui.theme, p.Strength))
	}
	var b strings.Builder
	for _, row := range grid {
		b.WriteString(" ")
		b.WriteString(strings.Join(row, ""))
		b.WriteString("\n")
	}
	return b.String()
}

func strengthTag(t Theme, s workflow.Strength) string {
	switch s {
	case workflow.StrengthStrong:
		return t.TagSuccess
	case workflow.StrengthModerate:
		return t.TagWarning
	default:
		return t.TagError
	}
}

// renderResults lists matches in the order the backend returned them.
func (ui *UI) renderResults(matches []api.MatchResult) {
	t := ui.resultsTable
	t.Clear()
	for col, h := range []string{"#", "Name", "Occupation", "Score", "Strength"} {
		t.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(ui.theme.TableHeader).
			SetBackgroundColor(ui.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false))
	}
	if len(matches) == 0 {
		t.SetCell(1, 1, tview.NewTableCell("No results").SetTextColor(ui.theme.TableRowMuted))
		t.SetTitle(" Matches ")
		return
	}
	for i, m := range matches {
		s := workflow.StrengthOf(m.SimilarityScore)
		color := ui.theme.strengthColor(s)
		name := m.PersonDetails.Name
		if name == "" {
			name = m.PersonID.String()
		}
		cells := []string{
			fmt.Sprint(i + 1),
			name,
			m.PersonDetails.Occupation,
			fmt.Sprintf("%.1f%%", m.SimilarityScore*100),
			s.String(),
		}
		for col, text := range cells {
			cell := tview.NewTableCell(tview.Escape(text)).SetExpansion(boolToInt(col == 1))
			if col >= 3 {
				cell.SetTextColor(color)
			} else {
				cell.SetTextColor(ui.theme.TableRow)
			}
			t.SetCell(i+1, col, cell)
		}
	}
	t.SetTitle(fmt.Sprintf(" Matches (%d) ", len(matches)))
}

// startScan runs a match for the current evidence and suspects.
func (ui *UI) startScan() {
	if ui.match.Scanning {
		ui.setStatusDirect("[%s]%s[-]", ui.theme.TagWarning, workflow.ErrScanInProgress)
		return
	}
	ui.selectView(viewMatching)
	go func() {
		err := ui.svc.StartMatch(ui.ctx, ui.matching)
		switch {
		case err == nil:
		case errors.Is(err, api.ErrValidation):
			ui.setStatus("[%s]Upload evidence and select suspects before scanning[-]", ui.theme.TagWarning)
		case errors.Is(err, workflow.ErrScanInProgress):
			ui.setStatus("[%s]%s[-]", ui.theme.TagWarning, err)
		default:
			ui.logger.Warn("match failed", zap.Error(err))
			ui.setStatus("[%s]Match failed: %s[-]", ui.theme.TagError, tview.Escape(errorText(err)))
		}
	}()
}
