package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/app"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

func (ui *UI) buildCasesView() tview.Primitive {
	ui.dashboard = tview.NewTextView().SetDynamicColors(true).SetWordWrap(true)
	ui.dashboard.SetTitle(" Case Workflow ")
	ui.dashboard.SetBorder(true)
	ui.dashboard.SetTitleAlign(tview.AlignLeft)
	ui.dashboard.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() != tcell.KeyRune {
			return ev
		}
		switch ev.Rune() {
		case '1':
			ui.runStep(workflow.StepEvidence)
		case '2':
			ui.runStep(workflow.StepSuspects)
		case '3':
			ui.runStep(workflow.StepAnalysis)
		default:
			return ev
		}
		return nil
	})
	return ui.dashboard
}

// runStep triggers a dashboard card's action when it is enabled.
func (ui *UI) runStep(name string) {
	st, ok := ui.snap.Step(name)
	if !ok || !st.Enabled {
		ui.setStatusDirect("[%s]%s is not available yet[-]", ui.theme.TagWarning, name)
		return
	}
	switch name {
	case workflow.StepEvidence:
		ui.showUploadForm("")
	case workflow.StepSuspects:
		ui.selectView(viewPersons)
	case workflow.StepAnalysis:
		ui.selectView(viewMatching)
		if !ui.snap.HasResults() {
			ui.startScan()
		}
	}
}

func (ui *UI) selectView(name string) {
	for i, v := range views {
		if v == name {
			ui.sidebar.SetCurrentItem(i)
		}
	}
	ui.showView(name)
	ui.app.SetFocus(ui.viewFocus(name))
}

func (ui *UI) renderDashboard() {
	var b strings.Builder
	if !ui.snap.HasCase() {
		fmt.Fprintf(&b, "\n  [%s]No active case.[-]\n\n  Press [%s]n[-] to create a case, optionally with an evidence image.\n",
			ui.theme.TagMuted, ui.theme.TagAccent)
		ui.dashboard.SetText(b.String())
		return
	}
	fmt.Fprintf(&b, "\n  [%s::b]%s[-::-]  %s\n", ui.theme.TagAccent, tview.Escape(ui.snap.Case.CaseName), ui.snap.Stage())
	if d := ui.snap.Case.Description; d != "" {
		fmt.Fprintf(&b, "  [%s]%s[-]\n", ui.theme.TagMuted, tview.Escape(d))
	}
	b.WriteString("\n")
	for i, st := range ui.snap.Steps() {
		mark, color := "○", ui.theme.TagMuted
		switch {
		case st.Completed:
			mark, color = "✓", ui.theme.TagSuccess
		case st.Active:
			mark, color = "●", ui.theme.TagAccent
		}
		action := fmt.Sprintf("[%s]%s (disabled)[-]", ui.theme.TagMuted, st.Action)
		if st.Enabled {
			action = fmt.Sprintf("[%s]%d[-] %s", ui.theme.TagAccent, i+1, st.Action)
		}
		fmt.Fprintf(&b, "  [%s]%s %s[-]\n      %s\n      %s\n\n", color, mark, st.Name, st.Summary, action)
	}
	if len(ui.snap.Evidence) > 0 {
		fmt.Fprintf(&b, "  [%s::b]Evidence[-::-]\n", ui.theme.TagAccent)
		for _, s := range ui.snap.Evidence {
			fmt.Fprintf(&b, "   %s  %s\n", s.SampleID, tview.Escape(s.FileName))
		}
	}
	if len(ui.snap.Suspects) > 0 {
		fmt.Fprintf(&b, "\n  [%s::b]Suspects[-::-]\n", ui.theme.TagAccent)
		for _, p := range ui.snap.Suspects {
			fmt.Fprintf(&b, "   %s\n", tview.Escape(p.Name))
		}
	}
	ui.dashboard.SetText(b.String())
}

func (ui *UI) newPersonsTable(title string) *tview.Table {
	t := tview.NewTable()
	t.SetTitle(title)
	t.SetBorder(true)
	t.SetTitleAlign(tview.AlignLeft)
	t.SetSelectable(true, false)
	t.SetFixed(1, 0)
	return t
}

func (ui *UI) buildPersonsView() tview.Primitive {
	ui.personsTable = ui.newPersonsTable(" Persons ")
	ui.personsTable.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() != tcell.KeyRune {
			return ev
		}
		switch ev.Rune() {
		case ' ':
			ui.toggleSelected(ui.personsTable)
		case 'a':
			ui.showAddPersonForm()
		case 'p':
			if p, ok := ui.selectedPerson(ui.personsTable); ok {
				ui.showUploadForm(p.Key())
			}
		default:
			return ev
		}
		return nil
	})
	return ui.personsTable
}

// personsFor returns the list a persons table is showing.
func (ui *UI) personsFor(t *tview.Table) []api.Person {
	if t == ui.searchTable {
		return ui.searchResults
	}
	return ui.snap.Persons
}

func (ui *UI) selectedPerson(t *tview.Table) (api.Person, bool) {
	row, _ := t.GetSelection()
	list := ui.personsFor(t)
	if row < 1 || row-1 >= len(list) {
		return api.Person{}, false
	}
	return list[row-1], true
}

// toggleSelected flips the suspect selection of the highlighted row.
func (ui *UI) toggleSelected(t *tview.Table) {
	p, ok := ui.selectedPerson(t)
	if !ok {
		return
	}
	if !ui.svc.ToggleSuspect(ui.ctx, p) {
		ui.setStatusDirect("[%s]Create a case before selecting suspects[-]", ui.theme.TagWarning)
		return
	}
	// Re-render at once so the mark follows the key press.
	ui.onStateChanged(ui.svc.State().Snapshot())
	verb := "Removed"
	if ui.snap.IsSelected(p) {
		verb = "Selected"
	}
	ui.setStatusDirect("%s suspect %s", verb, tview.Escape(p.Name))
}

func (ui *UI) renderPersons(t *tview.Table, persons []api.Person) {
	row, _ := t.GetSelection()
	t.Clear()
	headers := []string{"", "Name", "Age", "Occupation", "Samples", "Cases"}
	for col, h := range headers {
		t.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(ui.theme.TableHeader).
			SetBackgroundColor(ui.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false))
	}
	if len(persons) == 0 {
		t.SetCell(1, 1, tview.NewTableCell("No persons").SetTextColor(ui.theme.TableRowMuted))
		return
	}
	for i, p := range persons {
		mark := "[ ]"
		color := ui.theme.TableRow
		if ui.snap.IsSelected(p) {
			mark = "[x]"
			color = ui.theme.StrengthStrong
		}
		age := ""
		if p.Age != nil {
			age = strconv.Itoa(*p.Age)
		}
		cells := []string{mark, p.Name, age, p.Occupation, strconv.Itoa(p.SampleCount), strconv.Itoa(p.CaseCount)}
		for col, text := range cells {
			t.SetCell(i+1, col, tview.NewTableCell(tview.Escape(text)).SetTextColor(color).SetExpansion(boolToInt(col == 1)))
		}
	}
	if row < 1 {
		row = 1
	}
	if row > len(persons) {
		row = len(persons)
	}
	t.Select(row, 0)
	title := fmt.Sprintf(" Persons (%d) ", len(persons))
	if t == ui.searchTable {
		title = fmt.Sprintf(" Results (%d) ", len(persons))
	} else if ui.staleList {
		title = fmt.Sprintf(" Persons (%d, cached) ", len(persons))
	}
	t.SetTitle(title)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (ui *UI) buildSearchView() tview.Primitive {
	fields := []string{string(workflow.FieldName), string(workflow.FieldOccupation), string(workflow.FieldNotes)}
	ui.searchForm = tview.NewForm()
	ui.searchForm.SetHorizontal(true)
	ui.searchForm.SetBorder(true)
	ui.searchForm.SetTitle(" Search ")
	ui.searchForm.SetTitleAlign(tview.AlignLeft)
	ui.searchForm.AddInputField("Term", "", 20, nil, func(text string) { ui.filter.Term = text })
	ui.searchForm.AddDropDown("Field", fields, 0, func(option string, _ int) { ui.filter.Field = workflow.SearchField(option) })
	ui.searchForm.AddInputField("Age", "", 5, tview.InputFieldInteger, func(text string) { ui.filter.Age = text })
	ui.searchForm.AddInputField("Occupation", "", 15, nil, func(text string) { ui.filter.Occupation = text })
	ui.searchForm.AddButton("Search", func() {
		ui.runSearch()
		ui.app.SetFocus(ui.searchTable)
	})
	ui.searchForm.AddButton("Clear", func() {
		ui.filter = workflow.Filter{Field: workflow.FieldName}
		for _, label := range []string{"Term", "Age", "Occupation"} {
			if f, ok := ui.searchForm.GetFormItemByLabel(label).(*tview.InputField); ok {
				f.SetText("")
			}
		}
		if dd, ok := ui.searchForm.GetFormItemByLabel("Field").(*tview.DropDown); ok {
			dd.SetCurrentOption(0)
		}
		ui.runSearch()
	})

	ui.searchTable = ui.newPersonsTable(" Results ")
	ui.searchTable.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch {
		case ev.Key() == tcell.KeyRune && ev.Rune() == ' ':
			ui.toggleSelected(ui.searchTable)
		case ev.Key() == tcell.KeyRune && ev.Rune() == 'e':
			ui.exportSearch()
		case ev.Key() == tcell.KeyBacktab:
			ui.app.SetFocus(ui.searchForm)
		default:
			return ev
		}
		return nil
	})
	ui.searchResults = ui.filter.Apply(ui.snap.Persons)

	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.searchForm, 5, 0, true).
		AddItem(ui.searchTable, 0, 1, false)
}

func (ui *UI) runSearch() {
	ui.searchResults = ui.filter.Apply(ui.snap.Persons)
	ui.renderPersons(ui.searchTable, ui.searchResults)
	ui.setStatusDirect("%d of %d persons match", len(ui.searchResults), len(ui.snap.Persons))
}

func (ui *UI) exportSearch() {
	path := filepath.Join(ui.opts.ExportDir, workflow.SearchResultsFileName)
	if err := writeFile(path, func(f *os.File) error { return workflow.WritePersonsCSV(f, ui.searchResults) }); err != nil {
		ui.logger.Warn("search export failed", zap.Error(err))
		ui.setStatusDirect("[%s]Export failed: %s[-]", ui.theme.TagError, tview.Escape(err.Error()))
		return
	}
	ui.svc.Export(ui.ctx, "search_csv", path)
	ui.setStatusDirect("[%s]Exported %d persons to %s[-]", ui.theme.TagSuccess, len(ui.searchResults), tview.Escape(path))
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// showNewCaseForm asks for case details and an optional evidence image.
func (ui *UI) showNewCaseForm() {
	var name, description, evidence string
	form := tview.NewForm()
	form.SetTitle(" New Case ")
	form.AddInputField("Case Name", "", 40, nil, func(text string) { name = text })
	form.AddInputField("Description", "", 40, nil, func(text string) { description = text })
	form.AddInputField("Evidence Image", "", 40, nil, func(text string) { evidence = text })
	form.AddButton("Create", func() {
		if strings.TrimSpace(name) == "" {
			ui.setStatusDirect("[%s]Case name is required[-]", ui.theme.TagError)
			return
		}
		in := api.CaseInput{CaseName: name, Description: description, InvestigatorName: ui.svc.Investigator()}
		var ev *workflow.FileSource
		if p := strings.TrimSpace(evidence); p != "" {
			f := workflow.LocalFile(p)
			ev = &f
		}
		ui.restoreMainLayout()
		ui.setStatusDirect("[%s]Creating case...[-]", ui.theme.TagWarning)
		ui.matching.Reset()
		go func() {
			c, err := ui.svc.CreateCaseWithEvidence(ui.ctx, in, ev)
			if err != nil {
				ui.logger.Warn("create case failed", zap.Error(err))
				ui.setStatus("[%s]Failed to create case: %s[-]", ui.theme.TagError, tview.Escape(errorText(err)))
				return
			}
			ui.setStatus("[%s]Case %s created[-]", ui.theme.TagSuccess, tview.Escape(c.CaseName))
		}()
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showForm(form)
}

// showUploadForm uploads evidence to the active case, or a reference sample
// for personID when it is set.
func (ui *UI) showUploadForm(personID api.ID) {
	if personID == "" && !ui.snap.HasCase() {
		ui.setStatusDirect("[%s]Create a case before uploading evidence[-]", ui.theme.TagWarning)
		return
	}
	var paths string
	form := tview.NewForm()
	title := " Upload Evidence "
	if personID != "" {
		title = " Upload Reference Sample "
	}
	form.SetTitle(title)
	form.AddTextArea("Files", "", 60, 4, 0, func(text string) { paths = text })
	form.AddButton("Upload", func() {
		files := splitPaths(paths)
		if len(files) == 0 {
			ui.setStatusDirect("[%s]Enter at least one image path[-]", ui.theme.TagError)
			return
		}
		ui.runUpload(personID, files)
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showForm(form)
}

// splitPaths accepts one path per line or comma separated paths.
func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == ',' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// runUpload shows the upload queue and sends it. A successful batch closes
// itself after the coordinator's close delay; a failed one can be retried.
func (ui *UI) runUpload(personID api.ID, paths []string) {
	panel := tview.NewTextView().SetDynamicColors(true)
	panel.SetBorder(true)
	panel.SetTitle(" Uploading ")
	panel.SetBackgroundColor(ui.theme.Surface)
	panel.SetBorderColor(ui.theme.FocusBorder)

	var up *workflow.UploadCoordinator
	render := func(entries []workflow.Entry, footer string) {
		panel.SetText(ui.uploadText(entries, footer))
	}
	up = ui.svc.NewUpload(app.UploadHooks{
		PersonID: personID,
		OnChange: func(entries []workflow.Entry) {
			ui.queue(func() { render(entries, "") })
		},
		OnClose: func() {
			ui.queue(ui.restoreMainLayout)
		},
	})

	sources := make([]workflow.FileSource, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, workflow.LocalFile(p))
	}
	if _, err := up.Add(sources...); err != nil {
		ui.setStatusDirect("[%s]%s[-]", ui.theme.TagWarning, tview.Escape(err.Error()))
		if len(up.Entries()) == 0 {
			return
		}
	}

	send := func() {
		go func() {
			sum, err := up.Upload(ui.ctx)
			if err != nil {
				ui.setStatus("[%s]%s[-]", ui.theme.TagWarning, tview.Escape(err.Error()))
				return
			}
			tag := ui.theme.TagSuccess
			footer := "Closing..."
			if sum.Kind == "error" {
				tag = ui.theme.TagError
				footer = "r: retry failed files  Esc: close"
			}
			ui.queue(func() { render(up.Entries(), footer) })
			ui.setStatus("[%s]%s[-]", tag, sum.Message)
			if personID != "" && len(sum.Succeeded) > 0 {
				ui.refreshPersons()
			}
		}()
	}
	panel.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch {
		case ev.Key() == tcell.KeyEsc:
			up.Close()
			ui.restoreMainLayout()
		case ev.Key() == tcell.KeyRune && ev.Rune() == 'r':
			send()
		}
		return nil
	})

	render(up.Entries(), "")
	ui.helpActive = true
	ui.app.SetRoot(panel, true)
	ui.app.SetFocus(panel)
	send()
}

func (ui *UI) uploadText(entries []workflow.Entry, footer string) string {
	var b strings.Builder
	for _, e := range entries {
		color := ui.theme.TagMuted
		switch e.Status {
		case workflow.UploadUploading:
			color = ui.theme.TagWarning
		case workflow.UploadUploaded:
			color = ui.theme.TagSuccess
		case workflow.UploadFailed:
			color = ui.theme.TagError
		}
		fmt.Fprintf(&b, " [%s]%-10s[-] %s", color, e.Status, tview.Escape(filepath.Base(e.File.Name)))
		if e.Err != "" {
			fmt.Fprintf(&b, "  [%s]%s[-]", ui.theme.TagError, tview.Escape(e.Err))
		}
		b.WriteString("\n")
	}
	if footer != "" {
		fmt.Fprintf(&b, "\n [%s]%s[-]", ui.theme.TagMuted, footer)
	}
	return b.String()
}

func (ui *UI) showAddPersonForm() {
	var name, age, occupation, notes string
	form := tview.NewForm()
	form.SetTitle(" Add Person ")
	form.AddInputField("Name", "", 30, nil, func(text string) { name = text })
	form.AddInputField("Age", "", 5, tview.InputFieldInteger, func(text string) { age = text })
	form.AddInputField("Occupation", "", 30, nil, func(text string) { occupation = text })
	form.AddInputField("Notes", "", 40, nil, func(text string) { notes = text })
	form.AddButton("Add", func() {
		if strings.TrimSpace(name) == "" {
			ui.setStatusDirect("[%s]Name is required[-]", ui.theme.TagError)
			return
		}
		in := api.NewPersonInput(name, age, occupation, notes)
		ui.restoreMainLayout()
		go func() {
			p, err := ui.svc.CreatePerson(ui.ctx, in)
			if err != nil {
				ui.setStatus("[%s]Failed to add person: %s[-]", ui.theme.TagError, tview.Escape(errorText(err)))
				return
			}
			ui.setStatus("[%s]Added %s[-]", ui.theme.TagSuccess, tview.Escape(p.Name))
		}()
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showForm(form)
}

func (ui *UI) showLoginForm() {
	var username, password string
	form := tview.NewForm()
	form.SetTitle(" Investigator Login ")
	form.AddInputField("Username", "", 30, nil, func(text string) { username = text })
	form.AddPasswordField("Password", "", 30, '*', func(text string) { password = text })
	form.AddButton("Login", func() {
		if err := ui.svc.Login(ui.ctx, username, password); err != nil {
			ui.setStatusDirect("[%s]Please enter both username and password[-]", ui.theme.TagError)
			return
		}
		ui.restoreMainLayout()
		ui.setStatusDirect("[%s]Logged in as %s[-]", ui.theme.TagSuccess, tview.Escape(username))
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showForm(form)
}
