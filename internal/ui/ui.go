package ui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/app"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

// Sidebar views, in menu order.
const (
	viewCases     = "Cases"
	viewPersons   = "Persons"
	viewSearch    = "Search"
	viewDatabase  = "Database"
	viewAnalytics = "Analytics"
	viewMatching  = "AI Matching"
)

var views = []string{viewCases, viewPersons, viewSearch, viewDatabase, viewAnalytics, viewMatching}

// Options configures the console.
type Options struct {
	// ExportDir receives CSV and JSON exports. Defaults to the working directory.
	ExportDir string
	Logger    *zap.Logger
}

// UI represents the terminal user interface
type UI struct {
	app    *tview.Application
	svc    *app.Service
	logger *zap.Logger
	opts   Options

	// Layout components
	layout    *tview.Flex
	appTitle  *tview.TextView
	caseInfo  *tview.TextView
	sidebar   *tview.List
	pages     *tview.Pages
	statusBar *tview.TextView

	// Views
	dashboard     *tview.TextView
	personsTable  *tview.Table
	searchForm    *tview.Form
	searchTable   *tview.Table
	databaseView  *tview.TextView
	analyticsView *tview.TextView
	matchStatus   *tview.TextView
	radarView     *tview.TextView
	resultsTable  *tview.Table

	// State
	current       string
	snap          workflow.Snapshot
	filter        workflow.Filter
	searchResults []api.Person
	match         workflow.MatchSnapshot
	radar         []workflow.RadarPoint
	matching      *workflow.MatchingSession
	staleList     bool

	// Theme state
	theme        Theme
	themeName    string
	hasTrueColor bool

	// Runtime
	running    int32
	helpActive bool
	lastFocus  tview.Primitive

	// Global input capture for main UI (restored after closing forms)
	globalInputCapture func(*tcell.EventKey) *tcell.EventKey

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewUI builds the console around svc.
func NewUI(ctx context.Context, svc *app.Service, opts Options) *UI {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	uiCtx, cancel := context.WithCancel(ctx)

	ui := &UI{
		app:          tview.NewApplication(),
		svc:          svc,
		logger:       opts.Logger.Named("ui"),
		opts:         opts,
		ctx:          uiCtx,
		cancel:       cancel,
		hasTrueColor: detectTrueColor(),
		filter:       workflow.Filter{Field: workflow.FieldName},
		match:        workflow.MatchSnapshot{Status: workflow.StatusReady},
	}
	ui.themeName, ui.theme = themeByName("forensic")
	ui.snap = svc.State().Snapshot()

	ui.matching = svc.NewMatching(func(ms workflow.MatchSnapshot) {
		ui.queue(func() { ui.onMatchChanged(ms) })
	})
	ui.unsubscribe = svc.State().Subscribe(func(s workflow.Snapshot) {
		ui.queue(func() { ui.onStateChanged(s) })
	})

	ui.setupLayout()
	ui.setupKeybindings()
	ui.applyTheme()
	ui.renderAll()
	return ui
}

// Start runs the TUI until ctx is cancelled or the user quits.
func (ui *UI) Start(ctx context.Context) error {
	ui.logger.Info("starting console")

	go ui.refreshPersons()

	go func() {
		select {
		case <-ctx.Done():
		case <-ui.ctx.Done():
		}
		ui.cancel()
		ui.app.Stop()
	}()

	atomic.StoreInt32(&ui.running, 1)
	err := ui.app.Run()
	atomic.StoreInt32(&ui.running, 0)
	ui.shutdown()
	ui.logger.Info("console stopped", zap.Error(err))
	return err
}

// Stop stops the TUI application
func (ui *UI) Stop() {
	ui.cancel()
	ui.app.Stop()
}

func (ui *UI) shutdown() {
	if ui.unsubscribe != nil {
		ui.unsubscribe()
		ui.unsubscribe = nil
	}
	ui.matching.Close()
}

func (ui *UI) isRunning() bool { return atomic.LoadInt32(&ui.running) == 1 }

// queue runs fn on the UI goroutine. Before Run (and in tests) fn runs inline.
func (ui *UI) queue(fn func()) {
	if ui.isRunning() {
		ui.app.QueueUpdateDraw(fn)
		return
	}
	fn()
}

// setupLayout creates the main layout
func (ui *UI) setupLayout() {
	ui.appTitle = tview.NewTextView().SetDynamicColors(true)
	ui.appTitle.SetText(fmt.Sprintf(" [%s::b]Handwriting ID[-::-]", ui.theme.TagAccent))

	ui.caseInfo = tview.NewTextView().SetDynamicColors(true)
	ui.caseInfo.SetTitle(" ACTIVE CASE ")
	ui.caseInfo.SetBorder(true)
	ui.caseInfo.SetTitleAlign(tview.AlignCenter)

	ui.sidebar = tview.NewList()
	ui.sidebar.SetTitle(" Menu ")
	ui.sidebar.SetBorder(true)
	ui.sidebar.SetTitleAlign(tview.AlignLeft)
	for i, name := range views {
		ui.sidebar.AddItem(name, "", rune('1'+i), nil)
	}
	ui.sidebar.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		ui.showView(mainText)
		ui.app.SetFocus(ui.viewFocus(mainText))
	})
	ui.sidebar.SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		ui.showView(mainText)
	})

	ui.statusBar = tview.NewTextView().SetDynamicColors(true)

	ui.pages = tview.NewPages()
	ui.pages.AddPage(viewCases, ui.buildCasesView(), true, true)
	ui.pages.AddPage(viewPersons, ui.buildPersonsView(), true, false)
	ui.pages.AddPage(viewSearch, ui.buildSearchView(), true, false)
	ui.pages.AddPage(viewDatabase, ui.buildDatabaseView(), true, false)
	ui.pages.AddPage(viewAnalytics, ui.buildAnalyticsView(), true, false)
	ui.pages.AddPage(viewMatching, ui.buildMatchingView(), true, false)
	ui.current = viewCases

	leftCol := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.appTitle, 2, 0, false).
		AddItem(ui.caseInfo, 6, 0, false).
		AddItem(ui.sidebar, 0, 1, true)

	ui.layout = tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(leftCol, 32, 0, true).
		AddItem(ui.pages, 0, 1, false)

	ui.app.SetRoot(ui.rootLayout(), true)
	ui.app.SetFocus(ui.sidebar)
}

func (ui *UI) rootLayout() tview.Primitive {
	return tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.layout, 0, 1, true).
		AddItem(ui.statusBar, 1, 0, false)
}

// showView switches the main panel.
func (ui *UI) showView(name string) {
	ui.current = name
	ui.pages.SwitchToPage(name)
	ui.setStatusDirect("%s", name)
}

func (ui *UI) viewFocus(name string) tview.Primitive {
	switch name {
	case viewPersons:
		return ui.personsTable
	case viewSearch:
		return ui.searchForm
	case viewDatabase:
		return ui.databaseView
	case viewAnalytics:
		return ui.analyticsView
	case viewMatching:
		return ui.resultsTable
	default:
		return ui.dashboard
	}
}

// setupKeybindings sets up global keybindings
func (ui *UI) setupKeybindings() {
	handler := func(event *tcell.EventKey) *tcell.EventKey {
		// Forms and modals own every key while focused.
		if ui.isDialogActive() {
			return event
		}
		switch event.Key() {
		case tcell.KeyTab:
			ui.cycleFocus()
			return nil
		case tcell.KeyEsc:
			ui.app.SetFocus(ui.sidebar)
			ui.highlightFocus(ui.sidebar)
			return nil
		case tcell.KeyCtrlC:
			ui.Stop()
			return nil
		case tcell.KeyRune:
		default:
			return event
		}
		switch event.Rune() {
		case 'q':
			ui.Stop()
			return nil
		case '?':
			ui.showHelp()
			return nil
		case 'r':
			go ui.refreshPersons()
			return nil
		case 't':
			ui.cycleTheme()
			return nil
		case 'n':
			ui.showNewCaseForm()
			return nil
		case 'u':
			ui.showUploadForm("")
			return nil
		case 'L':
			ui.showLoginForm()
			return nil
		case 'C':
			ui.closeCase()
			return nil
		case 's':
			ui.startScan()
			return nil
		}
		if ui.app.GetFocus() == ui.sidebar && event.Rune() >= '1' && event.Rune() <= '6' {
			idx := int(event.Rune() - '1')
			ui.sidebar.SetCurrentItem(idx)
			return nil
		}
		return event
	}
	ui.globalInputCapture = handler
	ui.app.SetInputCapture(handler)
}

// isDialogActive returns true when a form, modal or help view has focus.
func (ui *UI) isDialogActive() bool {
	if ui.helpActive {
		return true
	}
	focused := ui.app.GetFocus()
	if focused == nil {
		return false
	}
	switch focused.(type) {
	case *tview.Form,
		*tview.Modal,
		*tview.InputField,
		*tview.TextArea,
		*tview.DropDown,
		*tview.Button,
		*tview.Checkbox:
		return true
	default:
		return false
	}
}

// cycleFocus moves focus between the sidebar and the current view.
func (ui *UI) cycleFocus() {
	target := ui.viewFocus(ui.current)
	if ui.app.GetFocus() != ui.sidebar {
		target = ui.sidebar
	}
	ui.app.SetFocus(target)
	ui.highlightFocus(target)
}

func (ui *UI) highlightFocus(focused tview.Primitive) {
	ui.sidebar.SetBorderColor(ui.theme.Border)
	for _, name := range views {
		if b, ok := ui.viewFocus(name).(interface{ SetBorderColor(tcell.Color) *tview.Box }); ok {
			b.SetBorderColor(ui.theme.Border)
		}
	}
	if b, ok := focused.(interface{ SetBorderColor(tcell.Color) *tview.Box }); ok {
		b.SetBorderColor(ui.theme.FocusBorder)
	}
}

// setStatus updates the status bar from any goroutine.
func (ui *UI) setStatus(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	ui.queue(func() { ui.statusBar.SetText(ui.statusText(msg)) })
}

// setStatusDirect updates the status bar. Call only from the UI goroutine.
func (ui *UI) setStatusDirect(format string, args ...interface{}) {
	ui.statusBar.SetText(ui.statusText(fmt.Sprintf(format, args...)))
}

func (ui *UI) statusText(message string) string {
	return fmt.Sprintf("[%s]%s[-] [%s]|[-] %s [%s]|[-] %s",
		ui.theme.TagMuted, time.Now().Format("15:04:05"),
		ui.theme.TagTextPrimary, message,
		ui.theme.TagMuted, ui.shortcutHints())
}

func (ui *UI) shortcutHints() string {
	hints := []string{"q:quit", "?:help", "n:new case"}
	if ui.snap.HasCase() {
		hints = append(hints, "u:upload")
	}
	switch ui.current {
	case viewPersons:
		hints = append(hints, "space:suspect", "a:add", "p:sample")
	case viewSearch:
		hints = append(hints, "space:suspect", "e:export")
	case viewDatabase:
		hints = append(hints, "b:backup")
	case viewAnalytics:
		hints = append(hints, "e:export")
	case viewMatching:
		hints = append(hints, "s:scan", "x:reset")
	}
	return strings.Join(hints, " ")
}

// showModal displays a modal dialog
func (ui *UI) showModal(title, text string) {
	modal := tview.NewModal()
	modal.SetText(text)
	modal.SetTitle(fmt.Sprintf(" %s ", title))
	modal.AddButtons([]string{"Close"})
	modal.SetBackgroundColor(ui.theme.Surface)
	modal.SetTextColor(ui.theme.TextPrimary)
	modal.SetBorderColor(ui.theme.FocusBorder)
	modal.SetButtonBackgroundColor(ui.theme.SelectionBg)
	modal.SetButtonTextColor(ui.theme.SelectionFg)
	modal.SetDoneFunc(func(int, string) { ui.restoreMainLayout() })

	ui.lastFocus = ui.app.GetFocus()
	ui.app.SetRoot(modal, true)
	ui.app.SetFocus(modal)
}

func (ui *UI) showHelp() {
	ui.helpActive = true
	help := tview.NewTextView().SetDynamicColors(true)
	help.SetTitle(" Help ")
	help.SetBorder(true)
	help.SetText(fmt.Sprintf(`[%[1]s::b]Navigation[-::-]
  1-6      select view        Tab   toggle sidebar/view focus
  Esc      back to sidebar    t     cycle theme
  q        quit

[%[1]s::b]Case workflow[-::-]
  n        new case (optional evidence file)
  u        upload evidence to the active case
  C        close the active case
  L        log in as investigator

[%[1]s::b]Persons and search[-::-]
  space    toggle suspect     a     add person
  p        upload reference sample for the selected person
  e        export (search: CSV, analytics: JSON)
  r        refresh persons

[%[1]s::b]Matching[-::-]
  s        start scan         x     reset session

Press any key to close.`, ui.theme.TagAccent))
	help.SetInputCapture(func(*tcell.EventKey) *tcell.EventKey {
		ui.restoreMainLayout()
		return nil
	})
	ui.lastFocus = ui.app.GetFocus()
	ui.app.SetRoot(help, true)
	ui.app.SetFocus(help)
}

// restoreMainLayout restores the main layout after a modal or form.
func (ui *UI) restoreMainLayout() {
	ui.helpActive = false
	ui.app.SetRoot(ui.rootLayout(), true)
	if ui.globalInputCapture != nil {
		ui.app.SetInputCapture(ui.globalInputCapture)
	}
	target := ui.lastFocus
	if target == nil {
		target = ui.sidebar
	}
	ui.app.SetFocus(target)
	ui.highlightFocus(target)
}

// showForm puts form on screen with Esc to cancel.
func (ui *UI) showForm(form *tview.Form) {
	form.SetBorder(true)
	form.SetBackgroundColor(ui.theme.Surface)
	form.SetFieldBackgroundColor(ui.theme.Bg)
	form.SetFieldTextColor(ui.theme.TextPrimary)
	form.SetLabelColor(ui.theme.TextPrimary)
	form.SetButtonBackgroundColor(ui.theme.SelectionBg)
	form.SetButtonTextColor(ui.theme.SelectionFg)
	form.SetBorderColor(ui.theme.FocusBorder)
	form.SetCancelFunc(ui.restoreMainLayout)

	ui.lastFocus = ui.app.GetFocus()
	ui.app.SetRoot(form, true)
	ui.app.SetFocus(form)
}

// applyTheme pushes theme colors to widgets
func (ui *UI) applyTheme() {
	tview.Styles.PrimitiveBackgroundColor = ui.theme.Bg
	tview.Styles.ContrastBackgroundColor = ui.theme.Surface
	tview.Styles.BorderColor = ui.theme.Border
	tview.Styles.PrimaryTextColor = ui.theme.TextPrimary
	tview.Styles.SecondaryTextColor = ui.theme.TextMuted

	for _, tv := range []*tview.TextView{ui.appTitle, ui.caseInfo, ui.statusBar, ui.dashboard, ui.databaseView, ui.analyticsView, ui.matchStatus, ui.radarView} {
		tv.SetBackgroundColor(ui.theme.Surface)
		tv.SetTextColor(ui.theme.TextPrimary)
		tv.SetBorderColor(ui.theme.Border)
	}
	ui.sidebar.SetBackgroundColor(ui.theme.Surface)
	ui.sidebar.SetMainTextColor(ui.theme.TextPrimary)
	ui.sidebar.SetSecondaryTextColor(ui.theme.TextMuted)
	ui.sidebar.SetSelectedTextColor(ui.theme.SelectionFg)
	ui.sidebar.SetSelectedBackgroundColor(ui.theme.SelectionBg)
	ui.sidebar.SetShortcutColor(hex(ui.theme.TagAccent))
	for _, tbl := range []*tview.Table{ui.personsTable, ui.searchTable, ui.resultsTable} {
		tbl.SetBackgroundColor(ui.theme.Surface)
		tbl.SetBorderColor(ui.theme.Border)
		tbl.SetSelectedStyle(tcell.StyleDefault.Foreground(ui.theme.SelectionFg).Background(ui.theme.SelectionBg))
	}
	ui.searchForm.SetBackgroundColor(ui.theme.Surface)
	ui.searchForm.SetFieldBackgroundColor(ui.theme.Bg)
	ui.searchForm.SetFieldTextColor(ui.theme.TextPrimary)
	ui.searchForm.SetLabelColor(ui.theme.TextPrimary)
	ui.searchForm.SetButtonBackgroundColor(ui.theme.SelectionBg)
	ui.highlightFocus(ui.app.GetFocus())
}

func (ui *UI) cycleTheme() {
	ui.themeName, ui.theme = themeByName(nextTheme[ui.themeName])
	ui.applyTheme()
	ui.renderAll()
	ui.setStatusDirect("[%s]Theme: %s[-]", ui.theme.TagAccent, ui.themeName)
}

// onStateChanged re-renders everything derived from the application state.
func (ui *UI) onStateChanged(s workflow.Snapshot) {
	ui.snap = s
	ui.searchResults = ui.filter.Apply(s.Persons)
	ui.renderAll()
}

func (ui *UI) renderAll() {
	ui.renderCaseInfo()
	ui.renderDashboard()
	ui.renderPersons(ui.personsTable, ui.snap.Persons)
	ui.renderPersons(ui.searchTable, ui.searchResults)
	ui.renderDatabase()
	ui.renderAnalytics()
	ui.renderMatching()
}

func (ui *UI) renderCaseInfo() {
	if !ui.snap.HasCase() {
		ui.caseInfo.SetText(fmt.Sprintf("[%s]No active case[-]\nPress n to start one", ui.theme.TagMuted))
		return
	}
	c := ui.snap.Case
	ui.caseInfo.SetText(fmt.Sprintf("[%s::b]%s[-::-]\n[%s]%s[-]\n%s\nInvestigator: %s",
		ui.theme.TagAccent, tview.Escape(c.CaseName),
		ui.theme.TagMuted, c.Key(),
		ui.snap.Stage(),
		tview.Escape(c.InvestigatorName)))
}

// refreshPersons reloads the persons list. Safe from any goroutine.
func (ui *UI) refreshPersons() {
	persons, stale, err := ui.svc.LoadPersons(ui.ctx)
	switch {
	case err != nil:
		ui.logger.Warn("failed to load persons", zap.Error(err))
		ui.setStatus("[%s]Failed to load persons: %s[-]", ui.theme.TagError, tview.Escape(errorText(err)))
	case stale:
		ui.queue(func() {
			ui.staleList = true
			ui.renderAll()
		})
		ui.setStatus("[%s]Backend unreachable, showing %d cached persons[-]", ui.theme.TagWarning, len(persons))
	default:
		ui.queue(func() {
			ui.staleList = false
			ui.renderAll()
		})
		ui.setStatus("[%s]Loaded %d persons[-]", ui.theme.TagSuccess, len(persons))
	}
}

func (ui *UI) closeCase() {
	if !ui.snap.HasCase() {
		return
	}
	ui.matching.Reset()
	ui.svc.CloseCase()
	ui.setStatusDirect("Case closed")
}

// errorText is the user-facing message for err.
func errorText(err error) string {
	if d := api.Detail(err); d != "" {
		return d
	}
	return err.Error()
}
