package ui

import (
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"

	"github.com/edi-forensics/hwid-console/internal/workflow"
)

// Theme defines UI color tokens used across widgets and text tags.
type Theme struct {
	// Widget colors
	Bg          tcell.Color
	Surface     tcell.Color
	Border      tcell.Color
	FocusBorder tcell.Color
	SelectionBg tcell.Color
	SelectionFg tcell.Color
	TextPrimary tcell.Color
	TextMuted   tcell.Color

	// Table colors
	TableHeader   tcell.Color
	TableHeaderBg tcell.Color
	TableRow      tcell.Color
	TableRowMuted tcell.Color

	// Match strength (widgets)
	StrengthStrong   tcell.Color
	StrengthModerate tcell.Color
	StrengthWeak     tcell.Color

	// Text tag colors (for tview dynamic color markup)
	TagTextPrimary string
	TagMuted       string
	TagAccent      string
	TagSuccess     string
	TagWarning     string
	TagError       string
}

func hex(s string) tcell.Color { return tcell.GetColor(s) }

func themeDark() Theme {
	return Theme{
		Bg:          hex("#0e1116"),
		Surface:     hex("#12161e"),
		Border:      hex("#2b3240"),
		FocusBorder: hex("#4aa8ff"),
		SelectionBg: hex("#2b3240"),
		SelectionFg: hex("#cfd8e3"),
		TextPrimary: hex("#e6edf3"),
		TextMuted:   hex("#8a939f"),

		TableHeader:   hex("#eab308"),
		TableHeaderBg: hex("#1a2332"),
		TableRow:      hex("#e6edf3"),
		TableRowMuted: hex("#94a3b8"),

		StrengthStrong:   hex("#22c55e"),
		StrengthModerate: hex("#f59e0b"),
		StrengthWeak:     hex("#ef4444"),

		TagTextPrimary: "#e6edf3",
		TagMuted:       "#8a939f",
		TagAccent:      "#2dd4bf",
		TagSuccess:     "#22c55e",
		TagWarning:     "#f59e0b",
		TagError:       "#ef4444",
	}
}

func themeLight() Theme {
	return Theme{
		Bg:          hex("#f8fafc"),
		Surface:     hex("#ffffff"),
		Border:      hex("#cbd5e1"),
		FocusBorder: hex("#2563eb"),
		SelectionBg: hex("#dbeafe"),
		SelectionFg: hex("#0f172a"),
		TextPrimary: hex("#0f172a"),
		TextMuted:   hex("#64748b"),

		TableHeader:   hex("#1e3a8a"),
		TableHeaderBg: hex("#e2e8f0"),
		TableRow:      hex("#0f172a"),
		TableRowMuted: hex("#475569"),

		StrengthStrong:   hex("#15803d"),
		StrengthModerate: hex("#b45309"),
		StrengthWeak:     hex("#b91c1c"),

		TagTextPrimary: "#0f172a",
		TagMuted:       "#64748b",
		TagAccent:      "#0d9488",
		TagSuccess:     "#15803d",
		TagWarning:     "#b45309",
		TagError:       "#b91c1c",
	}
}

// themeForensic is the default: a dark palette with the indigo accent of the
// web console.
func themeForensic() Theme {
	t := themeDark()
	t.Bg = hex("#0b1020")
	t.Surface = hex("#11172b")
	t.FocusBorder = hex("#818cf8")
	t.TableHeader = hex("#a5b4fc")
	t.TagAccent = "#818cf8"
	return t
}

func detectTrueColor() bool {
	ct := strings.ToLower(os.Getenv("COLORTERM"))
	if strings.Contains(ct, "truecolor") || strings.Contains(ct, "24bit") {
		return true
	}
	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "truecolor") || strings.Contains(term, "256color")
}

// nextTheme is the t key cycle.
var nextTheme = map[string]string{
	"forensic": "dark",
	"dark":     "light",
	"light":    "forensic",
}

func themeByName(name string) (string, Theme) {
	switch name {
	case "dark":
		return "dark", themeDark()
	case "light":
		return "light", themeLight()
	default:
		return "forensic", themeForensic()
	}
}

func (t Theme) strengthColor(s workflow.Strength) tcell.Color {
	switch s {
	case workflow.StrengthStrong:
		return t.StrengthStrong
	case workflow.StrengthModerate:
		return t.StrengthModerate
	default:
		return t.StrengthWeak
	}
}
