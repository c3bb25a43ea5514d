package workflow

import "fmt"

// Step names in dashboard order.
const (
	StepEvidence = "Evidence Upload"
	StepSuspects = "Suspect Selection"
	StepAnalysis = "AI Analysis"
)

// StepStatus is one workflow card on the dashboard.
type StepStatus struct {
	Name      string
	Active    bool
	Completed bool
	// Enabled gates the step's action control.
	Enabled bool
	Summary string
	Action  string
}

// Steps derives the three workflow cards from s. Without a case every step is
// inactive and disabled.
func (s Snapshot) Steps() []StepStatus {
	hasCase := s.HasCase()
	evidence := s.HasEvidence()
	suspects := s.HasSuspects()
	results := s.HasResults()

	ev := StepStatus{
		Name:      StepEvidence,
		Active:    hasCase,
		Completed: evidence,
		Enabled:   hasCase,
		Summary:   "Upload handwriting evidence samples",
		Action:    "Upload Evidence",
	}
	if evidence {
		ev.Summary = fmt.Sprintf("%d sample(s) uploaded", len(s.Evidence))
		ev.Action = "Add More"
	}

	su := StepStatus{
		Name:      StepSuspects,
		Active:    evidence,
		Completed: suspects,
		Enabled:   evidence,
		Summary:   "Select suspects from database",
		Action:    "Select Suspects",
	}
	if suspects {
		su.Summary = fmt.Sprintf("%d suspect(s) selected", len(s.Suspects))
		su.Action = "Manage Suspects"
	}

	an := StepStatus{
		Name:      StepAnalysis,
		Active:    evidence && suspects,
		Completed: results,
		Enabled:   evidence && suspects,
		Summary:   "Run AI handwriting analysis",
		Action:    "Start Analysis",
	}
	if results {
		an.Summary = fmt.Sprintf("%d matches found", len(s.Results))
		an.Action = "View Results"
	}

	return []StepStatus{ev, su, an}
}

// Step returns the named step, or false if the name is unknown.
func (s Snapshot) Step(name string) (StepStatus, bool) {
	for _, st := range s.Steps() {
		if st.Name == name {
			return st, true
		}
	}
	return StepStatus{}, false
}
