package workflow

import (
	"fmt"
	"math"
	"time"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// PlaceholderAccuracy is reported as match accuracy whenever any match exists.
// It is not measured.
const PlaceholderAccuracy = 87.5

// Metric is one performance figure. Placeholder marks values that are fixed
// display constants rather than measurements.
type Metric struct {
	Label       string  `json:"label"`
	Value       string  `json:"value"`
	Change      float64 `json:"change"`
	Positive    bool    `json:"positive"`
	Placeholder bool    `json:"placeholder"`
}

// Stats are the database and analytics figures.
type Stats struct {
	TotalPersons        int
	TotalSamples        int
	TotalCases          int
	AvgSamplesPerPerson int
	TotalMatches        int
	Accuracy            float64
	Metrics             []Metric
}

// ComputeStats derives the counts from persons and results. Sample and case
// totals are sums of the per-person counters.
func ComputeStats(persons []api.Person, results []api.MatchResult) Stats {
	st := Stats{TotalPersons: len(persons), TotalMatches: len(results)}
	for _, p := range persons {
		st.TotalSamples += p.SampleCount
		st.TotalCases += p.CaseCount
	}
	if st.TotalPersons > 0 {
		st.AvgSamplesPerPerson = int(math.Round(float64(st.TotalSamples) / float64(st.TotalPersons)))
	}
	if st.TotalMatches > 0 {
		st.Accuracy = PlaceholderAccuracy
	}
	st.Metrics = []Metric{
		{Label: "Response Time", Value: "2.3s", Change: -12, Positive: true, Placeholder: true},
		{Label: "Match Accuracy", Value: fmt.Sprintf("%g%%", st.Accuracy), Change: 5, Positive: true, Placeholder: true},
		{Label: "System Uptime", Value: "99.8%", Change: 0.2, Positive: true, Placeholder: true},
		{Label: "Error Rate", Value: "0.02%", Change: -0.01, Positive: true, Placeholder: true},
	}
	return st
}

// AnalyticsReport is the exported analytics document.
type AnalyticsReport struct {
	Metrics   []Metric  `json:"metrics"`
	Persons   int       `json:"persons"`
	Samples   int       `json:"samples"`
	Matches   int       `json:"matches"`
	Timestamp time.Time `json:"timestamp"`
}

// Report packages st for export.
func (st Stats) Report(now time.Time) AnalyticsReport {
	return AnalyticsReport{
		Metrics:   st.Metrics,
		Persons:   st.TotalPersons,
		Samples:   st.TotalSamples,
		Matches:   st.TotalMatches,
		Timestamp: now.UTC(),
	}
}
