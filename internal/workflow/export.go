package workflow

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// PersonsCSVHeader is the first row written by WritePersonsCSV.
var PersonsCSVHeader = []string{"Name", "Age", "Occupation", "Notes", "Samples", "Cases"}

// WritePersonsCSV writes persons as CSV with PersonsCSVHeader.
func WritePersonsCSV(w io.Writer, persons []api.Person) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PersonsCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range persons {
		age := ""
		if p.Age != nil {
			age = strconv.Itoa(*p.Age)
		}
		row := []string{p.Name, age, p.Occupation, p.Notes, strconv.Itoa(p.SampleCount), strconv.Itoa(p.CaseCount)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %q: %w", p.Name, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Backup is the database backup document.
type Backup struct {
	Persons         []api.Person `json:"persons"`
	EvidenceSamples []api.Sample `json:"evidenceSamples"`
	Timestamp       time.Time    `json:"timestamp"`
}

// WriteBackupJSON writes an indented backup of persons and evidence samples.
func WriteBackupJSON(w io.Writer, persons []api.Person, samples []api.Sample, now time.Time) error {
	if persons == nil {
		persons = []api.Person{}
	}
	if samples == nil {
		samples = []api.Sample{}
	}
	return writeIndented(w, Backup{Persons: persons, EvidenceSamples: samples, Timestamp: now.UTC()})
}

// WriteAnalyticsJSON writes an indented analytics report.
func WriteAnalyticsJSON(w io.Writer, report AnalyticsReport) error {
	return writeIndented(w, report)
}

func writeIndented(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// BackupFileName is the dated file name for a database backup.
func BackupFileName(now time.Time) string {
	return "database_backup_" + now.UTC().Format("2006-01-02") + ".json"
}

// AnalyticsFileName is the dated file name for an analytics report.
func AnalyticsFileName(now time.Time) string {
	return "analytics_report_" + now.UTC().Format("2006-01-02") + ".json"
}

// SearchResultsFileName is the file name used for CSV exports.
const SearchResultsFileName = "search_results.csv"
