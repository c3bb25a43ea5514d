package api

import (
	"bytes"
	"io"
	"strconv"

	"github.com/goccy/go-json"
)

// ID is a backend identifier. The backend emits both numeric and string ids,
// so ID accepts either on decode and always encodes as a string.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// Person is a candidate writer known to the backend.
type Person struct {
	ID          ID     `json:"id,omitempty"`
	PersonID    ID     `json:"person_id,omitempty"`
	GovID       string `json:"gov_id,omitempty"`
	Name        string `json:"name"`
	Age         *int   `json:"age,omitempty"`
	Occupation  string `json:"occupation,omitempty"`
	Notes       string `json:"notes,omitempty"`
	SampleCount int    `json:"sample_count,omitempty"`
	CaseCount   int    `json:"case_count,omitempty"`
}

// Key returns the identity used for selection membership.
func (p Person) Key() ID {
	if p.ID != "" {
		return p.ID
	}
	return p.PersonID
}

// PersonInput is the create-person payload.
type PersonInput struct {
	Name       string  `json:"name"`
	Age        *int    `json:"age"`
	Occupation *string `json:"occupation"`
	Notes      *string `json:"notes"`
}

// NewPersonInput builds a payload from raw form values. Empty optional
// fields become null and a non-numeric age is dropped.
func NewPersonInput(name, age, occupation, notes string) PersonInput {
	in := PersonInput{Name: name}
	if n, err := strconv.Atoi(age); err == nil {
		in.Age = &n
	}
	if occupation != "" {
		in.Occupation = &occupation
	}
	if notes != "" {
		in.Notes = &notes
	}
	return in
}

// Sample is an uploaded handwriting image.
type Sample struct {
	SampleID     ID     `json:"sample_id"`
	PersonID     ID     `json:"person_id,omitempty"`
	CaseID       ID     `json:"case_id,omitempty"`
	ImagePath    string `json:"image_path,omitempty"`
	DateUploaded string `json:"date_uploaded,omitempty"`
	// FileName is the local file the sample was uploaded from.
	FileName string `json:"file_name,omitempty"`
}

// UploadFile is a local file handed to UploadSample.
type UploadFile struct {
	Name   string
	Reader io.Reader
}

// Case is an investigation unit.
type Case struct {
	ID               ID     `json:"id,omitempty"`
	CaseID           ID     `json:"case_id,omitempty"`
	CaseName         string `json:"case_name"`
	Description      string `json:"description,omitempty"`
	InvestigatorName string `json:"investigator_name"`
	Suspects         []ID   `json:"suspects"`
	EvidenceSampleID ID     `json:"evidence_sample_id,omitempty"`
}

// Key returns the case identity.
func (c Case) Key() ID {
	if c.ID != "" {
		return c.ID
	}
	return c.CaseID
}

// CaseInput is the create-case payload.
type CaseInput struct {
	CaseName         string  `json:"case_name"`
	Description      string  `json:"description"`
	InvestigatorName string  `json:"investigator_name"`
	Suspects         []ID    `json:"suspects"`
	EvidenceSampleID *string `json:"evidence_sample_id"`
}

// CaseDetail is the GET /cases/{id} response.
type CaseDetail struct {
	Case    Case          `json:"case"`
	Matches []MatchResult `json:"matches"`
}

// MatchResult pairs a suspect with a similarity score in 0..1.
type MatchResult struct {
	PersonID        ID      `json:"person_id,omitempty"`
	SimilarityScore float64 `json:"similarity_score"`
	PersonDetails   Person  `json:"person_details"`
}

// MatchRequest is the POST /matching/match payload.
type MatchRequest struct {
	EvidenceSampleID ID   `json:"evidence_sample_id"`
	SuspectIDs       []ID `json:"suspect_ids"`
}

// MatchResponse is the POST /matching/match response.
type MatchResponse struct {
	Matches []MatchResult `json:"matches"`
}

// RootInfo is whatever the backend returns on GET /.
type RootInfo map[string]any
