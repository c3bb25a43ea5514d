package workflow

import (
	"strconv"
	"strings"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// SearchField selects which person attribute Filter.Term is matched against.
type SearchField string

const (
	FieldName       SearchField = "name"
	FieldOccupation SearchField = "occupation"
	FieldNotes      SearchField = "notes"
)

// Filter narrows a persons list. Zero-valued criteria are ignored.
type Filter struct {
	Term  string
	Field SearchField
	// Age must parse as an integer to take effect.
	Age        string
	Occupation string
}

// Apply returns the persons matching every set criterion, in input order.
// Matching is a case-insensitive substring test except for age, which is exact.
func (f Filter) Apply(persons []api.Person) []api.Person {
	term := strings.ToLower(strings.TrimSpace(f.Term))
	occ := strings.ToLower(f.Occupation)
	age, ageErr := strconv.Atoi(strings.TrimSpace(f.Age))
	useAge := f.Age != "" && ageErr == nil

	out := make([]api.Person, 0, len(persons))
	for _, p := range persons {
		if term != "" && !strings.Contains(strings.ToLower(f.field(p)), term) {
			continue
		}
		if useAge && (p.Age == nil || *p.Age != age) {
			continue
		}
		if occ != "" && !strings.Contains(strings.ToLower(p.Occupation), occ) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (f Filter) field(p api.Person) string {
	switch f.Field {
	case FieldOccupation:
		return p.Occupation
	case FieldNotes:
		return p.Notes
	default:
		return p.Name
	}
}
