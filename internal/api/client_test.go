package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/", Token: "tok"}), &calls
}

func TestIDAcceptsStringsNumbersAndNull(t *testing.T) {
	var c Case
	require.NoError(t, json.Unmarshal([]byte(`{"id": 1, "case_name": "Case A", "evidence_sample_id": null, "suspects": ["p1", 2]}`), &c))
	assert.Equal(t, ID("1"), c.Key())
	assert.Equal(t, ID(""), c.EvidenceSampleID)
	assert.Equal(t, []ID{"p1", "2"}, c.Suspects)
}

func TestListPersons(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/persons", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"id":"p1","name":"Alice","age":34,"sample_count":2},{"person_id":"p2","name":"Bob"}]`)
	})

	persons, err := client.ListPersons(context.Background())
	require.NoError(t, err)
	require.Len(t, persons, 2)
	assert.Equal(t, "Alice", persons[0].Name)
	require.NotNil(t, persons[0].Age)
	assert.Equal(t, 34, *persons[0].Age)
	assert.Equal(t, ID("p2"), persons[1].Key())
	assert.EqualValues(t, 1, client.Metrics().CallsSuccess)
}

func TestCreatePersonSendsNullsForEmptyOptionals(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Carol", body["name"])
		assert.Nil(t, body["age"])
		assert.Nil(t, body["occupation"])
		assert.Equal(t, "left-handed", body["notes"])
		_, _ = io.WriteString(w, `{"id":"p3","name":"Carol","notes":"left-handed"}`)
	})

	p, err := client.CreatePerson(context.Background(), NewPersonInput("Carol", "n/a", "", "left-handed"))
	require.NoError(t, err)
	assert.Equal(t, ID("p3"), p.Key())

	_, err = client.CreatePerson(context.Background(), NewPersonInput(" ", "", "", ""))
	assert.ErrorIs(t, err, ErrValidation)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestUploadSampleMultipart(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/samples/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "letter.png", hdr.Filename)
		assert.Equal(t, "PNGDATA", string(data))
		assert.Equal(t, "case-9", r.FormValue("case_id"))
		assert.Empty(t, r.FormValue("person_id"))
		_, _ = io.WriteString(w, `{"sample_id":"s1","case_id":"case-9"}`)
	})

	s, err := client.UploadSample(context.Background(), UploadFile{Name: "/tmp/x/letter.png", Reader: strings.NewReader("PNGDATA")}, "", "case-9")
	require.NoError(t, err)
	assert.Equal(t, ID("s1"), s.SampleID)
	assert.Equal(t, "letter.png", s.FileName)
}

func TestUploadSampleRequiresFile(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := client.UploadSample(context.Background(), UploadFile{}, "", "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindValidation, Kind(err))
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestCreateCaseDropsEmptySuspects(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"p1"}, body["suspects"])
		assert.Nil(t, body["evidence_sample_id"])
		_, _ = io.WriteString(w, `{"id":1,"case_name":"Case A","investigator_name":"J. Doe","suspects":["p1"]}`)
	})

	empty := ""
	c, err := client.CreateCase(context.Background(), CaseInput{
		CaseName:         "Case A",
		InvestigatorName: "J. Doe",
		Suspects:         []ID{"", "p1", ""},
		EvidenceSampleID: &empty,
	})
	require.NoError(t, err)
	assert.Equal(t, ID("1"), c.Key())
}

func TestCreateCaseBackendDetail(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"Suspect with person_id p9 not found"}`)
	})

	_, err := client.CreateCase(context.Background(), CaseInput{CaseName: "A", InvestigatorName: "B", Suspects: []ID{"p9"}})
	require.Error(t, err)
	assert.Equal(t, KindBackend, Kind(err))
	assert.Equal(t, "Suspect with person_id p9 not found", Detail(err))
	assert.EqualValues(t, 1, client.Metrics().CallsError)
}

func TestMatchPreservesOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req MatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ID("e1"), req.EvidenceSampleID)
		assert.Equal(t, []ID{"p1", "p2"}, req.SuspectIDs)
		_, _ = io.WriteString(w, `{"matches":[{"similarity_score":0.55,"person_details":{"name":"Bob"}},{"similarity_score":0.92,"person_details":{"name":"Alice"}}]}`)
	})

	matches, err := client.Match(context.Background(), "e1", []ID{"p1", "p2"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "Bob", matches[0].PersonDetails.Name)
	assert.Equal(t, "Alice", matches[1].PersonDetails.Name)
}

func TestMatchAcceptsBareList(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"person_id":"p1","similarity_score":0.7,"person_details":{"name":"Alice"}}]`)
	})

	matches, err := client.Match(context.Background(), "e1", []ID{"p1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, ID("p1"), matches[0].PersonID)
}

func TestMatchGuardSkipsNetwork(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := client.Match(context.Background(), "", []ID{"p1"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = client.Match(context.Background(), "e1", nil)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestNetworkErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(Options{BaseURL: url})
	_, err := client.Root(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, Kind(err))
}
