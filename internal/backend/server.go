// Package backend is an in-memory stand-in for the handwriting-identification
// service. It speaks the same HTTP API so the console can be demonstrated and
// tested without the real service. Its similarity scores are placeholders.
package backend

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// Options controls the stub server.
type Options struct {
	// Bind address, e.g. "127.0.0.1:5501"
	Bind string
	// Token for Authorization: Bearer <token>. Empty disables auth.
	Token string
	// MaxUploadBytes caps a sample upload; defaults to 10 MiB.
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type sampleRecord struct {
	api.Sample
	size int64
}

// Server holds persons, samples and cases in memory.
type Server struct {
	opts    Options
	logger  *zap.Logger
	handler http.Handler
	srv     *http.Server
	started int32
	addr    atomic.Value

	mu      sync.RWMutex
	persons []*api.Person
	samples map[api.ID]*sampleRecord
	cases   map[api.ID]*api.Case
}

// New constructs a stub server.
func New(opts Options) *Server {
	if opts.Bind == "" {
		opts.Bind = "127.0.0.1:5501"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 * 1024 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		opts:    opts,
		logger:  opts.Logger.Named("stub-backend"),
		samples: make(map[api.ID]*sampleRecord),
		cases:   make(map[api.ID]*api.Case),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /persons", s.auth(s.handleListPersons))
	mux.HandleFunc("POST /persons", s.auth(s.handleCreatePerson))
	mux.HandleFunc("GET /persons/{id}", s.auth(s.handleGetPerson))
	mux.HandleFunc("POST /samples/upload", s.auth(s.handleUploadSample))
	mux.HandleFunc("GET /samples/{id}", s.auth(s.handleGetSample))
	mux.HandleFunc("POST /cases", s.auth(s.handleCreateCase))
	mux.HandleFunc("GET /cases/{id}", s.auth(s.handleGetCase))
	mux.HandleFunc("POST /matching/match", s.auth(s.handleMatch))
	s.handler = s.logRequests(mux)

	s.srv = &http.Server{
		Addr:         opts.Bind,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the routes, for httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return s.opts.Bind
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return errors.New("stub backend already started")
	}
	// Bind early to surface errors synchronously
	ln, err := net.Listen("tcp", s.opts.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Bind, err)
	}
	s.addr.Store(ln.Addr().String())
	s.logger.Info("stub backend listening", zap.String("url", "http://"+ln.Addr().String()), zap.Bool("auth", s.opts.Token != ""))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) != s.opts.Token {
				w.Header().Set("WWW-Authenticate", `Bearer realm="hwid"`)
				writeDetail(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	writeJSON(w, http.StatusOK, api.RootInfo{
		"message": "Handwriting identification stub backend",
		"persons": len(s.persons),
		"samples": len(s.samples),
		"cases":   len(s.cases),
	})
}

func (s *Server) findPersonLocked(id api.ID) *api.Person {
	for _, p := range s.persons {
		if p.Key() == id {
			return p
		}
	}
	return nil
}

func (s *Server) handleListPersons(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]api.Person, 0, len(s.persons))
	for _, p := range s.persons {
		out = append(out, *p)
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreatePerson(w http.ResponseWriter, r *http.Request) {
	var in api.PersonInput
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	p := s.AddPerson(in)
	writeJSON(w, http.StatusOK, p)
}

// AddPerson stores a person and returns it with its generated id.
func (s *Server) AddPerson(in api.PersonInput) api.Person {
	id := api.ID(uuid.NewString())
	p := &api.Person{ID: id, PersonID: id, Name: in.Name, Age: in.Age}
	if in.Occupation != nil {
		p.Occupation = *in.Occupation
	}
	if in.Notes != nil {
		p.Notes = *in.Notes
	}
	s.mu.Lock()
	s.persons = append(s.persons, p)
	s.mu.Unlock()
	return *p
}

func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	p := s.findPersonLocked(api.ID(r.PathValue("id")))
	var out api.Person
	if p != nil {
		out = *p
	}
	s.mu.RUnlock()
	if p == nil {
		writeDetail(w, http.StatusNotFound, "Person not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUploadSample(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "file is required")
		return
	}
	defer f.Close()
	size, err := io.Copy(io.Discard, f)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "failed to read file")
		return
	}

	id := uuid.NewString()
	rec := &sampleRecord{
		Sample: api.Sample{
			SampleID:     api.ID(id),
			PersonID:     api.ID(r.FormValue("person_id")),
			CaseID:       api.ID(r.FormValue("case_id")),
			ImagePath:    "processed/processed_" + uuid.NewString() + strings.ToLower(filepath.Ext(hdr.Filename)),
			DateUploaded: time.Now().UTC().Format(time.RFC3339),
		},
		size: size,
	}

	s.mu.Lock()
	s.samples[rec.SampleID] = rec
	if p := s.findPersonLocked(rec.PersonID); p != nil {
		p.SampleCount++
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, rec.Sample)
}

func (s *Server) handleGetSample(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	rec, ok := s.samples[api.ID(r.PathValue("id"))]
	var out api.Sample
	if ok {
		out = rec.Sample
	}
	s.mu.RUnlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Sample not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var in api.CaseInput
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.CaseName) == "" || strings.TrimSpace(in.InvestigatorName) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "case_name and investigator_name are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pid := range in.Suspects {
		if s.findPersonLocked(pid) == nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Suspect with person_id %s not found", pid))
			return
		}
	}
	id := api.ID(uuid.NewString())
	c := &api.Case{
		ID:               id,
		CaseID:           id,
		CaseName:         in.CaseName,
		Description:      in.Description,
		InvestigatorName: in.InvestigatorName,
		Suspects:         append([]api.ID{}, in.Suspects...),
	}
	if in.EvidenceSampleID != nil {
		c.EvidenceSampleID = api.ID(*in.EvidenceSampleID)
	}
	s.cases[id] = c
	for _, pid := range in.Suspects {
		s.findPersonLocked(pid).CaseCount++
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	c, ok := s.cases[api.ID(r.PathValue("id"))]
	var out api.CaseDetail
	if ok {
		out = api.CaseDetail{Case: *c, Matches: []api.MatchResult{}}
	}
	s.mu.RUnlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Case not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req api.MatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EvidenceSampleID == "" || len(req.SuspectIDs) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "evidence_sample_id and suspect_ids are required")
		return
	}

	s.mu.RLock()
	_, ok := s.samples[req.EvidenceSampleID]
	matches := make([]api.MatchResult, 0, len(req.SuspectIDs))
	if ok {
		for _, pid := range req.SuspectIDs {
			p := s.findPersonLocked(pid)
			if p == nil {
				continue
			}
			matches = append(matches, api.MatchResult{
				PersonID:        p.Key(),
				SimilarityScore: PlaceholderScore(req.EvidenceSampleID, p.Key()),
				PersonDetails:   *p,
			})
		}
	}
	s.mu.RUnlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Evidence sample not found")
		return
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].SimilarityScore > matches[j].SimilarityScore
	})
	writeJSON(w, http.StatusOK, api.MatchResponse{Matches: matches})
}

// PlaceholderScore is a stable pseudo-score in [0, 1) for an evidence and
// person pair. It does not look at the images.
func PlaceholderScore(evidenceID, personID api.ID) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(evidenceID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(personID))
	return float64(h.Sum64()%10000) / 10000
}
