// Package app wires the backend client, the shared workflow state, the local
// journal and the workflow bus into the operations the console and the CLI
// both drive.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/bus"
	"github.com/edi-forensics/hwid-console/internal/store"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

// Backend is the part of the API client the service uses.
type Backend interface {
	workflow.SampleUploader
	workflow.Matcher
	ListPersons(ctx context.Context) ([]api.Person, error)
	GetPerson(ctx context.Context, id api.ID) (*api.Person, error)
	CreatePerson(ctx context.Context, in api.PersonInput) (*api.Person, error)
	CreateCase(ctx context.Context, in api.CaseInput) (*api.Case, error)
	GetCase(ctx context.Context, id api.ID) (*api.CaseDetail, error)
}

// Options configures a Service. Store and Bus are optional.
type Options struct {
	Backend      Backend
	Store        *store.Store
	Bus          bus.Bus
	Investigator string

	UploadConcurrency int
	CloseDelay        time.Duration
	ProgressInterval  time.Duration
	ProgressCap       float64

	Logger *zap.Logger
}

// Service is the console's application layer.
type Service struct {
	backend  Backend
	store    *store.Store
	bus      bus.Bus
	state    *workflow.AppState
	recorder *bus.Recorder
	opts     Options
	logger   *zap.Logger

	mu           sync.RWMutex
	investigator string
	detach       func()
}

// New builds a service and attaches the workflow recorder to its state.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = bus.NewNullBus(opts.Logger)
	}
	if opts.Investigator == "" {
		opts.Investigator = "investigator"
	}
	s := &Service{
		backend:      opts.Backend,
		store:        opts.Store,
		bus:          opts.Bus,
		state:        workflow.NewAppState(),
		opts:         opts,
		logger:       opts.Logger.Named("app"),
		investigator: opts.Investigator,
	}
	s.recorder = bus.NewRecorder(opts.Bus, opts.Investigator, opts.Logger)
	s.detach = s.recorder.Attach(s.state)
	return s
}

// State is the shared application state.
func (s *Service) State() *workflow.AppState { return s.state }

// Journal is the local journal, or nil when none is configured.
func (s *Service) Journal() *store.Store { return s.store }

// Bus is the workflow bus.
func (s *Service) Bus() bus.Bus { return s.bus }

// Run publishes workflow messages until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.recorder.Run(ctx)
}

// Flush publishes queued workflow messages without a running Run loop.
func (s *Service) Flush() { s.recorder.Flush() }

// Close detaches the recorder. The journal and bus belong to the caller.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
}

// Investigator is the actor stamped on journal entries and bus messages.
func (s *Service) Investigator() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.investigator
}

// Login sets the investigator. Both fields are required; the password is not
// checked against anything.
func (s *Service) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", api.ErrValidation)
	}
	s.mu.Lock()
	s.investigator = username
	s.mu.Unlock()
	s.recorder.SetActor(username)
	s.audit(ctx, "", store.ActionLogin, nil)
	return nil
}

// LoadPersons fetches the persons list into the state and the journal cache.
// When the backend is unreachable the cached list is served instead and
// stale is true.
func (s *Service) LoadPersons(ctx context.Context) (persons []api.Person, stale bool, err error) {
	persons, err = s.backend.ListPersons(ctx)
	if err == nil {
		s.state.SetPersons(persons)
		if s.store != nil {
			if cerr := s.store.CachePersons(ctx, persons); cerr != nil {
				s.logger.Warn("failed to cache persons", zap.Error(cerr))
			}
		}
		return persons, false, nil
	}
	if s.store == nil || api.Kind(err) != api.KindNetwork {
		return nil, false, err
	}
	cached, fetchedAt, cerr := s.store.CachedPersons(ctx)
	if cerr != nil || len(cached) == 0 {
		return nil, false, err
	}
	s.logger.Warn("backend unreachable, serving cached persons",
		zap.Error(err), zap.Time("fetched_at", fetchedAt), zap.Int("persons", len(cached)))
	s.state.SetPersons(cached)
	return cached, true, nil
}

// CreatePerson creates a person and appends it to the state.
func (s *Service) CreatePerson(ctx context.Context, in api.PersonInput) (*api.Person, error) {
	p, err := s.backend.CreatePerson(ctx, in)
	if err != nil {
		return nil, err
	}
	s.state.AddPerson(*p)
	return p, nil
}

// CreateCase creates a case on the backend and makes it current.
func (s *Service) CreateCase(ctx context.Context, in api.CaseInput) (*api.Case, error) {
	if in.InvestigatorName == "" {
		in.InvestigatorName = s.Investigator()
	}
	c, err := s.backend.CreateCase(ctx, in)
	if err != nil {
		return nil, err
	}
	s.state.SetCase(*c)
	if s.store != nil {
		if _, err := s.store.RecordCase(ctx, *c); err != nil {
			s.logger.Warn("failed to journal case", zap.Error(err))
		}
	}
	s.audit(ctx, c.Key().String(), store.ActionCaseCreated, map[string]any{"case_name": c.CaseName})
	return c, nil
}

// CreateCaseWithEvidence uploads evidence, when given, before creating the case
// so the case references it. The sample becomes the case's first evidence.
func (s *Service) CreateCaseWithEvidence(ctx context.Context, in api.CaseInput, evidence *workflow.FileSource) (*api.Case, error) {
	var sample *api.Sample
	if evidence != nil {
		if !workflow.IsImage(evidence.Name) || evidence.Open == nil {
			return nil, fmt.Errorf("%w: %s is not an image file", api.ErrValidation, evidence.Name)
		}
		rc, err := evidence.Open()
		if err != nil {
			return nil, fmt.Errorf("open evidence: %w", err)
		}
		sample, err = s.backend.UploadSample(ctx, api.UploadFile{Name: evidence.Name, Reader: rc}, "", "")
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("upload evidence: %w", err)
		}
		id := sample.SampleID.String()
		in.EvidenceSampleID = &id
	}

	c, err := s.CreateCase(ctx, in)
	if err != nil {
		return nil, err
	}
	if sample != nil {
		if sample.CaseID == "" {
			sample.CaseID = c.Key()
		}
		s.state.AddCaseEvidence(c.Key(), *sample)
		s.journalSamples([]api.Sample{*sample})
	}
	return c, nil
}

// OpenCase loads an existing case and makes it current, together with the
// evidence sample and suspects the backend holds for it.
func (s *Service) OpenCase(ctx context.Context, id api.ID) (*api.CaseDetail, error) {
	detail, err := s.backend.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	c := detail.Case
	var evidence []api.Sample
	if c.EvidenceSampleID != "" {
		evidence = append(evidence, api.Sample{SampleID: c.EvidenceSampleID, CaseID: c.Key()})
	}
	s.state.OpenCase(c, evidence, s.resolvePersons(ctx, c.Suspects))
	return detail, nil
}

// resolvePersons maps ids to persons from the loaded list, fetching the rest.
// An id the backend cannot resolve is kept as a bare person.
func (s *Service) resolvePersons(ctx context.Context, ids []api.ID) []api.Person {
	if len(ids) == 0 {
		return nil
	}
	known := make(map[api.ID]api.Person)
	for _, p := range s.state.Snapshot().Persons {
		known[p.Key()] = p
	}
	out := make([]api.Person, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if p, ok := known[id]; ok {
			out = append(out, p)
			continue
		}
		p, err := s.backend.GetPerson(ctx, id)
		if err != nil {
			s.logger.Warn("failed to resolve suspect", zap.String("person_id", id.String()), zap.Error(err))
			out = append(out, api.Person{ID: id})
			continue
		}
		out = append(out, *p)
	}
	return out
}

// GetPerson fetches one person.
func (s *Service) GetPerson(ctx context.Context, id api.ID) (*api.Person, error) {
	return s.backend.GetPerson(ctx, id)
}

// CloseCase leaves the current case.
func (s *Service) CloseCase() { s.state.ClearCase() }

// ToggleSuspect flips p's selection on the current case and journals it.
func (s *Service) ToggleSuspect(ctx context.Context, p api.Person) bool {
	if !s.state.ToggleSuspect(p) {
		return false
	}
	snap := s.state.Snapshot()
	s.audit(ctx, caseID(snap), store.ActionSuspectsChanged, map[string]any{
		"person_id": p.Key().String(),
		"selected":  snap.IsSelected(p),
	})
	return true
}

// UploadHooks are the view callbacks for an upload batch.
type UploadHooks struct {
	PersonID api.ID
	OnChange func([]workflow.Entry)
	OnClose  func()
}

// NewUpload returns a coordinator for the current case. Successful samples
// are journalled and, unless they belong to a known person, become evidence
// of that case. A batch settling after the user moved on never touches the
// new case.
func (s *Service) NewUpload(h UploadHooks) *workflow.UploadCoordinator {
	cid := api.ID(caseID(s.state.Snapshot()))
	return workflow.NewUploadCoordinator(s.backend, workflow.UploadOptions{
		PersonID:    h.PersonID,
		CaseID:      cid,
		Concurrency: s.opts.UploadConcurrency,
		CloseDelay:  s.opts.CloseDelay,
		OnChange:    h.OnChange,
		OnClose:     h.OnClose,
		Logger:      s.opts.Logger,
		OnComplete: func(samples []api.Sample) {
			if h.PersonID == "" && !s.state.AddCaseEvidence(cid, samples...) {
				s.logger.Info("case changed during upload, samples not added as evidence",
					zap.String("case_id", cid.String()), zap.Int("samples", len(samples)))
			}
			s.journalSamples(samples)
		},
	})
}

// UploadEvidence queues files on a fresh coordinator and uploads them.
func (s *Service) UploadEvidence(ctx context.Context, files ...workflow.FileSource) (workflow.Summary, error) {
	up := s.NewUpload(UploadHooks{})
	defer up.Close()
	if _, err := up.Add(files...); err != nil && len(up.Entries()) == 0 {
		return workflow.Summary{}, err
	}
	return up.Upload(ctx)
}

func (s *Service) journalSamples(samples []api.Sample) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordSamples(ctx, samples); err != nil {
		s.logger.Warn("failed to journal samples", zap.Error(err))
	}
	for _, smp := range samples {
		if err := s.store.LogSampleAction(ctx, smp.CaseID.String(), smp.SampleID.String(),
			store.ActionEvidenceUpload, s.Investigator(), map[string]any{"file_name": smp.FileName}); err != nil {
			s.logger.Warn("failed to audit upload", zap.Error(err))
		}
	}
}

// NewMatching returns a matching session whose results land on the current
// case. onChange may be nil.
func (s *Service) NewMatching(onChange func(workflow.MatchSnapshot)) *workflow.MatchingSession {
	return workflow.NewMatchingSession(s.backend, workflow.MatchingOptions{
		Interval: s.opts.ProgressInterval,
		Cap:      s.opts.ProgressCap,
		Logger:   s.opts.Logger,
		OnComplete: func(results []api.MatchResult) {
			s.state.SetResults(results)
			s.audit(context.Background(), caseID(s.state.Snapshot()), store.ActionMatchCompleted,
				map[string]any{"matches": len(results)})
		},
		OnChange: func(ms workflow.MatchSnapshot) {
			s.recorder.ObserveMatch(ms)
			if ms.Status == workflow.StatusFailed && ms.Err != nil {
				s.audit(context.Background(), caseID(s.state.Snapshot()), store.ActionMatchFailed,
					map[string]any{"error": ms.Err.Error()})
			}
			if onChange != nil {
				onChange(ms)
			}
		},
	})
}

// StartMatch runs m against the current evidence and selected suspects.
func (s *Service) StartMatch(ctx context.Context, m *workflow.MatchingSession) error {
	snap := s.state.Snapshot()
	return m.Start(ctx, snap.EvidenceSampleID(), snap.SuspectIDs())
}

// Export journals an export of kind to file.
func (s *Service) Export(ctx context.Context, kind, file string) {
	s.audit(ctx, caseID(s.state.Snapshot()), store.ActionExport, map[string]any{"kind": kind, "file": file})
}

// AuditTrail returns journal entries for caseID ("" for all).
func (s *Service) AuditTrail(ctx context.Context, caseID string, limit int) ([]store.AuditEntry, error) {
	if s.store == nil {
		return nil, errors.New("no journal configured")
	}
	return s.store.GetAuditEntries(ctx, caseID, limit)
}

func (s *Service) audit(ctx context.Context, caseID, action string, details map[string]any) {
	if s.store == nil {
		return
	}
	if err := s.store.LogCaseAction(ctx, caseID, action, s.Investigator(), details); err != nil {
		s.logger.Warn("failed to write audit entry", zap.String("action", action), zap.Error(err))
	}
}

func caseID(snap workflow.Snapshot) string {
	if snap.Case == nil {
		return ""
	}
	return snap.Case.Key().String()
}
