package bus

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

const recorderQueueSize = 256

// Recorder turns application state changes into workflow messages. Observers
// only enqueue; Run publishes, so a slow bus never blocks the console.
type Recorder struct {
	bus    Bus
	actor  string
	logger *zap.Logger
	queue  chan WorkflowMessage

	mu         sync.Mutex
	last       workflow.Snapshot
	lastStatus string
}

// NewRecorder creates a recorder publishing on b as actor.
func NewRecorder(b Bus, actor string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		bus:        b,
		actor:      actor,
		logger:     logger.Named("recorder"),
		queue:      make(chan WorkflowMessage, recorderQueueSize),
		lastStatus: workflow.StatusReady,
	}
}

// Attach subscribes the recorder to state and returns the unsubscribe func.
func (r *Recorder) Attach(state *workflow.AppState) func() {
	r.mu.Lock()
	r.last = state.Snapshot()
	r.mu.Unlock()
	return state.Subscribe(r.Observe)
}

// SetActor changes the actor stamped on later messages.
func (r *Recorder) SetActor(actor string) {
	r.mu.Lock()
	r.actor = actor
	r.mu.Unlock()
}

// Observe diffs s against the previous snapshot and enqueues the transitions.
func (r *Recorder) Observe(s workflow.Snapshot) {
	r.mu.Lock()
	prev := r.last
	r.last = s
	r.mu.Unlock()

	prevID, curID := caseKey(prev), caseKey(s)
	switch {
	case curID == "" && prevID != "":
		r.Emit(WorkflowMessage{Type: TypeSessionReset, CaseID: prevID})
		return
	case curID != prevID:
		r.Emit(WorkflowMessage{
			Type:   TypeCaseCreated,
			CaseID: curID,
			Data:   map[string]string{"case_name": s.Case.CaseName, "investigator": s.Case.InvestigatorName},
		})
		return
	case curID == "":
		return
	}

	if n := len(s.Evidence) - len(prev.Evidence); n > 0 {
		ids := make([]string, 0, n)
		for _, smp := range s.Evidence[len(prev.Evidence):] {
			ids = append(ids, smp.SampleID.String())
		}
		r.Emit(WorkflowMessage{
			Type:   TypeEvidenceUploaded,
			CaseID: curID,
			Data:   map[string]string{"count": strconv.Itoa(n), "sample_ids": strings.Join(ids, ",")},
		})
	}

	for _, p := range s.Suspects {
		if !prev.IsSelected(p) {
			r.emitToggle(curID, p, true)
		}
	}
	for _, p := range prev.Suspects {
		if !s.IsSelected(p) {
			r.emitToggle(curID, p, false)
		}
	}
}

func (r *Recorder) emitToggle(caseID string, p api.Person, selected bool) {
	r.Emit(WorkflowMessage{
		Type:   TypeSuspectToggled,
		CaseID: caseID,
		Data: map[string]string{
			"person_id": p.Key().String(),
			"name":      p.Name,
			"selected":  strconv.FormatBool(selected),
		},
	})
}

// ObserveMatch enqueues match outcomes as the session status changes.
func (r *Recorder) ObserveMatch(ms workflow.MatchSnapshot) {
	r.mu.Lock()
	prevStatus := r.lastStatus
	r.lastStatus = ms.Status
	caseID := caseKey(r.last)
	r.mu.Unlock()

	if ms.Status == prevStatus {
		return
	}
	switch ms.Status {
	case workflow.StatusComplete:
		data := map[string]string{"matches": strconv.Itoa(len(ms.Results))}
		if len(ms.Results) > 0 {
			data["top_person_id"] = ms.Results[0].PersonID.String()
			data["top_score"] = strconv.FormatFloat(ms.Results[0].SimilarityScore, 'f', 4, 64)
		}
		r.Emit(WorkflowMessage{Type: TypeMatchCompleted, CaseID: caseID, Data: data})
	case workflow.StatusFailed:
		data := map[string]string{}
		if ms.Err != nil {
			data["error"] = ms.Err.Error()
		}
		r.Emit(WorkflowMessage{Type: TypeMatchFailed, CaseID: caseID, Data: data})
	}
}

// Emit enqueues msg, stamping actor and time. A full queue drops the message.
func (r *Recorder) Emit(msg WorkflowMessage) {
	r.mu.Lock()
	if msg.Actor == "" {
		msg.Actor = r.actor
	}
	r.mu.Unlock()
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	select {
	case r.queue <- msg:
	default:
		r.logger.Warn("workflow queue full, dropping message", zap.String("type", msg.Type))
	}
}

// Run publishes queued messages until ctx is cancelled, then flushes what is
// left with a short deadline.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-r.queue:
			r.publish(ctx, msg)
		case <-ctx.Done():
			r.Flush()
			return ctx.Err()
		}
	}
}

// Flush publishes whatever is queued, bounded by a short deadline. Commands
// that never call Run use it before exiting.
func (r *Recorder) Flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-r.queue:
			r.publish(ctx, msg)
		default:
			return
		}
	}
}

func (r *Recorder) publish(ctx context.Context, msg WorkflowMessage) {
	if err := r.bus.Publish(ctx, msg); err != nil {
		r.logger.Warn("publish failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

func caseKey(s workflow.Snapshot) string {
	if s.Case == nil {
		return ""
	}
	return s.Case.Key().String()
}
