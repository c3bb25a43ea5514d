package bus

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
)

// AuditSink receives mirrored workflow messages. *store.Store satisfies it.
type AuditSink interface {
	LogCaseAction(ctx context.Context, caseID, action, actor string, details map[string]any) error
}

// FollowOptions configures a Follower.
type FollowOptions struct {
	// Group and Consumer identify the reader in the stream's consumer group.
	// Group defaults to "hwid-follow", Consumer to "console".
	Group    string
	Consumer string

	// Types limits delivery to these message types. Empty means all.
	Types []string

	// Sink, when set, records every delivered message as an audit entry
	// with action "bus:<type>".
	Sink AuditSink

	// OnMessage is called for every delivered message after the sink.
	OnMessage func(WorkflowMessage)

	Logger *zap.Logger
}

// Follower tails the workflow stream, typically on a workstation other than
// the one driving the case.
type Follower struct {
	bus    Bus
	opts   FollowOptions
	types  map[string]bool
	logger *zap.Logger

	seen    atomic.Int64
	skipped atomic.Int64
	errs    atomic.Int64
}

// NewFollower creates a follower reading from b.
func NewFollower(b Bus, opts FollowOptions) *Follower {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Group == "" {
		opts.Group = "hwid-follow"
	}
	if opts.Consumer == "" {
		opts.Consumer = "console"
	}
	f := &Follower{bus: b, opts: opts, logger: opts.Logger.Named("follower")}
	if len(opts.Types) > 0 {
		f.types = make(map[string]bool, len(opts.Types))
		for _, t := range opts.Types {
			f.types[t] = true
		}
	}
	return f
}

// Run consumes until ctx is cancelled. Cancellation is not an error.
func (f *Follower) Run(ctx context.Context) error {
	f.logger.Info("following workflow stream", zap.String("group", f.opts.Group), zap.String("consumer", f.opts.Consumer))
	err := f.bus.ReadWorkflow(ctx, f.opts.Group, f.opts.Consumer, f.handle)
	if errors.Is(err, context.Canceled) || (err != nil && ctx.Err() != nil) {
		return nil
	}
	return err
}

func (f *Follower) handle(ctx context.Context, msg WorkflowMessage) error {
	if f.types != nil && !f.types[msg.Type] {
		f.skipped.Add(1)
		return nil
	}
	f.seen.Add(1)
	if f.opts.Sink != nil {
		if err := f.opts.Sink.LogCaseAction(ctx, msg.CaseID, "bus:"+msg.Type, msg.Actor, details(msg)); err != nil {
			// Returning the error leaves the message pending for redelivery.
			f.errs.Add(1)
			f.logger.Warn("failed to mirror workflow message", zap.String("type", msg.Type), zap.Error(err))
			return err
		}
	}
	if f.opts.OnMessage != nil {
		f.opts.OnMessage(msg)
	}
	return nil
}

// Stats returns delivered, filtered and failed message counts.
func (f *Follower) Stats() (delivered, skipped, failed int64) {
	return f.seen.Load(), f.skipped.Load(), f.errs.Load()
}

func details(msg WorkflowMessage) map[string]any {
	out := make(map[string]any, len(msg.Data)+1)
	for k, v := range msg.Data {
		out[k] = v
	}
	out["timestamp"] = msg.Timestamp
	return out
}

// DataKeys returns the message's data keys in sorted order.
func DataKeys(msg WorkflowMessage) []string {
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
