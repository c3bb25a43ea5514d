package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// UploadStatus is the per-file state.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadUploaded  UploadStatus = "uploaded"
	UploadFailed    UploadStatus = "failed"
)

// DefaultCloseDelay is how long a finished upload batch stays visible.
const DefaultCloseDelay = 2 * time.Second

// ImageExtensions are the file types accepted for evidence.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp"}

// ErrUploadInProgress is returned when Upload is called while a batch runs.
var ErrUploadInProgress = errors.New("upload already in progress")

// SampleUploader is the part of the API client the coordinator needs.
type SampleUploader interface {
	UploadSample(ctx context.Context, file api.UploadFile, personID, caseID api.ID) (*api.Sample, error)
}

// FileSource is a file waiting to be uploaded. Open is called once, when its
// upload starts.
type FileSource struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// LocalFile returns a FileSource reading path from disk.
func LocalFile(path string) FileSource {
	var size int64
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}
	return FileSource{
		Name: path,
		Size: size,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// BytesFile returns an in-memory FileSource.
func BytesFile(name string, data []byte) FileSource {
	return FileSource{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// IsImage reports whether name has an accepted image extension.
func IsImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Entry is one queued file.
type Entry struct {
	ID     string
	File   FileSource
	Status UploadStatus
	Sample *api.Sample
	Err    string
}

// Summary reports a settled batch.
type Summary struct {
	Total     int
	Succeeded []api.Sample
	Failed    int
	// Kind is "success" when at least one file uploaded and "error" otherwise.
	Kind    string
	Message string
}

// UploadOptions configures an UploadCoordinator.
type UploadOptions struct {
	PersonID api.ID
	CaseID   api.ID
	// Concurrency caps in-flight uploads. Zero or less means unbounded.
	Concurrency int
	// CloseDelay is the wait between a successful batch and OnClose.
	CloseDelay time.Duration
	// OnComplete receives exactly the successful samples, in queue order.
	OnComplete func([]api.Sample)
	// OnClose runs after CloseDelay once the queue has been cleared.
	OnClose func()
	// OnChange runs after every per-file state change.
	OnChange func([]Entry)
	Logger   *zap.Logger
}

// UploadCoordinator uploads a queue of local files, one request per file.
type UploadCoordinator struct {
	uploader SampleUploader
	opts     UploadOptions
	logger   *zap.Logger

	mu         sync.Mutex
	entries    []*Entry
	uploading  bool
	inBatch    map[string]bool
	closeTimer *time.Timer
}

// NewUploadCoordinator creates a coordinator around uploader.
func NewUploadCoordinator(uploader SampleUploader, opts UploadOptions) *UploadCoordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = DefaultCloseDelay
	}
	return &UploadCoordinator{
		uploader: uploader,
		opts:     opts,
		logger:   opts.Logger.Named("upload"),
	}
}

// Add queues files as pending entries. Files without an image extension are
// skipped and reported in the returned error.
func (u *UploadCoordinator) Add(files ...FileSource) ([]Entry, error) {
	var rejected []string
	u.mu.Lock()
	added := make([]Entry, 0, len(files))
	for _, f := range files {
		if !IsImage(f.Name) {
			rejected = append(rejected, filepath.Base(f.Name))
			continue
		}
		e := &Entry{ID: uuid.NewString(), File: f, Status: UploadPending}
		u.entries = append(u.entries, e)
		added = append(added, *e)
	}
	u.mu.Unlock()
	u.changed()

	if len(rejected) > 0 {
		return added, fmt.Errorf("%w: not an image: %s", api.ErrValidation, strings.Join(rejected, ", "))
	}
	return added, nil
}

// Remove drops a queued entry. Entries belonging to a running batch stay,
// even while they still wait for a free upload slot.
func (u *UploadCoordinator) Remove(id string) bool {
	u.mu.Lock()
	removed := false
	for i, e := range u.entries {
		if e.ID == id && e.Status != UploadUploading && !u.inBatch[id] {
			u.entries = append(u.entries[:i], u.entries[i+1:]...)
			removed = true
			break
		}
	}
	u.mu.Unlock()
	if removed {
		u.changed()
	}
	return removed
}

// Entries snapshots the queue.
func (u *UploadCoordinator) Entries() []Entry {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.snapshotLocked()
}

func (u *UploadCoordinator) snapshotLocked() []Entry {
	out := make([]Entry, len(u.entries))
	for i, e := range u.entries {
		out[i] = *e
	}
	return out
}

func (u *UploadCoordinator) changed() {
	if u.opts.OnChange == nil {
		return
	}
	u.opts.OnChange(u.Entries())
}

func (u *UploadCoordinator) setStatus(e *Entry, status UploadStatus, sample *api.Sample, errMsg string) {
	u.mu.Lock()
	e.Status = status
	e.Sample = sample
	e.Err = errMsg
	u.mu.Unlock()
	u.changed()
}

// Upload sends every pending or failed entry and waits for all of them to
// settle. Partial failure is reported in the summary, never as an error.
// Nothing is retried automatically; calling Upload again re-sends failures.
func (u *UploadCoordinator) Upload(ctx context.Context) (Summary, error) {
	u.mu.Lock()
	if u.uploading {
		u.mu.Unlock()
		return Summary{}, ErrUploadInProgress
	}
	var batch []*Entry
	inBatch := make(map[string]bool)
	for _, e := range u.entries {
		if e.Status == UploadPending || e.Status == UploadFailed {
			batch = append(batch, e)
			inBatch[e.ID] = true
		}
	}
	if len(batch) == 0 {
		u.mu.Unlock()
		return Summary{}, nil
	}
	u.uploading = true
	u.inBatch = inBatch
	if u.closeTimer != nil {
		u.closeTimer.Stop()
		u.closeTimer = nil
	}
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.uploading = false
		u.inBatch = nil
		u.mu.Unlock()
	}()

	u.logger.Info("uploading batch", zap.Int("files", len(batch)), zap.Int("concurrency", u.opts.Concurrency))

	results := make([]*api.Sample, len(batch))
	var g errgroup.Group
	if u.opts.Concurrency > 0 {
		g.SetLimit(u.opts.Concurrency)
	}
	for i, e := range batch {
		g.Go(func() error {
			u.setStatus(e, UploadUploading, nil, "")
			sample, err := u.uploadOne(ctx, e.File)
			if err != nil {
				u.logger.Warn("upload failed", zap.String("file", e.File.Name), zap.Error(err))
				u.setStatus(e, UploadFailed, nil, err.Error())
				return nil
			}
			results[i] = sample
			u.setStatus(e, UploadUploaded, sample, "")
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Total: len(batch)}
	for _, s := range results {
		if s != nil {
			sum.Succeeded = append(sum.Succeeded, *s)
		} else {
			sum.Failed++
		}
	}
	sum.Kind, sum.Message = summarize(len(sum.Succeeded), sum.Failed)
	u.logger.Info("batch settled", zap.Int("uploaded", len(sum.Succeeded)), zap.Int("failed", sum.Failed))

	if len(sum.Succeeded) > 0 {
		if u.opts.OnComplete != nil {
			u.opts.OnComplete(append([]api.Sample(nil), sum.Succeeded...))
		}
		u.scheduleClose()
	}
	return sum, nil
}

func (u *UploadCoordinator) uploadOne(ctx context.Context, f FileSource) (*api.Sample, error) {
	if f.Open == nil {
		return nil, fmt.Errorf("%w: %s has no content", api.ErrValidation, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return u.uploader.UploadSample(ctx, api.UploadFile{Name: f.Name, Reader: rc}, u.opts.PersonID, u.opts.CaseID)
}

// scheduleClose clears the queue and fires OnClose after CloseDelay.
func (u *UploadCoordinator) scheduleClose() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closeTimer != nil {
		u.closeTimer.Stop()
	}
	u.closeTimer = time.AfterFunc(u.opts.CloseDelay, func() {
		u.mu.Lock()
		u.entries = nil
		u.closeTimer = nil
		u.mu.Unlock()
		u.changed()
		if u.opts.OnClose != nil {
			u.opts.OnClose()
		}
	})
}

// Close cancels a pending clear-and-close. The queue is left as is.
func (u *UploadCoordinator) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closeTimer != nil {
		u.closeTimer.Stop()
		u.closeTimer = nil
	}
}

func summarize(ok, failed int) (kind, msg string) {
	if ok == 0 {
		return "error", "All uploads failed. Please try again."
	}
	plural := ""
	if ok > 1 {
		plural = "s"
	}
	msg = fmt.Sprintf("Successfully uploaded %d file%s", ok, plural)
	if failed > 0 {
		msg += fmt.Sprintf(", %d failed", failed)
	}
	return "success", msg
}
