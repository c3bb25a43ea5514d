package workflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// fakeUploader fails any file whose name contains "bad".
type fakeUploader struct {
	calls    int32
	inFlight int32
	maxSeen  int32
	delay    time.Duration

	mu       sync.Mutex
	personID api.ID
	caseID   api.ID
}

func (f *fakeUploader) UploadSample(ctx context.Context, file api.UploadFile, personID, caseID api.ID) (*api.Sample, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	f.mu.Lock()
	f.personID, f.caseID = personID, caseID
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if _, err := io.ReadAll(file.Reader); err != nil {
		return nil, err
	}
	if strings.Contains(file.Name, "bad") {
		return nil, &api.HTTPError{Method: "POST", Path: "/samples/upload", StatusCode: 500, Detail: "boom"}
	}
	return &api.Sample{SampleID: api.ID("s-" + file.Name), CaseID: caseID, FileName: file.Name}, nil
}

func files(names ...string) []FileSource {
	out := make([]FileSource, 0, len(names))
	for _, n := range names {
		out = append(out, BytesFile(n, []byte("img")))
	}
	return out
}

func TestUploadPartialFailure(t *testing.T) {
	up := &fakeUploader{}
	var completed []api.Sample
	closed := make(chan struct{})
	uc := NewUploadCoordinator(up, UploadOptions{
		CaseID:     "case-1",
		CloseDelay: 10 * time.Millisecond,
		OnComplete: func(s []api.Sample) { completed = s },
		OnClose:    func() { close(closed) },
	})

	_, err := uc.Add(files("a.png", "bad1.png", "b.jpg", "bad2.png", "c.gif")...)
	require.NoError(t, err)

	sum, err := uc.Upload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Total)
	assert.Len(t, sum.Succeeded, 3)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, "success", sum.Kind)
	assert.Equal(t, "Successfully uploaded 3 files, 2 failed", sum.Message)
	assert.EqualValues(t, 5, atomic.LoadInt32(&up.calls))

	// Exactly the successes, in queue order.
	require.Len(t, completed, 3)
	assert.Equal(t, api.ID("s-a.png"), completed[0].SampleID)
	assert.Equal(t, api.ID("s-b.jpg"), completed[1].SampleID)
	assert.Equal(t, api.ID("s-c.gif"), completed[2].SampleID)
	assert.Equal(t, api.ID("case-1"), up.caseID)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not close")
	}
	assert.Empty(t, uc.Entries())
}

func TestUploadSingleFileMessage(t *testing.T) {
	uc := NewUploadCoordinator(&fakeUploader{}, UploadOptions{})
	defer uc.Close()
	_, err := uc.Add(files("letter.png")...)
	require.NoError(t, err)

	sum, err := uc.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Successfully uploaded 1 file", sum.Message)
}

func TestUploadAllFailedKeepsQueue(t *testing.T) {
	up := &fakeUploader{}
	completeCalled := false
	uc := NewUploadCoordinator(up, UploadOptions{
		OnComplete: func([]api.Sample) { completeCalled = true },
	})
	_, err := uc.Add(files("bad1.png", "bad2.png")...)
	require.NoError(t, err)

	sum, err := uc.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "error", sum.Kind)
	assert.Equal(t, "All uploads failed. Please try again.", sum.Message)
	assert.False(t, completeCalled)

	entries := uc.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, UploadFailed, e.Status)
		assert.NotEmpty(t, e.Err)
	}

	// Re-triggering re-sends only the failures.
	_, err = uc.Upload(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&up.calls))
}

func TestUploadIssuesAllFilesConcurrently(t *testing.T) {
	up := &fakeUploader{delay: 30 * time.Millisecond}
	uc := NewUploadCoordinator(up, UploadOptions{})
	defer uc.Close()
	_, err := uc.Add(files("1.png", "2.png", "3.png", "4.png")...)
	require.NoError(t, err)

	_, err = uc.Upload(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&up.maxSeen))
}

func TestUploadConcurrencyLimit(t *testing.T) {
	up := &fakeUploader{delay: 10 * time.Millisecond}
	uc := NewUploadCoordinator(up, UploadOptions{Concurrency: 2})
	defer uc.Close()
	_, err := uc.Add(files("1.png", "2.png", "3.png", "4.png", "5.png")...)
	require.NoError(t, err)

	sum, err := uc.Upload(context.Background())
	require.NoError(t, err)
	assert.Len(t, sum.Succeeded, 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&up.maxSeen), int32(2))
}

func TestUploadRejectsNonImages(t *testing.T) {
	uc := NewUploadCoordinator(&fakeUploader{}, UploadOptions{})
	added, err := uc.Add(files("a.PNG", "notes.txt", "b.bmp")...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrValidation))
	assert.Contains(t, err.Error(), "notes.txt")
	assert.Len(t, added, 2)
	assert.Len(t, uc.Entries(), 2)
}

func TestUploadEmptyQueue(t *testing.T) {
	up := &fakeUploader{}
	uc := NewUploadCoordinator(up, UploadOptions{})
	sum, err := uc.Upload(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.Zero(t, atomic.LoadInt32(&up.calls))
}

func TestUploadRemoveAndStatuses(t *testing.T) {
	var mu sync.Mutex
	seen := map[UploadStatus]bool{}
	uc := NewUploadCoordinator(&fakeUploader{}, UploadOptions{
		OnChange: func(entries []Entry) {
			mu.Lock()
			defer mu.Unlock()
			for _, e := range entries {
				seen[e.Status] = true
			}
		},
	})
	defer uc.Close()

	added, err := uc.Add(files("a.png", "b.png")...)
	require.NoError(t, err)
	assert.True(t, uc.Remove(added[1].ID))
	assert.False(t, uc.Remove("missing"))

	sum, err := uc.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen[UploadPending])
	assert.True(t, seen[UploadUploading])
	assert.True(t, seen[UploadUploaded])
}

// gatedUploader blocks every upload until release is closed.
type gatedUploader struct {
	started chan string
	release chan struct{}
}

func (g *gatedUploader) UploadSample(ctx context.Context, file api.UploadFile, personID, caseID api.ID) (*api.Sample, error) {
	g.started <- file.Name
	<-g.release
	return &api.Sample{SampleID: api.ID("s-" + file.Name), CaseID: caseID}, nil
}

func TestUploadRemoveRejectsQueuedBatchEntries(t *testing.T) {
	up := &gatedUploader{started: make(chan string, 2), release: make(chan struct{})}
	uc := NewUploadCoordinator(up, UploadOptions{Concurrency: 1})
	defer uc.Close()
	added, err := uc.Add(files("a.png", "b.png")...)
	require.NoError(t, err)

	done := make(chan Summary, 1)
	go func() {
		sum, _ := uc.Upload(context.Background())
		done <- sum
	}()
	<-up.started

	// b.png is still pending behind the concurrency limit but belongs to the batch.
	assert.Equal(t, UploadPending, uc.Entries()[1].Status)
	assert.False(t, uc.Remove(added[1].ID))
	assert.False(t, uc.Remove(added[0].ID))

	close(up.release)
	sum := <-done
	assert.Equal(t, 2, sum.Total)
	assert.Len(t, sum.Succeeded, 2)
	assert.Len(t, uc.Entries(), 2)

	extra, err := uc.Add(files("c.png")...)
	require.NoError(t, err)
	assert.True(t, uc.Remove(extra[0].ID))
}

func TestUploadCloseCancelsPendingClose(t *testing.T) {
	var closed int32
	uc := NewUploadCoordinator(&fakeUploader{}, UploadOptions{
		CloseDelay: 20 * time.Millisecond,
		OnClose:    func() { atomic.StoreInt32(&closed, 1) },
	})
	_, err := uc.Add(files("a.png")...)
	require.NoError(t, err)
	_, err = uc.Upload(context.Background())
	require.NoError(t, err)

	uc.Close()
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&closed))
	assert.Len(t, uc.Entries(), 1)
}
