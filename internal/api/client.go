package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// DefaultBaseURL is where the backend listens in a default install.
const DefaultBaseURL = "http://localhost:5501"

// Options configures a Client.
type Options struct {
	BaseURL string
	// Token is sent as "Authorization: Bearer <token>" when set.
	Token string
	// Timeout bounds each request. Zero leaves requests unbounded.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Metrics are counters kept across calls.
type Metrics struct {
	CallsSuccess int64
	CallsError   int64
	TotalLatency time.Duration
	LastActivity time.Time
}

// AvgLatency is the mean latency over all completed calls.
func (m Metrics) AvgLatency() time.Duration {
	n := m.CallsSuccess + m.CallsError
	if n == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(n)
}

// Client talks to the handwriting-identification backend. Calls are made once:
// there is no retry or backoff.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.RWMutex
	metrics Metrics
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		tr := &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		}
		hc = &http.Client{Timeout: opts.Timeout, Transport: tr}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: hc,
		logger:     opts.Logger.Named("api"),
	}
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Metrics returns a copy of the call counters.
func (c *Client) Metrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

func (c *Client) record(success bool, took time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.metrics.CallsSuccess++
	} else {
		c.metrics.CallsError++
	}
	c.metrics.TotalLatency += took
	c.metrics.LastActivity = time.Now()
}

// do issues one request and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "hwid-console/1.0")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	took := time.Since(start)
	if err != nil {
		c.record(false, took)
		c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(false, took)
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.record(false, took)
		httpErr := &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Detail: parseDetail(data)}
		c.logger.Warn("backend error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", httpErr.Detail))
		return httpErr
	}
	c.record(true, took)
	c.logger.Debug("request ok",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", took))

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, out)
}

// parseDetail pulls FastAPI-style {"detail": ...} out of an error body.
func parseDetail(data []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Detail) == 0 {
		return strings.TrimSpace(string(data))
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	return string(payload.Detail)
}

// Root calls GET / and is used as a health check.
func (c *Client) Root(ctx context.Context) (RootInfo, error) {
	var info RootInfo
	if err := c.doJSON(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// ListPersons calls GET /persons.
func (c *Client) ListPersons(ctx context.Context) ([]Person, error) {
	var persons []Person
	if err := c.doJSON(ctx, http.MethodGet, "/persons", nil, &persons); err != nil {
		return nil, err
	}
	return persons, nil
}

// CreatePerson calls POST /persons.
func (c *Client) CreatePerson(ctx context.Context, in PersonInput) (*Person, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, validationError("person name is required")
	}
	var p Person
	if err := c.doJSON(ctx, http.MethodPost, "/persons", in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPerson calls GET /persons/{id}.
func (c *Client) GetPerson(ctx context.Context, id ID) (*Person, error) {
	if id == "" {
		return nil, validationError("person id is required")
	}
	var p Person
	if err := c.doJSON(ctx, http.MethodGet, "/persons/"+url.PathEscape(id.String()), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UploadSample calls POST /samples/upload with a multipart body. personID and
// caseID are optional.
func (c *Client) UploadSample(ctx context.Context, file UploadFile, personID, caseID ID) (*Sample, error) {
	if file.Name == "" || file.Reader == nil {
		return nil, validationError("a file must be selected before upload")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(file.Name))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file.Reader); err != nil {
		return nil, fmt.Errorf("read %s: %w", file.Name, err)
	}
	if personID != "" {
		if err := mw.WriteField("person_id", personID.String()); err != nil {
			return nil, fmt.Errorf("write person_id: %w", err)
		}
	}
	if caseID != "" {
		if err := mw.WriteField("case_id", caseID.String()); err != nil {
			return nil, fmt.Errorf("write case_id: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var s Sample
	if err := c.do(ctx, http.MethodPost, "/samples/upload", mw.FormDataContentType(), &buf, &s); err != nil {
		return nil, err
	}
	if s.FileName == "" {
		s.FileName = filepath.Base(file.Name)
	}
	return &s, nil
}

// GetSample calls GET /samples/{id}.
func (c *Client) GetSample(ctx context.Context, id ID) (*Sample, error) {
	if id == "" {
		return nil, validationError("sample id is required")
	}
	var s Sample
	if err := c.doJSON(ctx, http.MethodGet, "/samples/"+url.PathEscape(id.String()), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateCase calls POST /cases. Empty suspect ids are dropped before sending.
func (c *Client) CreateCase(ctx context.Context, in CaseInput) (*Case, error) {
	if strings.TrimSpace(in.CaseName) == "" {
		return nil, validationError("case name is required")
	}
	if strings.TrimSpace(in.InvestigatorName) == "" {
		return nil, validationError("investigator name is required")
	}
	suspects := make([]ID, 0, len(in.Suspects))
	for _, s := range in.Suspects {
		if s != "" {
			suspects = append(suspects, s)
		}
	}
	in.Suspects = suspects
	if in.EvidenceSampleID != nil && *in.EvidenceSampleID == "" {
		in.EvidenceSampleID = nil
	}

	var out Case
	if err := c.doJSON(ctx, http.MethodPost, "/cases", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCase calls GET /cases/{id}.
func (c *Client) GetCase(ctx context.Context, id ID) (*CaseDetail, error) {
	if id == "" {
		return nil, validationError("case id is required")
	}
	var out CaseDetail
	if err := c.doJSON(ctx, http.MethodGet, "/cases/"+url.PathEscape(id.String()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Match calls POST /matching/match. The returned slice keeps the backend order.
func (c *Client) Match(ctx context.Context, evidenceSampleID ID, suspectIDs []ID) ([]MatchResult, error) {
	if evidenceSampleID == "" || len(suspectIDs) == 0 {
		return nil, validationError("evidence sample and at least one suspect are required")
	}
	var raw json.RawMessage
	req := MatchRequest{EvidenceSampleID: evidenceSampleID, SuspectIDs: suspectIDs}
	if err := c.doJSON(ctx, http.MethodPost, "/matching/match", req, &raw); err != nil {
		return nil, err
	}
	return decodeMatches(raw)
}

// decodeMatches accepts {"matches": [...]} and, from older backends, a bare list.
func decodeMatches(raw json.RawMessage) ([]MatchResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []MatchResult{}, nil
	}
	if trimmed[0] == '[' {
		var list []MatchResult
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode match list: %w", err)
		}
		return list, nil
	}
	var resp MatchResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("decode match response: %w", err)
	}
	if resp.Matches == nil {
		return []MatchResult{}, nil
	}
	return resp.Matches, nil
}
