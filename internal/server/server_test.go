package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/feed-validator/internal/db"
	"github.com/jonathan/feed-validator/internal/feed"
	"github.com/jonathan/feed-validator/internal/pipeline"
	"github.com/jonathan/feed-validator/internal/schemas"
	"github.com/jonathan/feed-validator/internal/server/ratelimit"
	"github.com/jonathan/feed-validator/internal/validation"
)

// fakeReader serves fixed store contents.
type fakeReader struct {
	products []db.Product
	runs     []db.Run
	err      error
	pingErr  error
	filters  []db.ProductFilter
}

func (f *fakeReader) ListProducts(_ context.Context, filter db.ProductFilter) (*db.ProductPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.filters = append(f.filters, filter)
	var matched []db.Product
	for _, p := range f.products {
		if !filter.HasIssues || p.ValidationResult == db.ResultIssue {
			matched = append(matched, p)
		}
	}
	page := &db.ProductPage{Page: filter.Page, Size: filter.Size, Total: len(matched)}
	start := min(filter.Offset(), len(matched))
	end := min(start+filter.Size, len(matched))
	page.Items = matched[start:end]
	return page, nil
}

func (f *fakeReader) ProductSummary(context.Context) (*db.ProductSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &db.ProductSummary{NumberOfProducts: len(f.products)}
	for _, p := range f.products {
		if p.ValidationResult == db.ResultIssue {
			s.NumberFlaggedWithIssues++
		}
		if s.ExampleImprovedTitle == nil && p.ImprovedTitle != nil {
			s.ExampleImprovedTitle = p.ImprovedTitle
		}
	}
	return s, nil
}

func (f *fakeReader) GetRun(_ context.Context, id uuid.UUID) (*db.Run, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, f.err
}

func (f *fakeReader) ListRuns(_ context.Context, limit int) ([]db.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.runs[:min(limit, len(f.runs))], nil
}

func (f *fakeReader) Ping(context.Context) error {
	return f.pingErr
}

type staticSource []byte

func (s staticSource) Fetch(context.Context) ([]byte, error) {
	if s == nil {
		return nil, errors.New("feed unreachable")
	}
	return s, nil
}

// gatedValidator holds every record until release is closed.
type gatedValidator struct {
	release chan struct{}
}

func (v *gatedValidator) Validate(ctx context.Context, rec feed.Record) validation.Outcome {
	if v.release != nil {
		select {
		case <-v.release:
		case <-ctx.Done():
		}
	}
	out := validation.Outcome{
		Price:         validation.CheckPrice(rec.Price),
		Identifier:    validation.CheckIdentifier(rec.EAN),
		Image:         validation.ImageOK,
		Title:         validation.TitleOK,
		ImprovedTitle: validation.HeuristicTitle(rec.Name),
		AIPrompt:      "prompt " + rec.ArticleID,
	}
	return out
}

type replaceStore struct {
	mu   sync.Mutex
	rows []db.Product
}

func (s *replaceStore) ReplaceProducts(_ context.Context, products []db.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = products
	return nil
}

const testFeed = "Artnr;Produktnamn;EAN;Pris\n1;hantel;12345678;100\n2;kettlebell;;\n3;skivstång;1234567890123;99,50\n"

func newTestServer(t *testing.T, ingestor Ingestor, reader Reader) *Server {
	t.Helper()
	s := New(Config{Port: 0, RateLimit: &ratelimit.Config{Enabled: false}}, ingestor, reader)
	s.streamPoll = 20 * time.Millisecond
	return s
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	reader := &fakeReader{}
	s := newTestServer(t, pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{}), reader)

	w := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp["status"])

	reader.pingErr = errors.New("connection refused")
	w = do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, "degraded", resp["status"])
}

func TestIngest_AcceptedThenConflict(t *testing.T) {
	v := &gatedValidator{release: make(chan struct{})}
	o := pipeline.NewOrchestrator(staticSource(testFeed), v, &replaceStore{}, pipeline.Options{Workers: 2})
	s := newTestServer(t, o, &fakeReader{})

	w := do(t, s, http.MethodPost, "/ingest")
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted IngestResponse
	decode(t, w, &accepted)
	assert.Equal(t, "started", accepted.Status)
	assert.NotEmpty(t, accepted.RunID)

	w = do(t, s, http.MethodPost, "/ingest")
	assert.Equal(t, http.StatusConflict, w.Code)
	var conflict map[string]string
	decode(t, w, &conflict)
	assert.Equal(t, "already running", conflict["error"])

	w = do(t, s, http.MethodGet, "/ingest?wait=true")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodGet, "/progress")
	require.Equal(t, http.StatusOK, w.Code)
	var snap pipeline.Snapshot
	decode(t, w, &snap)
	assert.True(t, snap.Running)
	assert.Equal(t, accepted.RunID, snap.RunID)
	assert.LessOrEqual(t, snap.Completed, snap.Total)

	close(v.release)
	require.Eventually(t, func() bool { return !o.Snapshot().Running }, 2*time.Second, 5*time.Millisecond)

	w = do(t, s, http.MethodGet, "/last-summary")
	require.Equal(t, http.StatusOK, w.Code)
	var summary pipeline.Summary
	decode(t, w, &summary)
	assert.Equal(t, 3, summary.Ingested)
	assert.Equal(t, 1, summary.FlaggedIssues)
	assert.Equal(t, accepted.RunID, summary.RunID)
}

func TestIngest_WaitReturnsSummary(t *testing.T) {
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, &fakeReader{})

	w := do(t, s, http.MethodGet, "/ingest?wait=true")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, schemas.Validate(schemas.RunSummary, w.Body.String()))

	var summary map[string]any
	decode(t, w, &summary)
	assert.EqualValues(t, 3, summary["ingested"])
	assert.EqualValues(t, 1, summary["flagged_issues"])
	assert.Equal(t, "Hantel", summary["example_improved_title"])
	assert.Equal(t, "prompt 1", summary["example_prompt"])
}

func TestIngest_WaitSurvivesClientDisconnect(t *testing.T) {
	v := &gatedValidator{release: make(chan struct{})}
	store := &replaceStore{}
	o := pipeline.NewOrchestrator(staticSource(testFeed), v, store, pipeline.Options{Workers: 2})
	s := newTestServer(t, o, &fakeReader{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/ingest?wait=true", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Handler().ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool { return o.Snapshot().Total == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	close(v.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("synchronous ingest did not return")
	}
	assert.Equal(t, http.StatusOK, w.Code)

	summary := o.LastSummary()
	require.NotNil(t, summary)
	assert.Empty(t, summary.Error)
	assert.Equal(t, 3, summary.Ingested)
	store.mu.Lock()
	assert.Len(t, store.rows, 3)
	store.mu.Unlock()
}

func TestIngest_WaitReportsFetchFailure(t *testing.T) {
	o := pipeline.NewOrchestrator(staticSource(nil), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, &fakeReader{})

	w := do(t, s, http.MethodGet, "/ingest?wait=true")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp map[string]string
	decode(t, w, &resp)
	assert.Equal(t, "feed unreachable", resp["error"])

	w = do(t, s, http.MethodGet, "/last-summary")
	require.Equal(t, http.StatusOK, w.Code)
	var summary pipeline.Summary
	decode(t, w, &summary)
	assert.Equal(t, "feed unreachable", summary.Error)
}

func TestIngest_BadWaitParam(t *testing.T) {
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, &fakeReader{})

	w := do(t, s, http.MethodGet, "/ingest?wait=maybe")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, o.Snapshot().Running)
}

func TestLastSummary_NotFoundBeforeFirstRun(t *testing.T) {
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, &fakeReader{})

	w := do(t, s, http.MethodGet, "/last-summary")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func productsFixture() []db.Product {
	title := "Hantel"
	return []db.Product{
		{ArticleID: "1", ValidationResult: db.ResultOK, ImprovedTitle: &title},
		{ArticleID: "2", ValidationResult: db.ResultIssue},
		{ArticleID: "3", ValidationResult: db.ResultIssue},
		{ArticleID: "4", ValidationResult: db.ResultOK},
	}
}

func TestListProducts(t *testing.T) {
	reader := &fakeReader{products: productsFixture()}
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, reader)

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantTotal int
		wantIDs   []string
	}{
		{"defaults", "/products", http.StatusOK, 4, []string{"1", "2", "3", "4"}},
		{"issues only", "/products?has_issues=true", http.StatusOK, 2, []string{"2", "3"}},
		{"explicit false lists all", "/products?has_issues=false", http.StatusOK, 4, []string{"1", "2", "3", "4"}},
		{"paged", "/products?page=2&size=3", http.StatusOK, 4, []string{"4"}},
		{"past the end", "/products?page=5&size=3", http.StatusOK, 4, []string{}},
		{"size too large", "/products?size=501", http.StatusBadRequest, 0, nil},
		{"size zero", "/products?size=0", http.StatusBadRequest, 0, nil},
		{"page zero", "/products?page=0", http.StatusBadRequest, 0, nil},
		{"bad bool", "/products?has_issues=perhaps", http.StatusBadRequest, 0, nil},
		{"bad int", "/products?page=two", http.StatusBadRequest, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodGet, tt.target)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			var page db.ProductPage
			decode(t, w, &page)
			assert.Equal(t, tt.wantTotal, page.Total)
			ids := []string{}
			for _, p := range page.Items {
				ids = append(ids, p.ArticleID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestListProducts_DefaultPageSize(t *testing.T) {
	reader := &fakeReader{}
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, reader)

	w := do(t, s, http.MethodGet, "/products")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)
	require.Len(t, reader.filters, 1)
	assert.Equal(t, db.ProductFilter{Page: 1, Size: db.DefaultPageSize}, reader.filters[0])
}

func TestSummaryEndpoint(t *testing.T) {
	reader := &fakeReader{products: productsFixture()}
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, reader)

	w := do(t, s, http.MethodGet, "/summary")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"number_of_products":4,"number_flagged_with_issues":2,"example_improved_title":"Hantel"}`, w.Body.String())

	reader.err = errors.New("db down")
	w = do(t, s, http.MethodGet, "/summary")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRunsEndpoints(t *testing.T) {
	id := uuid.New()
	reader := &fakeReader{runs: []db.Run{
		{ID: id, Status: db.RunStatusSucceeded, Ingested: 3},
		{ID: uuid.New(), Status: db.RunStatusFailed},
	}}
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, reader)

	w := do(t, s, http.MethodGet, "/runs?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs  []db.Run `json:"runs"`
		Count int      `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Runs[0].ID)

	w = do(t, s, http.MethodGet, "/runs?limit=1000")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/runs/"+id.String())
	require.Equal(t, http.StatusOK, w.Code)
	var run db.Run
	decode(t, w, &run)
	assert.Equal(t, 3, run.Ingested)

	w = do(t, s, http.MethodGet, "/runs/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/runs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, &fakeReader{})

	w := do(t, s, http.MethodOptions, "/ingest")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func rateLimitedServer(t *testing.T, o *pipeline.Orchestrator, triggerBurst int) *Server {
	t.Helper()
	cfg := ratelimit.DefaultConfig()
	cfg.Trigger = ratelimit.Rule{Every: time.Hour, Burst: triggerBurst}
	cfg.Read = ratelimit.Rule{Every: time.Hour, Burst: 2}
	return New(Config{RateLimit: &cfg}, o, &fakeReader{})
}

func TestRateLimitedIngest(t *testing.T) {
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := rateLimitedServer(t, o, 1)

	w := do(t, s, http.MethodGet, "/ingest?wait=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do(t, s, http.MethodPost, "/ingest")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.EqualValues(t, 3600, body["retry_after"])
}

func TestRateLimit_ConflictingTriggersAreRefunded(t *testing.T) {
	v := &gatedValidator{release: make(chan struct{})}
	o := pipeline.NewOrchestrator(staticSource(testFeed), v, &replaceStore{}, pipeline.Options{Workers: 2})
	s := rateLimitedServer(t, o, 2)

	w := do(t, s, http.MethodPost, "/ingest")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	// Hammering the gate while a run is active never reaches 429.
	for i := 0; i < 5; i++ {
		w = do(t, s, http.MethodPost, "/ingest")
		require.Equal(t, http.StatusConflict, w.Code, "attempt %d", i+1)
	}

	close(v.release)
	require.Eventually(t, func() bool { return !o.Snapshot().Running }, 5*time.Second, 10*time.Millisecond)

	w = do(t, s, http.MethodPost, "/ingest")
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return !o.Snapshot().Running }, 5*time.Second, 10*time.Millisecond)

	w = do(t, s, http.MethodPost, "/ingest")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimit_ClassesAreIndependent(t *testing.T) {
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := rateLimitedServer(t, o, 1)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/progress").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/progress").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/last-summary").Code)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"trigger has its own budget", http.MethodGet, "/ingest?wait=true", http.StatusOK},
		{"health is exempt", http.MethodGet, "/health", http.StatusOK},
		{"preflight is exempt", http.MethodOptions, "/progress", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, tt.method, tt.target)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func readEvents(t *testing.T, resp *http.Response) []string {
	t.Helper()
	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
			if name == "complete" {
				break
			}
		}
	}
	return names
}

func TestProgressStream_IdleCompletesImmediately(t *testing.T) {
	o := pipeline.NewOrchestrator(staticSource(testFeed), &gatedValidator{}, &replaceStore{}, pipeline.Options{})
	s := newTestServer(t, o, &fakeReader{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/progress/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, []string{"snapshot", "complete"}, readEvents(t, resp))
}

func TestProgressStream_FollowsRun(t *testing.T) {
	v := &gatedValidator{release: make(chan struct{})}
	o := pipeline.NewOrchestrator(staticSource(testFeed), v, &replaceStore{}, pipeline.Options{Workers: 1})
	s := newTestServer(t, o, &fakeReader{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/progress/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	close(v.release)
	events := readEvents(t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "snapshot", events[0])
	assert.Equal(t, "complete", events[len(events)-1])
	assert.False(t, o.Snapshot().Running)
}
