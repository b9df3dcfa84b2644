package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/feed-validator/internal/db"
	"github.com/jonathan/feed-validator/internal/pipeline"
)

// IngestResponse is returned when a background run is accepted
type IngestResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// handleIngest starts a background ingestion run
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	runID, err := s.ingestor.Start(r.Context())
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	zap.L().Info("ingestion accepted", zap.String("run_id", runID))
	s.jsonResponse(w, http.StatusAccepted, IngestResponse{RunID: runID, Status: "started"})
}

// handleIngestGet is the browser convenience: ?wait=true runs synchronously
// and returns the summary, otherwise it behaves like POST. A client that
// disconnects while waiting does not stop the run.
func (s *Server) handleIngestGet(w http.ResponseWriter, r *http.Request) {
	wait, err := boolParam(r, "wait")
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	if !wait {
		s.handleIngest(w, r)
		return
	}

	summary, err := s.ingestor.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

// handleProgress returns the current run state
func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.ingestor.Snapshot())
}

// handleProgressStream streams progress events until the active run ends.
// With no active run it sends the snapshot and completes immediately.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, cancel := s.ingestor.Subscribe()
	defer cancel()

	snap := s.ingestor.Snapshot()
	if err := sse.WriteEvent("snapshot", snap); err != nil {
		return
	}
	if !snap.Running {
		sse.WriteComplete(snap.RunID, snapshotStatus(snap))
		return
	}

	ticker := time.NewTicker(s.streamPoll)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				sse.WriteError("progress subscription closed")
				return
			}
			if err := sse.WriteEvent(ev.Type, ev); err != nil {
				return
			}
			if ev.Terminal() {
				sse.WriteComplete(ev.RunID, ev.Type)
				return
			}
		case <-ticker.C:
			// A slow reader may have missed the terminal event.
			if snap := s.ingestor.Snapshot(); !snap.Running {
				sse.WriteComplete(snap.RunID, snapshotStatus(snap))
				return
			}
		}
	}
}

func snapshotStatus(snap pipeline.Snapshot) string {
	switch {
	case snap.LastSummary == nil:
		return "idle"
	case snap.LastSummary.Failed():
		return pipeline.EventFailed
	default:
		return pipeline.EventCompleted
	}
}

// handleLastSummary returns the most recent run summary
func (s *Server) handleLastSummary(w http.ResponseWriter, _ *http.Request) {
	summary := s.ingestor.LastSummary()
	if summary == nil {
		err := &ErrNotFound{Resource: "summary"}
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

// handleSummary describes the persisted dataset
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.ProductSummary(r.Context())
	if err != nil {
		zap.L().Error("failed to load product summary", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load summary")
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

// handleListProducts returns one page of products, optionally only those with issues
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := productFilter(r)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	page, err := s.store.ListProducts(r.Context(), filter)
	if err != nil {
		zap.L().Error("failed to list products", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list products")
		return
	}
	if page.Items == nil {
		page.Items = []db.Product{}
	}
	s.jsonResponse(w, http.StatusOK, page)
}

func productFilter(r *http.Request) (db.ProductFilter, error) {
	hasIssues, err := boolParam(r, "has_issues")
	if err != nil {
		return db.ProductFilter{}, err
	}
	page, err := intParam(r, "page", 1)
	if err != nil {
		return db.ProductFilter{}, err
	}
	size, err := intParam(r, "size", db.DefaultPageSize)
	if err != nil {
		return db.ProductFilter{}, err
	}
	if page < 1 {
		return db.ProductFilter{}, &ErrValidation{Field: "page", Message: "must be at least 1"}
	}
	if size < 1 || size > db.MaxPageSize {
		return db.ProductFilter{}, &ErrValidation{Field: "size", Message: "must be between 1 and " + strconv.Itoa(db.MaxPageSize)}
	}
	return db.ProductFilter{HasIssues: hasIssues, Page: page, Size: size}, nil
}

// handleListRuns returns the most recent ingestion runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", db.DefaultRunLimit)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	if limit < 1 || limit > 100 {
		err := &ErrValidation{Field: "limit", Message: "must be between 1 and 100"}
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		zap.L().Error("failed to list runs", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns a single recorded run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		zap.L().Error("failed to get run", zap.String("run_id", id.String()), zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if run == nil {
		err := &ErrNotFound{Resource: "run"}
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ErrValidation{Field: name, Message: "must be a boolean"}
	}
	return b, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ErrValidation{Field: name, Message: "must be an integer"}
	}
	return n, nil
}
