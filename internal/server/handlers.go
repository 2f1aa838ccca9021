package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quantpilot/governor/internal/domain"
	"github.com/quantpilot/governor/internal/modules/thresholds"
	"github.com/quantpilot/governor/internal/modules/versions"
	"github.com/quantpilot/governor/internal/scheduler"
)

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoActiveVersion):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrStateConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidParams):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// account resolves the account a request addresses, defaulting to the
// configured account.
func (s *Server) account(r *http.Request) string {
	if a := r.URL.Query().Get("account"); a != "" {
		return a
	}
	return s.cfg.Account
}

// keyFromQuery builds a key from indicator/symbol/timeframe query params.
func keyFromQuery(r *http.Request) domain.Key {
	q := r.URL.Query()
	return domain.Key{
		Indicator: q.Get("indicator"),
		Symbol:    q.Get("symbol"),
		Timeframe: q.Get("timeframe"),
	}
}

func limitFromQuery(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// handleListStatus returns the latest snapshot per symbol.
func (s *Server) handleListStatus(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.statusSvc.Snapshots().ListCurrent(s.account(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	snap, err := s.statusSvc.Snapshots().Current(s.account(r), symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if snap == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "symbol never evaluated"})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	elig, err := s.statusSvc.ReenableEligibility(s.account(r), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, elig)
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Actor == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor is required"})
		return
	}

	if err := s.reviewSvc.Reactivate(s.account(r), chi.URLParam(r, "symbol"), body.Actor); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusActive)})
}

func (s *Server) handleActiveVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.Active(keyFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleVersionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.History(keyFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Indicator string          `json:"indicator"`
		Symbol    string          `json:"symbol"`
		Timeframe string          `json:"timeframe"`
		Params    versions.Params `json:"params"`
		Actor     string          `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	key := domain.Key{Indicator: body.Indicator, Symbol: body.Symbol, Timeframe: body.Timeframe}
	v, err := s.store.Bootstrap(key, body.Params, body.Actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleChangeLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ChangeLog(keyFromQuery(r), limitFromQuery(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePendingRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.reviewSvc.Pending(limitFromQuery(r, 100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.reviewSvc.Run(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// reviewerBody reads the {reviewer} payload shared by approve and reject.
func (s *Server) reviewerBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		Reviewer string `json:"reviewer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reviewer == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reviewer is required"})
		return "", false
	}
	return body.Reviewer, true
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := s.reviewerBody(w, r)
	if !ok {
		return
	}
	if err := s.reviewSvc.Approve(chi.URLParam(r, "id"), reviewer); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.RunApproved)})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := s.reviewerBody(w, r)
	if !ok {
		return
	}
	if err := s.reviewSvc.Reject(chi.URLParam(r, "id"), reviewer); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.RunRejected)})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Actor == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor is required"})
		return
	}

	result, err := s.reviewSvc.Apply(chi.URLParam(r, "id"), body.Actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Indicator string `json:"indicator"`
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
		VersionID int64  `json:"version_id"`
		Actor     string `json:"actor"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.VersionID == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "version_id is required"})
		return
	}

	key := domain.Key{Indicator: body.Indicator, Symbol: body.Symbol, Timeframe: body.Timeframe}
	result, err := s.reviewSvc.Rollback(key, body.VersionID, body.Actor, body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.thresholds.Get(s.account(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	var cfg thresholds.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if cfg.Account == "" {
		cfg.Account = s.account(r)
	}

	if err := s.thresholds.Upsert(cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

// handleTriggerJob runs a registered job asynchronously. The getter is
// evaluated per request because jobs are registered after server creation.
func (s *Server) handleTriggerJob(get func() scheduler.Job) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := get()
		if job == nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "job not registered"})
			return
		}

		go func() {
			if err := job.Run(); err != nil {
				s.log.Error().Err(err).Str("job", job.Name()).Msg("Triggered job failed")
			}
		}()
		s.writeJSON(w, http.StatusAccepted, map[string]string{"job": job.Name(), "status": "started"})
	}
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	recent, err := s.outbox.Recent(limitFromQuery(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recent)
}
