package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/fundsync/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// SyncResponse is the body of a manual sync. Result is present even when the
// sync failed part way.
type SyncResponse struct {
	Result *domain.SyncResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
	Kind   string             `json:"kind,omitempty"`
}

// handleReady reports whether the relational store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DB == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("database is not configured"))
		return
	}
	if err := s.cfg.DB.QuickCheck(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("Readiness check failed")
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleListRecords returns every record written from one source object.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source_object_key")
	if source == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("source_object_key is required"))
		return
	}

	records, err := s.cfg.Records.GetBySourceObject(r.Context(), source)
	if err != nil {
		s.log.Error().Err(err).Str("source_object_key", source).Msg("Failed to list records")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []domain.FundDataRecord{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"source_object_key": source,
		"count":             len(records),
		"records":           records,
	})
}

// handleGetRecord returns the record stored under one composite key.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	tradeDate, err := domain.ParseDate(chi.URLParam(r, "trade_date"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	key := domain.RecordKey{
		TradeDate: tradeDate,
		Stock:     chi.URLParam(r, "stock"),
		Ticker:    chi.URLParam(r, "ticker"),
		ColCode:   chi.URLParam(r, "col_code"),
	}

	record, err := s.cfg.Records.GetByKey(r.Context(), key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key.String()).Msg("Failed to get record")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if record == nil {
		s.writeError(w, http.StatusNotFound, errors.New("record not found"))
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

// handleSync synchronises one object and returns its SyncResult.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var ref domain.ObjectRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := ref.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.cfg.Syncer.SyncObject(r.Context(), ref)
	if err != nil {
		kind := domain.Classify(err)
		status := http.StatusUnprocessableEntity
		if kind == domain.KindTransient {
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, SyncResponse{Result: result, Error: err.Error(), Kind: string(kind)})
		return
	}

	s.writeJSON(w, http.StatusOK, SyncResponse{Result: result})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
