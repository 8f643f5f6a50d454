package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jmrettig/tapledger/internal/tapledger/chain"
	"github.com/jmrettig/tapledger/internal/tapledger/service"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
	"github.com/jmrettig/tapledger/internal/tapledger/types"
)

type Dependencies struct {
	Logger            *zap.Logger
	Addr              string
	IngestService     *service.IngestService
	HeartbeatService  *service.HeartbeatService
	CorrectionService *service.CorrectionService
	Attendance        store.AttendanceStore
	Ledger            store.LedgerStore
	Hasher            chain.Hasher
}

type Server struct {
	httpServer  *http.Server
	logger      *zap.Logger
	mux         *http.ServeMux
	ingest      *service.IngestService
	heartbeats  *service.HeartbeatService
	corrections *service.CorrectionService
	attendance  store.AttendanceStore
	ledger      store.LedgerStore
	hasher      chain.Hasher
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:      d.Logger,
		mux:         mux,
		ingest:      d.IngestService,
		heartbeats:  d.HeartbeatService,
		corrections: d.CorrectionService,
		attendance:  d.Attendance,
		ledger:      d.Ledger,
		hasher:      d.Hasher,
	}

	mux.HandleFunc("POST /v1/tap", s.handleTap)
	mux.HandleFunc("POST /v1/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /v1/corrections", s.handleCorrectionRequest)
	mux.HandleFunc("POST /v1/corrections/{id}/approve", s.handleCorrectionApprove)
	mux.HandleFunc("POST /v1/corrections/{id}/reject", s.handleCorrectionReject)
	mux.HandleFunc("GET /v1/attendance", s.handleAttendanceList)
	mux.HandleFunc("GET /v1/attendance/{id}/effective_time", s.handleEffectiveTime)
	mux.HandleFunc("GET /v1/attendance/{id}/corrections", s.handleCorrectionList)
	mux.HandleFunc("GET /v1/ledger/verify", s.handleLedgerVerify)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Device edge ──────────────────────────────────────────────────────────────

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	var req types.TapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.ingest.Record(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidReaderID):
			writeError(w, http.StatusBadRequest, "invalid_reader_id", err.Error())
		case errors.Is(err, service.ErrInvalidCardUID):
			writeError(w, http.StatusBadRequest, "invalid_card_uid", err.Error())
		case errors.Is(err, service.ErrInvalidEventKind):
			writeError(w, http.StatusBadRequest, "invalid_event_kind", err.Error())
		case errors.Is(err, service.ErrUnknownReader):
			// Unknown readers are blocked from the ledger.
			writeJSON(w, http.StatusForbidden, resp)
		default:
			s.logger.Error("tap error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req types.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.heartbeats.Record(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidReaderID) {
			writeError(w, http.StatusBadRequest, "invalid_reader_id", err.Error())
			return
		}
		s.logger.Error("heartbeat error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ── Corrections ──────────────────────────────────────────────────────────────

func (s *Server) handleCorrectionRequest(w http.ResponseWriter, r *http.Request) {
	var req types.CorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	correctedAt, err := time.Parse(time.RFC3339, req.CorrectedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_corrected_at", "corrected_at must be RFC3339")
		return
	}

	rec, err := s.corrections.Request(
		r.Context(),
		req.EventID,
		correctedAt,
		store.CorrectionReason(req.Reason),
		req.Justification,
		req.RequestedBy,
	)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJustificationTooShort):
			writeError(w, http.StatusBadRequest, "justification_too_short", err.Error())
		case errors.Is(err, service.ErrInvalidReason):
			writeError(w, http.StatusBadRequest, "invalid_reason", err.Error())
		case errors.Is(err, service.ErrMissingActor):
			writeError(w, http.StatusBadRequest, "missing_actor", err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "event_not_found", "attendance event does not exist")
		default:
			s.logger.Error("correction request error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toCorrectionView(rec))
}

func (s *Server) handleCorrectionApprove(w http.ResponseWriter, r *http.Request) {
	var req types.CorrectionDecision
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	rec, err := s.corrections.Approve(r.Context(), r.PathValue("id"), req.ActorID)
	if err != nil {
		s.writeDecisionError(w, err, "approve")
		return
	}
	writeJSON(w, http.StatusOK, toCorrectionView(rec))
}

func (s *Server) handleCorrectionReject(w http.ResponseWriter, r *http.Request) {
	var req types.CorrectionDecision
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	rec, err := s.corrections.Reject(r.Context(), r.PathValue("id"), req.ActorID, req.RejectionReason)
	if err != nil {
		s.writeDecisionError(w, err, "reject")
		return
	}
	writeJSON(w, http.StatusOK, toCorrectionView(rec))
}

func (s *Server) writeDecisionError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrMissingActor):
		writeError(w, http.StatusBadRequest, "missing_actor", err.Error())
	case errors.Is(err, service.ErrMissingRejectionReason):
		writeError(w, http.StatusBadRequest, "missing_rejection_reason", err.Error())
	case errors.Is(err, service.ErrSameActor):
		writeError(w, http.StatusForbidden, "same_actor", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "correction_not_found", "correction does not exist")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "correction is not pending")
	default:
		s.logger.Error("correction decision error", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func (s *Server) handleCorrectionList(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id", "event id must be an integer")
		return
	}

	recs, err := s.corrections.ListForEvent(r.Context(), eventID)
	if err != nil {
		s.logger.Error("correction list error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"corrections": toCorrectionViews(recs)})
}

// ── Query surface ────────────────────────────────────────────────────────────

func (s *Server) handleAttendanceList(w http.ResponseWriter, r *http.Request) {
	employeeID := r.URL.Query().Get("employee_id")
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "missing_employee_id", "employee_id is required")
		return
	}

	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
			return
		}
		to = t
	}

	recs, err := s.attendance.ListByEmployee(r.Context(), employeeID, from, to)
	if err != nil {
		s.logger.Error("attendance list error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	views := make([]attendanceView, len(recs))
	for i, rec := range recs {
		views[i] = toAttendanceView(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func (s *Server) handleEffectiveTime(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id", "event id must be an integer")
		return
	}

	effective, err := s.corrections.EffectiveTime(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event_not_found", "attendance event does not exist")
			return
		}
		s.logger.Error("effective time error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":       eventID,
		"effective_time": effective.UTC().Format(time.RFC3339),
	})
}

// handleLedgerVerify runs a read-only chain audit over a sequence range.
// Defaults to the whole ledger when no bounds are given.
func (s *Server) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	from := int64(1)
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be a positive integer")
			return
		}
		from = n
	}

	head, _, err := s.ledger.Head(ctx)
	if err != nil {
		s.logger.Error("ledger head error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	to := head
	if v := r.URL.Query().Get("to"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < from {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be an integer >= from")
			return
		}
		to = n
	}

	rows, err := s.ledger.ListRange(ctx, from, to)
	if err != nil {
		s.logger.Error("ledger range error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	chainRows := make([]chain.Row, len(rows))
	for i, row := range rows {
		chainRows[i] = chain.Row{
			SequenceID: row.SequenceID,
			ReaderID:   row.ReaderID,
			CardUID:    row.CardUID,
			EventKind:  string(row.EventKind),
			OccurredAt: row.OccurredAt,
			PrevHash:   row.PrevHash,
			SelfHash:   row.SelfHash,
		}
	}

	report := chain.Validate(s.hasher, chainRows)
	writeJSON(w, http.StatusOK, map[string]any{
		"from":       from,
		"to":         to,
		"row_count":  len(rows),
		"validation": report,
	})
}
