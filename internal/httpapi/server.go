// Package httpapi is the daemon's local control API: a small HTTP surface
// on loopback for inspecting engine status and triggering syncs. The
// smsyncctl binary is its only intended client.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/finly/smsync/internal/lookback"
	"github.com/finly/smsync/internal/realtime"
	"github.com/finly/smsync/internal/scan"
	"github.com/finly/smsync/internal/state"
	"github.com/finly/smsync/internal/status"
	"github.com/finly/smsync/internal/syncer"
)

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	State        string `json:"state"`
	Subscribers  int    `json:"subscribers"`
	Watermark    int64  `json:"watermark"`
	ImportsTotal int    `json:"imports_total"`
}

// SyncRequest is the body of POST /v1/sync.
type SyncRequest struct {
	Mode string `json:"mode"`
}

// SyncResponse is the body of a successful POST /v1/sync.
type SyncResponse struct {
	Imported int `json:"imported"`
}

// Import is one journal row in GET /v1/imports.
type Import struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	TxnType     string  `json:"transaction_type"`
	RefID       string  `json:"ref_id"`
	Source      string  `json:"source"`
	MessageTS   int64   `json:"message_ts"`
	CreatedAt   int64   `json:"created_at"`
}

const (
	defaultImportLimit = 20
	maxImportLimit     = 200
)

// Server serves the control API.
type Server struct {
	userID   string
	syncer   *syncer.Syncer
	machine  *status.Machine
	listener *realtime.Listener
	db       *state.DB
	logger   *zap.Logger

	httpServer *http.Server
	ln         net.Listener
}

// NewServer creates a control API server bound to addr.
func NewServer(addr, userID string, sy *syncer.Syncer, m *status.Machine, l *realtime.Listener, db *state.DB, logger *zap.Logger) *Server {
	s := &Server{
		userID:   userID,
		syncer:   sy,
		machine:  m,
		listener: l,
		db:       db,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/imports", s.handleImports)
		r.Post("/sync", s.handleSync)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // a sync request blocks for the whole scan
	}
	return s
}

// Start binds the listen address. Serving runs on a background goroutine;
// bind errors surface here so the daemon fails fast on a busy port.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("control API listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control API server", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, useful when Addr was ":0".
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.httpServer.Addr
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("control API stopping")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	watermark, err := s.db.Watermark()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	total, err := s.db.CountImports(s.userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		State:        string(s.machine.Current()),
		Subscribers:  s.listener.Subscribers(),
		Watermark:    watermark,
		ImportsTotal: total,
	})
}

func (s *Server) handleImports(w http.ResponseWriter, r *http.Request) {
	limit := defaultImportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = min(n, maxImportLimit)
	}

	recs, err := s.db.RecentImports(s.userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]Import, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Import{
			ID:          rec.ID,
			Amount:      rec.Amount,
			Category:    rec.Category,
			Description: rec.Description,
			TxnType:     rec.TxnType,
			RefID:       rec.RefID,
			Source:      rec.Source,
			MessageTS:   rec.MessageTS,
			CreatedAt:   rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode := lookback.Mode(req.Mode)
	if !lookback.Valid(mode) {
		writeError(w, http.StatusBadRequest, errInvalidMode)
		return
	}

	n, err := s.syncer.SyncTransactions(r.Context(), s.userID, mode, scan.Options{})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Imported: n})
}

type apiError struct{ msg string }

func (e apiError) Error() string { return e.msg }

var (
	errInvalidLimit = apiError{"limit must be a positive integer"}
	errInvalidMode  = apiError{"mode must be one of signup, login, manual, live"}
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
