// Package api exposes the audit log and rollback workflow over HTTP for the
// web UI.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"remedy-audit/internal/domain"
	"remedy-audit/internal/service/governance"
	"remedy-audit/internal/service/migration"
	"remedy-audit/internal/service/rollback"
)

// AuditService is the read side of the audit log.
type AuditService interface {
	Query(ctx context.Context, q governance.AuditQuery) ([]domain.AuditEntry, error)
	Get(ctx context.Context, id string) (*domain.AuditEntry, error)
	History(ctx context.Context, id string) ([]domain.StatusEvent, error)
	RecordFeedback(ctx context.Context, id, value string) (*domain.AuditEntry, error)
	ConfidenceMisfires(ctx context.Context, threshold float64) ([]domain.AuditEntry, error)
}

// RollbackService previews and executes rollbacks.
type RollbackService interface {
	Preview(ctx context.Context, id string) (*rollback.Preview, error)
	ConfirmAndExecute(ctx context.Context, id string, plan *domain.RollbackPlan, conf domain.Confirmation) (*domain.RollbackResult, error)
}

// Handler serves the /v1/audit API.
type Handler struct {
	audit            AuditService
	rollbacks        RollbackService
	misfireThreshold float64
	now              func() time.Time
	logger           *slog.Logger
}

// NewHandler creates a Handler. misfireThreshold is the default confidence
// used by the misfires endpoint.
func NewHandler(audit AuditService, rollbacks RollbackService, misfireThreshold float64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		audit:            audit,
		rollbacks:        rollbacks,
		misfireThreshold: misfireThreshold,
		now:              time.Now,
		logger:           logger,
	}
}

// Routes mounts the audit endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/audit", func(r chi.Router) {
		r.Get("/", h.listAudit)
		r.Get("/misfires", h.listMisfires)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getAudit)
			r.Get("/preview", h.previewRollback)
			r.Post("/rollback", h.executeRollback)
			r.Get("/export", h.exportRollback)
			r.Put("/feedback", h.setFeedback)
		})
	})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	q, err := auditQueryFromParams(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.audit.Query(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": auditEntriesToAPI(entries),
		"count":   len(entries),
	})
}

func (h *Handler) listMisfires(w http.ResponseWriter, r *http.Request) {
	threshold := h.misfireThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, r, domain.ErrValidation("invalid threshold %q", v))
			return
		}
		threshold = f
	}
	entries, err := h.audit.ConfidenceMisfires(r.Context(), threshold)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold": threshold,
		"entries":   auditEntriesToAPI(entries),
		"count":     len(entries),
	})
}

func (h *Handler) getAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.audit.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	history, err := h.audit.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entry":   auditEntryToAPI(*entry),
		"history": statusEventsToAPI(history),
	})
}

func (h *Handler) previewRollback(w http.ResponseWriter, r *http.Request) {
	p, err := h.rollbacks.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := previewToAPI(p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type rollbackRequest struct {
	Plan                json.RawMessage `json:"plan"`
	Operator            string          `json:"operator"`
	AcknowledgeHighRisk bool            `json:"acknowledge_high_risk"`
}

func (h *Handler) executeRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req rollbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if len(req.Plan) == 0 {
		h.writeError(w, r, domain.ErrValidation("plan is required: confirm the plan returned by preview"))
		return
	}
	plan, err := migration.DecodePlan(req.Plan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.rollbacks.ConfirmAndExecute(r.Context(), id, plan, domain.Confirmation{
		Operator:            req.Operator,
		AcknowledgeHighRisk: req.AcknowledgeHighRisk,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entry":   auditEntryToAPI(*res.Entry),
		"summary": impactSummaryToAPI(res.Summary),
	})
}

func (h *Handler) exportRollback(w http.ResponseWriter, r *http.Request) {
	p, err := h.rollbacks.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	name := migration.ExportFileName(*p.Entry)
	if r.URL.Query().Get("format") == "json" {
		data, err := migration.EncodePlan(*p.Plan)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", strings.TrimSuffix(name, ".sql")+".json"))
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/sql; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write([]byte(migration.Export(*p.Entry, *p.Plan, h.now())))
}

func (h *Handler) setFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	entry, err := h.audit.RecordFeedback(r.Context(), chi.URLParam(r, "id"), req.Feedback)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": auditEntryToAPI(*entry)})
}
