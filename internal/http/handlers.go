package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sanskar85/whatsapp-api/internal/core"
	"github.com/sanskar85/whatsapp-api/internal/metrics"
	"github.com/sanskar85/whatsapp-api/internal/resolver"
)

// CampaignStore is the slice of the campaign store the API needs.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c core.Campaign, targets []resolver.Target) (string, error)
	Pause(ctx context.Context, owner, campaignID string) error
	Resume(ctx context.Context, owner, campaignID string) error
	Delete(ctx context.Context, owner, campaignID string) error
	Report(ctx context.Context, owner string) ([]core.CampaignReport, error)
	ReportRows(ctx context.Context, owner, campaignID string) ([]core.ReportRow, error)
	Ping(ctx context.Context) error
}

// RecipientResolver expands a recipient descriptor into targets.
type RecipientResolver interface {
	Resolve(ctx context.Context, tenant string, src resolver.Source) ([]resolver.Target, int, error)
}

type Server struct {
	Store    CampaignStore
	Resolver RecipientResolver
	Log      zerolog.Logger
}

func NewServer(store CampaignStore, res RecipientResolver) *Server {
	return &Server{Store: store, Resolver: res, Log: zerolog.Nop()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(instrument)

	s.mountHealth(r)
	s.mountMetrics(r)

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", s.createCampaign)
		r.Get("/", s.listReports)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/report", s.campaignReport)
			r.Post("/pause", s.pauseCampaign)
			r.Post("/resume", s.resumeCampaign)
			r.Delete("/", s.deleteCampaign)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// internalErr logs the real cause and hands the client an opaque code:
// driver and SQL details never leave the process.
func (s *Server) internalErr(w http.ResponseWriter, err error, msg string) {
	s.Log.Error().Err(err).Msg(msg)
	writeErr(w, http.StatusInternalServerError, "internal_error")
}

func tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	t := r.Header.Get("X-Client-ID")
	if t == "" {
		writeErr(w, http.StatusBadRequest, "missing_X-Client-ID")
		return "", false
	}
	return t, true
}

type submitRequest struct {
	CampaignName       string   `json:"campaign_name"`
	Type               string   `json:"type"`
	Numbers            []string `json:"numbers"`
	CSVFile            string   `json:"csv_file"`
	GroupIDs           []string `json:"group_ids"`
	LabelIDs           []string `json:"label_ids"`
	Message            string   `json:"message"`
	Variables          []string `json:"variables"`
	Attachments        []string `json:"attachments"`
	SharedContactCards []string `json:"shared_contact_cards"`
	MinDelay           *int     `json:"min_delay"`
	MaxDelay           *int     `json:"max_delay"`
	BatchSize          *int     `json:"batch_size"`
	BatchDelay         *int     `json:"batch_delay"`
	StartTime          string   `json:"start_time"`
	EndTime            string   `json:"end_time"`
}

func orDefault(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	owner, ok := tenant(w, r)
	if !ok {
		return
	}
	var in submitRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_body")
		return
	}

	c := core.Campaign{
		OwnerID:       owner,
		Name:          in.CampaignName,
		SourceType:    core.SourceType(in.Type),
		Message:       in.Message,
		Variables:     in.Variables,
		Attachments:   in.Attachments,
		ContactCards:  in.SharedContactCards,
		MinDelaySec:   orDefault(in.MinDelay, core.DefaultMinDelaySec),
		MaxDelaySec:   orDefault(in.MaxDelay, core.DefaultMaxDelaySec),
		BatchSize:     orDefault(in.BatchSize, core.DefaultBatchSize),
		BatchDelaySec: orDefault(in.BatchDelay, core.DefaultBatchDelaySec),
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
	}
	if c.StartTime == "" {
		c.StartTime = core.DefaultStartTime
	}
	if c.EndTime == "" {
		c.EndTime = core.DefaultEndTime
	}

	if err := c.ValidateDefinition(); err != nil {
		metrics.CampaignSubmissions.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid_fields", "detail": err.Error(),
		})
		return
	}

	targets, skipped, err := s.Resolver.Resolve(r.Context(), owner, resolver.Source{
		Type:     c.SourceType,
		Numbers:  in.Numbers,
		CSVID:    in.CSVFile,
		GroupIDs: in.GroupIDs,
		LabelIDs: in.LabelIDs,
	})
	if err != nil {
		metrics.CampaignSubmissions.WithLabelValues("resolution_failed").Inc()
		switch {
		case errors.Is(err, core.ErrEmptyRecipients):
			writeErr(w, http.StatusBadRequest, "no_recipients")
		case errors.Is(err, core.ErrBusinessAccountRequired):
			writeErr(w, http.StatusForbidden, "business_account_required")
		case errors.Is(err, core.ErrSourceUnavailable):
			writeErr(w, http.StatusServiceUnavailable, "source_unavailable")
		case errors.Is(err, core.ErrInvalidFields):
			writeErr(w, http.StatusBadRequest, "invalid_fields")
		default:
			s.internalErr(w, err, "resolve recipients")
		}
		return
	}

	id, err := s.Store.CreateCampaign(r.Context(), c, targets)
	if err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			metrics.CampaignSubmissions.WithLabelValues("already_exists").Inc()
			writeErr(w, http.StatusConflict, "already_exists")
			return
		}
		metrics.CampaignSubmissions.WithLabelValues("error").Inc()
		s.internalErr(w, err, "create campaign")
		return
	}

	metrics.CampaignSubmissions.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         id,
		"recipients": len(targets),
		"skipped":    skipped,
	})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	owner, ok := tenant(w, r)
	if !ok {
		return
	}
	report, err := s.Store.Report(r.Context(), owner)
	if err != nil {
		s.internalErr(w, err, "list reports")
		return
	}
	if report == nil {
		report = []core.CampaignReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func campaignID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeErr(w, http.StatusNotFound, "not_found")
		return "", false
	}
	return id, true
}

func (s *Server) campaignReport(w http.ResponseWriter, r *http.Request) {
	owner, ok := tenant(w, r)
	if !ok {
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	rows, err := s.Store.ReportRows(r.Context(), owner, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "not_found")
			return
		}
		s.internalErr(w, err, "campaign report")
		return
	}
	if rows == nil {
		rows = []core.ReportRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": rows})
}

func (s *Server) pauseCampaign(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.Store.Pause)
}

func (s *Server) resumeCampaign(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.Store.Resume)
}

func (s *Server) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.Store.Delete)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) error) {
	owner, ok := tenant(w, r)
	if !ok {
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), owner, id); err != nil {
		switch {
		case errors.Is(err, core.ErrNotFound):
			writeErr(w, http.StatusNotFound, "not_found")
		case errors.Is(err, core.ErrInvalidTransition):
			writeErr(w, http.StatusConflict, "invalid_transition")
		default:
			s.internalErr(w, err, "campaign transition")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
