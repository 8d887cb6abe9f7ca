package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"channelkeys/internal/domain"
	"channelkeys/internal/dto"
	"channelkeys/internal/invite"
	"channelkeys/internal/migration"
	obsmw "channelkeys/internal/observability/middleware"
	"channelkeys/internal/service"
	"channelkeys/internal/store"
	"channelkeys/internal/tenant"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tenants resolves a tenant id to its store handle.
type Tenants interface {
	Store(ctx context.Context, id string) (*store.Store, error)
}

type Deps struct {
	Tenants  Tenants
	Service  *service.Service
	Auth     func(http.Handler) http.Handler
	Tenancy  func(http.Handler) http.Handler
	Metrics  http.Handler
	Log      *slog.Logger
	MaxBatch int

	RateLimitPerMinute int
	CORSOrigins        []string
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.MaxBatch <= 0 {
		d.MaxBatch = migration.DefaultBatchSize
	}
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(obsmw.LogRequests(d.Log))
	r.Use(obsmw.WithMetrics)
	r.Use(chimw.Timeout(30 * time.Second))
	if d.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(d.RateLimitPerMinute, time.Minute))
	}
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics)

	r.Route("/v1/tenants/{tenant}", func(r chi.Router) {
		if d.Auth != nil {
			r.Use(d.Auth)
		}
		if d.Tenancy != nil {
			r.Use(d.Tenancy)
		}
		r.Use(h.withTenant)

		r.Get("/migration", h.migrationStatus)
		r.Get("/migration/batch", h.nextBatch)
		r.Post("/migration/batch", h.applyBatch)
		r.Get("/channels/{channel}/requests", h.pendingRequests)
		r.Post("/requests/{id}/fulfill", h.fulfillRequest)
		r.Post("/requests/{id}/reject", h.rejectRequest)
	})
	return r
}

type handlers struct {
	deps Deps
}

type storeKey struct{}

func (h *handlers) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "tenant")
		st, err := h.deps.Tenants.Store(r.Context(), id)
		if err != nil {
			h.fail(w, r, "open tenant store", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), storeKey{}, st)))
	})
}

func storeFrom(r *http.Request) *store.Store {
	st, _ := r.Context().Value(storeKey{}).(*store.Store)
	return st
}

func (h *handlers) migrationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := migration.GetStatus(r.Context(), storeFrom(r))
	if err != nil {
		h.fail(w, r, "migration status", err)
		return
	}
	writeJSON(w, http.StatusOK, statusDTO(status))
}

func (h *handlers) nextBatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := h.deps.MaxBatch
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, h.deps.MaxBatch)
	}
	var cursor uint64
	if v := q.Get("cursor"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = n
	}

	msgs, err := migration.NextBatch(r.Context(), storeFrom(r), limit, cursor)
	if err != nil {
		h.fail(w, r, "next migration batch", err)
		return
	}
	res := dto.MigrationBatchResponse{Messages: make([]dto.PendingMessage, 0, len(msgs)), NextCursor: cursor}
	for _, m := range msgs {
		res.Messages = append(res.Messages, dto.PendingMessage{ID: m.ID, ChannelID: m.ChannelID, Body: m.Body, CreatedAt: m.CreatedAt})
		res.NextCursor = m.ID
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) applyBatch(w http.ResponseWriter, r *http.Request) {
	var req dto.ApplyBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(req.Results) > h.deps.MaxBatch {
		http.Error(w, "batch too large", http.StatusRequestEntityTooLarge)
		return
	}
	results := make([]migration.Result, 0, len(req.Results))
	for _, res := range req.Results {
		results = append(results, migration.Result{ID: res.ID, Ciphertext: res.Ciphertext, KeyVersion: res.KeyVersion})
	}

	st := storeFrom(r)
	applied, err := migration.ApplyBatch(r.Context(), st, results)
	if err != nil {
		h.fail(w, r, "apply migration batch", err)
		return
	}
	status, err := migration.GetStatus(r.Context(), st)
	if err != nil {
		h.fail(w, r, "migration status", err)
		return
	}
	h.deps.Log.Info("migration batch applied",
		"tenant", st.Tenant,
		"applied", applied,
		"remaining", status.Remaining,
		"request_id", obsmw.RequestIDFromContext(r.Context()),
	)
	writeJSON(w, http.StatusOK, dto.ApplyBatchResponse{Applied: applied, Status: statusDTO(status)})
}

func (h *handlers) pendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.deps.Service.PendingRequests(r.Context(), storeFrom(r), chi.URLParam(r, "channel"))
	if err != nil {
		h.fail(w, r, "list key requests", err)
		return
	}
	out := make([]dto.KeyRequest, 0, len(reqs))
	for _, kr := range reqs {
		out = append(out, requestDTO(kr))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) fulfillRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return
	}
	var body dto.FulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.deps.Service.FulfillKeyRequest(r.Context(), storeFrom(r), id, body.Fulfiller, body.WrappedKey); err != nil {
		h.fail(w, r, "fulfill key request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) rejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return
	}
	if err := h.deps.Service.RejectKeyRequest(r.Context(), storeFrom(r), id); err != nil {
		h.fail(w, r, "reject key request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	h.deps.Log.Warn(op+" failed",
		"error", err,
		"status", status,
		"request_id", obsmw.RequestIDFromContext(r.Context()),
		"trace_id", obsmw.TraceIDFromContext(r.Context()),
	)
	http.Error(w, msg, status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tenant.ErrInvalidTenant),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, migration.ErrInvalidResult),
		errors.Is(err, invite.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrChannelNotFound),
		errors.Is(err, service.ErrRequestNotFound),
		errors.Is(err, service.ErrKeyNotFound),
		errors.Is(err, invite.ErrNotFound),
		errors.Is(err, store.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoAccess):
		return http.StatusForbidden
	case errors.Is(err, service.ErrStaleRequest),
		errors.Is(err, service.ErrAlreadyInitialized),
		errors.Is(err, invite.ErrAlreadyUsed),
		errors.Is(err, service.ErrNotEncrypted):
		return http.StatusConflict
	case errors.Is(err, invite.ErrExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrVersionConflict):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func statusDTO(s migration.Status) dto.MigrationStatusResponse {
	return dto.MigrationStatusResponse{Completed: s.Completed, LastCursor: s.LastCursor, Migrated: s.Migrated, Remaining: s.Remaining}
}

func requestDTO(kr domain.KeyRequest) dto.KeyRequest {
	return dto.KeyRequest{
		ID:                kr.ID.String(),
		ChannelID:         kr.ChannelID,
		RequesterIdentity: kr.RequesterIdentity,
		RequesterPubkey:   kr.RequesterPubkey,
		TargetIdentity:    kr.TargetIdentity,
		GroupID:           kr.GroupID,
		InviteCodeHash:    kr.InviteCodeHash,
		Status:            string(kr.Status),
		FulfilledBy:       kr.FulfilledBy,
		FulfilledAt:       kr.FulfilledAt,
		CreatedAt:         kr.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
