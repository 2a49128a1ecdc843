package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/pkg/controlplane"
	"github.com/northflare/postflow/pkg/queue"
	"github.com/northflare/postflow/pkg/scheduler"
)

// OpsHandler mounts the narrow operator API: open the global or a tenant
// publish breaker, read the global breaker's status, disable or re-enable
// a channel, force a scheduler tick, inspect queue depth. No endpoint
// closes a breaker; an opened breaker flag lapses after its TTL. Full CRUD over posts/channels/projects/users is a collaborator
// concern and is never mounted here.
type OpsHandler struct {
	store     *store.Store
	plane     *controlplane.Plane
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(st *store.Store, plane *controlplane.Plane, q *queue.Queue, sched *scheduler.Scheduler, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{store: st, plane: plane, queue: q, scheduler: sched, logger: logger}
}

// Routes mounts the operator API onto r. Channel actions are scoped under
// a tenant slug since channels live in that tenant's schema.
func (h *OpsHandler) Routes(r chi.Router) {
	r.Post("/tenants/{tenantSlug}/channels/{channelID}/disable", h.disableChannel)
	r.Post("/tenants/{tenantSlug}/channels/{channelID}/enable", h.enableChannel)
	r.Post("/breakers/global/open", h.openGlobalBreaker)
	r.Get("/breakers/global", h.globalBreakerStatus)
	r.Post("/breakers/tenants/{tenantID}/open", h.openTenantBreaker)
	r.Post("/scheduler/tick", h.forceSchedulerTick)
	r.Get("/queues/depth", h.queueDepth)
}

// withTenantConn resolves the {tenantSlug} path param and acquires a
// connection pinned to that tenant's schema. The caller must Release it.
func (h *OpsHandler) withTenantConn(w http.ResponseWriter, r *http.Request) (*pgxpool.Conn, bool) {
	slug := chi.URLParam(r, "tenantSlug")
	t, err := h.store.GetTenantBySlug(r.Context(), slug)
	if err != nil {
		RespondError(w, http.StatusNotFound, "unknown_tenant", err.Error())
		return nil, false
	}
	conn, err := h.store.WithTenant(r.Context(), t.Schema)
	if err != nil {
		h.logger.Error("ops: acquiring tenant connection", "tenant", slug, "error", err)
		RespondError(w, http.StatusInternalServerError, "tenant_unavailable", err.Error())
		return nil, false
	}
	return conn, true
}

func (h *OpsHandler) disableChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "channelID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_channel_id", err.Error())
		return
	}
	conn, ok := h.withTenantConn(w, r)
	if !ok {
		return
	}
	defer conn.Release()

	if err := store.DisableChannel(r.Context(), conn, id); err != nil {
		h.logger.Error("ops: disabling channel", "channel_id", id, "error", err)
		RespondError(w, http.StatusInternalServerError, "disable_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (h *OpsHandler) enableChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "channelID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_channel_id", err.Error())
		return
	}
	conn, ok := h.withTenantConn(w, r)
	if !ok {
		return
	}
	defer conn.Release()

	if err := store.EnableChannel(r.Context(), conn, id); err != nil {
		h.logger.Error("ops: enabling channel", "channel_id", id, "error", err)
		RespondError(w, http.StatusInternalServerError, "enable_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "enabled"})
}

type openBreakerRequest struct {
	TTLSeconds int    `json:"ttl_seconds"`
	Reason     string `json:"reason"`
}

func (h *OpsHandler) openGlobalBreaker(w http.ResponseWriter, r *http.Request) {
	var req openBreakerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if err := h.plane.OpenGlobalPublishBreaker(r.Context(), ttl, req.Reason); err != nil {
		RespondError(w, http.StatusInternalServerError, "open_breaker_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "open", "ttl": ttl.String()})
}

func (h *OpsHandler) globalBreakerStatus(w http.ResponseWriter, r *http.Request) {
	open := h.plane.IsGlobalPublishBreakerOpen(r.Context())
	Respond(w, http.StatusOK, map[string]bool{"open": open})
}

func (h *OpsHandler) openTenantBreaker(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_tenant_id", err.Error())
		return
	}
	var req openBreakerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if err := h.plane.OpenTenantPublishBreaker(r.Context(), tenantID, ttl); err != nil {
		RespondError(w, http.StatusInternalServerError, "open_breaker_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "open", "ttl": ttl.String()})
}

func (h *OpsHandler) forceSchedulerTick(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "scheduler not wired into this process")
		return
	}
	if err := h.scheduler.RunOnce(r.Context()); err != nil {
		h.logger.Error("ops: forcing scheduler tick", "error", err)
		RespondError(w, http.StatusInternalServerError, "tick_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "dispatched"})
}

func (h *OpsHandler) queueDepth(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]int64, 3)
	for _, name := range []queue.Name{queue.Publishing, queue.Scheduling, queue.Analytics} {
		depth, err := h.queue.Depth(r.Context(), name)
		if err != nil {
			RespondError(w, http.StatusInternalServerError, "depth_failed", fmt.Sprintf("reading %s depth: %s", name, err))
			return
		}
		out[string(name)] = depth
	}
	Respond(w, http.StatusOK, out)
}
