// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
	"github.com/carterperez-dev/templates/credential-engine/internal/credential"
)

// SessionManager is the slice of the credential engine operators act
// through. credential.Engine satisfies it.
type SessionManager interface {
	ActiveSessions(ctx context.Context, principalID string) ([]credential.SessionView, error)
	RevokeAllForPrincipal(ctx context.Context, principalID, reason string) (int64, error)
	RevokeFamily(ctx context.Context, familyID, reason string) (int64, error)
}

type PrincipalCounter interface {
	Count(ctx context.Context) (int64, error)
}

type Handler struct {
	sessions   SessionManager
	principals PrincipalCounter
	dbStats    func() sql.DBStats
	redisStats func() *redis.PoolStats
	redisPing  func(ctx context.Context) error
	dbPing     func(ctx context.Context) error
	validator  *validator.Validate
}

type HandlerConfig struct {
	Sessions   SessionManager
	Principals PrincipalCounter
	DBStats    func() sql.DBStats
	RedisStats func() *redis.PoolStats
	RedisPing  func(ctx context.Context) error
	DBPing     func(ctx context.Context) error
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		sessions:   cfg.Sessions,
		principals: cfg.Principals,
		dbStats:    cfg.DBStats,
		redisStats: cfg.RedisStats,
		redisPing:  cfg.RedisPing,
		dbPing:     cfg.DBPing,
		validator:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/principals/{principalID}/sessions", h.GetPrincipalSessions)
		r.Post("/principals/{principalID}/revoke", h.RevokePrincipal)
		r.Post("/families/{familyID}/revoke", h.RevokeFamily)

		r.Get("/stats", h.GetSystemStats)
		r.Get("/stats/db", h.GetDatabaseStats)
		r.Get("/stats/redis", h.GetRedisStats)
		r.Get("/stats/runtime", h.GetRuntimeStats)
	})
}

func (h *Handler) GetPrincipalSessions(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principalID")

	sessions, err := h.sessions.ActiveSessions(r.Context(), principalID)
	if err != nil {
		h.fail(w, err)
		return
	}

	core.OK(w, PrincipalSessionsResponse{
		PrincipalID: principalID,
		Sessions:    sessions,
	})
}

func (h *Handler) RevokePrincipal(w http.ResponseWriter, r *http.Request) {
	reason, ok := h.reason(w, r)
	if !ok {
		return
	}

	n, err := h.sessions.RevokeAllForPrincipal(
		r.Context(),
		chi.URLParam(r, "principalID"),
		reason,
	)
	if err != nil {
		h.fail(w, err)
		return
	}

	core.OK(w, RevokeResponse{Revoked: n})
}

func (h *Handler) RevokeFamily(w http.ResponseWriter, r *http.Request) {
	reason, ok := h.reason(w, r)
	if !ok {
		return
	}

	n, err := h.sessions.RevokeFamily(
		r.Context(),
		chi.URLParam(r, "familyID"),
		reason,
	)
	if err != nil {
		h.fail(w, err)
		return
	}

	core.OK(w, RevokeResponse{Revoked: n})
}

// reason reads the optional revoke body. An empty body records the generic
// operator reason.
func (h *Handler) reason(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		core.BadRequest(w, "invalid request body")
		return "", false
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return "", false
	}

	if req.Reason == "" {
		return credential.ReasonOperator, true
	}
	return credential.ReasonOperator + ":" + req.Reason, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credential.ErrInvalidOptions):
		core.BadRequest(w, "invalid identifier")
	case errors.Is(err, credential.ErrStoreUnavailable):
		core.JSONError(w, core.UnavailableError())
	default:
		core.InternalServerError(w, err)
	}
}

func (h *Handler) GetSystemStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbHealthy := true
	if h.dbPing != nil {
		if err := h.dbPing(ctx); err != nil {
			dbHealthy = false
		}
	}

	redisHealthy := true
	if h.redisPing != nil {
		if err := h.redisPing(ctx); err != nil {
			redisHealthy = false
		}
	}

	var principals *int64
	if h.principals != nil {
		if n, err := h.principals.Count(ctx); err == nil {
			principals = &n
		}
	}

	response := SystemStatsResponse{
		Principals: principals,
		Database: DatabaseStatus{
			Healthy: dbHealthy,
			Stats:   h.getDBStats(),
		},
		Redis: RedisStatus{
			Healthy: redisHealthy,
			Stats:   h.getRedisStats(),
		},
		Runtime: runtimeStats(),
	}

	core.OK(w, response)
}

func (h *Handler) GetDatabaseStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.getDBStats())
}

func (h *Handler) GetRedisStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.getRedisStats())
}

func (h *Handler) GetRuntimeStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, runtimeStats())
}

func runtimeStats() RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc,
		MemSys:       memStats.Sys,
		NumGC:        memStats.NumGC,
	}
}

func (h *Handler) getDBStats() *DBPoolStats {
	if h.dbStats == nil {
		return nil
	}

	stats := h.dbStats()
	return &DBPoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration.String(),
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxIdleTimeClosed:  stats.MaxIdleTimeClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}
}

func (h *Handler) getRedisStats() *RedisPoolStats {
	if h.redisStats == nil {
		return nil
	}

	stats := h.redisStats()
	return &RedisPoolStats{
		Hits:       stats.Hits,
		Misses:     stats.Misses,
		Timeouts:   stats.Timeouts,
		TotalConns: stats.TotalConns,
		IdleConns:  stats.IdleConns,
		StaleConns: stats.StaleConns,
	}
}

type RevokeRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=64,alphanum"`
}

type RevokeResponse struct {
	Revoked int64 `json:"revoked"`
}

type PrincipalSessionsResponse struct {
	PrincipalID string                   `json:"principal_id"`
	Sessions    []credential.SessionView `json:"sessions"`
}

type SystemStatsResponse struct {
	Principals *int64         `json:"principals,omitempty"`
	Database   DatabaseStatus `json:"database"`
	Redis      RedisStatus    `json:"redis"`
	Runtime    RuntimeStats   `json:"runtime"`
}

type DatabaseStatus struct {
	Healthy bool         `json:"healthy"`
	Stats   *DBPoolStats `json:"stats,omitempty"`
}

type RedisStatus struct {
	Healthy bool            `json:"healthy"`
	Stats   *RedisPoolStats `json:"stats,omitempty"`
}

type DBPoolStats struct {
	MaxOpenConnections int    `json:"max_open_connections"`
	OpenConnections    int    `json:"open_connections"`
	InUse              int    `json:"in_use"`
	Idle               int    `json:"idle"`
	WaitCount          int64  `json:"wait_count"`
	WaitDuration       string `json:"wait_duration"`
	MaxIdleClosed      int64  `json:"max_idle_closed"`
	MaxIdleTimeClosed  int64  `json:"max_idle_time_closed"`
	MaxLifetimeClosed  int64  `json:"max_lifetime_closed"`
}

type RedisPoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

type RuntimeStats struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_bytes"`
	MemSys       uint64 `json:"mem_sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
}
