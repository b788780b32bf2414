// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, replay detection, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/campushq/attendance-backend/internal/code"
	"github.com/campushq/attendance-backend/internal/config"
	"github.com/campushq/attendance-backend/internal/domain"
	"github.com/campushq/attendance-backend/internal/http/handlers"
	"github.com/campushq/attendance-backend/internal/http/middleware"
	"github.com/campushq/attendance-backend/internal/repo"
	"github.com/campushq/attendance-backend/internal/services"
)

// pollRepoShim adapts the repository free functions to the services.PollRepo
// interface expected by the PollService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type pollRepoShim struct{}

// CreatePoll proxies repo.CreatePoll.
func (pollRepoShim) CreatePoll(ctx context.Context, db *gorm.DB, sessionID, codeStr, createdBy string, durationMinutes int, now time.Time) (*domain.AttendancePoll, error) {
	return repo.CreatePoll(ctx, db, sessionID, codeStr, createdBy, durationMinutes, now)
}

// GetPoll proxies repo.GetPoll.
func (pollRepoShim) GetPoll(ctx context.Context, db *gorm.DB, id string) (*domain.AttendancePoll, error) {
	return repo.GetPoll(ctx, db, id)
}

// FindRedeemableByCode proxies repo.FindRedeemableByCode.
func (pollRepoShim) FindRedeemableByCode(ctx context.Context, db *gorm.DB, codeStr string, now time.Time) (*domain.AttendancePoll, error) {
	return repo.FindRedeemableByCode(ctx, db, codeStr, now)
}

// CountPollsByCode proxies repo.CountPollsByCode.
func (pollRepoShim) CountPollsByCode(ctx context.Context, db *gorm.DB, codeStr string) (int64, error) {
	return repo.CountPollsByCode(ctx, db, codeStr)
}

// CodeInUse proxies repo.CodeInUse (issuance uniqueness predicate).
func (pollRepoShim) CodeInUse(ctx context.Context, db *gorm.DB, codeStr string, now time.Time) (bool, error) {
	return repo.CodeInUse(ctx, db, codeStr, now)
}

// ListPollsBySession proxies repo.ListPollsBySession.
func (pollRepoShim) ListPollsBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.AttendancePoll, error) {
	return repo.ListPollsBySession(ctx, db, sessionID)
}

// CountPollsBySession proxies repo.CountPollsBySession (pagination support).
func (pollRepoShim) CountPollsBySession(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	return repo.CountPollsBySession(ctx, db, sessionID)
}

// ListPollsBySessionPage proxies repo.ListPollsBySessionPage (pagination support).
func (pollRepoShim) ListPollsBySessionPage(ctx context.Context, db *gorm.DB, sessionID string, offset, limit int) ([]domain.AttendancePoll, error) {
	return repo.ListPollsBySessionPage(ctx, db, sessionID, offset, limit)
}

// DeactivatePoll proxies repo.DeactivatePoll.
func (pollRepoShim) DeactivatePoll(ctx context.Context, db *gorm.DB, id string) (*domain.AttendancePoll, error) {
	return repo.DeactivatePoll(ctx, db, id)
}

// SessionExists proxies repo.SessionExists.
func (pollRepoShim) SessionExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	return repo.SessionExists(ctx, db, id)
}

// rosterShim adapts the repository free functions to the services.Roster
// interface expected by the CheckinService.
type rosterShim struct{}

// IsEnrolled proxies repo.IsEnrolled.
func (rosterShim) IsEnrolled(ctx context.Context, db *gorm.DB, userID, classID string) (bool, error) {
	return repo.IsEnrolled(ctx, db, userID, classID)
}

// SessionClass resolves a session to its owning class id via repo.GetSession.
func (rosterShim) SessionClass(ctx context.Context, db *gorm.DB, sessionID string) (string, error) {
	s, err := repo.GetSession(ctx, db, sessionID)
	if err != nil {
		return "", err
	}
	return s.ClassID, nil
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), replay detection
// and rate limiting, CORS and security headers, health and metrics
// endpoints, and then mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Response compression
//  7. Metrics
//  8. Replay detector (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-User-ID", // student identifiers stay out of access logs
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Compress responses when the client asks for it
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Replay detection (before rate limiting)
	r.Use(middleware.ReplayDetector(
		middleware.ReplayOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, studentID, classID string, now time.Time) (bool, error) {
			if classID == "" {
				return false, nil
			}
			ok, err := repo.HasRecentRecordInClass(ctx, db, studentID, classID, now.Add(-cfg.ReplayWindow))
			if err != nil {
				return false, nil
			}
			return ok, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db
	pollSvc := services.NewPollService(db, pollRepoShim{})
	pollSvc.DefaultDurationMinutes = cfg.DefaultPollMinutes
	pollSvc.MaxDurationMinutes = cfg.MaxPollMinutes
	pollSvc.Issuer = code.Issuer{MaxAttempts: cfg.CodeMaxAttempts}

	checkinSvc := services.NewCheckinService(db, rosterShim{})

	h := handlers.New(pollSvc, checkinSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Polls
		api.POST("/sessions/:id/polls", h.CreatePoll)
		api.GET("/sessions/:id/polls", h.ListPolls)
		api.POST("/polls/:id/deactivate", h.DeactivatePoll)

		// Check-ins
		api.POST("/checkins", h.SubmitCheckin)
		api.POST("/classes/:id/checkins", h.SubmitClassCheckin)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
