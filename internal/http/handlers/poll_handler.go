// Poll HTTP handlers.
//
// This file exposes REST endpoints for attendance poll resources:
//   - POST /sessions/{id}/polls            (open a poll)
//   - GET  /sessions/{id}/polls            (list, paginated, ETag support)
//   - POST /polls/{id}/deactivate          (explicit revocation)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses. Authorization (only
// the class's instructor may open or revoke polls) is enforced upstream by
// the surrounding application's role middleware, mirroring the service
// contract.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campushq/attendance-backend/internal/domain"
	"github.com/campushq/attendance-backend/internal/repo"
	"github.com/campushq/attendance-backend/internal/services"
	"github.com/campushq/attendance-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// PollService defines poll lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PollService interface {
	// Create opens a new poll for a session. durationMinutes <= 0 selects
	// the configured default window.
	Create(ctx context.Context, sessionID string, durationMinutes int, createdBy string) (*domain.AttendancePoll, error)
	// ListBySessionPage returns a page of a session's polls and the total.
	ListBySessionPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.AttendancePoll, int64, error)
	// Deactivate revokes a poll and returns the updated row.
	Deactivate(ctx context.Context, pollID string) (*domain.AttendancePoll, error)
}

// CheckinService defines the submission operations consumed by HTTP handlers.
type CheckinService interface {
	// Submit redeems a code for a student under the given options.
	Submit(ctx context.Context, code, studentID string, opts services.SubmitOptions) (*domain.AttendanceRecord, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for polls and check-ins. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	pollSvc    PollService
	checkinSvc CheckinService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(pollSvc PollService, checkinSvc CheckinService) *Handlers {
	return &Handlers{pollSvc: pollSvc, checkinSvc: checkinSvc}
}

// userID extracts the authenticated user id from Gin context (set by
// upstream auth middleware). If absent, it falls back to "X-User-ID" header
// (tests use it), and finally to "demo-user". It never touches c.Request if
// it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreatePollRequest is the JSON payload for opening a poll.
type CreatePollRequest struct {
	// DurationMinutes optionally overrides the default poll window
	// (1–1440). Zero or omitted selects the configured default.
	DurationMinutes int `json:"duration_minutes" binding:"omitempty,min=1,max=1440" example:"10"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListPollsResponse wraps a page of polls and pagination information.
type ListPollsResponse struct {
	Polls      []domain.AttendancePoll `json:"polls"`
	Pagination Pagination              `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// CreatePoll godoc
// @ID          createPoll
// @Summary     Open an attendance poll
// @Description Opens a time-boxed, single-use-per-student numeric code for a session.
// @Tags        Polls
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(instr-42)
// @Param       id         path    string  true  "Session ID (UUID)"      format(uuid)
// @Param       body       body    handlers.CreatePollRequest  false  "Poll options"
//
// @Success     201  {object}  domain.AttendancePoll
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Code allocation failed (retry)"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/polls [post]
func (h *Handlers) CreatePoll(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	// Body is optional; an empty body selects the default duration.
	var req CreatePollRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "duration_minutes must be between 1 and 1440")
			return
		}
	}

	p, err := h.pollSvc.Create(c.Request.Context(), sessionID, req.DurationMinutes, userID(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeSessionNotFound, "session not found")
		case errors.Is(err, services.ErrDurationOutOfRange):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "duration_minutes must be between 1 and 1440")
		case errors.Is(err, services.ErrCodeSpaceExhausted):
			c.Header("Retry-After", "1")
			fail(c, http.StatusServiceUnavailable, ErrCodeCodeUnavailable, "could not allocate a code, retry")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, p)
}

// ListPolls godoc
// @ID          listPolls
// @Summary     List a session's polls (paginated)
// @Description Returns a page of polls for a session, most recent first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Polls
// @Produce     json
//
// @Param       id             path    string  true  "Session ID (UUID)"           format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListPollsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sessions/{id}/polls [get]
func (h *Handlers) ListPolls(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort). Deactivation bumps updated_at, so the
	// tag changes whenever the visible list would.
	var db *gorm.DB
	if svc, isConcrete := h.pollSvc.(*services.PollService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.SessionPollStats(ctx, db, sessionID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"polls:%s:%d:%d"`, sessionID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.pollSvc.ListBySessionPage(ctx, sessionID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListPollsResponse{
		Polls: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// DeactivatePoll godoc
// @ID          deactivatePoll
// @Summary     Revoke a poll
// @Description Explicitly deactivates a poll. Idempotent: revoking an already-inactive poll succeeds.
// @Tags        Polls
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(instr-42)
// @Param       id         path    string  true  "Poll ID (UUID)"         format(uuid)
//
// @Success     200  {object} domain.AttendancePoll
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Poll not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /polls/{id}/deactivate [post]
func (h *Handlers) DeactivatePoll(c *gin.Context) {
	pollID := c.Param("id")
	if _, err := uuid.Parse(pollID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "poll id must be a UUID")
		return
	}

	p, err := h.pollSvc.Deactivate(c.Request.Context(), pollID)
	if err != nil {
		if errors.Is(err, services.ErrPollNotFound) {
			fail(c, http.StatusNotFound, ErrCodePollNotFound, "poll not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, p)
}
