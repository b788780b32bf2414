// Check-in HTTP handlers.
//
// This file exposes the two submission endpoints:
//   - POST /checkins                 (code-only, strict duplicate handling)
//   - POST /classes/{id}/checkins    (class-scoped, idempotent resubmission)
//
// The two routes bind to the same service call with an explicit mode. The
// class-scoped route is the retry-safe flow: a client that timed out may
// resubmit the same code and receives the original record with 200 instead
// of a conflict.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campushq/attendance-backend/internal/services"
)

// SubmitCheckinRequest is the JSON payload for redeeming a code.
type SubmitCheckinRequest struct {
	// Code is the 8-digit poll code shown by the instructor.
	Code string `json:"code" binding:"required" example:"04719283"`
}

// SubmitCheckin godoc
// @ID          submitCheckin
// @Summary     Redeem a poll code (strict)
// @Description Marks the current student present for the poll's session. A duplicate submission is answered with 409.
// @Tags        Checkins
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "Student ID (demo header)"  example(stud-7)
// @Param       body       body    handlers.SubmitCheckinRequest  true  "Code payload"
//
// @Success     201  {object} domain.AttendanceRecord
// @Failure     400  {object} handlers.ErrorResponse "Malformed code"
// @Failure     403  {object} handlers.ErrorResponse "Not enrolled"
// @Failure     404  {object} handlers.ErrorResponse "Unknown code"
// @Failure     409  {object} handlers.ErrorResponse "Already checked in"
// @Failure     410  {object} handlers.ErrorResponse "Code expired"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /checkins [post]
func (h *Handlers) SubmitCheckin(c *gin.Context) {
	var req SubmitCheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code required")
		return
	}

	rec, err := h.checkinSvc.Submit(c.Request.Context(), req.Code, userID(c), services.SubmitOptions{
		Mode: services.SubmitStrict,
	})
	if err != nil {
		failCheckin(c, err)
		return
	}
	ok(c, http.StatusCreated, rec)
}

// SubmitClassCheckin godoc
// @ID          submitClassCheckin
// @Summary     Redeem a poll code within a class (idempotent)
// @Description Marks the current student present, scoped to the selected class. Resubmitting the same code returns the original record with 200.
// @Tags        Checkins
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "Student ID (demo header)"  example(stud-7)
// @Param       id         path    string  true  "Class ID (UUID)"           format(uuid)
// @Param       body       body    handlers.SubmitCheckinRequest  true  "Code payload"
//
// @Success     200  {object} domain.AttendanceRecord
// @Failure     400  {object} handlers.ErrorResponse "Malformed code"
// @Failure     403  {object} handlers.ErrorResponse "Not enrolled"
// @Failure     404  {object} handlers.ErrorResponse "Unknown code or wrong class"
// @Failure     410  {object} handlers.ErrorResponse "Code expired"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /classes/{id}/checkins [post]
func (h *Handlers) SubmitClassCheckin(c *gin.Context) {
	classID := c.Param("id")
	if _, err := uuid.Parse(classID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "class id must be a UUID")
		return
	}

	var req SubmitCheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code required")
		return
	}

	uid := userID(c)
	rec, err := h.checkinSvc.Submit(c.Request.Context(), req.Code, uid, services.SubmitOptions{
		ClassID: classID,
		Mode:    services.SubmitIdempotent,
	})
	if err != nil {
		failCheckin(c, err)
		return
	}

	// Always 200 here: a fresh insert and a replayed record are the same
	// successful outcome on this route, which is what makes blind client
	// retries safe.
	ok(c, http.StatusOK, rec)
}

// failCheckin maps the closed service error taxonomy onto HTTP statuses.
// The mapping is exhaustive over the expected outcomes; anything else is an
// infrastructure failure, surfaced generically and safe to retry.
func failCheckin(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidCodeFormat):
		fail(c, http.StatusBadRequest, ErrCodeInvalidCodeFormat, "code must be exactly 8 digits")
	case errors.Is(err, services.ErrCodeNotFound):
		fail(c, http.StatusNotFound, ErrCodeCodeNotFound, "invalid code")
	case errors.Is(err, services.ErrCodeExpired):
		fail(c, http.StatusGone, ErrCodeCodeExpired, "code expired")
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeSessionNotFound, "session not found")
	case errors.Is(err, services.ErrNotEnrolled):
		fail(c, http.StatusForbidden, ErrCodeNotEnrolled, "not enrolled in this class")
	case errors.Is(err, services.ErrAlreadyCheckedIn):
		fail(c, http.StatusConflict, ErrCodeAlreadyCheckedIn, "already marked attendance for this session")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "submission failed, retry")
	}
}
