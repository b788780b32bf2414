// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AttendancePoll model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. In particular, "redeemable" is a query
// predicate here (active AND expires_at > now); the time comparison happens
// at read time, never as a stored state transition.
//
// Error semantics:
//   - When a poll is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campushq/attendance-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreatePoll inserts a new poll for sessionID with the given code and
// duration. The poll ID is a randomly generated UUID, CreatedAt is set to
// UTC now, ExpiresAt is precomputed from the duration, and Active is true.
//
// On success, it returns the persisted poll. On failure, it returns a DB error.
func CreatePoll(ctx context.Context, db *gorm.DB, sessionID, code, createdBy string, durationMinutes int, now time.Time) (*domain.AttendancePoll, error) {
	p := &domain.AttendancePoll{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Code:            code,
		CreatedBy:       createdBy,
		DurationMinutes: durationMinutes,
		ExpiresAt:       now.Add(time.Duration(durationMinutes) * time.Minute),
		Active:          true,
		CreatedAt:       now,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetPoll fetches a single poll by ID. Returns ErrNotFound if missing.
func GetPoll(ctx context.Context, db *gorm.DB, id string) (*domain.AttendancePoll, error) {
	var p domain.AttendancePoll
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// FindRedeemableByCode returns the poll for code that is active and not yet
// expired at the supplied instant. Returns ErrNotFound when no such poll
// exists; use CountPollsByCode to distinguish a lapsed code from a code that
// was never issued.
func FindRedeemableByCode(ctx context.Context, db *gorm.DB, code string, now time.Time) (*domain.AttendancePoll, error) {
	var p domain.AttendancePoll
	err := db.WithContext(ctx).
		Where("code = ? AND active = ? AND expires_at > ?", code, true, now).
		Order("created_at desc").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPollsByCode returns how many polls (live or lapsed) were ever issued
// with this exact code string. Used to tell "invalid code" apart from
// "code expired" on the check-in path.
func CountPollsByCode(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.AttendancePoll{}).
		Where("code = ?", code).
		Count(&total).Error
	return total, err
}

// CodeInUse reports whether any poll with this code is simultaneously active
// and unexpired. This is the uniqueness predicate consumed by the code
// issuer at poll creation: a code may be legitimately reissued once its
// prior poll has lapsed.
func CodeInUse(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.AttendancePoll{}).
		Where("code = ? AND active = ? AND expires_at > ?", code, true, now).
		Count(&total).Error
	return total > 0, err
}

// ListPollsBySession returns all polls for a session, most recent first.
// It returns an empty slice if the session has no polls.
func ListPollsBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.AttendancePoll, error) {
	var out []domain.AttendancePoll
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountPollsBySession returns the total number of polls issued for a session.
func CountPollsBySession(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.AttendancePoll{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error
	return total, err
}

// ListPollsBySessionPage returns a paginated slice of polls for a session,
// most recent first. Use CountPollsBySession for pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListPollsBySessionPage(ctx context.Context, db *gorm.DB, sessionID string, offset, limit int) ([]domain.AttendancePoll, error) {
	var out []domain.AttendancePoll
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeactivatePoll sets active=false on the poll and returns the updated row.
// Deactivating an already-inactive poll is not an error; the operation is
// idempotent. Returns ErrNotFound when the poll does not exist.
func DeactivatePoll(ctx context.Context, db *gorm.DB, id string) (*domain.AttendancePoll, error) {
	res := db.WithContext(ctx).
		Model(&domain.AttendancePoll{}).
		Where("id = ?", id).
		Update("active", false)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Either missing or already inactive; a follow-up read settles it.
		var exists int64
		if err := db.WithContext(ctx).Model(&domain.AttendancePoll{}).Where("id = ?", id).Count(&exists).Error; err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
	}
	return GetPoll(ctx, db, id)
}
