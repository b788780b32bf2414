// Package services – PollService
//
// This file implements PollService, which owns the lifecycle of attendance
// polls: creation (with collision-free code issuance), redeemable lookup by
// code, per-session enumeration, and explicit deactivation.
//
// A poll is redeemable iff it is active AND its expiry lies in the future at
// the moment of the read. Expiry is derived, never stored: nothing flips
// active on a timer, the comparison simply happens against the injected
// Clock on every lookup. Deactivation is the only mutation a poll ever sees.
//
// Service-level errors (ErrSessionNotFound, ErrDurationOutOfRange,
// ErrCodeNotFound, ErrCodeExpired, ErrPollNotFound, ErrCodeSpaceExhausted)
// are returned for predictable cases so handlers can map them to HTTP
// results consistently.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campushq/attendance-backend/internal/code"
	"github.com/campushq/attendance-backend/internal/domain"
	"github.com/campushq/attendance-backend/internal/repo"
)

// PollRepo defines the repository contract required by PollService.
// Implementations are responsible for persistence of poll aggregates.
type PollRepo interface {
	// CreatePoll inserts a new poll row with precomputed expiry.
	CreatePoll(ctx context.Context, db *gorm.DB, sessionID, codeStr, createdBy string, durationMinutes int, now time.Time) (*domain.AttendancePoll, error)

	// GetPoll fetches a poll by ID.
	GetPoll(ctx context.Context, db *gorm.DB, id string) (*domain.AttendancePoll, error)

	// FindRedeemableByCode returns the active, unexpired poll for a code.
	FindRedeemableByCode(ctx context.Context, db *gorm.DB, codeStr string, now time.Time) (*domain.AttendancePoll, error)

	// CountPollsByCode counts every poll ever issued with the code string.
	CountPollsByCode(ctx context.Context, db *gorm.DB, codeStr string) (int64, error)

	// CodeInUse reports whether a redeemable poll currently holds the code.
	CodeInUse(ctx context.Context, db *gorm.DB, codeStr string, now time.Time) (bool, error)

	// ListPollsBySession returns a session's polls, most recent first.
	ListPollsBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.AttendancePoll, error)

	// CountPollsBySession returns the total for pagination.
	CountPollsBySession(ctx context.Context, db *gorm.DB, sessionID string) (int64, error)

	// ListPollsBySessionPage returns a page of a session's polls.
	ListPollsBySessionPage(ctx context.Context, db *gorm.DB, sessionID string, offset, limit int) ([]domain.AttendancePoll, error)

	// DeactivatePoll sets active=false (idempotent) and returns the row.
	DeactivatePoll(ctx context.Context, db *gorm.DB, id string) (*domain.AttendancePoll, error)

	// SessionExists reports whether the session a poll targets exists.
	SessionExists(ctx context.Context, db *gorm.DB, id string) (bool, error)
}

// PollService provides poll lifecycle operations. It holds no mutable state;
// all writes go through the injected GORM handle.
type PollService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the poll repository used by this service.
	Repo PollRepo
	// Issuer generates collision-free redemption codes.
	Issuer code.Issuer
	// Clock is the time source for expiry computation.
	Clock Clock

	// DefaultDurationMinutes applies when a caller omits the duration.
	DefaultDurationMinutes int
	// MaxDurationMinutes bounds explicit durations (inclusive).
	MaxDurationMinutes int
}

// NewPollService constructs a PollService with production defaults:
// a 10-minute default poll window bounded at 24 hours.
func NewPollService(db *gorm.DB, r PollRepo) *PollService {
	return &PollService{
		DB:                     db,
		Repo:                   r,
		Clock:                  SystemClock{},
		DefaultDurationMinutes: 10,
		MaxDurationMinutes:     1440,
	}
}

// Create opens a new poll for sessionID on behalf of createdBy.
//
// durationMinutes <= 0 selects the configured default. Explicit durations
// above MaxDurationMinutes are rejected with ErrDurationOutOfRange. The
// issued code is guaranteed not to collide with any other simultaneously
// redeemable poll; a lapsed poll's code may be reissued.
//
// No authorization check happens here; only the class's instructor may
// reach this call, enforced by the caller's role lookup.
func (s *PollService) Create(ctx context.Context, sessionID string, durationMinutes int, createdBy string) (*domain.AttendancePoll, error) {
	tr := otel.Tracer("services/PollService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("duration_minutes", durationMinutes),
		),
	)
	defer span.End()

	durationSource := "explicit"
	if durationMinutes <= 0 {
		durationMinutes = s.DefaultDurationMinutes
		durationSource = "default"
	}
	if durationMinutes <= 0 || (s.MaxDurationMinutes > 0 && durationMinutes > s.MaxDurationMinutes) {
		return nil, ErrDurationOutOfRange
	}

	exists, err := s.Repo.SessionExists(ctx, s.DB, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	now := s.Clock.Now()

	// Draw a code that no redeemable poll currently holds.
	attempts := 0
	codeStr, err := s.Issuer.Generate(func(candidate string) (bool, error) {
		attempts++
		inUse, err := s.Repo.CodeInUse(ctx, s.DB, candidate, now)
		if err != nil {
			return false, err
		}
		return !inUse, nil
	})
	if err != nil {
		if errors.Is(err, code.ErrExhausted) {
			return nil, ErrCodeSpaceExhausted
		}
		return nil, err
	}
	codeIssueRetries.Observe(float64(attempts))

	p, err := s.Repo.CreatePoll(ctx, s.DB, sessionID, codeStr, createdBy, durationMinutes, now)
	if err != nil {
		return nil, err
	}
	pollsCreated.WithLabelValues(durationSource).Inc()
	return p, nil
}

// FindActiveByCode returns the redeemable poll carrying codeStr.
//
// Misses are typed: ErrCodeNotFound when no poll was ever issued with this
// string, ErrCodeExpired when one was but it is now inactive or past expiry.
// The two produce different user-facing messages, so the distinction is
// preserved all the way up.
func (s *PollService) FindActiveByCode(ctx context.Context, codeStr string) (*domain.AttendancePoll, error) {
	if !code.ValidateFormat(codeStr) {
		return nil, ErrInvalidCodeFormat
	}
	p, err := s.Repo.FindRedeemableByCode(ctx, s.DB, codeStr, s.Clock.Now())
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	ever, err := s.Repo.CountPollsByCode(ctx, s.DB, codeStr)
	if err != nil {
		return nil, err
	}
	if ever > 0 {
		return nil, ErrCodeExpired
	}
	return nil, ErrCodeNotFound
}

// ListBySession returns every poll issued for a session, most recent first.
// Prefer ListBySessionPage for dashboard views over long-running courses.
func (s *PollService) ListBySession(ctx context.Context, sessionID string) ([]domain.AttendancePoll, error) {
	return s.Repo.ListPollsBySession(ctx, s.DB, sessionID)
}

// ListBySessionPage returns a page of a session's polls plus the total count.
// It applies defaults for invalid page/pageSize.
func (s *PollService) ListBySessionPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.AttendancePoll, int64, error) {
	tr := otel.Tracer("services/PollService")
	ctx, span := tr.Start(ctx, "ListBySessionPage",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountPollsBySession(ctx, s.DB, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.AttendancePoll{}, 0, nil
	}

	items, err := s.Repo.ListPollsBySessionPage(ctx, s.DB, sessionID, offset, pageSize)
	return items, total, err
}

// Deactivate revokes a poll unconditionally and returns the updated row.
// Deactivating an already-inactive poll succeeds (idempotent). The poll row
// is retained for audit; nothing in this core ever deletes one.
func (s *PollService) Deactivate(ctx context.Context, pollID string) (*domain.AttendancePoll, error) {
	p, err := s.Repo.DeactivatePoll(ctx, s.DB, pollID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, err
	}
	return p, nil
}

// IsExpired reports whether p is past its expiry at the clock's current
// instant. A nil poll is treated as expired for safety.
func (s *PollService) IsExpired(p *domain.AttendancePoll) bool {
	if p == nil {
		return true
	}
	return !s.Clock.Now().Before(p.ExpiresAt)
}
