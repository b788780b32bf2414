// Package services – CheckinService
//
// This file implements CheckinService, the atomic submission path of the
// attendance subsystem. Given a redemption code and a student identity it
// produces at most one AttendanceRecord per (student, session), no matter
// how many polls were issued for the session or how many concurrent
// requests race to redeem a code.
//
// Every validation step after the pure format check runs inside a single
// database transaction, and the (student_id, session_id) unique index is
// the final backstop: even if two concurrent transactions both observe "no
// record exists", the second insert fails and is translated into the same
// mode-dependent outcome a pre-insert duplicate would have produced. A raw
// constraint error never escapes this service.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campushq/attendance-backend/internal/code"
	"github.com/campushq/attendance-backend/internal/domain"
	"github.com/campushq/attendance-backend/internal/repo"
)

// SubmitMode selects how a duplicate submission is answered. The two modes
// are an explicit parameter of the contract, not an accident of which HTTP
// route was hit.
type SubmitMode int

const (
	// SubmitStrict fails a duplicate submission with ErrAlreadyCheckedIn.
	// Used by the code-only submission path.
	SubmitStrict SubmitMode = iota

	// SubmitIdempotent answers a duplicate submission with the existing
	// record and success. Used by the class-scoped path so a client that
	// timed out can safely resubmit the same code.
	SubmitIdempotent
)

// label returns the bounded metric label for the mode.
func (m SubmitMode) label() string {
	if m == SubmitIdempotent {
		return "idempotent"
	}
	return "strict"
}

// SubmitOptions carries the optional class scope and the duplicate-handling
// mode for a submission.
type SubmitOptions struct {
	// ClassID, when non-empty, requires the resolved poll's session to
	// belong to this class; a mismatch reads as "code not found" so codes
	// cannot leak across courses in the pick-course-then-enter-code flow.
	ClassID string

	// Mode selects strict or idempotent duplicate handling.
	Mode SubmitMode
}

// Roster is the enrollment/session collaborator consumed by the check-in
// path. Implementations take the transaction handle so lookups participate
// in the Submit transaction.
type Roster interface {
	// IsEnrolled reports whether userID holds any attendance-eligible
	// enrollment (student, TA, tutor, or instructor) in classID.
	IsEnrolled(ctx context.Context, db *gorm.DB, userID, classID string) (bool, error)

	// SessionClass resolves the class owning sessionID. Returns
	// repo.ErrNotFound when the session does not exist.
	SessionClass(ctx context.Context, db *gorm.DB, sessionID string) (string, error)
}

// CheckinService implements the check-in use case. It is context-aware and
// opens one transaction per Submit call.
type CheckinService struct {
	// DB is the database handle used for all check-in operations.
	DB *gorm.DB
	// Roster resolves enrollment and session ownership.
	Roster Roster
	// Clock is the time source for redeemability and MarkedAt.
	Clock Clock
}

// NewCheckinService constructs a CheckinService on the system clock.
func NewCheckinService(db *gorm.DB, roster Roster) *CheckinService {
	return &CheckinService{DB: db, Roster: roster, Clock: SystemClock{}}
}

// Submit redeems codeStr on behalf of studentID.
//
// Steps, in order, atomically after the format check:
//  1. Format: codeStr must be exactly 8 digits, else ErrInvalidCodeFormat
//     (storage untouched).
//  2. Poll resolution: ErrCodeNotFound when no poll ever carried the code,
//     ErrCodeExpired when one did but it is inactive or past expiry.
//  3. Class scope: with opts.ClassID set, a poll owned by another class is
//     answered with ErrCodeNotFound.
//  4. Enrollment: ErrNotEnrolled unless the student holds any enrollment in
//     the owning class.
//  5. Duplicate: strict mode fails with ErrAlreadyCheckedIn; idempotent
//     mode returns the existing record as success.
//  6. Insert, with the unique index translating a lost race into the same
//     outcome as step 5.
//
// On a context timeout or any infrastructure failure the transaction rolls
// back and no partial record is visible; the whole call is safe to retry.
func (s *CheckinService) Submit(ctx context.Context, codeStr, studentID string, opts SubmitOptions) (*domain.AttendanceRecord, error) {
	tr := otel.Tracer("services/CheckinService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("student.id", studentID),
			attribute.String("mode", opts.Mode.label()),
		),
	)
	defer span.End()

	if !code.ValidateFormat(codeStr) {
		checkins.WithLabelValues(opts.Mode.label(), resultInvalidFormat).Inc()
		return nil, ErrInvalidCodeFormat
	}

	var (
		rec      *domain.AttendanceRecord
		replayed bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().Now()

		// 2) Resolve the redeemable poll, distinguishing never-issued from
		// lapsed.
		poll, err := repo.FindRedeemableByCode(ctx, tx, codeStr, now)
		if err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			ever, cerr := repo.CountPollsByCode(ctx, tx, codeStr)
			if cerr != nil {
				return cerr
			}
			if ever > 0 {
				return ErrCodeExpired
			}
			return ErrCodeNotFound
		}

		// 3) Class scoping. A cross-class code reads as not found, the same
		// answer an unissued code gets.
		classID, err := s.Roster.SessionClass(ctx, tx, poll.SessionID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if opts.ClassID != "" && opts.ClassID != classID {
			return ErrCodeNotFound
		}

		// 4) Enrollment in the owning class, any role.
		enrolled, err := s.Roster.IsEnrolled(ctx, tx, studentID, classID)
		if err != nil {
			return err
		}
		if !enrolled {
			return ErrNotEnrolled
		}

		// 5) Duplicate check ahead of the insert. The unique index below
		// still covers the window between this read and the write.
		existing, err := repo.GetRecordForStudentSession(ctx, tx, studentID, poll.SessionID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if existing != nil {
			if opts.Mode == SubmitIdempotent {
				rec = existing
				replayed = true
				return nil
			}
			return ErrAlreadyCheckedIn
		}

		// 6) Insert. A lost race surfaces as repo.ErrDuplicate here and is
		// answered exactly like a pre-insert duplicate.
		created, err := repo.CreateRecord(ctx, tx, studentID, poll.SessionID, poll.ID, now)
		if err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				if opts.Mode == SubmitIdempotent {
					winner, gerr := repo.GetRecordForStudentSession(ctx, tx, studentID, poll.SessionID)
					if gerr != nil {
						return gerr
					}
					rec = winner
					replayed = true
					return nil
				}
				return ErrAlreadyCheckedIn
			}
			return err
		}
		rec = created
		return nil
	})
	if err != nil {
		checkins.WithLabelValues(opts.Mode.label(), submitResult(err)).Inc()
		return nil, err
	}

	if replayed {
		checkins.WithLabelValues(opts.Mode.label(), resultReplayed).Inc()
	} else {
		checkins.WithLabelValues(opts.Mode.label(), resultOK).Inc()
	}
	return rec, nil
}

// AlreadyCheckedIn reports whether a record exists for (studentID,
// sessionID). Read-only convenience for UI affordances; the authoritative
// duplicate handling lives inside Submit.
func (s *CheckinService) AlreadyCheckedIn(ctx context.Context, studentID, sessionID string) (bool, error) {
	_, err := repo.GetRecordForStudentSession(ctx, s.DB, studentID, sessionID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// ListBySession returns the session's attendance records, most recent first.
func (s *CheckinService) ListBySession(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	return repo.ListRecordsBySession(ctx, s.DB, sessionID)
}

// clock returns the configured Clock, defaulting to the system clock so the
// zero value of the service stays usable.
func (s *CheckinService) clock() Clock {
	if s.Clock != nil {
		return s.Clock
	}
	return SystemClock{}
}

// submitResult maps a Submit error to its bounded metric label.
func submitResult(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCodeFormat):
		return resultInvalidFormat
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrSessionNotFound):
		return resultNotFound
	case errors.Is(err, ErrCodeExpired):
		return resultExpired
	case errors.Is(err, ErrNotEnrolled):
		return resultNotEnrolled
	case errors.Is(err, ErrAlreadyCheckedIn):
		return resultConflict
	default:
		return resultInfrastructure
	}
}
