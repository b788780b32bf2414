// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AttendanceRecord model, the contended table of the check-in path.
//
// Error semantics:
//   - A duplicate (student_id, session_id) insert relies on the database
//     unique index and is reported as ErrDuplicate. The service layer
//     translates it into the mode-dependent outcome (conflict vs. return
//     the existing record).
//   - On other DB errors (connectivity, constraints, etc.), the raw gorm
//     error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campushq/attendance-backend/internal/domain"
)

// ErrDuplicate indicates that an attendance record already exists for the
// given (student_id, session_id) pair.
var ErrDuplicate = errors.New("duplicate")

// CreateRecord inserts an attendance record for the given student, session
// and poll. The (student_id, session_id) pair must be unique; a violation is
// returned as ErrDuplicate so callers never see a raw driver error for the
// expected race.
func CreateRecord(ctx context.Context, db *gorm.DB, studentID, sessionID, pollID string, markedAt time.Time) (*domain.AttendanceRecord, error) {
	rec := &domain.AttendanceRecord{
		ID:        uuid.NewString(),
		StudentID: studentID,
		SessionID: sessionID,
		PollID:    pollID,
		MarkedAt:  markedAt,
		CreatedAt: markedAt,
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetRecordForStudentSession returns the record for (studentID, sessionID),
// or ErrNotFound when the student has not checked in to the session.
func GetRecordForStudentSession(ctx context.Context, db *gorm.DB, studentID, sessionID string) (*domain.AttendanceRecord, error) {
	var rec domain.AttendanceRecord
	err := db.WithContext(ctx).
		Where("student_id = ? AND session_id = ?", studentID, sessionID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecordsBySession returns all records for a session, most recent first.
// Read-only audit view; no special concurrency concerns.
func ListRecordsBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.AttendanceRecord, error) {
	var out []domain.AttendanceRecord
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("marked_at desc, id desc").
		Find(&out).Error
	return out, err
}

// CountRecordsBySession returns the number of students marked present for a
// session.
func CountRecordsBySession(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.AttendanceRecord{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error
	return total, err
}

// HasRecentRecordInClass reports whether the student holds an attendance
// record, marked after the given cutoff, for any session of the class. Used
// by the HTTP replay detector to recognize resubmissions before they reach
// the rate limiter.
func HasRecentRecordInClass(ctx context.Context, db *gorm.DB, studentID, classID string, since time.Time) (bool, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.AttendanceRecord{}).
		Joins("JOIN course_sessions ON course_sessions.id = attendance_records.session_id").
		Where("attendance_records.student_id = ? AND course_sessions.class_id = ? AND attendance_records.marked_at > ?",
			studentID, classID, since).
		Count(&total).Error
	if err != nil {
		return false, err
	}
	return total > 0, nil
}

// isUniqueViolation detects unique-constraint violations across drivers that
// may not map to gorm.ErrDuplicatedKey.
//
// glebarez/sqlite often returns plain-text errors for UNIQUE violations;
// Postgres says "duplicate key value violates unique constraint".
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
