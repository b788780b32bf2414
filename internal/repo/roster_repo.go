// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the read-only roster lookups the
// attendance core consumes as collaborators: session→class resolution and
// enrollment checks. Roster CRUD belongs to the surrounding application.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/campushq/attendance-backend/internal/domain"
)

// GetSession fetches a course session by ID. Returns ErrNotFound if missing.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.CourseSession, error) {
	var s domain.CourseSession
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// SessionExists reports whether a course session with the given ID exists.
func SessionExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.CourseSession{}).
		Where("id = ?", id).
		Count(&total).Error
	return total > 0, err
}

// IsEnrolled reports whether userID holds any enrollment in classID. Every
// enrolled role (student, TA, tutor, instructor) is attendance-eligible, so
// the role column is deliberately not filtered here.
func IsEnrolled(ctx context.Context, db *gorm.DB, userID, classID string) (bool, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("user_id = ? AND class_id = ?", userID, classID).
		Count(&total).Error
	return total > 0, err
}
