// Package domain defines the persistence models for attendance polls and
// check-in records, plus the roster entities (sessions, enrollments) the
// attendance core reads. These types are mapped with GORM and form the core
// data layer of the attendance backend.
package domain

import "time"

// AttendancePoll is a time-boxed, code-bearing invitation to check in to one
// course session. A poll is redeemable iff Active is true and the current
// time is before ExpiresAt; expiry is derived at read time and never written
// back. Polls are never deleted; deactivation is the only mutation.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - SessionID: owning course session; indexed for listing.
//   - Code: exactly 8 ASCII digits. Indexed but NOT unique, so a code may be
//     reused once its earlier poll has lapsed. The "no two simultaneously
//     redeemable polls share a code" rule is enforced at creation time.
//   - CreatedBy: user id of the issuing instructor.
//   - DurationMinutes: positive, bounded at creation (<= 1440).
//   - ExpiresAt: CreatedAt + DurationMinutes, precomputed at creation.
//   - Active: one-way explicit revocation flag, independent of expiry.
type AttendancePoll struct {
	ID              string    `json:"id"               gorm:"type:char(36);primaryKey"`
	SessionID       string    `json:"session_id"       gorm:"type:char(36);not null;index:idx_session_polls,priority:1"`
	Code            string    `json:"code"             gorm:"type:char(8);not null;index:idx_poll_code"`
	CreatedBy       string    `json:"created_by"       gorm:"type:varchar(64);not null"`
	DurationMinutes int       `json:"duration_minutes" gorm:"not null;check:duration_minutes > 0"`
	ExpiresAt       time.Time `json:"expires_at"       gorm:"not null;index"`
	Active          bool      `json:"active"           gorm:"not null;default:true"`
	CreatedAt       time.Time `json:"created_at"       gorm:"index:idx_session_polls,priority:2"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for AttendancePoll.
func (AttendancePoll) TableName() string { return "attendance_polls" }

// AttendanceRecord is the immutable fact that a student was present for a
// session. At most one record may exist per (student, session), regardless
// of how many polls were issued for that session over time. The unique
// index is the storage-level backstop for concurrent redemption races.
//
// Records are created only by the check-in path and never mutated.
type AttendanceRecord struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	StudentID string    `json:"student_id" gorm:"type:varchar(64);not null;index;uniqueIndex:ux_attendance_student_session,priority:1"`
	SessionID string    `json:"session_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_attendance_student_session,priority:2"`
	PollID    string    `json:"poll_id"    gorm:"type:char(36);not null;index"`
	MarkedAt  time.Time `json:"marked_at"  gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`

	// Poll is the redeemed poll. Kept as a plain FK association for audit
	// joins; records outlive nothing since polls are never deleted.
	Poll AttendancePoll `json:"-" gorm:"foreignKey:PollID;references:ID;constraint:OnUpdate:CASCADE"`
}

// TableName returns the database table name for AttendanceRecord.
func (AttendanceRecord) TableName() string { return "attendance_records" }

// CourseSession is one scheduled meeting of a class. The attendance core
// only reads it to scope polls and resolve a poll's owning class; session
// CRUD lives in the surrounding course-management application.
type CourseSession struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	ClassID   string    `json:"class_id" gorm:"type:char(36);not null;index"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for CourseSession.
func (CourseSession) TableName() string { return "course_sessions" }

// Enrollment roles. Any enrolled role is attendance-eligible.
const (
	RoleStudent    = "student"
	RoleTA         = "ta"
	RoleTutor      = "tutor"
	RoleInstructor = "instructor"
)

// Enrollment ties a user to a class under a role. The check-in path treats
// any enrollment as attendance-eligible; finer role distinctions belong to
// the authorization layer upstream.
type Enrollment struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"  gorm:"type:varchar(64);not null;index;uniqueIndex:ux_enrollment_user_class,priority:1"`
	ClassID   string    `json:"class_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_enrollment_user_class,priority:2"`
	Role      string    `json:"role"     gorm:"type:varchar(16);not null;check:role IN ('student','ta','tutor','instructor')"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Enrollment.
func (Enrollment) TableName() string { return "enrollments" }
