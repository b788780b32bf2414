package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/campushq/attendance-backend/internal/domain"
	"github.com/campushq/attendance-backend/internal/repo"
	"github.com/campushq/attendance-backend/internal/services"
)

// ---- stubs to satisfy handlers.New() dependencies ----

type stubPollSvc struct {
	create     func(ctx context.Context, sessionID string, durationMinutes int, createdBy string) (*domain.AttendancePoll, error)
	listPage   func(ctx context.Context, sessionID string, page, pageSize int) ([]domain.AttendancePoll, int64, error)
	deactivate func(ctx context.Context, pollID string) (*domain.AttendancePoll, error)
}

func (s stubPollSvc) Create(ctx context.Context, sessionID string, durationMinutes int, createdBy string) (*domain.AttendancePoll, error) {
	if s.create != nil {
		return s.create(ctx, sessionID, durationMinutes, createdBy)
	}
	return nil, nil
}

func (s stubPollSvc) ListBySessionPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.AttendancePoll, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, sessionID, page, pageSize)
	}
	return nil, 0, nil
}

func (s stubPollSvc) Deactivate(ctx context.Context, pollID string) (*domain.AttendancePoll, error) {
	if s.deactivate != nil {
		return s.deactivate(ctx, pollID)
	}
	return nil, nil
}

type stubCheckinSvc struct {
	submit func(ctx context.Context, code, studentID string, opts services.SubmitOptions) (*domain.AttendanceRecord, error)
}

func (s stubCheckinSvc) Submit(ctx context.Context, code, studentID string, opts services.SubmitOptions) (*domain.AttendanceRecord, error) {
	if s.submit != nil {
		return s.submit(ctx, code, studentID, opts)
	}
	return nil, nil
}

// ---- tests ----

func TestCreatePoll_BadSessionID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(stubPollSvc{}, stubCheckinSvc{})

	r := gin.New()
	r.POST("/sessions/:id/polls", h.CreatePoll)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions/not-a-uuid/polls", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreatePoll_EmptyBodyUsesDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sid := uuid.NewString()

	svc := stubPollSvc{create: func(ctx context.Context, sessionID string, durationMinutes int, createdBy string) (*domain.AttendancePoll, error) {
		if sessionID != sid {
			t.Fatalf("session id = %q, want %q", sessionID, sid)
		}
		if durationMinutes != 0 {
			t.Fatalf("duration = %d, want 0 (service default)", durationMinutes)
		}
		if createdBy != "instr-42" {
			t.Fatalf("createdBy = %q", createdBy)
		}
		return &domain.AttendancePoll{ID: "p1", SessionID: sessionID, Code: "04719283", Active: true}, nil
	}}
	h := New(svc, stubCheckinSvc{})

	r := gin.New()
	r.POST("/sessions/:id/polls", h.CreatePoll)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sid+"/polls", nil)
	req.Header.Set("X-User-ID", "instr-42")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	var p domain.AttendancePoll
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("json: %v", err)
	}
	if p.Code != "04719283" {
		t.Fatalf("code = %q", p.Code)
	}
}

func TestCreatePoll_BindingRejectsOutOfRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := stubPollSvc{create: func(context.Context, string, int, string) (*domain.AttendancePoll, error) {
		t.Fatalf("service should not be called on binding error")
		return nil, nil
	}}
	h := New(svc, stubCheckinSvc{})

	r := gin.New()
	r.POST("/sessions/:id/polls", h.CreatePoll)

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"duration_minutes": 1441}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+uuid.NewString()+"/polls", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreatePoll_ErrorMappings(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"session_missing", services.ErrSessionNotFound, http.StatusNotFound, ErrCodeSessionNotFound},
		{"duration", services.ErrDurationOutOfRange, http.StatusBadRequest, ErrCodeBadRequest},
		{"exhausted", services.ErrCodeSpaceExhausted, http.StatusServiceUnavailable, ErrCodeCodeUnavailable},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			svc := stubPollSvc{create: func(context.Context, string, int, string) (*domain.AttendancePoll, error) {
				return nil, tc.err
			}}
			h := New(svc, stubCheckinSvc{})

			r := gin.New()
			r.POST("/sessions/:id/polls", h.CreatePoll)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/sessions/"+uuid.NewString()+"/polls", nil)
			r.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			var er ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("json: %v", err)
			}
			if er.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", er.Code, tc.wantCode)
			}
			if tc.err == services.ErrCodeSpaceExhausted && w.Header().Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After header")
			}
		})
	}
}

func TestListPolls_PaginationEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sid := uuid.NewString()

	svc := stubPollSvc{listPage: func(ctx context.Context, sessionID string, page, pageSize int) ([]domain.AttendancePoll, int64, error) {
		if page != 2 || pageSize != 1 {
			t.Fatalf("page/pageSize = %d/%d, want 2/1", page, pageSize)
		}
		return []domain.AttendancePoll{{ID: "p2", SessionID: sessionID, Code: "22222222"}}, 3, nil
	}}
	h := New(svc, stubCheckinSvc{})

	r := gin.New()
	r.GET("/sessions/:id/polls", h.ListPolls)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sid+"/polls?page=2&page_size=1", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp ListPollsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Pagination.Total != 3 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("pagination wrong: %+v", resp.Pagination)
	}
}

func TestListPolls_ETag304(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// The ETag path needs the concrete service so the handler can reach the
	// DB for stats.
	dsn := fmt.Sprintf("file:pollh_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.CourseSession{}, &domain.AttendancePoll{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	sid := uuid.NewString()
	if err := db.Create(&domain.CourseSession{ID: sid, ClassID: "c1"}).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	now := time.Now().UTC()
	if _, err := repo.CreatePoll(context.Background(), db, sid, "31415926", "i1", 10, now); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	h := New(services.NewPollService(db, etagPollRepo{}), stubCheckinSvc{})

	r := gin.New()
	r.GET("/sessions/:id/polls", h.ListPolls)

	w1 := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodGet, "/sessions/"+sid+"/polls", nil)
	r.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("first GET: %d", w1.Code)
	}
	etag := w1.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag header")
	}

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/sessions/"+sid+"/polls", nil)
	req2.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w2.Code)
	}
}

// etagPollRepo backs the concrete PollService in the ETag test with the real
// repo functions.
type etagPollRepo struct{}

func (etagPollRepo) CreatePoll(ctx context.Context, db *gorm.DB, sessionID, codeStr, createdBy string, durationMinutes int, now time.Time) (*domain.AttendancePoll, error) {
	return repo.CreatePoll(ctx, db, sessionID, codeStr, createdBy, durationMinutes, now)
}

func (etagPollRepo) GetPoll(ctx context.Context, db *gorm.DB, id string) (*domain.AttendancePoll, error) {
	return repo.GetPoll(ctx, db, id)
}

func (etagPollRepo) FindRedeemableByCode(ctx context.Context, db *gorm.DB, codeStr string, now time.Time) (*domain.AttendancePoll, error) {
	return repo.FindRedeemableByCode(ctx, db, codeStr, now)
}

func (etagPollRepo) CountPollsByCode(ctx context.Context, db *gorm.DB, codeStr string) (int64, error) {
	return repo.CountPollsByCode(ctx, db, codeStr)
}

func (etagPollRepo) CodeInUse(ctx context.Context, db *gorm.DB, codeStr string, now time.Time) (bool, error) {
	return repo.CodeInUse(ctx, db, codeStr, now)
}

func (etagPollRepo) ListPollsBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.AttendancePoll, error) {
	return repo.ListPollsBySession(ctx, db, sessionID)
}

func (etagPollRepo) CountPollsBySession(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	return repo.CountPollsBySession(ctx, db, sessionID)
}

func (etagPollRepo) ListPollsBySessionPage(ctx context.Context, db *gorm.DB, sessionID string, offset, limit int) ([]domain.AttendancePoll, error) {
	return repo.ListPollsBySessionPage(ctx, db, sessionID, offset, limit)
}

func (etagPollRepo) DeactivatePoll(ctx context.Context, db *gorm.DB, id string) (*domain.AttendancePoll, error) {
	return repo.DeactivatePoll(ctx, db, id)
}

func (etagPollRepo) SessionExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	return repo.SessionExists(ctx, db, id)
}

func TestDeactivatePoll_Mappings(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pid := uuid.NewString()

	t.Run("ok", func(t *testing.T) {
		svc := stubPollSvc{deactivate: func(ctx context.Context, pollID string) (*domain.AttendancePoll, error) {
			if pollID != pid {
				t.Fatalf("poll id = %q", pollID)
			}
			return &domain.AttendancePoll{ID: pollID, Active: false}, nil
		}}
		h := New(svc, stubCheckinSvc{})
		r := gin.New()
		r.POST("/polls/:id/deactivate", h.DeactivatePoll)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/polls/"+pid+"/deactivate", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("missing", func(t *testing.T) {
		svc := stubPollSvc{deactivate: func(context.Context, string) (*domain.AttendancePoll, error) {
			return nil, services.ErrPollNotFound
		}}
		h := New(svc, stubCheckinSvc{})
		r := gin.New()
		r.POST("/polls/:id/deactivate", h.DeactivatePoll)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/polls/"+pid+"/deactivate", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("bad_id", func(t *testing.T) {
		h := New(stubPollSvc{}, stubCheckinSvc{})
		r := gin.New()
		r.POST("/polls/:id/deactivate", h.DeactivatePoll)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/polls/xyz/deactivate", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("internal", func(t *testing.T) {
		svc := stubPollSvc{deactivate: func(context.Context, string) (*domain.AttendancePoll, error) {
			return nil, errors.New("db down")
		}}
		h := New(svc, stubCheckinSvc{})
		r := gin.New()
		r.POST("/polls/:id/deactivate", h.DeactivatePoll)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/polls/"+pid+"/deactivate", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", w.Code)
		}
	})
}
