package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/markme/internal/auth"
	"github.com/MarcoPoloResearchLab/markme/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubOwnerDirectory struct {
	ownerID    string
	resolveErr error
	profile    users.Identity
	profileErr error
	updateErr  error
	lastUpdate *users.ProfileUpdate
}

func (s stubOwnerDirectory) ResolveOwnerID(context.Context, auth.SessionClaims) (string, error) {
	return s.ownerID, s.resolveErr
}

func (s stubOwnerDirectory) Profile(context.Context, string) (users.Identity, error) {
	return s.profile, s.profileErr
}

func (s stubOwnerDirectory) UpdateProfile(_ context.Context, _ string, update users.ProfileUpdate) (users.Identity, error) {
	if s.lastUpdate != nil {
		*s.lastUpdate = update
	}
	if s.updateErr != nil {
		return users.Identity{}, s.updateErr
	}
	profile := s.profile
	if update.DisplayName != nil {
		profile.DisplayName = *update.DisplayName
	}
	if update.Email != nil {
		profile.Email = *update.Email
	}
	return profile, nil
}

func runAuthorize(t *testing.T, handler *httpHandler) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/json/bookmark", http.NoBody)
	handler.authorizeRequest(ctx)
	return recorder, ctx
}

func TestAuthorizeRequestLogsExpiredSessionAtInfoLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		owners:   stubOwnerDirectory{},
		logger:   zap.New(core),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired session, got %s", entry.Level)
	}
	if entry.Message != "session validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired session error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedSessionErrorAtWarnLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: errors.New("signature mismatch")},
		owners:   stubOwnerDirectory{},
		logger:   zap.New(core),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected a single warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestStoresOwnerID(t *testing.T) {
	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "owner-1"}},
		owners:   stubOwnerDirectory{ownerID: "owner-1"},
		logger:   zap.NewNop(),
	}

	recorder, ctx := runAuthorize(t, handler)

	if ctx.IsAborted() {
		t.Fatalf("expected request to continue, got status %d", recorder.Code)
	}
	if got := ctx.GetString(ownerIDContextKey); got != "owner-1" {
		t.Fatalf("expected owner id in context, got %q", got)
	}
}

func TestAuthorizeRequestRejectsUnusableIdentity(t *testing.T) {
	handler := &httpHandler{
		sessions: stubSessionValidator{},
		owners:   stubOwnerDirectory{resolveErr: users.ErrInvalidIdentity},
		logger:   zap.NewNop(),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
}

func TestAuthorizeRequestReportsDirectoryFailure(t *testing.T) {
	handler := &httpHandler{
		sessions: stubSessionValidator{},
		owners:   stubOwnerDirectory{resolveErr: errors.New("database is locked")},
		logger:   zap.NewNop(),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal server error, got %d", recorder.Code)
	}
}
