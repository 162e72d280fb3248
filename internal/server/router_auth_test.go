package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/sets", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubTokenValidator{
			validateErr: jwt.ErrTokenExpired,
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), jwt.ErrTokenExpired) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/sets", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubTokenValidator{
			validateErr: errors.New("signature mismatch"),
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
}

func TestAuthorizeRequestStoresAccountID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/sets", http.NoBody)
	request.Header.Set("Authorization", "Bearer valid-token")
	ctx.Request = request

	handler := &httpHandler{
		tokens: stubTokenValidator{accountID: 42},
		logger: zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	accountID, ok := accountIDFrom(ctx)
	if !ok || accountID != 42 {
		t.Fatalf("expected account 42 in the context, got %d", accountID)
	}
	if ctx.IsAborted() {
		t.Fatalf("expected the request to continue")
	}
}

func TestAuthorizeRequestRejectsMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "basic scheme", header: "Basic abc"},
		{name: "empty bearer", header: "Bearer   "},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodPost, "/sets", http.NoBody)
			if testCase.header != "" {
				request.Header.Set("Authorization", testCase.header)
			}
			ctx.Request = request

			handler := &httpHandler{tokens: stubTokenValidator{accountID: 1}, logger: zap.NewNop()}
			handler.authorizeRequest(ctx)

			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("expected unauthorized, got %d", recorder.Code)
			}
		})
	}
}

type stubTokenValidator struct {
	accountID   int64
	validateErr error
}

func (s stubTokenValidator) ValidateToken(string) (int64, error) {
	if s.validateErr != nil {
		return 0, s.validateErr
	}
	return s.accountID, nil
}
