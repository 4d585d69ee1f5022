package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
)

type MiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
}

func (s *MiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) TestRequestIDGenerated() {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	s.NotEmpty(seen)
	s.Equal(seen, rec.Header().Get("X-Request-ID"))
}

func (s *MiddlewareSuite) TestRequestIDPreserved() {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "given-id")
	RequestID(next).ServeHTTP(httptest.NewRecorder(), req)

	s.Equal("given-id", seen)
}

func (s *MiddlewareSuite) TestRecoveryConvertsPanicTo500() {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	Recovery(s.logger)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *MiddlewareSuite) TestCORSAllowsConfiguredOrigin() {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS([]string{"http://localhost:3000"})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	s.Equal("http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func (s *MiddlewareSuite) TestCORSIgnoresUnknownOrigin() {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS([]string{"http://localhost:3000"})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	s.Empty(rec.Header().Get("Access-Control-Allow-Origin"))
}

func (s *MiddlewareSuite) TestCORSPreflightShortCircuits() {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	handler := CORS([]string{"http://localhost:3000"})(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/agent", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	s.Equal(http.StatusNoContent, rec.Code)
	s.False(called)
}
