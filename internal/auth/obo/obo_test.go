package obo

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "fabricobo/pkg/domain-errors"
)

type OBOSuite struct {
	suite.Suite
	logger *slog.Logger
}

func (s *OBOSuite) SetupSuite() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOBOSuite(t *testing.T) {
	suite.Run(t, new(OBOSuite))
}

func (s *OBOSuite) newExchanger(handler http.HandlerFunc) (*Exchanger, *httptest.Server) {
	server := httptest.NewServer(handler)
	e := New("https://login.microsoftonline.com/tenant", "client-id", "client-secret", "",
		s.logger, WithTokenURL(server.URL+"/oauth2/v2.0/token"))
	return e, server
}

func (s *OBOSuite) TestSuccessfulExchange() {
	var captured url.Values
	e, server := s.newExchanger(func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(r.ParseForm())
		captured = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "downstream-token"})
	})
	defer server.Close()

	token, err := e.Exchange(context.Background(), "caller-assertion")
	s.Require().NoError(err)
	s.Equal("downstream-token", token)

	s.Equal("urn:ietf:params:oauth:grant-type:jwt-bearer", captured.Get("grant_type"))
	s.Equal("on_behalf_of", captured.Get("requested_token_use"))
	s.Equal("caller-assertion", captured.Get("assertion"))
	s.Equal("client-id", captured.Get("client_id"))
	s.Equal(DefaultScope, captured.Get("scope"))
}

func (s *OBOSuite) TestInteractionRequiredIsConsentRequired() {
	e, server := s.newExchanger(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "interaction_required",
			"error_description": "AADSTS65001: user has not consented",
		})
	})
	defer server.Close()

	_, err := e.Exchange(context.Background(), "caller-assertion")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConsentRequired))
	s.Contains(err.Error(), "AADSTS65001")
}

func (s *OBOSuite) TestOtherProviderErrorIsExchangeFailed() {
	e, server := s.newExchanger(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_client",
			"error_description": "AADSTS7000215: invalid client secret",
		})
	})
	defer server.Close()

	_, err := e.Exchange(context.Background(), "caller-assertion")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeExchangeFailed))
	s.Contains(err.Error(), "invalid_client")
}

func (s *OBOSuite) TestUnreachableEndpointIsUpstreamUnavailable() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	e := New("https://login.microsoftonline.com/tenant", "client-id", "client-secret", "",
		s.logger, WithTokenURL(server.URL+"/oauth2/v2.0/token"))

	_, err := e.Exchange(context.Background(), "caller-assertion")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstreamUnavailable))
}

func (s *OBOSuite) TestEmptyAssertionRejected() {
	e := New("https://login.microsoftonline.com/tenant", "client-id", "client-secret", "", s.logger)

	_, err := e.Exchange(context.Background(), "")
	s.True(dErrors.HasCode(err, dErrors.CodeExchangeFailed))
}

func (s *OBOSuite) TestForAppReturnsSameInstance() {
	a := ForApp("https://login.microsoftonline.com/t1", "c1", "secret", "", s.logger)
	b := ForApp("https://login.microsoftonline.com/t1", "c1", "secret", "", s.logger)
	c := ForApp("https://login.microsoftonline.com/t2", "c1", "secret", "", s.logger)

	s.Same(a, b)
	s.NotSame(a, c)
}
