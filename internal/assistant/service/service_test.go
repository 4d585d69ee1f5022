package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"fabricobo/internal/agent"
	"fabricobo/internal/assistant/models"
	authmodels "fabricobo/internal/auth/models"
	"fabricobo/internal/entitlement"
	dErrors "fabricobo/pkg/domain-errors"
)

type fakeEntitlements struct {
	result *entitlement.Result
	err    error
}

func (f *fakeEntitlements) GetEntitlement(_ context.Context, upn, oid string) (*entitlement.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &entitlement.Result{UPN: upn, OID: oid, IsAuthorized: true}, nil
}

type fakeExchanger struct {
	token        string
	err          error
	gotAssertion string
}

func (f *fakeExchanger) Exchange(_ context.Context, assertion string) (string, error) {
	f.gotAssertion = assertion
	return f.token, f.err
}

type fakeInvoker struct {
	result            *agent.Result
	gotQuestion       string
	gotConversationID string
	gotToken          string
	calls             int
}

func (f *fakeInvoker) RunAgent(_ context.Context, question, conversationID, accessToken, _ string) (*agent.Result, error) {
	f.calls++
	f.gotQuestion = question
	f.gotConversationID = conversationID
	f.gotToken = accessToken
	return f.result, nil
}

type ServiceSuite struct {
	suite.Suite
	entitlements *fakeEntitlements
	exchanger    *fakeExchanger
	invoker      *fakeInvoker
	service      *Service
	identity     *authmodels.Identity
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.entitlements = &fakeEntitlements{
		result: &entitlement.Result{UPN: "alice@contoso.com", OID: "oid-1", RepCode: "R-100", Role: "Advisor", IsAuthorized: true},
	}
	s.exchanger = &fakeExchanger{token: "downstream-token"}
	s.invoker = &fakeInvoker{result: &agent.Result{
		Status:          agent.StatusCompleted,
		ConversationID:  "conv-1",
		ResponseID:      "resp-1",
		AssistantAnswer: "you have 3 accounts",
		ToolEvidence:    []agent.ToolUsageSummary{{ItemID: "call-1", Type: "tool_call", Status: "completed"}},
	}}
	s.service = New(s.entitlements, s.exchanger, s.invoker, logger)
	s.identity = &authmodels.Identity{
		UPN:      "alice@contoso.com",
		OID:      "oid-1",
		RawToken: "caller-credential",
	}
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) ask(req *models.AskRequest) (*models.AskResponse, error) {
	return s.service.Ask(context.Background(), s.identity, req, "abc123def456")
}

func (s *ServiceSuite) TestHappyPath() {
	resp, err := s.ask(&models.AskRequest{Question: "how many accounts?", ConversationID: "conv-1"})
	s.Require().NoError(err)

	s.Equal(agent.StatusCompleted, resp.Status)
	s.Equal("abc123def456", resp.CorrelationID)
	s.Equal("conv-1", resp.ConversationID)
	s.Equal("resp-1", resp.ResponseID)
	s.Equal("you have 3 accounts", resp.AssistantAnswer)
	s.Len(resp.ToolEvidence, 1)
	s.Require().NotNil(resp.Entitlement)
	s.Equal("R-100", resp.Entitlement.RepCode)

	s.Equal("caller-credential", s.exchanger.gotAssertion, "the validated raw credential is the assertion")
	s.Equal("downstream-token", s.invoker.gotToken)
	s.Equal("conv-1", s.invoker.gotConversationID)
}

func (s *ServiceSuite) TestEntitlementFailureDegradesToNoHint() {
	s.entitlements.err = errors.New("entitlement store down")

	resp, err := s.ask(&models.AskRequest{Question: "q"})
	s.Require().NoError(err, "entitlement is advisory and must never fail the request")

	s.Require().NotNil(resp.Entitlement)
	s.True(resp.Entitlement.IsAuthorized)
	s.Empty(resp.Entitlement.RepCode)
	s.Equal(1, s.invoker.calls)
}

func (s *ServiceSuite) TestExchangeFailureIsFatal() {
	s.exchanger.err = dErrors.New(dErrors.CodeExchangeFailed, "invalid_client")

	_, err := s.ask(&models.AskRequest{Question: "q"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeExchangeFailed))
	s.Zero(s.invoker.calls, "no downstream token, no agent call")
}

func (s *ServiceSuite) TestConsentRequiredPropagatesWithCode() {
	s.exchanger.err = dErrors.New(dErrors.CodeConsentRequired, "AADSTS65001")

	_, err := s.ask(&models.AskRequest{Question: "q"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConsentRequired))
}

func (s *ServiceSuite) TestNonCompletedResultCarriesErrorNotAnswer() {
	s.invoker.result = &agent.Result{
		Status:         agent.StatusTimeout,
		ConversationID: "conv-1",
		Error:          "agent API timed out after 3m0s",
	}

	resp, err := s.ask(&models.AskRequest{Question: "q"})
	s.Require().NoError(err)

	s.Equal(agent.StatusTimeout, resp.Status)
	s.Empty(resp.AssistantAnswer)
	s.Empty(resp.ToolEvidence)
	s.Contains(resp.Error, "timed out")
}
