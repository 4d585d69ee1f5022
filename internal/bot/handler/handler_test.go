package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"fabricobo/internal/agent"
	"fabricobo/internal/bot/models"
	"fabricobo/internal/entitlement"
	dErrors "fabricobo/pkg/domain-errors"
)

type sentActivity struct {
	serviceURL string
	activity   *models.Activity
}

type fakeConnector struct {
	sent    []sentActivity
	failAll bool
}

func (f *fakeConnector) SendActivity(_ context.Context, serviceURL string, activity *models.Activity) error {
	if f.failAll {
		return errors.New("delivery refused")
	}
	f.sent = append(f.sent, sentActivity{serviceURL: serviceURL, activity: activity})
	return nil
}

func (f *fakeConnector) SendTyping(ctx context.Context, inbound *models.Activity) error {
	typing := inbound.CreateReply("")
	typing.Type = models.TypeTyping
	return f.SendActivity(ctx, inbound.ServiceURL, typing)
}

func (f *fakeConnector) SendTextReply(ctx context.Context, inbound *models.Activity, text string) error {
	return f.SendActivity(ctx, inbound.ServiceURL, inbound.CreateReply(text))
}

func (f *fakeConnector) textReplies() []string {
	var texts []string
	for _, s := range f.sent {
		if s.activity.Type == models.TypeMessage {
			texts = append(texts, s.activity.Text)
		}
	}
	return texts
}

type fakeTokens struct {
	token        string
	tokenErr     error
	link         string
	gotMagicCode string
	gotUserID    string
}

func (f *fakeTokens) GetUserToken(_ context.Context, userID, _, _, magicCode string) (string, error) {
	f.gotUserID = userID
	f.gotMagicCode = magicCode
	return f.token, f.tokenErr
}

func (f *fakeTokens) GetSignInLink(_ context.Context, _ string) (string, error) {
	return f.link, nil
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
	err               error
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
	return f.result, f.err
}

type HandlerSuite struct {
	suite.Suite
	connector *fakeConnector
	tokens    *fakeTokens
	exchanger *fakeExchanger
	invoker   *fakeInvoker
	handler   *Handler
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.connector = &fakeConnector{}
	s.tokens = &fakeTokens{}
	s.exchanger = &fakeExchanger{token: "downstream-token"}
	s.invoker = &fakeInvoker{result: &agent.Result{
		Status:          agent.StatusCompleted,
		AssistantAnswer: "you have 3 accounts",
		ToolEvidence:    []agent.ToolUsageSummary{{ItemID: "call-1", Type: "tool_call", Status: "completed"}},
	}}
	entitlements, err := entitlement.NewStaticService("", logger)
	s.Require().NoError(err)
	s.handler = New(s.connector, s.tokens, s.exchanger, s.invoker, entitlements, "oauth-conn", logger)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) post(activity *models.Activity) *httptest.ResponseRecorder {
	body, err := json.Marshal(activity)
	s.Require().NoError(err)
	return s.postRaw(body)
}

func (s *HandlerSuite) postRaw(body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handler.HandleActivity(rec, req)
	return rec
}

func (s *HandlerSuite) message(text string) *models.Activity {
	return &models.Activity{
		Type:         models.TypeMessage,
		ID:           "act-1",
		ChannelID:    "msteams",
		ServiceURL:   "https://connector.example",
		From:         &models.ChannelAccount{ID: "user-1", Name: "Alice"},
		Recipient:    &models.ChannelAccount{ID: "bot-1"},
		Conversation: &models.ConversationAccount{ID: "conv-1"},
		Text:         text,
	}
}

func (s *HandlerSuite) TestMalformedBodyIsBadRequest() {
	rec := s.postRaw([]byte("{not json"))
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestAcknowledgmentIsAlwaysEmpty() {
	s.tokens.token = "vault-token"

	rec := s.post(s.message("show my accounts"))
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Body.String(), "answers travel through the connector, not the response body")
}

func (s *HandlerSuite) TestEmptyTextPromptsForQuestion() {
	rec := s.post(s.message("   "))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal([]string{promptText}, s.connector.textReplies())
	s.Zero(s.invoker.calls)
}

func (s *HandlerSuite) TestVaultMissSendsSignInCard() {
	s.tokens.link = "https://vault.example/signin"

	rec := s.post(s.message("show my accounts"))
	s.Equal(http.StatusOK, rec.Code)
	s.Zero(s.invoker.calls)

	s.Require().Len(s.connector.sent, 1)
	card := s.connector.sent[0].activity
	s.Require().Len(card.Attachments, 1)
	s.Equal(models.HeroCardContentType, card.Attachments[0].ContentType)
	hero := card.Attachments[0].Content.(models.HeroCard)
	s.Require().Len(hero.Buttons, 1)
	s.Equal("signin", hero.Buttons[0].Type)
	s.Equal("https://vault.example/signin", hero.Buttons[0].Value)
}

func (s *HandlerSuite) TestVaultMissWithoutLinkExplains() {
	s.post(s.message("show my accounts"))
	s.Equal([]string{notConfiguredText}, s.connector.textReplies())
}

func (s *HandlerSuite) TestMagicCodeCompletesSignInWithoutInvokingAgent() {
	s.tokens.token = "vault-token"

	rec := s.post(s.message("123456"))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("123456", s.tokens.gotMagicCode, "the code must be forwarded to the vault")
	s.Equal([]string{signedInText}, s.connector.textReplies())
	s.Zero(s.invoker.calls, "a sign-in code is not a question")
}

func (s *HandlerSuite) TestSixDigitCodeWithoutPendingSignInStillSignsIn() {
	// Vault accepts the code and returns a token; the user is told to ask
	// a question rather than having "123456" sent to the agent.
	s.tokens.token = "vault-token"
	s.post(s.message("654321"))
	s.Equal([]string{signedInText}, s.connector.textReplies())
}

func (s *HandlerSuite) TestHappyPathDeliversAnswerOutOfBand() {
	s.tokens.token = "vault-token"

	rec := s.post(s.message("show my accounts"))
	s.Equal(http.StatusOK, rec.Code)

	s.Equal("vault-token", s.exchanger.gotAssertion)
	s.Equal("show my accounts", s.invoker.gotQuestion)
	s.Empty(s.invoker.gotConversationID, "the agent service manages bot conversations")
	s.Equal("downstream-token", s.invoker.gotToken)

	s.Require().Len(s.connector.sent, 2)
	s.Equal(models.TypeTyping, s.connector.sent[0].activity.Type)
	reply := s.connector.sent[1].activity
	s.Equal("user-1", reply.Recipient.ID)
	s.Equal("act-1", reply.ReplyToID)
	s.Contains(reply.Text, "you have 3 accounts")
	s.Contains(reply.Text, "Data retrieved via Fabric", "tool evidence adds the provenance footer")
}

func (s *HandlerSuite) TestCompletedWithoutEvidenceHasNoFooter() {
	s.tokens.token = "vault-token"
	s.invoker.result = &agent.Result{Status: agent.StatusCompleted, AssistantAnswer: "plain answer"}

	s.post(s.message("q"))
	replies := s.connector.textReplies()
	s.Require().Len(replies, 1)
	s.Equal("plain answer", replies[0])
}

func (s *HandlerSuite) TestConsentRequiredGetsSignOutInstruction() {
	s.tokens.token = "vault-token"
	s.exchanger.token = ""
	s.exchanger.err = dErrors.New(dErrors.CodeConsentRequired, "AADSTS65001")

	rec := s.post(s.message("show my accounts"))
	s.Equal(http.StatusOK, rec.Code, "consent problems never change the acknowledgment")
	s.Equal([]string{consentText}, s.connector.textReplies())
	s.Zero(s.invoker.calls)
}

func (s *HandlerSuite) TestExchangeFailureGetsApology() {
	s.tokens.token = "vault-token"
	s.exchanger.err = dErrors.New(dErrors.CodeExchangeFailed, "invalid_client")

	rec := s.post(s.message("show my accounts"))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal([]string{apologyText}, s.connector.textReplies())
}

func (s *HandlerSuite) TestAgentTimeoutGetsApology() {
	s.tokens.token = "vault-token"
	s.invoker.result = &agent.Result{Status: agent.StatusTimeout, Error: "agent API timed out after 3m0s"}

	s.post(s.message("slow question"))
	s.Equal([]string{apologyText}, s.connector.textReplies(), "failure detail stays out of the channel")
}

func (s *HandlerSuite) TestDeliveryFailureNeverAltersAcknowledgment() {
	s.tokens.token = "vault-token"
	s.connector.failAll = true

	rec := s.post(s.message("show my accounts"))
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Body.String())
}

func (s *HandlerSuite) TestConversationUpdateGreetsNewMembers() {
	activity := &models.Activity{
		Type:         models.TypeConversationUpdate,
		ID:           "act-2",
		ServiceURL:   "https://connector.example",
		Recipient:    &models.ChannelAccount{ID: "bot-1"},
		Conversation: &models.ConversationAccount{ID: "conv-1"},
		MembersAdded: []models.ChannelAccount{{ID: "user-9"}},
	}

	rec := s.post(activity)
	s.Equal(http.StatusOK, rec.Code)
	replies := s.connector.textReplies()
	s.Require().Len(replies, 1)
	s.Contains(replies[0], "Fabric Data Assistant")
}

func (s *HandlerSuite) TestBotOwnJoinIsSilent() {
	activity := &models.Activity{
		Type:         models.TypeConversationUpdate,
		Recipient:    &models.ChannelAccount{ID: "bot-1"},
		MembersAdded: []models.ChannelAccount{{ID: "bot-1"}},
	}

	rec := s.post(activity)
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(s.connector.sent)
}

func (s *HandlerSuite) TestUnknownActivityTypeAcknowledgedSilently() {
	rec := s.post(&models.Activity{Type: "messageReaction"})
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(s.connector.sent)
}
