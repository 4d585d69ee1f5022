// Package models defines the request and response envelopes for the
// synchronous assistant endpoint.
package models

import (
	"errors"

	"fabricobo/internal/agent"
	"fabricobo/internal/entitlement"
)

// AskRequest is the inbound question from the browser client.
type AskRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Validate implements httputil.Validatable.
func (r *AskRequest) Validate() error {
	if r.Question == "" {
		return errors.New("question is required")
	}
	return nil
}

// AskResponse is the synchronous response envelope. Absent optional fields
// are omitted from the JSON entirely.
type AskResponse struct {
	Status          string                   `json:"status"`
	CorrelationID   string                   `json:"correlationId"`
	ConversationID  string                   `json:"conversationId,omitempty"`
	ResponseID      string                   `json:"responseId,omitempty"`
	AssistantAnswer string                   `json:"assistantAnswer,omitempty"`
	ToolEvidence    []agent.ToolUsageSummary `json:"toolEvidence,omitempty"`
	Entitlement     *entitlement.Result      `json:"entitlement,omitempty"`
	Error           string                   `json:"error,omitempty"`
}

// NewAskResponse builds the envelope from an agent result. Answer text is
// only carried on completed results; for any other status the envelope
// holds the error detail instead.
func NewAskResponse(correlationID string, result *agent.Result, ent *entitlement.Result) *AskResponse {
	resp := &AskResponse{
		Status:         result.Status,
		CorrelationID:  correlationID,
		ConversationID: result.ConversationID,
		ResponseID:     result.ResponseID,
		Entitlement:    ent,
	}
	if result.Completed() {
		resp.AssistantAnswer = result.AssistantAnswer
		resp.ToolEvidence = result.ToolEvidence
	} else {
		resp.Error = result.Error
	}
	return resp
}
