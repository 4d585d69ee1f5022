// Package models defines the conversational channel activity envelope and
// the card payloads the gateway sends through the connector.
package models

import "encoding/json"

// Activity types handled by the gateway.
const (
	TypeMessage            = "message"
	TypeConversationUpdate = "conversationUpdate"
	TypeTyping             = "typing"
)

// HeroCardContentType is the attachment content type for hero cards.
const HeroCardContentType = "application/vnd.microsoft.card.hero"

// ChannelAccount identifies a user or bot on a channel.
type ChannelAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Attachment is a rich content attachment on an activity.
type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content"`
}

// CardAction is a button on a card.
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// HeroCard is a simple card with a title, text and action buttons.
type HeroCard struct {
	Title   string       `json:"title,omitempty"`
	Text    string       `json:"text,omitempty"`
	Buttons []CardAction `json:"buttons,omitempty"`
}

// Activity is the channel protocol envelope for both inbound activities and
// outbound replies.
type Activity struct {
	Type         string               `json:"type"`
	ID           string               `json:"id,omitempty"`
	ChannelID    string               `json:"channelId,omitempty"`
	ServiceURL   string               `json:"serviceUrl,omitempty"`
	From         *ChannelAccount      `json:"from,omitempty"`
	Recipient    *ChannelAccount      `json:"recipient,omitempty"`
	Conversation *ConversationAccount `json:"conversation,omitempty"`
	ReplyToID    string               `json:"replyToId,omitempty"`
	Text         string               `json:"text,omitempty"`
	MembersAdded []ChannelAccount     `json:"membersAdded,omitempty"`
	Attachments  []Attachment         `json:"attachments,omitempty"`
	Value        json.RawMessage      `json:"value,omitempty"`
}

// CreateReply builds a message reply addressed back into the inbound
// activity's conversation: sender and recipient are swapped, the
// conversation is carried over, and replyToId references the inbound
// activity so the channel threads the answer correctly.
func (a *Activity) CreateReply(text string) *Activity {
	return &Activity{
		Type:         TypeMessage,
		Text:         text,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
		ReplyToID:    a.ID,
	}
}

// ConversationID returns the conversation id, empty when absent.
func (a *Activity) ConversationID() string {
	if a.Conversation == nil {
		return ""
	}
	return a.Conversation.ID
}

// FromID returns the sender's channel account id, empty when absent.
func (a *Activity) FromID() string {
	if a.From == nil {
		return ""
	}
	return a.From.ID
}

// NewSignInCard builds a hero card attachment with a single sign-in button
// pointing at the given link.
func NewSignInCard(signInLink string) Attachment {
	return Attachment{
		ContentType: HeroCardContentType,
		Content: HeroCard{
			Title: "Sign In Required",
			Text:  "Please sign in to access your data.",
			Buttons: []CardAction{
				{Type: "signin", Title: "Sign In", Value: signInLink},
			},
		},
	}
}

// IsMagicCode reports whether text is a six-digit sign-in verification code.
func IsMagicCode(text string) bool {
	if len(text) != 6 {
		return false
	}
	for _, c := range []byte(text) {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
