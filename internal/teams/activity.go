// Package teams implements the Bot Framework channel surface for HuddleBot:
// activity schema types, the inbound HTTP adapter, connector REST client,
// and token handling for the Teams channel.
package teams

import (
	"encoding/json"
	"time"
)

// Activity types used by the bot.
const (
	ActivityMessage            = "message"
	ActivityConversationUpdate = "conversationUpdate"
	ActivityInvoke             = "invoke"
	ActivityMessageReaction    = "messageReaction"
	ActivityTyping             = "typing"
	ActivityEndOfConversation  = "endOfConversation"
)

// InvokeCardAction is the invoke name Teams uses for Adaptive Card
// Action.Submit payloads routed through messaging extensions.
const InvokeCardAction = "adaptiveCard/action"

// ChannelAccount identifies a chat participant on the channel. AadObjectID
// is only populated on channels backed by Azure AD (Teams).
type ChannelAccount struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	AadObjectID string `json:"aadObjectId,omitempty"`
	Role        string `json:"role,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
}

// Attachment carries rich content such as an Adaptive Card.
type Attachment struct {
	ContentType string          `json:"contentType"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Name        string          `json:"name,omitempty"`
}

// Activity is one unit of the Bot Framework wire protocol, inbound or
// outbound. Only the fields the bot reads or writes are modeled.
type Activity struct {
	Type           string              `json:"type"`
	ID             string              `json:"id,omitempty"`
	Timestamp      *time.Time          `json:"timestamp,omitempty"`
	ServiceURL     string              `json:"serviceUrl,omitempty"`
	ChannelID      string              `json:"channelId,omitempty"`
	From           ChannelAccount      `json:"from,omitempty"`
	Conversation   ConversationAccount `json:"conversation,omitempty"`
	Recipient      ChannelAccount      `json:"recipient,omitempty"`
	Text           string              `json:"text,omitempty"`
	TextFormat     string              `json:"textFormat,omitempty"`
	Locale         string              `json:"locale,omitempty"`
	ReplyToID      string              `json:"replyToId,omitempty"`
	Name           string              `json:"name,omitempty"`
	Value          json.RawMessage     `json:"value,omitempty"`
	Attachments    []Attachment        `json:"attachments,omitempty"`
	MembersAdded   []ChannelAccount    `json:"membersAdded,omitempty"`
	MembersRemoved []ChannelAccount    `json:"membersRemoved,omitempty"`
	ChannelData    json.RawMessage     `json:"channelData,omitempty"`
}

// teamsChannelData is the subset of Teams channelData the bot cares about.
type teamsChannelData struct {
	Tenant struct {
		ID string `json:"id"`
	} `json:"tenant"`
}

// TenantID returns the tenant the activity originated from, preferring the
// conversation account and falling back to Teams channelData.
func (a *Activity) TenantID() string {
	if a.Conversation.TenantID != "" {
		return a.Conversation.TenantID
	}
	if len(a.ChannelData) == 0 {
		return ""
	}
	var cd teamsChannelData
	if err := json.Unmarshal(a.ChannelData, &cd); err != nil {
		return ""
	}
	return cd.Tenant.ID
}

// CreateReply builds an outbound activity addressed back to the sender of
// the receiving activity, with from/recipient swapped and the conversation
// and service URL carried over.
func (a *Activity) CreateReply() *Activity {
	now := time.Now().UTC()
	return &Activity{
		Type:         ActivityMessage,
		Timestamp:    &now,
		ServiceURL:   a.ServiceURL,
		ChannelID:    a.ChannelID,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
		ReplyToID:    a.ID,
		Locale:       a.Locale,
	}
}

// TextReply builds a plain text reply to the receiving activity.
func (a *Activity) TextReply(text string) *Activity {
	reply := a.CreateReply()
	reply.Text = text
	return reply
}

// CardReply builds a reply carrying a single attachment.
func (a *Activity) CardReply(attachment Attachment) *Activity {
	reply := a.CreateReply()
	reply.Attachments = []Attachment{attachment}
	return reply
}
