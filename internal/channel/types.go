// Package channel defines the platform-neutral inbound message model and the contract
// receivers implement to feed messages into the bridge.
package channel

import (
	"strings"
	"time"
)

// ChannelType names an inbound platform.
type ChannelType string

// TypeDingTalk is the DingTalk robot channel.
const TypeDingTalk ChannelType = "dingtalk"

func (t ChannelType) String() string {
	return string(t)
}

// Inbound transport that delivered a message.
const (
	SourceStream  = "stream"
	SourceWebhook = "webhook"
)

// Identity is the sender of an inbound message.
type Identity struct {
	ExternalID  string
	DisplayName string
	Attributes  map[string]string
}

// Attribute returns a trimmed attribute value or "".
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// Sender attribute keys.
const (
	AttrStaffID  = "staff_id"
	AttrSenderID = "sender_id"
)

// Conversation types.
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Conversation is the chat an inbound message belongs to.
type Conversation struct {
	ID    string
	Type  string
	Title string
}

// IsGroup reports whether the conversation is a group chat.
func (c Conversation) IsGroup() bool {
	return c.Type == ConversationGroup
}

// InboundMessage is a projected inbound chat event.
type InboundMessage struct {
	Channel   ChannelType
	MessageID string
	// MsgType is the platform message type, e.g. text or richText.
	MsgType string
	// Text is the plain text extracted from the message; empty messages are not dispatched.
	Text         string
	BotID        string
	Sender       Identity
	Conversation Conversation
	// ReplyWebhook is the one-shot reply endpoint of this event.
	ReplyWebhook   string
	ReplyExpiresAt time.Time
	Mentioned      bool
	ReceivedAt     time.Time
	Source         string
}

// CanReply reports whether the one-shot reply endpoint is present and not expired at now.
func (m InboundMessage) CanReply(now time.Time) bool {
	if strings.TrimSpace(m.ReplyWebhook) == "" {
		return false
	}
	return m.ReplyExpiresAt.IsZero() || now.Before(m.ReplyExpiresAt)
}
