package dingtalk

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Conversation types carried by robot callbacks.
const (
	ConversationDirect = "1"
	ConversationGroup  = "2"
)

// CallbackEvent is the subset of a robot callback payload the bridge consumes.
// Stream-mode and HTTP-mode robots deliver the same JSON shape.
type CallbackEvent struct {
	MsgID             string `json:"msgId"`
	MsgType           string `json:"msgtype"`
	ConversationID    string `json:"conversationId"`
	ConversationType  string `json:"conversationType"`
	ConversationTitle string `json:"conversationTitle"`
	SenderID          string `json:"senderId"`
	SenderStaffID     string `json:"senderStaffId"`
	SenderNick        string `json:"senderNick"`
	ChatbotUserID     string `json:"chatbotUserId"`
	RobotCode         string `json:"robotCode"`
	IsInAtList        bool   `json:"isInAtList"`
	CreateAt          int64  `json:"createAt"`

	SessionWebhook            string `json:"sessionWebhook"`
	SessionWebhookExpiredTime int64  `json:"sessionWebhookExpiredTime"`

	Text    CallbackText    `json:"text"`
	Content json.RawMessage `json:"content"`
}

// CallbackText is the body of a text message.
type CallbackText struct {
	Content string `json:"content"`
}

// CallbackContent is the body of non-text messages.
type CallbackContent struct {
	RichText     []RichTextSegment `json:"richText"`
	Recognition  string            `json:"recognition"`
	FileName     string            `json:"fileName"`
	DownloadCode string            `json:"downloadCode"`
}

// RichTextSegment is one element of a richText message.
type RichTextSegment struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	DownloadCode string `json:"downloadCode"`
}

// ParseCallback decodes a callback payload.
func ParseCallback(data []byte) (CallbackEvent, error) {
	var event CallbackEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return CallbackEvent{}, fmt.Errorf("decode callback: %w", err)
	}
	return event, nil
}

// IsGroup reports whether the event came from a group conversation.
func (e CallbackEvent) IsGroup() bool {
	return e.ConversationType == ConversationGroup
}

// DecodeContent decodes the content field, which is either an object or a
// JSON-encoded string holding that object.
func (e CallbackEvent) DecodeContent() (CallbackContent, error) {
	var content CallbackContent
	raw := bytes.TrimSpace(e.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return content, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return content, fmt.Errorf("decode content string: %w", err)
		}
		raw = []byte(inner)
	}
	if err := json.Unmarshal(raw, &content); err != nil {
		return content, fmt.Errorf("decode content: %w", err)
	}
	return content, nil
}
