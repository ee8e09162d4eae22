// Package dingtalk receives DingTalk robot callbacks and projects them onto
// channel.InboundMessage.
package dingtalk

import (
	"strings"
	"time"

	"github.com/memohai/dingtalk-bridge/internal/channel"
	dtapi "github.com/memohai/dingtalk-bridge/internal/dingtalk"
)

// Placeholder labels for messages that carry media instead of text.
const (
	LabelPicture = "[图片]"
	LabelVoice   = "[语音消息]"
	LabelVideo   = "[视频]"
	LabelFile    = "[文件]"
)

// ExtractText projects a callback onto plain text by message type. Unknown types and
// undecodable content yield "".
func ExtractText(event dtapi.CallbackEvent) string {
	switch event.MsgType {
	case "text", "":
		return strings.TrimSpace(event.Text.Content)
	case "picture":
		return LabelPicture
	case "video":
		return LabelVideo
	}

	content, err := event.DecodeContent()
	if err != nil {
		return ""
	}
	switch event.MsgType {
	case "richText":
		for _, seg := range content.RichText {
			if seg.Type != "" && seg.Type != "text" {
				continue
			}
			if text := strings.TrimSpace(seg.Text); text != "" {
				return text
			}
		}
		return ""
	case "audio":
		if text := strings.TrimSpace(content.Recognition); text != "" {
			return text
		}
		return LabelVoice
	case "file":
		name := strings.TrimSpace(content.FileName)
		if name == "" {
			return LabelFile
		}
		return LabelFile + " " + name
	default:
		return ""
	}
}

// ToInbound projects a callback onto an inbound message delivered by source.
func ToInbound(event dtapi.CallbackEvent, source string) channel.InboundMessage {
	convType := channel.ConversationDirect
	if event.IsGroup() {
		convType = channel.ConversationGroup
	}
	senderID := strings.TrimSpace(event.SenderStaffID)
	if senderID == "" {
		senderID = strings.TrimSpace(event.SenderID)
	}
	msg := channel.InboundMessage{
		Channel:   channel.TypeDingTalk,
		MessageID: event.MsgID,
		MsgType:   event.MsgType,
		Text:      ExtractText(event),
		BotID:     strings.TrimSpace(event.RobotCode),
		Sender: channel.Identity{
			ExternalID:  senderID,
			DisplayName: event.SenderNick,
			Attributes: map[string]string{
				channel.AttrStaffID:  event.SenderStaffID,
				channel.AttrSenderID: event.SenderID,
			},
		},
		Conversation: channel.Conversation{
			ID:    event.ConversationID,
			Type:  convType,
			Title: event.ConversationTitle,
		},
		ReplyWebhook: event.SessionWebhook,
		Mentioned:    event.IsInAtList,
		ReceivedAt:   time.Now(),
		Source:       source,
	}
	if event.SessionWebhookExpiredTime > 0 {
		msg.ReplyExpiresAt = time.UnixMilli(event.SessionWebhookExpiredTime)
	}
	return msg
}
