package dingtalk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MessageKind enumerates the outbound message shapes.
type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageMarkdown MessageKind = "markdown"
	MessageImage    MessageKind = "image"
	MessageVideo    MessageKind = "video"
	MessageAudio    MessageKind = "audio"
	MessageFile     MessageKind = "file"
)

// ErrNoWebhook is returned when a reply is attempted without a session webhook.
var ErrNoWebhook = errors.New("session webhook is empty")

// Message is one outbound robot message.
type Message struct {
	Kind MessageKind

	Text  string
	Title string
	// AtUserIDs mentions users in a markdown reply.
	AtUserIDs []string

	MediaID string
	// ThumbMediaID is the video cover image.
	ThumbMediaID string
	// Duration is seconds for video and milliseconds for audio, as a decimal string.
	Duration string
	FileName string
	FileType string
}

// TextMessage builds a plain text message.
func TextMessage(text string) Message {
	return Message{Kind: MessageText, Text: text}
}

// MarkdownMessage builds a markdown message.
func MarkdownMessage(title, text string) Message {
	return Message{Kind: MessageMarkdown, Title: title, Text: text}
}

// msgKeyParam maps a message to the proactive robot API msgKey and msgParam.
func (m Message) msgKeyParam() (string, map[string]string, error) {
	switch m.Kind {
	case MessageText:
		return "sampleText", map[string]string{"content": m.Text}, nil
	case MessageMarkdown:
		return "sampleMarkdown", map[string]string{"title": m.Title, "text": m.Text}, nil
	case MessageImage:
		return "sampleImageMsg", map[string]string{"photoURL": m.MediaID}, nil
	case MessageVideo:
		return "sampleVideo", map[string]string{
			"duration":     m.Duration,
			"videoMediaId": m.MediaID,
			"videoType":    "mp4",
			"picMediaId":   m.ThumbMediaID,
		}, nil
	case MessageAudio:
		return "sampleAudio", map[string]string{"mediaId": m.MediaID, "duration": m.Duration}, nil
	case MessageFile:
		return "sampleFile", map[string]string{
			"mediaId":  m.MediaID,
			"fileName": m.FileName,
			"fileType": m.FileType,
		}, nil
	default:
		return "", nil, fmt.Errorf("unsupported message kind %q", m.Kind)
	}
}

// webhookBody maps a message to the session webhook payload.
func (m Message) webhookBody() (map[string]any, error) {
	switch m.Kind {
	case MessageText:
		return map[string]any{"msgtype": "text", "text": map[string]string{"content": m.Text}}, nil
	case MessageMarkdown:
		body := map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]string{"title": m.Title, "text": m.Text},
		}
		if len(m.AtUserIDs) > 0 {
			body["at"] = map[string]any{"atUserIds": m.AtUserIDs}
		}
		return body, nil
	case MessageImage:
		return map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]string{"title": "图片", "text": "![](" + m.MediaID + ")"},
		}, nil
	case MessageVideo:
		return map[string]any{"msgtype": "video", "video": map[string]string{
			"duration":     m.Duration,
			"videoMediaId": m.MediaID,
			"videoType":    "mp4",
			"picMediaId":   m.ThumbMediaID,
		}}, nil
	case MessageAudio:
		return map[string]any{"msgtype": "audio", "audio": map[string]string{
			"mediaId":  m.MediaID,
			"duration": m.Duration,
		}}, nil
	case MessageFile:
		return map[string]any{"msgtype": "file", "file": map[string]string{
			"mediaId":  m.MediaID,
			"fileName": m.FileName,
			"fileType": m.FileType,
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported message kind %q", m.Kind)
	}
}

type batchSendRequest struct {
	RobotCode string   `json:"robotCode"`
	UserIDs   []string `json:"userIds"`
	MsgKey    string   `json:"msgKey"`
	MsgParam  string   `json:"msgParam"`
}

type groupSendRequest struct {
	RobotCode          string `json:"robotCode"`
	OpenConversationID string `json:"openConversationId"`
	MsgKey             string `json:"msgKey"`
	MsgParam           string `json:"msgParam"`
}

// SendProactive sends msg to target through the robot messaging API.
func (c *Client) SendProactive(ctx context.Context, token string, target Target, msg Message) error {
	if strings.TrimSpace(target.ID) == "" {
		return fmt.Errorf("proactive send: target id is required")
	}
	key, param, err := msg.msgKeyParam()
	if err != nil {
		return err
	}
	rawParam, err := json.Marshal(param)
	if err != nil {
		return fmt.Errorf("proactive send: marshal msgParam: %w", err)
	}
	if target.Group {
		return c.doJSON(ctx, "group send", http.MethodPost, c.apiBase+"/v1.0/robot/groupMessages/send", token,
			groupSendRequest{
				RobotCode:          c.robotCode,
				OpenConversationID: target.ID,
				MsgKey:             key,
				MsgParam:           string(rawParam),
			}, nil)
	}
	return c.doJSON(ctx, "user send", http.MethodPost, c.apiBase+"/v1.0/robot/oToMessages/batchSend", token,
		batchSendRequest{
			RobotCode: c.robotCode,
			UserIDs:   []string{target.ID},
			MsgKey:    key,
			MsgParam:  string(rawParam),
		}, nil)
}

// ReplyWebhook posts msg to the one-shot session webhook of an inbound event.
func (c *Client) ReplyWebhook(ctx context.Context, webhook, token string, msg Message) error {
	webhook = strings.TrimSpace(webhook)
	if webhook == "" {
		return ErrNoWebhook
	}
	body, err := msg.webhookBody()
	if err != nil {
		return err
	}
	return c.doJSON(ctx, "webhook reply", http.MethodPost, webhook, token, body, nil)
}

// Route selects how a message reaches the conversation of an inbound event.
// The session webhook is single use, so once a card has been delivered for an
// event every further message must take the proactive route.
type Route struct {
	Proactive bool
	Target    Target
	Webhook   string
}

// Send dispatches msg along route.
func (c *Client) Send(ctx context.Context, token string, route Route, msg Message) error {
	if route.Proactive {
		return c.SendProactive(ctx, token, route.Target, msg)
	}
	return c.ReplyWebhook(ctx, route.Webhook, token, msg)
}
