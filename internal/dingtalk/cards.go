package dingtalk

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Card flow status values understood by the AI card template.
const (
	FlowStatusInputing = "2"
	FlowStatusFinished = "3"

	// CardContentKey is the template variable that holds the streamed markdown.
	CardContentKey = "msgContent"
)

// Target identifies who receives a card or proactive message.
type Target struct {
	Group bool
	// ID is the staff id for a user or the open conversation id for a group.
	ID string
}

type openSpaceModel struct {
	SupportForward bool `json:"supportForward"`
}

type cardData struct {
	CardParamMap map[string]string `json:"cardParamMap"`
}

type createCardRequest struct {
	CardTemplateID        string          `json:"cardTemplateId"`
	OutTrackID            string          `json:"outTrackId"`
	CardData              cardData        `json:"cardData"`
	CallbackType          string          `json:"callbackType"`
	IMGroupOpenSpaceModel *openSpaceModel `json:"imGroupOpenSpaceModel,omitempty"`
	IMRobotOpenSpaceModel *openSpaceModel `json:"imRobotOpenSpaceModel,omitempty"`
}

type robotDeliverModel struct {
	SpaceType string `json:"spaceType"`
}

type groupDeliverModel struct {
	RobotCode string `json:"robotCode"`
}

type deliverCardRequest struct {
	OutTrackID              string             `json:"outTrackId"`
	OpenSpaceID             string             `json:"openSpaceId"`
	IMRobotOpenDeliverModel *robotDeliverModel `json:"imRobotOpenDeliverModel,omitempty"`
	IMGroupOpenDeliverModel *groupDeliverModel `json:"imGroupOpenDeliverModel,omitempty"`
}

type updateCardOptions struct {
	UpdateCardDataByKey bool `json:"updateCardDataByKey"`
}

type updateCardRequest struct {
	OutTrackID        string            `json:"outTrackId"`
	CardData          cardData          `json:"cardData"`
	CardUpdateOptions updateCardOptions `json:"cardUpdateOptions"`
}

type streamingRequest struct {
	OutTrackID string `json:"outTrackId"`
	GUID       string `json:"guid"`
	Key        string `json:"key"`
	Content    string `json:"content"`
	IsFull     bool   `json:"isFull"`
	IsFinalize bool   `json:"isFinalize"`
	IsError    bool   `json:"isError"`
}

// CreateCard registers a card instance with an empty parameter map against templateID.
func (c *Client) CreateCard(ctx context.Context, token, templateID, outTrackID string, target Target) error {
	req := createCardRequest{
		CardTemplateID: templateID,
		OutTrackID:     outTrackID,
		CardData:       cardData{CardParamMap: map[string]string{}},
		CallbackType:   "STREAM",
	}
	if target.Group {
		req.IMGroupOpenSpaceModel = &openSpaceModel{SupportForward: true}
	} else {
		req.IMRobotOpenSpaceModel = &openSpaceModel{SupportForward: true}
	}
	return c.doJSON(ctx, "create card", http.MethodPost, c.apiBase+"/v1.0/card/instances", token, req, nil)
}

// DeliverCard places a created card into the user's robot chat or the group conversation.
func (c *Client) DeliverCard(ctx context.Context, token, outTrackID string, target Target) error {
	req := deliverCardRequest{OutTrackID: outTrackID}
	if target.Group {
		req.OpenSpaceID = "dtv1.card//IM_GROUP." + target.ID
		req.IMGroupOpenDeliverModel = &groupDeliverModel{RobotCode: c.robotCode}
	} else {
		req.OpenSpaceID = "dtv1.card//IM_ROBOT." + target.ID
		req.IMRobotOpenDeliverModel = &robotDeliverModel{SpaceType: "IM_ROBOT"}
	}
	return c.doJSON(ctx, "deliver card", http.MethodPost, c.apiBase+"/v1.0/card/instances/deliver", token, req, nil)
}

// UpdateCardStatus sets the card flow status together with its content.
func (c *Client) UpdateCardStatus(ctx context.Context, token, outTrackID, flowStatus, content string) error {
	req := updateCardRequest{
		OutTrackID: outTrackID,
		CardData: cardData{CardParamMap: map[string]string{
			"flowStatus":   flowStatus,
			CardContentKey: content,
		}},
		CardUpdateOptions: updateCardOptions{UpdateCardDataByKey: true},
	}
	return c.doJSON(ctx, "update card", http.MethodPut, c.apiBase+"/v1.0/card/instances", token, req, nil)
}

// StreamCard replaces the streamed card content. finalize closes the streaming channel.
func (c *Client) StreamCard(ctx context.Context, token, outTrackID, content string, finalize bool) error {
	req := streamingRequest{
		OutTrackID: outTrackID,
		GUID:       uuid.NewString(),
		Key:        CardContentKey,
		Content:    content,
		IsFull:     true,
		IsFinalize: finalize,
	}
	return c.doJSON(ctx, "stream card", http.MethodPut, c.apiBase+"/v1.0/card/streaming", token, req, nil)
}
