package domain

import (
	"encoding/json"
	"fmt"
)

// Evolution API webhook event names the service reacts to. Anything else is
// acknowledged and ignored so new gateway versions cannot break ingestion.
const (
	EventMessagesUpsert   = "MESSAGES_UPSERT"
	EventMessagesUpdate   = "MESSAGES_UPDATE"
	EventConnectionUpdate = "CONNECTION_UPDATE"
)

// WebhookEvent is the raw envelope the gateway posts: an event name, the
// instance it belongs to, and an event-specific payload.
type WebhookEvent struct {
	Event    string          `json:"event" validate:"required"`
	Instance string          `json:"instance" validate:"required"`
	Data     json.RawMessage `json:"data"`
}

// Typed payloads, decoded per event kind before dispatch.

type MessageUpsertData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  struct {
		Conversation string `json:"conversation"`
	} `json:"message"`
}

type MessageUpdateData struct {
	KeyID  string `json:"keyId"`
	Status string `json:"status"`
}

type ConnectionUpdateData struct {
	State string `json:"state"`
}

// DecodeUpsert and friends validate the payload shape at the boundary so the
// handlers downstream never see a half-formed event.

func (e *WebhookEvent) DecodeUpsert() (*MessageUpsertData, error) {
	var data MessageUpsertData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", EventMessagesUpsert, err)
	}
	if data.Key.RemoteJID == "" {
		return nil, fmt.Errorf("invalid %s payload: missing key.remoteJid", EventMessagesUpsert)
	}
	return &data, nil
}

func (e *WebhookEvent) DecodeUpdate() (*MessageUpdateData, error) {
	var data MessageUpdateData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", EventMessagesUpdate, err)
	}
	return &data, nil
}

func (e *WebhookEvent) DecodeConnection() (*ConnectionUpdateData, error) {
	var data ConnectionUpdateData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", EventConnectionUpdate, err)
	}
	return &data, nil
}

// WebhookResult actions. External callers switch on these literals.
const (
	ActionIgnoredSelf      = "ignored_self"
	ActionTenantNotFound   = "tenant_not_found"
	ActionMessageSaved     = "message_saved"
	ActionStatusLogged     = "status_logged"
	ActionConnectionLogged = "connection_logged"
	ActionIgnored          = "ignored"
)

type WebhookResult struct {
	Action string `json:"action"`
	Phone  string `json:"phone,omitempty"`
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
}
