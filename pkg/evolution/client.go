package evolution

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/zapleads/crm-service/environments"
	"github.com/zapleads/crm-service/pkg/logger"
)

// Client talks to one tenant's instance on the Evolution API gateway. The
// gateway is an opaque remote service; its error text surfaces verbatim into
// queue entry error fields.
type Client struct {
	httpClient *resty.Client
	baseURL    string
	instance   string
}

type InstanceStatus struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

type connectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

type qrCodeResponse struct {
	Code   string `json:"code"`
	Base64 string `json:"base64"`
}

// FetchedMessage is one entry of a chat transcript pulled from the gateway.
type FetchedMessage struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	Message struct {
		Conversation string `json:"conversation"`
	} `json:"message"`
	MessageTimestamp int64 `json:"messageTimestamp"`
}

func NewClient(cfg environments.EvolutionConfig, instance, apiKey string) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("apikey", apiKey)

	return &Client{
		httpClient: client,
		baseURL:    cfg.BaseURL,
		instance:   instance,
	}
}

func (c *Client) Instance() string {
	return c.instance
}

// GetInstanceStatus reports whether the instance's WhatsApp session is open.
func (c *Client) GetInstanceStatus(ctx context.Context) (*InstanceStatus, error) {
	var body connectionStateResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/instance/connectionState/" + c.instance)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance status: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	return &InstanceStatus{
		Connected: body.Instance.State == "open",
		State:     body.Instance.State,
	}, nil
}

// SendMessage delivers a text message to a phone number through the instance.
func (c *Client) SendMessage(ctx context.Context, phone, text string) (string, error) {
	payload := sendTextRequest{
		Number: phone,
		Text:   text,
	}

	var body sendTextResponse

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&body).
		Post("/message/sendText/" + c.instance)

	duration := time.Since(startTime)

	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	logger.Debugf("Gateway send to %s via %s completed in %v (status: %d)", phone, c.instance, duration, resp.StatusCode())

	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	return body.Key.ID, nil
}

// GenerateQRCode starts (or restarts) pairing and returns the QR payload.
func (c *Client) GenerateQRCode(ctx context.Context) (string, error) {
	var body qrCodeResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/instance/connect/" + c.instance)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	return body.Base64, nil
}

// Disconnect logs the instance out of its WhatsApp session.
func (c *Client) Disconnect(ctx context.Context) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Delete("/instance/logout/" + c.instance)
	if err != nil {
		return fmt.Errorf("failed to disconnect instance: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	return nil
}

// FetchMessages pulls the most recent messages exchanged with a phone number.
func (c *Client) FetchMessages(ctx context.Context, phone string, limit int) ([]FetchedMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	payload := map[string]any{
		"where": map[string]any{
			"key": map[string]any{
				"remoteJid": phone + "@s.whatsapp.net",
			},
		},
		"limit": limit,
	}

	var body []FetchedMessage

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&body).
		Post("/chat/findMessages/" + c.instance)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	return body, nil
}
