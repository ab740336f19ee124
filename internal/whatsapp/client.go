package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zapflow/internal/config"
)

const PresenceComposing = "composing"

var ErrInstanceNotFound = errors.New("gateway instance not found")

// APIError is a non-2xx reply from the gateway.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error: %d - %s", e.Status, e.Body)
}

// Client talks to an Evolution-style WhatsApp gateway over HTTP.
type Client struct {
	BaseURL    string
	APIKey     string
	WebhookURL string
	HTTP       *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(cfg.EvolutionURL, "/"),
		APIKey:     cfg.EvolutionAPIKey,
		WebhookURL: strings.TrimRight(cfg.BackendURL, "/") + "/webhook/evolution",
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
}

// InstanceName derives the gateway instance for a tenant.
func InstanceName(tenantID string) string {
	name := strings.ReplaceAll(tenantID, "-", "")
	if len(name) > 20 {
		name = name[:20]
	}
	return "zf_" + name
}

// --- Request/Response Structures ---

type SendOptions struct {
	Delay    int    `json:"delay,omitempty"`
	Presence string `json:"presence,omitempty"`
}

type textMessageRequest struct {
	Number      string      `json:"number"`
	Options     SendOptions `json:"options"`
	TextMessage struct {
		Text string `json:"text"`
	} `json:"textMessage"`
}

type mediaMessageRequest struct {
	Number       string      `json:"number"`
	Options      SendOptions `json:"options"`
	MediaMessage struct {
		MediaType string `json:"mediatype"`
		Caption   string `json:"caption,omitempty"`
		Media     string `json:"media"`
	} `json:"mediaMessage"`
}

type presenceRequest struct {
	Number  string `json:"number"`
	Options struct {
		Presence string `json:"presence"`
		Delay    int    `json:"delay"`
	} `json:"options"`
}

type sendResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
}

type createInstanceRequest struct {
	InstanceName    string   `json:"instanceName"`
	QRCode          bool     `json:"qrcode"`
	Integration     string   `json:"integration"`
	RejectCall      bool     `json:"reject_call"`
	GroupsIgnore    bool     `json:"groupsIgnore"`
	AlwaysOnline    bool     `json:"alwaysOnline"`
	ReadMessages    bool     `json:"readMessages"`
	WebhookURL      string   `json:"webhookUrl,omitempty"`
	WebhookByEvents bool     `json:"webhookByEvents"`
	WebhookEvents   []string `json:"webhookEvents,omitempty"`
}

// QRCode is the pairing payload returned by Connect.
type QRCode struct {
	Base64      string `json:"base64"`
	PairingCode string `json:"pairingCode,omitempty"`
}

type connectResponse struct {
	Base64      string `json:"base64"`
	PairingCode string `json:"pairingCode"`
	QRCode      *struct {
		Base64 string `json:"base64"`
	} `json:"qrcode"`
}

type connectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, path)
	}
	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// --- Messaging Methods ---

// SendText sends a plain text message and returns the gateway message id.
func (c *Client) SendText(ctx context.Context, instance, phone, text string, opts SendOptions) (string, error) {
	req := textMessageRequest{Number: phone, Options: opts}
	req.TextMessage.Text = text

	var resp sendResponse
	if err := c.sendRequest(ctx, http.MethodPost, "/message/sendText/"+instance, req, &resp); err != nil {
		return "", err
	}
	return resp.Key.ID, nil
}

// SendMedia sends an image, video or document by URL.
func (c *Client) SendMedia(ctx context.Context, instance, phone, mediaType, url, caption string, opts SendOptions) (string, error) {
	req := mediaMessageRequest{Number: phone, Options: opts}
	req.MediaMessage.MediaType = mediaType
	req.MediaMessage.Caption = caption
	req.MediaMessage.Media = url

	var resp sendResponse
	if err := c.sendRequest(ctx, http.MethodPost, "/message/sendMedia/"+instance, req, &resp); err != nil {
		return "", err
	}
	return resp.Key.ID, nil
}

// SendPresence shows a presence such as "composing" for delay.
func (c *Client) SendPresence(ctx context.Context, instance, phone, presence string, delay time.Duration) error {
	var req presenceRequest
	req.Number = phone
	req.Options.Presence = presence
	req.Options.Delay = int(delay.Milliseconds())
	return c.sendRequest(ctx, http.MethodPost, "/chat/sendPresence/"+instance, req, nil)
}

// --- Instance Methods ---

func (c *Client) CreateInstance(ctx context.Context, instance string) error {
	req := createInstanceRequest{
		InstanceName:    instance,
		QRCode:          true,
		Integration:     "WHATSAPP-BAILEYS",
		RejectCall:      true,
		GroupsIgnore:    true,
		WebhookURL:      c.WebhookURL,
		WebhookByEvents: true,
		WebhookEvents:   []string{"MESSAGES_UPSERT", "MESSAGES_UPDATE", "CONNECTION_UPDATE", "SEND_MESSAGE"},
	}
	return c.sendRequest(ctx, http.MethodPost, "/instance/create", req, nil)
}

// Connect asks the gateway for a pairing QR code.
func (c *Client) Connect(ctx context.Context, instance string) (*QRCode, error) {
	var resp connectResponse
	if err := c.sendRequest(ctx, http.MethodGet, "/instance/connect/"+instance, nil, &resp); err != nil {
		return nil, err
	}
	qr := &QRCode{Base64: resp.Base64, PairingCode: resp.PairingCode}
	if qr.Base64 == "" && resp.QRCode != nil {
		qr.Base64 = resp.QRCode.Base64
	}
	return qr, nil
}

// ConnectionState returns the raw gateway state, e.g. "open" or "close".
func (c *Client) ConnectionState(ctx context.Context, instance string) (string, error) {
	var resp connectionStateResponse
	if err := c.sendRequest(ctx, http.MethodGet, "/instance/connectionState/"+instance, nil, &resp); err != nil {
		return "", err
	}
	return resp.Instance.State, nil
}

func (c *Client) Logout(ctx context.Context, instance string) error {
	return c.sendRequest(ctx, http.MethodDelete, "/instance/logout/"+instance, nil, nil)
}
