package models

import "encoding/json"

// Gateway webhook event names
const (
	EventConnectionUpdate = "connection.update"
	EventMessagesUpdate   = "messages.update"
	EventMessagesUpsert   = "messages.upsert"
)

// WebhookPayload represents the envelope posted by the WhatsApp gateway
type WebhookPayload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// ConnectionUpdate is the data of a connection.update event. The connected
// identity arrives either nested under instance or at the top level
// depending on gateway version.
type ConnectionUpdate struct {
	State       string          `json:"state"`
	Wuid        string          `json:"wuid"`
	ProfileName string          `json:"profileName"`
	Instance    json.RawMessage `json:"instance"`
}

// Identity returns the connected JID and profile name, if any
func (c ConnectionUpdate) Identity() (wuid, profile string) {
	var nested struct {
		Wuid        string `json:"wuid"`
		ProfileName string `json:"profileName"`
	}
	if len(c.Instance) > 0 && c.Instance[0] == '{' {
		if err := json.Unmarshal(c.Instance, &nested); err == nil && nested.Wuid != "" {
			return nested.Wuid, nested.ProfileName
		}
	}
	return c.Wuid, c.ProfileName
}

// MessageKey identifies a message on the gateway
type MessageKey struct {
	ID        string `json:"id"`
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

// MessageStatus is one entry of a messages.update event
type MessageStatus struct {
	Key    MessageKey `json:"key"`
	Update struct {
		Status string `json:"status"` // DELIVERY_ACK, READ, PLAYED
	} `json:"update"`
}

// InboundMessage is one entry of a messages.upsert event
type InboundMessage struct {
	Key      MessageKey `json:"key"`
	PushName string     `json:"pushName"`
	Message  struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
	} `json:"message"`
}

// Text returns the plain text body of the message
func (m InboundMessage) Text() string {
	if m.Message.Conversation != "" {
		return m.Message.Conversation
	}
	return m.Message.ExtendedTextMessage.Text
}

// DecodeStatuses accepts either a list of updates or a single update
func DecodeStatuses(data json.RawMessage) ([]MessageStatus, error) {
	var list []MessageStatus
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var one MessageStatus
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []MessageStatus{one}, nil
}

// DecodeInbound accepts {"messages": [...]} or a single message object
func DecodeInbound(data json.RawMessage) ([]InboundMessage, error) {
	var batch struct {
		Messages []InboundMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	if batch.Messages != nil {
		return batch.Messages, nil
	}
	var one InboundMessage
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []InboundMessage{one}, nil
}
