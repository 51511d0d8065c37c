// Package delivery sends scheduled messages through outbound connectors.
package delivery

import (
	"context"
	"strings"
)

// Connector names an outbound channel.
type Connector string

const (
	ConnectorWhatsApp Connector = "whatsapp"
	ConnectorEmail    Connector = "email"
)

// ParseConnector accepts the connector names used by clients.
// "gmail" is the legacy name of the email connector.
func ParseConnector(s string) (Connector, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "whatsapp":
		return ConnectorWhatsApp, true
	case "email", "gmail":
		return ConnectorEmail, true
	default:
		return "", false
	}
}

// Reasons reported in Result.Reason when no successful round trip happened.
const (
	ReasonNoCredentials        = "no-credentials"
	ReasonFetchFailed          = "fetch-failed"
	ReasonUnsupportedConnector = "unsupported-connector"
)

// Result mirrors what a connector observed. OK is true only for a 2xx response.
type Result struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Request is a connector-agnostic outbound message.
type Request struct {
	Connector Connector
	To        string
	Subject   string
	Body      string
}

// WhatsAppMessage is the input of a WhatsApp sender.
type WhatsAppMessage struct {
	To   string
	Body string
	// ContentSID selects a pre-approved template. ContentVariables is only sent with it.
	ContentSID       string
	ContentVariables map[string]string
}

// EmailMessage is the input of an email sender.
type EmailMessage struct {
	To      string
	Subject string
	Content string
}

// WhatsAppSender delivers WhatsApp messages.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, msg WhatsAppMessage) Result
}

// EmailSender delivers email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) Result
}
