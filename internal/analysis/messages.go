package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// MessageType is the discriminant of an inbound message.
type MessageType string

const (
	TypeInfo       MessageType = "info"
	TypeStep       MessageType = "step"
	TypeSearch     MessageType = "search"
	TypeClaimStart MessageType = "claim_start"
	TypeClaim      MessageType = "claim"
	TypeSource     MessageType = "source"
	TypeBias       MessageType = "bias"
	TypeMedia      MessageType = "media"
	TypeVerdict    MessageType = "verdict"
	TypeResult     MessageType = "result"
	TypeError      MessageType = "error"
)

var ErrMalformedMessage = errors.New("malformed message")

var stepMarker = regexp.MustCompile(`\[(\d+/\d+)\]\s*`)

// Envelope is the wire shape of every inbound message. Message is usually a
// string but is kept raw so numbers and objects still decode.
type Envelope struct {
	Timestamp string          `json:"timestamp"`
	Type      MessageType     `json:"type"`
	Message   json.RawMessage `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Meta is the part every message variant shares.
type Meta struct {
	Timestamp string
	Type      MessageType
	Text      string
}

func (m Meta) Metadata() Meta { return m }

// Message is one decoded inbound message. The concrete type is chosen by Type.
type Message interface {
	Metadata() Meta
}

type ModelInfo struct {
	Model       string  `json:"model"`
	Provider    string  `json:"provider"`
	Temperature float64 `json:"temperature"`
}

// InfoMessage may carry the model the backend runs with.
type InfoMessage struct {
	Meta
	Model *ModelInfo
}

// StepMessage reports progress. Number is "k/n" when the text starts with a
// "[k/n]" marker and empty otherwise.
type StepMessage struct {
	Meta
	Number      string
	Description string
	Status      string
}

type SearchMessage struct {
	Meta
	Query   string
	Success bool
	Sources []Source
}

type ClaimStartMessage struct {
	Meta
	ClaimID string
	Text    string
}

type ClaimMessage struct {
	Meta
	ClaimID    string
	Text       string
	Status     string
	Confidence *float64
	Note       string
}

// FindingMessage covers the source, bias and media analysis results.
type FindingMessage struct {
	Meta
	Data json.RawMessage
}

type VerdictMessage struct {
	Meta
	Status       string
	OverallScore *float64
	Data         json.RawMessage
}

// ResultMessage is the only successful terminal message.
type ResultMessage struct {
	Meta
	Analysis json.RawMessage
	Report   json.RawMessage
}

// ErrorMessage is the failing terminal message.
type ErrorMessage struct {
	Meta
	Detail string
}

// UnknownMessage is any type this client does not know, such as "warning".
type UnknownMessage struct {
	Meta
	Data json.RawMessage
}

// Decode parses one inbound frame into its message variant. Only frames that are
// not a JSON object with a type fail; oddly shaped data degrades to zero fields.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	message := messageText(env.Message)
	meta := Meta{Timestamp: env.Timestamp, Type: env.Type, Text: message}
	data := object(env.Data)

	switch env.Type {
	case TypeInfo:
		msg := InfoMessage{Meta: meta}
		model, provider := str(data, "model"), str(data, "provider")
		if model != "" && provider != "" {
			temp, _ := num(data, "temperature")
			msg.Model = &ModelInfo{Model: model, Provider: provider, Temperature: temp}
		}
		return msg, nil

	case TypeStep:
		number, desc := ParseStep(message)
		return StepMessage{Meta: meta, Number: number, Description: desc, Status: str(data, "status")}, nil

	case TypeSearch:
		msg := SearchMessage{Meta: meta, Query: str(data, "query")}
		msg.Success, _ = data["success"].(bool)
		if list, ok := data["sources"].([]interface{}); ok {
			msg.Sources = make([]Source, 0, len(list))
			for _, item := range list {
				msg.Sources = append(msg.Sources, sourceFrom(item))
			}
		}
		return msg, nil

	case TypeClaimStart:
		return ClaimStartMessage{Meta: meta, ClaimID: str(data, "id"), Text: str(data, "text")}, nil

	case TypeClaim:
		msg := ClaimMessage{
			Meta:    meta,
			ClaimID: str(data, "id"),
			Text:    str(data, "text"),
			Status:  str(data, "status"),
			Note:    str(data, "note"),
		}
		if c, ok := num(data, "confidence"); ok {
			msg.Confidence = &c
		}
		return msg, nil

	case TypeSource, TypeBias, TypeMedia:
		return FindingMessage{Meta: meta, Data: env.Data}, nil

	case TypeVerdict:
		msg := VerdictMessage{Meta: meta, Status: str(data, "status"), Data: env.Data}
		if score, ok := num(data, "overall_score"); ok {
			msg.OverallScore = &score
		}
		return msg, nil

	case TypeResult:
		analysis, report := extractResult(data)
		return ResultMessage{Meta: meta, Analysis: analysis, Report: report}, nil

	case TypeError:
		detail := message
		if detail == "" {
			detail = str(data, "error")
		}
		return ErrorMessage{Meta: meta, Detail: detail}, nil

	default:
		return UnknownMessage{Meta: meta, Data: env.Data}, nil
	}
}

// ParseStep splits a "[k/n] description" step text. Texts without the marker are
// returned unchanged with an empty number.
func ParseStep(text string) (number, description string) {
	m := stepMarker.FindStringSubmatchIndex(text)
	if m == nil {
		return "", text
	}
	return text[m[2]:m[3]], text[:m[0]] + text[m[1]:]
}

// LogTime is the HH:MM:SS part of an ISO-8601 timestamp, or "N/A".
func LogTime(timestamp string) string {
	_, rest, ok := strings.Cut(timestamp, "T")
	if !ok {
		return "N/A"
	}
	rest, _, _ = strings.Cut(rest, "T")
	clock, _, _ := strings.Cut(rest, ".")
	if clock == "" {
		return "N/A"
	}
	return clock
}

// Source is a web page the backend consulted.
type Source struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Domain string `json:"domain"`
}

func sourceFrom(item interface{}) Source {
	var src Source
	switch v := item.(type) {
	case string:
		src.URL = v
	case map[string]interface{}:
		src.URL = firstNonEmpty(str(v, "url"), str(v, "link"))
		src.Title = firstNonEmpty(str(v, "title"), str(v, "snippet"))
	}
	if src.Title == "" {
		src.Title = "Untitled"
	}
	src.Domain = domainOf(src.URL)
	return src
}

func domainOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// extractResult reads data.result.analysis, falling back to data.result, and
// data.result.report.
func extractResult(data map[string]interface{}) (analysis, report json.RawMessage) {
	raw, ok := data["result"]
	if !ok || raw == nil {
		return nil, nil
	}

	if obj, ok := raw.(map[string]interface{}); ok {
		if a, ok := obj["analysis"]; ok && truthy(a) {
			analysis = mustJSON(a)
		}
		if r, ok := obj["report"]; ok && r != nil {
			report = mustJSON(r)
		}
	}
	if analysis == nil {
		analysis = mustJSON(raw)
	}
	return analysis, report
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

func object(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// messageText returns a string message as is and any other JSON value as its raw text.
func messageText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return trimmed
}

func str(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func num(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
