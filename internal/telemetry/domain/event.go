// Package domain holds the value types that move through the telemetry pipeline.
package domain

import (
	"sort"
	"strings"
	"time"
)

const (
	// SystemEventPrefix marks events produced by the SDK itself (auto-capture, lifecycle).
	SystemEventPrefix = "[TS]"
	// SystemEventDataSeparator separates a system event name from its inline data.
	SystemEventDataSeparator = " | "
)

// UserDetails is the fixed subset of Telegram user attributes copied onto every event.
type UserDetails struct {
	Username    string `json:"username"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	IsPremium   bool   `json:"is_premium"`
	WriteAccess bool   `json:"write_access"`
}

// EventDetails is the fixed context subset: start parameter, page path and caller properties.
type EventDetails struct {
	StartParameter string         `json:"start_parameter"`
	Path           string         `json:"path"`
	Params         map[string]any `json:"params"`
}

// Event is the canonical event delivered to the ingestion endpoint.
// It is built once by NewEvent and never mutated afterwards.
type Event struct {
	EventName         string       `json:"event_name"`
	UserDetails       UserDetails  `json:"user_details"`
	EventDetails      EventDetails `json:"event_details"`
	TelegramID        string       `json:"telegram_id"`
	Language          string       `json:"language"`
	Platform          string       `json:"platform"`
	ChatType          string       `json:"chat_type"`
	ChatInstance      string       `json:"chat_instance"`
	Timestamp         int64        `json:"timestamp"` // UTC seconds
	IsAutocapture     bool         `json:"is_autocapture"`
	Wallet            string       `json:"wallet,omitempty"`
	SessionIdentifier string       `json:"session_identifier,omitempty"`
}

// NewEventParams carries everything NewEvent needs; zero values fall back to the defaults
// the ingestion endpoint expects ("N/A" chat type, "0" chat instance).
type NewEventParams struct {
	Name              string
	User              UserDetails
	Details           EventDetails
	TelegramID        string
	Language          string
	Platform          string
	ChatType          string
	ChatInstance      string
	At                time.Time
	Wallet            string
	SessionIdentifier string
}

// NewEvent builds a canonical event. The properties map is copied so later caller
// mutations cannot leak into a queued event.
func NewEvent(p NewEventParams) Event {
	chatType := p.ChatType
	if chatType == "" {
		chatType = "N/A"
	}
	chatInstance := p.ChatInstance
	if chatInstance == "" {
		chatInstance = "0"
	}
	params := make(map[string]any, len(p.Details.Params))
	for k, v := range p.Details.Params {
		params[k] = v
	}
	return Event{
		EventName:   p.Name,
		UserDetails: p.User,
		EventDetails: EventDetails{
			StartParameter: p.Details.StartParameter,
			Path:           p.Details.Path,
			Params:         params,
		},
		TelegramID:        p.TelegramID,
		Language:          p.Language,
		Platform:          p.Platform,
		ChatType:          chatType,
		ChatInstance:      chatInstance,
		Timestamp:         p.At.UTC().Unix(),
		IsAutocapture:     IsSystemEvent(p.Name),
		Wallet:            p.Wallet,
		SessionIdentifier: p.SessionIdentifier,
	}
}

// IsSystemEvent reports whether name carries the SDK system prefix.
func IsSystemEvent(name string) bool {
	return strings.HasPrefix(name, SystemEventPrefix)
}

// SystemEventName formats "[TS] <type>" with optional inline data appended after the separator.
func SystemEventName(t EventType, data string) string {
	name := SystemEventPrefix + " " + string(t)
	if data != "" {
		name += SystemEventDataSeparator + data
	}
	return name
}

// SerializeQuery renders query parameters as "key: value" pairs joined by ", ".
// Keys are sorted; for repeated keys the last value wins. Empty input yields "".
func SerializeQuery(values map[string][]string) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vs := values[k]
		v := ""
		if len(vs) > 0 {
			v = vs[len(vs)-1]
		}
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ", ")
}
