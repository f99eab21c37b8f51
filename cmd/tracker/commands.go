package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"telemetree/sdk/internal/autocapture"
	"telemetree/sdk/internal/telemetry/domain"
)

// command is one JSON line read from stdin. Exactly one of Event, Click or TonConnect is set.
type command struct {
	Event      string             `json:"event,omitempty"`
	Properties map[string]any     `json:"properties,omitempty"`
	Click      *autocapture.Click `json:"click,omitempty"`
	TonConnect string             `json:"tonconnect,omitempty"`
	Detail     map[string]any     `json:"detail,omitempty"`
	Page       *struct {
		Path  string `json:"path"`
		Query string `json:"query"`
	} `json:"page,omitempty"`
}

type tracker interface {
	Track(name string, properties map[string]any) error
	SetPage(path, rawQuery string)
}

type clickHandler interface {
	Handle(click autocapture.Click) bool
}

type lifecycle interface {
	Dispatch(ev domain.TonConnectEvent, detail map[string]any) error
}

type dispatcher struct {
	tracker   tracker
	clicks    clickHandler
	lifecycle lifecycle
}

var errEmptyCommand = errors.New("tracker: line has no event, click, tonconnect or page")

// dispatch decodes line and forwards it. A click that matches no configured tag is not an
// error; auto-capture may simply be off.
func (d dispatcher) dispatch(line []byte) error {
	var cmd command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return fmt.Errorf("tracker: decode line: %w", err)
	}
	if cmd.Page != nil {
		d.tracker.SetPage(cmd.Page.Path, cmd.Page.Query)
	}
	switch {
	case cmd.Event != "":
		return d.tracker.Track(cmd.Event, cmd.Properties)
	case cmd.Click != nil:
		d.clicks.Handle(*cmd.Click)
		return nil
	case cmd.TonConnect != "":
		return d.lifecycle.Dispatch(domain.TonConnectEvent(cmd.TonConnect), cmd.Detail)
	case cmd.Page != nil:
		return nil
	default:
		return errEmptyCommand
	}
}
