// Package autocapture turns clicks on configured element tags into system Click events.
package autocapture

import (
	"strings"
	"sync"

	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/pipeline"
)

// harvested lists the element attributes copied onto a Click event when present.
var harvested = []string{"id", "href", "class", "name", "value", "type", "placeholder", "title", "alt", "src"}

// Tracker accepts events; *pipeline.Builder satisfies it.
type Tracker interface {
	Track(name string, properties map[string]any) error
}

// Element is one node of a click path.
type Element struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Text       string            `json:"text,omitempty"`
}

// Click is a click with its composed path, the clicked target first.
type Click struct {
	Path []Element `json:"path"`
}

// Clicks maps clicks to events for the tags in the remote config.
type Clicks struct {
	tracker Tracker
	tags    map[string]struct{}
}

// New returns a Clicks for cfg.AutoCaptureTags, matched case-insensitively.
func New(cfg domain.RemoteConfig, tracker Tracker) *Clicks {
	tags := make(map[string]struct{}, len(cfg.AutoCaptureTags))
	for _, t := range cfg.AutoCaptureTags {
		tags[strings.ToUpper(strings.TrimSpace(t))] = struct{}{}
	}
	return &Clicks{tracker: tracker, tags: tags}
}

// Handle tracks click when an element in its path has a configured tag. It reports
// whether an event was tracked.
func (c *Clicks) Handle(click Click) bool {
	if len(click.Path) == 0 {
		return false
	}
	idx := -1
	for i, el := range click.Path {
		if _, ok := c.tags[strings.ToUpper(el.Tag)]; ok {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	el := click.Path[idx]
	target := click.Path[0]

	props := make(map[string]any, len(harvested)+4)
	for _, attr := range harvested {
		if v, ok := el.Attributes[attr]; ok {
			props[attr] = v
		}
	}
	targetText := strings.TrimSpace(target.Text)
	text := targetText
	if text == "" {
		text = strings.TrimSpace(el.Text)
	}
	props["text"] = text
	props["tag"] = strings.ToLower(el.Tag)
	if idx > 0 {
		props["clicked_child"] = strings.ToLower(target.Tag)
		props["clicked_child_text"] = targetText
	}
	_ = c.tracker.Track(domain.SystemEventName(domain.EventClick, text), props)
	return true
}

// Registry holds the Clicks armed by a pipeline, if any.
type Registry struct {
	mu     sync.RWMutex
	clicks *Clicks
}

// Hook returns the pipeline hook that arms auto-capture into r.
func (r *Registry) Hook() pipeline.AutoCaptureFunc {
	return func(cfg domain.RemoteConfig, b *pipeline.Builder) {
		c := New(cfg, b)
		r.mu.Lock()
		r.clicks = c
		r.mu.Unlock()
	}
}

// Handle forwards click to the armed Clicks. It returns false while nothing is armed.
func (r *Registry) Handle(click Click) bool {
	r.mu.RLock()
	c := r.clicks
	r.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.Handle(click)
}
