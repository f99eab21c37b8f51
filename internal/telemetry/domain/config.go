package domain

import "strings"

// RemoteConfig is fetched once per pipeline from the config gateway.
type RemoteConfig struct {
	Host               string   `json:"host"`
	PublicKey          string   `json:"public_key"`
	AutoCapture        bool     `json:"auto_capture"`
	AutoCaptureTags    []string `json:"auto_capture_tags"`
	AutoCaptureClasses []string `json:"auto_capture_classes"`
}

// TrackGroup is the capture tier chosen by the host application. The zero value means unset.
type TrackGroup string

const (
	TrackGroupUnset  TrackGroup = ""
	TrackGroupLow    TrackGroup = "low"
	TrackGroupMedium TrackGroup = "medium"
	TrackGroupHigh   TrackGroup = "high"
)

// ParseTrackGroup maps a case-insensitive name to a TrackGroup. Unknown names return false.
func ParseTrackGroup(s string) (TrackGroup, bool) {
	switch TrackGroup(strings.ToLower(strings.TrimSpace(s))) {
	case TrackGroupUnset:
		return TrackGroupUnset, true
	case TrackGroupLow:
		return TrackGroupLow, true
	case TrackGroupMedium:
		return TrackGroupMedium, true
	case TrackGroupHigh:
		return TrackGroupHigh, true
	default:
		return TrackGroupUnset, false
	}
}

// AllowsAutoCapture reports whether the tier permits DOM auto-capture listeners.
func (g TrackGroup) AllowsAutoCapture() bool {
	return g == TrackGroupMedium || g == TrackGroupHigh
}
