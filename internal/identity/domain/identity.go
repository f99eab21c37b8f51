// Package domain holds the Telegram Mini-App identity the pipeline stamps on every event.
package domain

import "strconv"

// WebAppUser is the user object from Telegram WebApp init data.
type WebAppUser struct {
	ID              int64  `json:"id"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name,omitempty"`
	Username        string `json:"username,omitempty"`
	LanguageCode    string `json:"language_code,omitempty"`
	IsPremium       bool   `json:"is_premium,omitempty"`
	AllowsWriteToPM bool   `json:"allows_write_to_pm,omitempty"`
}

// WebAppData is the Telegram WebApp init data (or its synthetic web equivalent).
type WebAppData struct {
	AuthDate     int64       `json:"auth_date"`
	Hash         string      `json:"hash"`
	User         *WebAppUser `json:"user,omitempty"`
	StartParam   string      `json:"start_param,omitempty"`
	Platform     string      `json:"platform,omitempty"`
	ChatType     string      `json:"chat_type,omitempty"`
	ChatInstance string      `json:"chat_instance,omitempty"`
}

// UserID returns the Telegram user id as a decimal string, or "" when no user is present.
func (d WebAppData) UserID() string {
	if d.User == nil || d.User.ID == 0 {
		return ""
	}
	return strconv.FormatInt(d.User.ID, 10)
}

// PlatformWeb is used for identities synthesized outside a Telegram client.
const PlatformWeb = "web"
