package models

// Operator is a dashboard user. Operators come from static configuration or
// from an allow-listed Discord account.
type Operator struct {
	Username  string `json:"username"`
	DiscordID string `json:"discord_id,omitempty"`
	Source    string `json:"source"` // "static" or "discord"
}
