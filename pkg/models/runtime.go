package models

// RuntimeInfo tells clients where the API and event stream live and whether
// they must send a bearer token.
type RuntimeInfo struct {
	HTTPBaseURL  string `json:"http_base_url"`
	EventsURL    string `json:"events_url"`
	Port         int    `json:"port"`
	AuthRequired bool   `json:"auth_required"`
}
