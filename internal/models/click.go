package models

import "time"

// Invalid-click reasons stored alongside the click log. A valid click carries
// an empty reason.
const (
	ReasonSuspiciousISP  = "suspicious_isp"
	ReasonForeignCountry = "foreign_country"
	ReasonRateLimited    = "rate_limited"
	ReasonInvalidIP      = "invalid_ip"
)

// ClickRecord is one landing or bridge hit queued for asynchronous
// persistence. The validity verdict is decided at request time, before
// queueing.
type ClickRecord struct {
	Slug          string    `json:"slug"`
	IP            string    `json:"ip"`
	UserAgent     string    `json:"user_agent"`
	Referer       string    `json:"referer"`
	Device        string    `json:"device"`
	Valid         bool      `json:"valid"`
	InvalidReason string    `json:"invalid_reason,omitempty"`
	At            time.Time `json:"at"`
}
