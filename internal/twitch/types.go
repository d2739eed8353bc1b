package twitch

import (
	"fmt"
	"time"
)

// FollowEntry is one row of the follower-list endpoint.
type FollowEntry struct {
	FromID     string `json:"from_id"`
	FromName   string `json:"from_name"`
	ToID       string `json:"to_id"`
	ToName     string `json:"to_name"`
	FollowedAt string `json:"followed_at"`
}

type followsPage struct {
	Data       []FollowEntry `json:"data"`
	Pagination *struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

func (p followsPage) cursor() string {
	if p.Pagination == nil {
		return ""
	}
	return p.Pagination.Cursor
}

// RateLimitError is returned for a 429 response. ResumeAt is when the same
// request may be retried.
type RateLimitError struct {
	ResumeAt   time.Time
	FromHeader bool
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResumeAt.Format(time.RFC3339))
}

// StatusError is a non-2xx response other than a rate limit.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// LanguageStatus tags the outcome of a language lookup.
type LanguageStatus int

const (
	// LanguageUnknown means the lookup failed transiently or returned no language.
	LanguageUnknown LanguageStatus = iota
	// LanguageFound means Language holds the account's broadcaster language.
	LanguageFound
	// LanguageAccountGone means the account no longer exists.
	LanguageAccountGone
)

func (s LanguageStatus) String() string {
	switch s {
	case LanguageFound:
		return "found"
	case LanguageAccountGone:
		return "account_gone"
	default:
		return "unknown"
	}
}

// LanguageResult is the three-way result of FetchLanguage.
type LanguageResult struct {
	Status   LanguageStatus
	Language string
	Err      error // set for LanguageUnknown when a request failed
}
