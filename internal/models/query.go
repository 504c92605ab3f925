package models

import "errors"

// RetrieveRequest is a retrieval query with optional overrides.
type RetrieveRequest struct {
	Query          string `json:"query"`
	Limit          int    `json:"limit,omitempty"`
	IncludeContext bool   `json:"include_context,omitempty"`
	Strategy       string `json:"strategy,omitempty"` // forces a routing strategy when set
}

// ErrEmptyQuery is returned when a retrieval request has no query text.
var ErrEmptyQuery = errors.New("query must not be empty")

// Validate checks the request and normalizes the limit against the
// configured default and ceiling.
func (r *RetrieveRequest) Validate(defaultLimit, maxLimit int) error {
	if r.Query == "" {
		return ErrEmptyQuery
	}
	if r.Limit <= 0 {
		r.Limit = defaultLimit
	}
	if r.Limit > maxLimit {
		r.Limit = maxLimit
	}
	return nil
}
