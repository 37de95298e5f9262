package http

import "FluxDash/pkg/http/envelope"

// APIResponse is the envelope every endpoint writes.
type APIResponse = envelope.Response

// ValidationError describes one rejected request field.
type ValidationError = envelope.FieldError

// ListDataResponse is the data of a paged grid response.
type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
	Page  int         `json:"page,omitempty"`
	Limit int         `json:"limit,omitempty"`
}
