// Package envelope holds the JSON response shape shared by handlers and
// middleware.
package envelope

// CodeRateLimited marks a request rejected by the rate limiter.
const CodeRateLimited = "ERR_RATE_LIMITED"

// Response is the envelope every endpoint writes.
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// FieldError describes one rejected request field or cause.
type FieldError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// New builds a Response.
func New(status int, message string, data interface{}) Response {
	return Response{Status: status, Message: message, Data: data}
}
