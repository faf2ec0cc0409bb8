package errors

import (
	stderrors "errors"
)

// ErrorResponse is the JSON error body the HTTP surface returns: one
// error object carrying the machine-readable code, the human-readable
// message, and optional detail fields (e.g. per-field validation
// failures from the send/broadcast boundary).
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the serialized form of an AppError.
type ErrorBody struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToResponse converts the error to its wire form. The cause and HTTP
// status are deliberately omitted; the status travels as the response
// code and the cause stays in the logs.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:      e.Code,
			Message:   e.Message,
			Retryable: e.Retryable,
			Details:   e.Details,
		},
	}
}

// AsAppError unwraps err to an *AppError if one is in its chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
