// Package handlers defines HTTP-layer error codes used across all ops API
// endpoints. Every error response carries an HTTP status and one of these
// codes; clients branch on the code, not the message.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "unknown_scope",
//	  "message": "scope must be one of: open, today, week, overdue"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeUnknownScope      = "unknown_scope"
	ErrCodeUserNotFound      = "user_not_found"
	ErrCodeCommandFailed     = "command_failed"
	ErrCodeListFailed        = "list_failed"
	ErrCodeDigestFailed      = "digest_failed"
	ErrCodeDigestUnavailable = "digest_unavailable"
)
