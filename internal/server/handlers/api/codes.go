package api

const (
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeNotFound       = "E_NOT_FOUND"       // no such route or entry

	CodeApplyRejected = "E_APPLY_REJECTED" // the tree refused the mutation
	CodeInvalidCursor = "E_INVALID_CURSOR" // the change feed cursor is unknown
)
