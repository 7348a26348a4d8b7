package httpapi

import "errors"

var (
	errMethodNotAllowed = errors.New("method not allowed")
	errUnauthorized     = errors.New("missing or invalid bearer token")
	errRateLimited      = errors.New("rate limit exceeded")
)
