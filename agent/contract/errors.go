package contract

import "errors"

var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrForbidden        = errors.New("permission denied")
	ErrRateLimited      = errors.New("rate limited")
	ErrClassification   = errors.New("classification failed")
	ErrWorkerFailure    = errors.New("worker failed")
	ErrPluginResolution = errors.New("plugin resolution failed")
	ErrUpstreamTimeout  = errors.New("upstream timeout")
	ErrCompletionInvoke = errors.New("completion invoke failed")
	ErrSchemaViolation  = errors.New("model response violates schema")
	ErrValidation       = errors.New("validation failed")
)
