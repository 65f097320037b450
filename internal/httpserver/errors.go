package httpserver

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrBadBody          = "bad body"
	ErrInvalidSignature = "invalid signature"
	ErrUnknownProvider  = "unknown provider"
	ErrForbidden        = "forbidden"
)
