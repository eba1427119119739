package core

// Access describes what an endpoint requires before its handler runs
type Access int

const (
	// AccessPublic endpoints run for any client
	AccessPublic Access = iota
	// AccessAuthenticated endpoints need a signed-in identity but skip onboarding checks
	AccessAuthenticated
	// AccessGuarded endpoints go through the route guard
	AccessGuarded
)

func (a Access) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessAuthenticated:
		return "authenticated"
	case AccessGuarded:
		return "guarded"
	}
	return "unknown"
}

// Endpoint is a framework-agnostic route description. Adapters bind
// OperationID to their own handler.
type Endpoint struct {
	Path     string
	Method   string
	Access   Access
	Metadata EndpointMetadata
}

type EndpointMetadata struct {
	OperationID string
	Description string
}

// ErrorResponse represents an error response structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
