package services

import (
	"fmt"

	"github.com/lborres/kapitbahay/core"
)

// BaseEndpoints returns the framework-agnostic description of every route
// the app serves. Adapters bind each OperationID to their own handler and
// apply the middleware that Access asks for.
func BaseEndpoints() []core.Endpoint {
	return []core.Endpoint{
		{
			Path:   "/health",
			Method: "GET",
			Access: core.AccessPublic,
			Metadata: core.EndpointMetadata{
				OperationID: "health",
				Description: "Report liveness and client counts",
			},
		},
		{
			Path:   "/auth",
			Method: "GET",
			Access: core.AccessPublic,
			Metadata: core.EndpointMetadata{
				OperationID: "authView",
				Description: "Authentication view; names the return target after sign-in",
			},
		},
		{
			Path:   "/auth/sign-up",
			Method: "POST",
			Access: core.AccessPublic,
			Metadata: core.EndpointMetadata{
				OperationID: "signUpWithEmailAndPassword",
				Description: "Sign up a user using email and password",
			},
		},
		{
			Path:   "/auth/sign-in",
			Method: "POST",
			Access: core.AccessPublic,
			Metadata: core.EndpointMetadata{
				OperationID: "signInWithEmailAndPassword",
				Description: "Sign in a user using email and password",
			},
		},
		{
			Path:   "/auth/recover",
			Method: "POST",
			Access: core.AccessPublic,
			Metadata: core.EndpointMetadata{
				OperationID: "requestPasswordRecovery",
				Description: "Start password recovery for an email address",
			},
		},
		{
			Path:   "/auth/recover/callback",
			Method: "GET",
			Access: core.AccessPublic,
			Metadata: core.EndpointMetadata{
				OperationID: "completePasswordRecovery",
				Description: "Sign in with the token from a recovery link",
			},
		},
		{
			Path:   "/session",
			Method: "GET",
			Access: core.AccessPublic,
			Metadata: core.EndpointMetadata{
				OperationID: "getSession",
				Description: "Get the client's session state and pending notifications",
			},
		},
		{
			Path:   "/auth/sign-out",
			Method: "POST",
			Access: core.AccessAuthenticated,
			Metadata: core.EndpointMetadata{
				OperationID: "signOut",
				Description: "Sign out the current user and invalidate the session",
			},
		},
		{
			Path:   "/auth/sign-out-everywhere",
			Method: "POST",
			Access: core.AccessAuthenticated,
			Metadata: core.EndpointMetadata{
				OperationID: "revokeAllSessions",
				Description: "Invalidate every session of the current user",
			},
		},
		{
			Path:   "/auth/refresh",
			Method: "POST",
			Access: core.AccessAuthenticated,
			Metadata: core.EndpointMetadata{
				OperationID: "refreshToken",
				Description: "Extend the current session",
			},
		},
		{
			Path:   "/auth/password",
			Method: "POST",
			Access: core.AccessAuthenticated,
			Metadata: core.EndpointMetadata{
				OperationID: "updatePassword",
				Description: "Set a new password for the current user",
			},
		},
		{
			Path:   "/dashboard",
			Method: "GET",
			Access: core.AccessGuarded,
			Metadata: core.EndpointMetadata{
				OperationID: "dashboardView",
				Description: "Signed-in home for users with a neighborhood",
			},
		},
		{
			Path:   "/location-setup",
			Method: "GET",
			Access: core.AccessGuarded,
			Metadata: core.EndpointMetadata{
				OperationID: "locationSetupView",
				Description: "Location setup view",
			},
		},
		{
			Path:   "/location-setup",
			Method: "POST",
			Access: core.AccessGuarded,
			Metadata: core.EndpointMetadata{
				OperationID: "updateLocation",
				Description: "Resolve coordinates to a neighborhood and store them on the profile",
			},
		},
		{
			Path:   "/admin",
			Method: "GET",
			Access: core.AccessGuarded,
			Metadata: core.EndpointMetadata{
				OperationID: "adminView",
				Description: "Neighborhood administration view",
			},
		},
		{
			Path:   "/admin/neighborhoods",
			Method: "POST",
			Access: core.AccessGuarded,
			Metadata: core.EndpointMetadata{
				OperationID: "createNeighborhood",
				Description: "Define a neighborhood boundary (administrators only)",
			},
		},
	}
}

// EndpointRegistry manages a collection of framework-agnostic endpoints
// and handles conflict detection for duplicate METHOD:PATH combinations.
//
// It starts with the base endpoints; extra endpoints are added in batches
// with Register.
type EndpointRegistry struct {
	// endpoints stores all registered endpoints keyed by "METHOD:PATH"
	endpoints map[string]*core.Endpoint
	order     []string
}

// NewEndpointRegistry creates a registry with all base endpoints
// pre-registered.
func NewEndpointRegistry() *EndpointRegistry {
	reg := &EndpointRegistry{
		endpoints: make(map[string]*core.Endpoint),
	}
	if err := reg.Register(BaseEndpoints()); err != nil {
		panic(err)
	}
	return reg
}

func endpointKey(ep *core.Endpoint) string {
	return fmt.Sprintf("%s:%s", ep.Method, ep.Path)
}

// Register adds endpoints to the registry. It fails without registering
// anything if an endpoint conflicts with an existing one or with another
// endpoint in the same batch.
func (r *EndpointRegistry) Register(endpoints []core.Endpoint) error {
	seen := make(map[string]bool, len(endpoints))
	for i := range endpoints {
		key := endpointKey(&endpoints[i])
		if _, exists := r.endpoints[key]; exists {
			return fmt.Errorf("endpoint conflict: %s %s already registered", endpoints[i].Method, endpoints[i].Path)
		}
		if seen[key] {
			return fmt.Errorf("duplicate endpoint in batch: %s %s", endpoints[i].Method, endpoints[i].Path)
		}
		seen[key] = true
	}

	for i := range endpoints {
		ep := endpoints[i]
		key := endpointKey(&ep)
		r.endpoints[key] = &ep
		r.order = append(r.order, key)
	}
	return nil
}

// Endpoints returns every registered endpoint in registration order
func (r *EndpointRegistry) Endpoints() []*core.Endpoint {
	result := make([]*core.Endpoint, 0, len(r.order))
	for _, key := range r.order {
		result = append(result, r.endpoints[key])
	}
	return result
}

// Lookup finds the endpoint for method and path
func (r *EndpointRegistry) Lookup(method, path string) (*core.Endpoint, bool) {
	ep, ok := r.endpoints[method+":"+path]
	return ep, ok
}
