package ratelimit

import (
	"net/http"
	"time"
)

// Preset policy names.
const (
	PolicyAuth         = "auth"
	PolicyRegistration = "registration"
	PolicyAPI          = "api"
	PolicyBulk         = "bulk"
)

// RoleFunc returns the role of the requesting user, empty if unknown.
type RoleFunc func(r *http.Request) string

// RoleFromHeader reads the role from a header set by the upstream
// authentication layer.
func RoleFromHeader(name string) RoleFunc {
	return func(r *http.Request) string {
		return r.Header.Get(name)
	}
}

// AuthPolicy limits login attempts per client and attempted email.
func AuthPolicy() Policy {
	return Policy{
		Name:    PolicyAuth,
		Window:  15 * time.Minute,
		Max:     5,
		Key:     ByClientAndField("email"),
		Message: "Too many login attempts, please try again after 15 minutes",
	}
}

// RegistrationPolicy limits account creation per client.
func RegistrationPolicy() Policy {
	return Policy{
		Name:    PolicyRegistration,
		Window:  time.Hour,
		Max:     10,
		Key:     ByClient,
		Message: "Too many accounts created from this IP, please try again after an hour",
	}
}

// APIPolicy limits generic authenticated traffic per client.
func APIPolicy() Policy {
	return Policy{
		Name:    PolicyAPI,
		Window:  15 * time.Minute,
		Max:     1000,
		Key:     ByClient,
		Message: "Too many requests from this IP, please try again later",
	}
}

// BulkPolicy limits privileged bulk operations per client. Requests whose
// role equals elevated are not limited.
func BulkPolicy(role RoleFunc, elevated string) Policy {
	return Policy{
		Name:    PolicyBulk,
		Window:  time.Hour,
		Max:     10,
		Key:     ByClient,
		Message: "Too many bulk operations, please try again after an hour",
		Skip: func(r *http.Request) bool {
			return role != nil && elevated != "" && role(r) == elevated
		},
	}
}
