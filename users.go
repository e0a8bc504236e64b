package main

import (
	"slices"

	"go-cms/menu"
)

// capabilityAuthorizer grants the capabilities of one role.
type capabilityAuthorizer []string

func (c capabilityAuthorizer) Can(capability string) bool {
	return slices.Contains(c, capability)
}

// authorizerFor returns the authorizer for a configured user, or nil when
// the user is unknown.
func authorizerFor(cfg Config, user string) menu.Authorizer {
	if user == "" {
		return nil
	}
	role, ok := cfg.Users[user]
	if !ok {
		return nil
	}
	caps, ok := cfg.Roles[role]
	if !ok {
		return nil
	}
	return capabilityAuthorizer(caps)
}
