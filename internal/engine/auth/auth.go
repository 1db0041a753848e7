package auth

import (
	"fmt"
	"slices"

	"specline/internal/config"
)

const (
	PermSpecRead       = "spec.read"
	PermSpecTransition = "spec.transition"
	PermSpecForce      = "spec.force"
	PermEventsRead     = "events.read"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service resolves role grants from the rbac section of specline.yml.
type Service struct {
	Config *config.Config
}

// Permissions returns explicit permissions plus those granted by roles.
func (s Service) Permissions(roles, explicit []string) []string {
	out := slices.Clone(explicit)
	if s.Config == nil {
		return out
	}
	for _, perm := range s.Config.RolePermissions(roles) {
		if !slices.Contains(out, perm) {
			out = append(out, perm)
		}
	}
	return out
}

// Require returns ForbiddenError unless roles or explicit grant perm.
func (s Service) Require(roles, explicit []string, perm string) error {
	if slices.Contains(s.Permissions(roles, explicit), perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}
