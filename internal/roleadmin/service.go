package roleadmin

import (
	"context"
	"errors"
	"fmt"

	"github.com/mprlab/coursedeck/internal/identity"
	"github.com/mprlab/coursedeck/internal/rbac"
	"go.uber.org/zap"
)

var (
	// ErrInvalidRole indicates the requested role is outside the closed
	// enumeration. No claims write is attempted.
	ErrInvalidRole = errors.New("roleadmin.invalid_role")
	// ErrInvalidAction indicates the action is neither assign nor revoke.
	ErrInvalidAction = errors.New("roleadmin.invalid_action")
)

// Action is a role mutation verb.
type Action string

const (
	// ActionAssign adds the role to the target's set.
	ActionAssign Action = "assign"
	// ActionRevoke removes the role from the target's set.
	ActionRevoke Action = "revoke"
)

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case ActionAssign:
		return ActionAssign, true
	case ActionRevoke:
		return ActionRevoke, true
	default:
		return "", false
	}
}

// Service mutates role claims against the identity provider. Callers must
// already be authorized as admin; the service itself only validates input
// and performs the atomic claims write.
type Service struct {
	provider identity.Provider
	logger   *zap.Logger
}

// NewService constructs a role mutation service.
func NewService(provider identity.Provider, logger *zap.Logger) *Service {
	if provider == nil {
		panic("identity provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{provider: provider, logger: logger}
}

// Mutate validates the role and action, then rewrites the target's roles
// claim as a single atomic read-modify-write. The target's active session is
// not refreshed; it sees the change on its own next forced refresh.
func (service *Service) Mutate(ctx context.Context, targetID string, rawRole string, rawAction string) ([]rbac.Role, error) {
	role, knownRole := rbac.ParseRole(rawRole)
	if !knownRole {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, rawRole)
	}
	action, knownAction := ParseAction(rawAction)
	if !knownAction {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, rawAction)
	}

	var newRoles []rbac.Role
	_, updateErr := service.provider.UpdateCustomClaims(ctx, targetID, func(claims map[string]any) map[string]any {
		currentRoles, droppedRoles := rbac.DecodeRoles(identity.RolesFromClaims(claims))
		if len(droppedRoles) > 0 {
			service.logger.Warn("unrecognized roles dropped during mutation",
				zap.String("code", "roleadmin.mutate.unknown_roles"),
				zap.String("target_id", targetID),
				zap.Strings("dropped", droppedRoles))
		}
		newRoles = applyAction(currentRoles, role, action)
		claims[identity.ClaimsRolesKey] = rbac.RoleStrings(newRoles)
		return claims
	})
	if updateErr != nil {
		return nil, updateErr
	}

	service.logger.Info("role mutated",
		zap.String("code", "roleadmin.mutate.applied"),
		zap.String("target_id", targetID),
		zap.String("role", string(role)),
		zap.String("action", string(action)),
		zap.Strings("new_roles", rbac.RoleStrings(newRoles)))
	return newRoles, nil
}

// RolesOf returns the target's authoritative role set, read from the
// provider's claim store rather than any cached token.
func (service *Service) RolesOf(ctx context.Context, targetID string) ([]rbac.Role, error) {
	claims, claimsErr := service.provider.CustomClaims(ctx, targetID)
	if claimsErr != nil {
		return nil, claimsErr
	}
	roles, _ := rbac.DecodeRoles(identity.RolesFromClaims(claims))
	return roles, nil
}

// applyAction computes the deduplicated union or the set difference.
func applyAction(currentRoles []rbac.Role, role rbac.Role, action Action) []rbac.Role {
	if action == ActionAssign {
		if rbac.ContainsRole(currentRoles, role) {
			return currentRoles
		}
		return append(currentRoles, role)
	}
	remaining := make([]rbac.Role, 0, len(currentRoles))
	for _, candidate := range currentRoles {
		if candidate != role {
			remaining = append(remaining, candidate)
		}
	}
	return remaining
}
