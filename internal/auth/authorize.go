package auth

import "context"

// Require checks that the context carries an identity holding one of roles.
// With no roles any authenticated identity passes.
func Require(ctx context.Context, roles ...string) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	if len(roles) > 0 && !id.HasRole(roles...) {
		return id, ErrForbidden
	}
	return id, nil
}
