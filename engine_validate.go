package authcore

import (
	"context"

	"github.com/educ8africa/authcore/token"
)

// ValidateAccess verifies an access token. With Session.StrictAccess the
// session must also still be active, so logout and rotation take effect
// before the token expires.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (res *AccessResult, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, end := e.begin(ctx, opValidate)
	defer end(&err)

	claims, err := e.codec.Verify(accessToken, token.KindAccess)
	if err != nil {
		return nil, translate(err)
	}

	if e.config.Session.StrictAccess {
		var active bool
		err = e.withRetry(ctx, func(ctx context.Context) error {
			var aerr error
			active, aerr = e.ledger.IsActive(ctx, claims.SessionID)
			return aerr
		})
		if err != nil {
			return nil, translate(err)
		}
		if !active {
			return nil, ErrSessionRevoked
		}
	}

	return &AccessResult{
		IdentityID: claims.IdentityID,
		SessionID:  claims.SessionID,
		TokenID:    claims.TokenID,
		IssuedAt:   claims.IssuedAt,
		ExpiresAt:  claims.ExpiresAt,
	}, nil
}
