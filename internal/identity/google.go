package identity

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"
)

// GoogleTokenValidator verifies Google ID tokens against an audience.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

type googleIDTokenValidator struct {
	validator *idtoken.Validator
}

// NewGoogleTokenValidator constructs a validator backed by Google's idtoken
// verification endpoint.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	validator, validatorErr := idtoken.NewValidator(ctx)
	if validatorErr != nil {
		return nil, fmt.Errorf("identity.google_validator_init: %w", validatorErr)
	}
	return &googleIDTokenValidator{validator: validator}, nil
}

func (wrapper *googleIDTokenValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return wrapper.validator.Validate(ctx, token, audience)
}

// GoogleProfile is the subset of verified Google claims a provider needs.
type GoogleProfile struct {
	Subject     string
	Email       string
	DisplayName string
}

// ExtractGoogleProfile enforces issuer and email verification before trusting
// the payload.
func ExtractGoogleProfile(payload *idtoken.Payload) (GoogleProfile, error) {
	if payload == nil {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}
	googleSub, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	userDisplayName, _ := payload.Claims["name"].(string)
	if googleSub == "" || userEmail == "" || !emailVerified {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}
	return GoogleProfile{
		Subject:     googleSub,
		Email:       userEmail,
		DisplayName: userDisplayName,
	}, nil
}
