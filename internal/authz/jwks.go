package authz

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

type JWTValidator struct {
	jwks   *keyfunc.JWKS
	issuer string
}

// NewJWTValidator fetches the JWKS once and keeps it refreshed in the
// background until ctx is done.
func NewJWTValidator(ctx context.Context, jwksURL, issuer string) (*JWTValidator, error) {
	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   15 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{jwks: jwks, issuer: issuer}, nil
}

// NewJWTValidatorFromJSON builds a validator from a static JWKS document.
func NewJWTValidatorFromJSON(raw []byte, issuer string) (*JWTValidator, error) {
	jwks, err := keyfunc.NewJSON(raw)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{jwks: jwks, issuer: issuer}, nil
}

func (j *JWTValidator) Parse(tok string) (Operator, error) {
	token, err := jwt.Parse(tok, j.jwks.Keyfunc)
	if err != nil {
		return Operator{}, err
	}
	if !token.Valid {
		return Operator{}, fmt.Errorf("token not valid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Operator{}, fmt.Errorf("invalid token claims")
	}
	if _, ok := claims["exp"]; !ok {
		return Operator{}, fmt.Errorf("token has no expiry")
	}
	return operatorFromClaims(claims, j.issuer)
}

func (j *JWTValidator) Middleware(next http.Handler) http.Handler {
	return authenticate("jwks", j.Parse, next)
}

func (j *JWTValidator) Close() { j.jwks.EndBackground() }
