package authz

import (
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

type HMACValidator struct {
	secret []byte
	issuer string
}

func NewHMACValidator(secret, issuer string) *HMACValidator {
	return &HMACValidator{secret: []byte(secret), issuer: issuer}
}

func (h *HMACValidator) Parse(tok string) (Operator, error) {
	token, err := jwt.Parse(tok, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return h.secret, nil
	}, jwt.WithExpirationRequired())
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
	return operatorFromClaims(claims, h.issuer)
}

func (h *HMACValidator) Middleware(next http.Handler) http.Handler {
	return authenticate("hmac", h.Parse, next)
}
