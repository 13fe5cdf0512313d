package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredentials marks a request that carried no usable credential at
// all; the bridge maps it to 401 instead of 403.
var ErrNoCredentials = errors.New("no credentials presented")

// IdentityVerifier proves which identity (webId) is behind a request.
// The outbox gate compares the proven identity against the owner's.
type IdentityVerifier interface {
	VerifyIdentity(r *http.Request) (string, error)
}

// TokenVerifier verifies signed bearer tokens whose "webid" claim names
// the caller's identity document. Tokens are issued out of band by the
// operator; full delegated-authentication flows sit behind the same
// interface.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

// VerifyIdentity checks the Authorization bearer token and returns the
// webId it certifies.
func (v *TokenVerifier) VerifyIdentity(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", fmt.Errorf("%w: authorization scheme is not Bearer", ErrNoCredentials)
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("token rejected: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("token carries no claims")
	}
	webID, _ := claims["webid"].(string)
	if webID == "" {
		return "", fmt.Errorf("token carries no webid claim")
	}

	return webID, nil
}

// IssueToken mints a token for the given webId, signed with the
// verifier's secret. Used by the CLI and by tests.
func (v *TokenVerifier) IssueToken(webID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"webid": webID})
	return token.SignedString(v.secret)
}
