package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	controlTokenIssuer     = minerSoftwareName
	controlTokenSubject    = "operator"
	defaultControlTokenTTL = 30 * 24 * time.Hour
)

var errControlDisabled = errors.New("control API disabled: no token secret configured")

// controlClaims are carried by tokens that may pause the miner or change its
// thread count.
type controlClaims struct {
	jwt.RegisteredClaims
}

// controlAuth signs and checks HS256 control tokens.
type controlAuth struct {
	secret []byte
}

func newControlAuth(secret string) *controlAuth {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &controlAuth{secret: []byte(secret)}
}

// Issue returns a signed token valid for ttl.
func (a *controlAuth) Issue(now time.Time, ttl time.Duration) (string, error) {
	if a == nil {
		return "", errControlDisabled
	}
	if ttl <= 0 {
		ttl = defaultControlTokenTTL
	}
	claims := controlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    controlTokenIssuer,
			Subject:   controlTokenSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *controlAuth) Verify(token string) error {
	if a == nil {
		return errControlDisabled
	}
	claims := &controlClaims{}
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}
	tok, err := jwt.ParseWithClaims(token, claims, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(controlTokenIssuer),
		jwt.WithSubject(controlTokenSubject),
		jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("verify control token: %w", err)
	}
	if !tok.Valid {
		return errors.New("invalid control token")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requireControl wraps a handler so that only holders of a valid token
// reach it.
func (a *controlAuth) requireControl(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			writeJSONError(w, http.StatusForbidden, errControlDisabled.Error())
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := a.Verify(token); err != nil {
			logger.Warn("rejected control request", "remote", r.RemoteAddr, "path", r.URL.Path, "error", err)
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}
