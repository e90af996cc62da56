package auth

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Verified user identity attached to a connection before it may join any
// session
type Identity struct {
	UserID      string
	DisplayName string
}

// Verifies bearer tokens with an HMAC secret shared with the issuing
// service
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the token signature and expiry and extracts the identity
// claims. Any failure refuses the connection; no session state is touched.
func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := gojwt.Parse(tokenStr, func(t *gojwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	identity := Identity{}
	if userID, ok := claims["user_id"].(string); ok {
		identity.UserID = userID
	}
	if displayName, ok := claims["display_name"].(string); ok {
		identity.DisplayName = displayName
	}
	if identity.UserID == "" {
		return Identity{}, fmt.Errorf("%w: no user_id claim", ErrInvalidToken)
	}
	if identity.DisplayName == "" {
		identity.DisplayName = identity.UserID
	}
	return identity, nil
}

// Sign issues a token for the identity, used by tests and local tooling
func (v *Verifier) Sign(identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := gojwt.MapClaims{
		"user_id":      identity.UserID,
		"display_name": identity.DisplayName,
		"iat":          now.Unix(),
		"exp":          now.Add(ttl).Unix(),
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
