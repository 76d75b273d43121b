package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clockSkew tolerates small clock differences between issuer and verifier.
const clockSkew = 30 * time.Second

// Claims are the JWT claims accepted by the verifier.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenVerifier validates bearer tokens.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier for HS256 tokens signed with secret.
// A non-empty issuer must match the token's "iss" claim.
func NewVerifier(secret, issuer string) *TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}
}

// Verify checks token and returns its principal ID.
func (v *TokenVerifier) Verify(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrTokenMissing
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return "", ErrTokenInvalid
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
// It returns ErrTokenMissing if the header is empty or not a Bearer
// credential.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrTokenMissing
	}
	return strings.TrimSpace(token), nil
}
