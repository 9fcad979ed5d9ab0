package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated agent acting on the engine.
// Tokens are issued by the out-of-scope identity service; the engine only
// verifies them to attribute actions.
type Principal struct {
	AgentID string
	Role    string
}

// Claims describes the JWT payload the identity service issues.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates bearer tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier builds a verifier over a shared HMAC secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify validates the token and returns its claims.
func (v *TokenVerifier) Verify(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Middleware enforces bearer-token authentication for manual actions.
func Middleware(verifier *TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return apperrors.NewUnauthorized("missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return apperrors.NewUnauthorized("invalid authorization header")
		}

		claims, err := verifier.Verify(parts[1])
		if err != nil {
			return apperrors.NewUnauthorized("invalid token")
		}
		if claims.Subject == "" {
			return apperrors.NewUnauthorized("token missing subject")
		}

		c.Locals(principalKey, &Principal{AgentID: claims.Subject, Role: claims.Role})
		return c.Next()
	}
}

// PrincipalFromContext retrieves the authenticated agent.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
