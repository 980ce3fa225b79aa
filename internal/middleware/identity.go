package middleware

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v4"

	"github.com/rusuite/website/internal/model"
	"github.com/rusuite/website/pkg/hash"
)

const identityLocalsKey = "voteIdentity"

// IdentityConfig configures the request identity resolver.
type IdentityConfig struct {
	IPHashSalt string
	JWTSecret  string
}

// AccountClaims is the access token payload issued by the auth service.
type AccountClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewIdentityResolver attaches a model.Identity to every request. The IP is
// normalized and hashed; the account comes from an optional bearer token.
// A request without Authorization is anonymous; a bad token is rejected.
func NewIdentityResolver(cfg IdentityConfig) fiber.Handler {
	secret := []byte(cfg.JWTSecret)

	return func(c fiber.Ctx) error {
		id := model.Identity{IP: hash.HashIP(NormalizeIP(c.IP()), cfg.IPHashSalt)}

		if header := c.Get(fiber.HeaderAuthorization); header != "" {
			accountID, err := ParseAccountToken(header, secret)
			if err != nil {
				return ErrorResponse(c, fiber.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired access token")
			}
			id.AccountID = &accountID
		}

		c.Locals(identityLocalsKey, id)
		return c.Next()
	}
}

// RequireAccount rejects requests that did not present a valid access token.
func RequireAccount() fiber.Handler {
	return func(c fiber.Ctx) error {
		id, ok := IdentityFrom(c)
		if !ok || !id.HasAccount() {
			return ErrorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		}
		return c.Next()
	}
}

// IdentityFrom returns the identity resolved for this request.
func IdentityFrom(c fiber.Ctx) (model.Identity, bool) {
	id, ok := c.Locals(identityLocalsKey).(model.Identity)
	return id, ok
}

// ParseAccountToken verifies an HS256 "Bearer <jwt>" header value and returns its subject.
func ParseAccountToken(header string, secret []byte) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: missing bearer token", model.ErrInvalidToken)
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: no signing secret configured", model.ErrInvalidToken)
	}

	var claims AccountClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", model.ErrInvalidToken)
	}
	return claims.Subject, nil
}

// NormalizeIP canonicalizes an address so that "::ffff:10.0.0.1" and
// "10.0.0.1" hash to the same identity. Unparseable input is returned as-is.
func NormalizeIP(raw string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return addr.Unmap().WithZone("").String()
}
