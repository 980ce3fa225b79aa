package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
)

// corsPreflightCache is how long browsers may reuse a preflight response.
const corsPreflightCache = 2 * time.Hour

// voteAPIExposedHeaders are the response headers the site's vote widget reads
// to show a countdown after a 429.
var voteAPIExposedHeaders = []string{
	fiber.HeaderRetryAfter,
	headerRateLimitLimit,
	headerRateLimitRemaining,
	headerRateLimitReset,
}

// NewCORS returns the CORS middleware for the vote API. corsOrigins is a
// comma-separated origin list; empty or "*" allows any origin. Votes are
// authorized by bearer token, never cookies, so credentials stay disabled.
func NewCORS(corsOrigins string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:  ParseOrigins(corsOrigins),
		AllowMethods:  []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodOptions},
		AllowHeaders:  []string{fiber.HeaderContentType, fiber.HeaderAuthorization},
		ExposeHeaders: voteAPIExposedHeaders,
		MaxAge:        int(corsPreflightCache.Seconds()),
	})
}

// ParseOrigins normalizes a comma-separated origin list, dropping blanks,
// trailing slashes and duplicates. A "*" anywhere wins.
func ParseOrigins(raw string) []string {
	seen := make(map[string]struct{})
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			return []string{"*"}
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
