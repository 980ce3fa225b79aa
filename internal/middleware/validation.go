package middleware

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// Field limits matching database schema constraints.
const (
	MaxServerIDLen    = 64
	DefaultWindowDays = 7
	MaxWindowDays     = 90
)

// serverIDRe matches listing ids: uuid, cuid or slug-like.
var serverIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrorResponse is a helper that returns a standard API error response.
func ErrorResponse(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// ValidateServerID checks that a server ID is well-formed and within DB limits.
func ValidateServerID(id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "serverId is required"
	}
	if len(id) > MaxServerIDLen {
		return "", "serverId must be at most 64 characters"
	}
	if !serverIDRe.MatchString(id) {
		return "", "serverId contains invalid characters"
	}
	return id, ""
}

// ValidateWindowDays parses the stats window in days. Empty means the default.
func ValidateWindowDays(raw string) (int, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultWindowDays, ""
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, "days must be an integer"
	}
	if days < 1 || days > MaxWindowDays {
		return 0, "days must be between 1 and 90"
	}
	return days, ""
}
