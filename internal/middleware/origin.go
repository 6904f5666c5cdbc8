package middleware

import (
	"os"
	"strings"

	"github.com/colabhq/pulse/internal/httpx"
	"github.com/gofiber/fiber/v2"
)

// OriginAllowed gates browser-originated requests against the ALLOWED_ORIGINS
// env list (comma separated, exact match). Stream attach and websocket upgrade
// routes need this on top of CORS: EventSource and WebSocket handshakes are
// not subject to preflight, so the Origin header is the only signal we get.
// Requests without an Origin header (curl, native clients) pass through, as
// does everything when no list is configured.
func OriginAllowed() fiber.Handler {
	allowed := parseOriginSet(os.Getenv("ALLOWED_ORIGINS"))
	return func(c *fiber.Ctx) error {
		origin := strings.TrimSpace(c.Get(fiber.HeaderOrigin))
		if origin == "" || len(allowed) == 0 {
			return c.Next()
		}
		if !allowed[origin] {
			return httpx.Forbidden(c, "forbidden_origin", "Origin not allowed")
		}
		return c.Next()
	}
}

func parseOriginSet(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			set[origin] = true
		}
	}
	return set
}
