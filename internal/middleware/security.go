// Package middleware holds the fiber handlers shared by every route.
package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// SecurityHeaders sets the response headers of a JSON API that is never
// framed or sniffed. HSTS is only sent over https.
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		c.Set(fiber.HeaderXFrameOptions, "DENY")
		c.Set(fiber.HeaderReferrerPolicy, "no-referrer")
		c.Set(fiber.HeaderContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'")

		if c.Protocol() == "https" {
			c.Set(fiber.HeaderStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		}
		return c.Next()
	}
}
