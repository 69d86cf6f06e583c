package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/sirupsen/logrus"
)

// BasicAuth gates every following route behind a single user.
// An empty username disables the gate.
func BasicAuth(username, password string, logger *logrus.Logger) fiber.Handler {
	if username == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return basicauth.New(basicauth.Config{
		Users: map[string]string{username: password},
		Realm: "acerpal",
		Unauthorized: func(c *fiber.Ctx) error {
			logger.WithFields(logrus.Fields{
				"path":        c.Path(),
				"remote_addr": c.IP(),
			}).Warn("Rejected unauthenticated request")
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="acerpal"`)
			return c.SendStatus(fiber.StatusUnauthorized)
		},
	})
}
