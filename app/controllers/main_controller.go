package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
)

// HandleStart renders the landing page. Tokenless hits on the success
// page redirect here with a flash message.
func HandleStart(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"flash": flash.Get(c),
	})
}
