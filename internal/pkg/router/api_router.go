package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/zelera/booknest/app/controllers"
	"github.com/zelera/booknest/internal/pkg/env"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Rate-limit the payment API in redis so polling clients are throttled
	// consistently across instances.
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	storage := redisstorage.New(redisstorage.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: 1, // separate database, cache uses DB 0
		Reset:    false,
	})

	api := app.Group("/payment/api", limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		Storage:    storage,
	}))

	api.Post("/initiate/", controllers.HandleInitiatePayment)
	api.Post("/get-token/", controllers.HandleGetSessionToken)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
