package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lifedesk/lifedesk/app/controllers"
	"github.com/lifedesk/lifedesk/internal/pkg/middleware"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
}

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Processor webhooks (no auth, signature-verified in controller)
	app.Post("/store/webhook/stripe", controllers.HandleStoreWebhook)

	// Checkout return URLs; actual completion happens through the webhook
	app.Get("/store/checkout/success", controllers.HandleCheckoutSuccess)
	app.Get("/store/checkout/cancel", controllers.HandleCheckoutCancel)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
