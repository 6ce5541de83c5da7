package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/lifedesk/lifedesk/app/controllers"
	"github.com/lifedesk/lifedesk/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Public catalog
	v1.Get("/store/products", controllers.HandleStoreProducts)
	v1.Get("/store/products/:id", controllers.HandleStoreProduct)

	// Cart and checkout
	v1.Get("/store/cart", middleware.RequireUser, controllers.HandleGetCart)
	v1.Post("/store/cart", middleware.RequireUser, controllers.HandleUpdateCart)
	v1.Get("/store/cart/quantity", middleware.RequireUser, controllers.HandleCartQuantity)
	v1.Post("/store/checkout", middleware.RequireUser, controllers.HandleCheckout)
	v1.Post("/store/subscribe", middleware.RequireUser, controllers.HandleSubscribeCheckout)

	// Orders and refunds
	v1.Get("/store/orders", middleware.RequireUser, controllers.HandleOrderHistory)
	v1.Get("/store/orders/:number", middleware.RequireUser, controllers.HandleOrderDetail)
	v1.Post("/store/orders/:number/refund", middleware.RequireUser, controllers.HandleRefundOrder)
	v1.Post("/store/orders/:number/items/:item/refund", middleware.RequireUser, controllers.HandleRefundOrderItem)

	// Subscriptions
	v1.Get("/store/subscriptions", middleware.RequireUser, controllers.HandleSubscriptions)
	v1.Post("/store/subscriptions/:id/cancel", middleware.RequireUser, controllers.HandleCancelSubscription)

	// Catalog management
	v1.Post("/store/admin/products", middleware.RequireAdmin, controllers.HandleAdminSaveProduct)
	v1.Post("/store/admin/prices", middleware.RequireAdmin, controllers.HandleAdminSavePrice)
	v1.Delete("/store/admin/prices/:id", middleware.RequireAdmin, controllers.HandleAdminDeletePrice)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
