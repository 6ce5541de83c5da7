package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/lifedesk/lifedesk/app/models"
	"github.com/lifedesk/lifedesk/internal/pkg/cache"
	"github.com/lifedesk/lifedesk/internal/pkg/store"
)

func invalidateStorefront() {
	if err := cache.Delete(storefrontCacheKey); err != nil {
		log.Printf("[Store] storefront cache invalidation failed: %v", err)
	}
}

// HandleAdminSaveProduct creates or updates a catalog product and mirrors it
// to the remote processor in paid mode.
func HandleAdminSaveProduct(c *fiber.Ctx) error {
	var product models.Product
	if err := c.BodyParser(&product); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid request body"})
	}
	if err := product.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	ctx, cancel := requestContext()
	defer cancel()
	if err := storeService().SaveProduct(ctx, &product); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save product"})
	}
	invalidateStorefront()
	return c.JSON(fiber.Map{"product": product})
}

// HandleAdminSavePrice creates or updates a price. Amount, billing interval
// and the one-time/recurring flag are immutable once the price is synced
// remotely; editing those requires creating a new price.
func HandleAdminSavePrice(c *fiber.Ctx) error {
	var price models.Price
	if err := c.BodyParser(&price); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid request body"})
	}
	if err := price.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	ctx, cancel := requestContext()
	defer cancel()
	if err := storeService().SavePrice(ctx, &price); err != nil {
		switch {
		case errors.Is(err, store.ErrPriceImmutable):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "price_immutable", "message": err.Error()})
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Product not found"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save price"})
		}
	}
	invalidateStorefront()
	return c.JSON(fiber.Map{"price": price})
}

// HandleAdminDeletePrice removes a price that no order or subscription
// references. Referenced prices can only be deactivated.
func HandleAdminDeletePrice(c *fiber.Ctx) error {
	ctx, cancel := requestContext()
	defer cancel()
	if err := storeService().DeletePrice(ctx, c.Params("id")); err != nil {
		switch {
		case errors.Is(err, store.ErrPriceInUse):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "price_in_use", "message": err.Error()})
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Price not found"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to delete price"})
		}
	}
	invalidateStorefront()
	return c.JSON(fiber.Map{"deleted": true})
}
