package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lifedesk/lifedesk/internal/pkg/database"
	"github.com/lifedesk/lifedesk/internal/pkg/store"
)

// HandleStoreWebhook receives processor webhooks. The raw body is verified
// against the signature header before anything else; recording, dedup and
// dispatch happen in the store dispatcher. Any 2xx tells the processor to
// stop retrying, so a handler failure returns 500 to get the event
// redelivered and reprocessed.
func HandleStoreWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	svc := store.NewServiceFromDB(database.GetDB())
	dispatcher := store.NewDispatcherFromEnv(svc)

	event, err := dispatcher.VerifyEvent(rawBody, signature)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := requestContext()
	defer cancel()
	outcome, err := dispatcher.ProcessEvent(ctx, event, rawBody)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}
	switch outcome {
	case store.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case store.OutcomeIgnored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
