package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/pkg/utils"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/repository"
	"go.uber.org/zap"
)

var statusByError = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidAmount, fiber.StatusUnprocessableEntity},
	{domain.ErrBidTooLow, fiber.StatusUnprocessableEntity},
	{domain.ErrBidUnitInvalid, fiber.StatusUnprocessableEntity},
	{domain.ErrInvalidBuyNowPrice, fiber.StatusUnprocessableEntity},
	{domain.ErrSelfBid, fiber.StatusForbidden},
	{domain.ErrNotBidOwner, fiber.StatusForbidden},
	{domain.ErrNotAuctionOwner, fiber.StatusForbidden},
	{repository.ErrAuctionNotFound, fiber.StatusNotFound},
	{repository.ErrBidNotFound, fiber.StatusNotFound},
	{repository.ErrOrderNotFound, fiber.StatusNotFound},
	{domain.ErrAuctionNotBiddable, fiber.StatusConflict},
	{domain.ErrBidNotCancellable, fiber.StatusConflict},
	{domain.ErrCancelWindowExpired, fiber.StatusConflict},
	{domain.ErrAuctionNotCancelable, fiber.StatusConflict},
	{domain.ErrBuyNowUnavailable, fiber.StatusConflict},
	{domain.ErrInvalidTransition, fiber.StatusConflict},
	{domain.ErrAuctionNotDue, fiber.StatusConflict},
	{domain.ErrOrderNotPending, fiber.StatusConflict},
	{domain.ErrAttemptResolved, fiber.StatusConflict},
	{domain.ErrConcurrentModification, fiber.StatusConflict},
	{domain.ErrBuyNowLimitReached, fiber.StatusTooManyRequests},
}

func writeError(c *fiber.Ctx, logger *zap.Logger, op string, err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "validation failed",
			"fields": utils.FormatValidationError(err),
		})
	}

	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			body := fiber.Map{"error": m.err.Error()}
			if m.err == domain.ErrConcurrentModification {
				body["retryable"] = true
			}

			return c.Status(m.status).JSON(body)
		}
	}

	mylogger.Error(c.UserContext(), logger, op+" failed", zap.Error(err))

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func userID(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals("userId").(int64)
	return id, ok && id > 0
}

func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}

	return id, nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "userId parsing error"})
}
