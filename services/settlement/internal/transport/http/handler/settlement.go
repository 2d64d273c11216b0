package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/services/settlement/internal/repository"
	"github.com/sakashimaa/go-auction/services/settlement/internal/service"
	"go.uber.org/zap"
)

type SettlementHandler struct {
	batch  service.BatchService
	logger *zap.Logger
}

func NewSettlementHandler(batch service.BatchService, logger *zap.Logger) *SettlementHandler {
	return &SettlementHandler{
		batch:  batch,
		logger: logger,
	}
}

func (h *SettlementHandler) Collect(c *fiber.Ctx) error {
	res, err := h.batch.Collect(c.UserContext())
	if err != nil {
		return h.internal(c, "Collect", err)
	}

	return c.JSON(res)
}

func (h *SettlementHandler) Complete(c *fiber.Ctx) error {
	res, err := h.batch.Complete(c.UserContext())
	if err != nil {
		return h.internal(c, "Complete", err)
	}

	return c.JSON(res)
}

func (h *SettlementHandler) OpenSettlement(c *fiber.Ctx) error {
	payeeID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || payeeID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payee id"})
	}

	settlement, items, err := h.batch.OpenSettlement(c.UserContext(), payeeID)
	if err != nil {
		if errors.Is(err, repository.ErrSettlementNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": repository.ErrSettlementNotFound.Error()})
		}
		return h.internal(c, "OpenSettlement", err)
	}

	return c.JSON(fiber.Map{
		"settlement": settlement,
		"items":      items,
	})
}

func (h *SettlementHandler) internal(c *fiber.Ctx, op string, err error) error {
	mylogger.Error(c.UserContext(), h.logger, op+" failed", zap.Error(err))

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
