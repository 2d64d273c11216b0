package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/services/auction/internal/service"
	"go.uber.org/zap"
)

type AuctionHandler struct {
	auctions service.AuctionService
	buyNow   service.BuyNowService
	logger   *zap.Logger
}

func NewAuctionHandler(auctions service.AuctionService, buyNow service.BuyNowService, logger *zap.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		buyNow:   buyNow,
		logger:   logger,
	}
}

type createAuctionRequest struct {
	Title            string    `json:"title"`
	StartPrice       int64     `json:"start_price"`
	BidUnit          int64     `json:"bid_unit"`
	BuyNowPrice      *int64    `json:"buy_now_price"`
	AuctionStartTime time.Time `json:"auction_start_time"`
	AuctionEndTime   time.Time `json:"auction_end_time"`
}

func (h *AuctionHandler) Create(c *fiber.Ctx) error {
	var input createAuctionRequest
	if err := c.BodyParser(&input); err != nil {
		mylogger.Warn(c.UserContext(), h.logger, "failed to parse body in create auction", zap.Error(err))
		return badRequest(c, "error parsing body")
	}

	sellerID, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	auction, err := h.auctions.Create(c.UserContext(), service.CreateAuctionCommand{
		SellerID:         sellerID,
		Title:            input.Title,
		StartPrice:       input.StartPrice,
		BidUnit:          input.BidUnit,
		BuyNowPrice:      input.BuyNowPrice,
		AuctionStartTime: input.AuctionStartTime,
		AuctionEndTime:   input.AuctionEndTime,
	})
	if err != nil {
		return writeError(c, h.logger, "create auction", err)
	}

	return c.Status(fiber.StatusCreated).JSON(auction)
}

func (h *AuctionHandler) Get(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	auction, err := h.auctions.Get(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.logger, "get auction", err)
	}

	return c.JSON(auction)
}

func (h *AuctionHandler) Cancel(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	sellerID, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	if err := h.auctions.Cancel(c.UserContext(), id, sellerID); err != nil {
		return writeError(c, h.logger, "cancel auction", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AuctionHandler) BuyNow(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	buyerID, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	order, err := h.buyNow.BuyNow(c.UserContext(), id, buyerID)
	if err != nil {
		return writeError(c, h.logger, "buy now", err)
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *AuctionHandler) Watch(c *fiber.Ctx) error {
	return h.watchlist(c, true)
}

func (h *AuctionHandler) Unwatch(c *fiber.Ctx) error {
	return h.watchlist(c, false)
}

func (h *AuctionHandler) watchlist(c *fiber.Ctx, add bool) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	if add {
		err = h.auctions.Watch(c.UserContext(), id, uid)
	} else {
		err = h.auctions.Unwatch(c.UserContext(), id, uid)
	}
	if err != nil {
		return writeError(c, h.logger, "update watchlist", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Close runs the closing transaction for one auction ahead of the scan.
func (h *AuctionHandler) Close(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	closed, err := h.auctions.Close(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.logger, "close auction", err)
	}

	return c.JSON(closed)
}

func (h *AuctionHandler) Start(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.auctions.Start(c.UserContext(), id); err != nil {
		return writeError(c, h.logger, "start auction", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
