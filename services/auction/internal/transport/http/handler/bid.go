package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/services/auction/internal/service"
	"go.uber.org/zap"
)

type BidHandler struct {
	bids   service.BidService
	logger *zap.Logger
}

func NewBidHandler(bids service.BidService, logger *zap.Logger) *BidHandler {
	return &BidHandler{
		bids:   bids,
		logger: logger,
	}
}

type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

func (h *BidHandler) Place(c *fiber.Ctx) error {
	auctionID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	var input placeBidRequest
	if err := c.BodyParser(&input); err != nil {
		mylogger.Warn(c.UserContext(), h.logger, "failed to parse body in place bid", zap.Error(err))
		return badRequest(c, "error parsing body")
	}

	bidderID, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	bid, err := h.bids.PlaceBid(c.UserContext(), service.PlaceBidCommand{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    input.Amount,
	})
	if err != nil {
		return writeError(c, h.logger, "place bid", err)
	}

	return c.Status(fiber.StatusCreated).JSON(bid)
}

func (h *BidHandler) Cancel(c *fiber.Ctx) error {
	bidID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	bidderID, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	auction, err := h.bids.CancelBid(c.UserContext(), service.CancelBidCommand{BidID: bidID, BidderID: bidderID})
	if err != nil {
		return writeError(c, h.logger, "cancel bid", err)
	}

	return c.JSON(fiber.Map{
		"auction_id":    auction.ID,
		"current_price": auction.CurrentPrice,
		"bid_count":     auction.BidCount,
	})
}
