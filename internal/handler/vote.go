package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/rusuite/website/internal/middleware"
	"github.com/rusuite/website/internal/model"
	"github.com/rusuite/website/internal/service"
)

type VoteHandler struct {
	votes   *service.VoteService
	targets *service.TargetService
}

func NewVoteHandler(votes *service.VoteService, targets *service.TargetService) *VoteHandler {
	return &VoteHandler{votes: votes, targets: targets}
}

// Submit handles POST /api/votes/:serverId
func (h *VoteHandler) Submit(c fiber.Ctx) error {
	serverID, ok, err := h.votableTarget(c)
	if !ok {
		return err
	}

	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return missingIdentity(c)
	}
	start := time.Now()
	resp, err := h.votes.SubmitVote(c.UserContext(), serverID, id)
	observeSubmit(time.Since(start))

	var cooldown *model.CooldownError
	switch {
	case errors.As(err, &cooldown):
		recordVote("cooldown")
		c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(model.SecondsCeil(cooldown.Remaining), 10))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": fiber.Map{
				"code":           "VOTE_COOLDOWN",
				"message":        cooldown.Error(),
				"retryAfter":     cooldown.RetryAfter.UTC(),
				"hoursRemaining": cooldown.RemainingHoursCeil,
			},
		})
	case err != nil:
		recordVote("error")
		middleware.Logger.Error().Err(err).Str("component", "votes").Msg("submit vote failed")
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to submit vote")
	}

	recordVote("accepted")
	return c.JSON(resp)
}

// Count handles GET /api/votes/:serverId/count
func (h *VoteHandler) Count(c fiber.Ctx) error {
	serverID, errMsg := middleware.ValidateServerID(c.Params("serverId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	n, err := h.votes.GetVoteCount(c.UserContext(), serverID)
	if err != nil {
		middleware.Logger.Error().Err(err).Str("component", "votes").Msg("count votes failed")
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count votes")
	}

	return c.JSON(model.VoteCountResponse{ServerID: serverID, VoteCount: n})
}

// CanVote handles GET /api/votes/:serverId/can-vote
func (h *VoteHandler) CanVote(c fiber.Ctx) error {
	serverID, errMsg := middleware.ValidateServerID(c.Params("serverId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return missingIdentity(c)
	}
	res, err := h.votes.CheckEligibility(c.UserContext(), serverID, id)
	if err != nil {
		middleware.Logger.Error().Err(err).Str("component", "votes").Msg("eligibility check failed")
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check vote eligibility")
	}
	recordEligibility(res.Eligible)

	if res.Eligible {
		return c.JSON(model.CanVoteResponse{CanVote: true})
	}

	next := res.RetryAfter.UTC()
	return c.JSON(model.CanVoteResponse{
		CanVote:          false,
		SecondsRemaining: model.SecondsCeil(res.Remaining),
		HoursRemaining:   res.RemainingHoursCeil,
		NextVoteAt:       &next,
	})
}

// Stats handles GET /api/votes/:serverId/stats?days=N
func (h *VoteHandler) Stats(c fiber.Ctx) error {
	serverID, errMsg := middleware.ValidateServerID(c.Params("serverId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}
	days, errMsg := middleware.ValidateWindowDays(c.Query("days"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	hist, err := h.votes.GetHistogram(c.UserContext(), serverID, time.Duration(days)*24*time.Hour)
	if err != nil {
		middleware.Logger.Error().Err(err).Str("component", "votes").Msg("vote stats failed")
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch vote statistics")
	}

	return c.JSON(hist)
}

// votableTarget validates the serverId param and checks that the listing
// accepts votes. When ok is false the response has already been written.
func (h *VoteHandler) votableTarget(c fiber.Ctx) (string, bool, error) {
	serverID, errMsg := middleware.ValidateServerID(c.Params("serverId"))
	if errMsg != "" {
		return "", false, middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	votable, err := h.targets.Votable(c.UserContext(), serverID)
	if err != nil {
		middleware.Logger.Error().Err(err).Str("component", "votes").Msg("target lookup failed")
		return "", false, middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up server")
	}
	if !votable {
		return "", false, middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "Server not found")
	}
	return serverID, true, nil
}

// missingIdentity answers a request that reached a vote route without the
// identity resolver. An empty identity would match no prior votes, so it must
// never reach the ledger.
func missingIdentity(c fiber.Ctx) error {
	middleware.Logger.Error().Str("component", "votes").Str("path", c.Path()).Msg("voter identity missing from request")
	return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve voter identity")
}
