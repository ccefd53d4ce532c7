package handlers

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketbot/internal/api/dto"
	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/service"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

const maxListLimit = 500

// TicketsHandler serves operator ticket endpoints.
type TicketsHandler struct {
	tickets          *service.TicketService
	defaultOrphanAge time.Duration
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, defaultOrphanAge time.Duration) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, defaultOrphanAge: defaultOrphanAge}
}

// List handles GET /ops/tickets.
func (h *TicketsHandler) List(c *fiber.Ctx) error {
	var q dto.TicketListQuery
	if err := c.QueryParser(&q); err != nil {
		return apperrors.NewValidationError("invalid query", nil)
	}
	filter, err := buildFilter(q)
	if err != nil {
		return err
	}

	tickets, err := h.tickets.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketListResponse(tickets)})
}

func buildFilter(q dto.TicketListQuery) (repository.TicketFilter, error) {
	filter := repository.TicketFilter{Unbound: q.Unbound, Limit: q.Limit}
	if q.Limit < 0 || q.Limit > maxListLimit {
		return filter, apperrors.NewValidationError("limit out of range", map[string]any{"max": maxListLimit})
	}
	if q.GuildID != "" {
		id, err := snowflake.ParseString(strings.TrimSpace(q.GuildID))
		if err != nil || id <= 0 {
			return filter, apperrors.NewValidationError("invalid guild_id", nil)
		}
		filter.GuildID = &id
	}
	if q.Status != "" {
		status := domain.TicketStatus(strings.ToLower(q.Status))
		if !status.Valid() {
			return filter, apperrors.NewValidationError("invalid status", map[string]any{"status": q.Status})
		}
		filter.Status = &status
	}
	return filter, nil
}

// Get handles GET /ops/tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	ticket, err := h.tickets.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Delete handles DELETE /ops/tickets/:id.
func (h *TicketsHandler) Delete(c *fiber.Ctx) error {
	operator := "unknown"
	if p, ok := auth.PrincipalFromContext(c); ok {
		operator = p.Operator
	}
	if err := h.tickets.Purge(c.UserContext(), c.Params("id"), operator); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Reconcile handles POST /ops/reconcile.
func (h *TicketsHandler) Reconcile(c *fiber.Ctx) error {
	var req dto.ReconcileRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	olderThan := h.defaultOrphanAge
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil {
			return apperrors.NewValidationError("invalid older_than", map[string]any{"older_than": req.OlderThan})
		}
		if d < config.MinOrphanAge {
			return apperrors.NewValidationError("older_than must be at least "+config.MinOrphanAge.String(),
				map[string]any{"older_than": req.OlderThan})
		}
		olderThan = d
	}

	report, err := h.tickets.ReconcileOrphans(c.UserContext(), olderThan, req.Purge)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ReconcileResponse{Orphans: report.Orphans, Purged: report.Purged}})
}
