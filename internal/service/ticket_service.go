package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/repository"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// TicketService coordinates the ticket lifecycle between the store and the
// chat platform. It holds no ticket state of its own; concurrent commands
// are arbitrated by the store's conditional writes.
type TicketService struct {
	tickets    repository.TicketRepository
	channels   ChannelManager
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Channels   ChannelManager
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// OpenResult identifies a freshly opened ticket and its channel.
type OpenResult struct {
	TicketID  string
	ChannelID snowflake.ID
}

// CloseResult reports whether the ticket was already closed.
type CloseResult struct {
	TicketID      string
	AlreadyClosed bool
}

// ClaimOutcome distinguishes a won claim from a lost one.
type ClaimOutcome int

const (
	ClaimSucceeded ClaimOutcome = iota
	ClaimAlreadyClaimed
)

func (o ClaimOutcome) String() string {
	if o == ClaimAlreadyClaimed {
		return "already_claimed"
	}
	return "succeeded"
}

// ClaimResult carries the current claimer. For ClaimAlreadyClaimed it may be
// the caller.
type ClaimResult struct {
	TicketID  string
	Outcome   ClaimOutcome
	ClaimedBy snowflake.ID
}

// ReconcileReport summarizes an orphan sweep.
type ReconcileReport struct {
	Orphans []string `json:"orphans"`
	Purged  int      `json:"purged"`
}

const reconcileBatch = 500

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		channels:   deps.Channels,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger.Named("lifecycle"),
		clock:      clock,
	}
}

// Open creates a ticket row, then its private channel, then binds the two.
// A failure after the row exists leaves it unbound for the reconciliation
// sweep; a failure after the channel exists removes the channel again.
func (s *TicketService) Open(ctx context.Context, guildID, creatorID, supportRoleID snowflake.ID) (result OpenResult, err error) {
	start, outcome := time.Now(), "ok"
	defer func() { s.observe("open", start, outcome, err) }()

	id, err := s.tickets.Create(ctx, guildID, creatorID)
	if err != nil {
		s.logger.Error("create ticket row", zap.Error(err), zap.Stringer("creator_id", creatorID))
		return OpenResult{}, errStoreFailure(err)
	}
	log := s.logger.With(zap.String("ticket_id", id), zap.Stringer("creator_id", creatorID))

	exists, err := s.channels.RoleExists(ctx, guildID, supportRoleID)
	if err != nil {
		log.Error("resolve support role", zap.Error(err))
		return OpenResult{}, errChannelFailure(err)
	}
	if !exists {
		log.Error("support role not found", zap.Stringer("role_id", supportRoleID))
		return OpenResult{}, errSupportRoleMissing()
	}

	overrides := domain.OpenTicketOverrides(guildID, supportRoleID, creatorID)
	channelID, err := s.channels.CreateChannel(ctx, guildID, domain.ChannelName(id), overrides)
	if err != nil {
		if errors.Is(err, ErrChannelForbidden) {
			log.Error("missing permission to create ticket channel", zap.Error(err))
		} else {
			log.Error("create ticket channel", zap.Error(err))
		}
		return OpenResult{}, errChannelFailure(err)
	}
	log = log.With(zap.Stringer("channel_id", channelID))

	if err := s.tickets.SetChannel(ctx, id, channelID); err != nil {
		log.Error("bind channel to ticket", zap.Error(err))
		if delErr := s.channels.DeleteChannel(ctx, channelID); delErr != nil && !errors.Is(delErr, ErrChannelNotFound) {
			log.Error("remove unbound ticket channel", zap.Error(delErr))
		}
		return OpenResult{}, errStoreFailure(err)
	}

	if err := s.channels.PostNotice(ctx, channelID, domain.Notice{
		Kind:      domain.NoticeWelcome,
		TicketID:  id,
		SubjectID: creatorID,
	}); err != nil {
		log.Warn("post welcome notice", zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketOpened,
		TicketID:  id,
		ChannelID: &channelID,
		Actor:     memberActor(creatorID),
		Payload:   events.TicketOpenedPayload{GuildID: guildID, CreatorID: creatorID},
	})
	log.Info("ticket opened")
	return OpenResult{TicketID: id, ChannelID: channelID}, nil
}

// Close marks the ticket closed and locks the creator out of sending. The
// overrides are re-applied on every call so a repeated close repairs a
// channel whose earlier edit failed; the notice is only posted once.
func (s *TicketService) Close(ctx context.Context, channelID, guildID, supportRoleID, requesterID snowflake.ID) (result CloseResult, err error) {
	start, outcome := time.Now(), "ok"
	defer func() { s.observe("close", start, outcome, err) }()

	id, err := s.requireTicket(ctx, channelID)
	if err != nil {
		return CloseResult{}, err
	}
	log := s.logger.With(zap.String("ticket_id", id), zap.Stringer("channel_id", channelID))

	ticket, err := s.loadTicket(ctx, id)
	if err != nil {
		return CloseResult{}, err
	}

	changed, err := s.tickets.MarkClosed(ctx, id)
	if err != nil {
		log.Error("mark ticket closed", zap.Error(err))
		return CloseResult{}, errStoreFailure(err)
	}

	overrides := domain.ClosedTicketOverrides(guildID, supportRoleID, ticket.CreatorID)
	if err := s.channels.SetPermissions(ctx, channelID, overrides); err != nil {
		log.Error("apply closed permissions", zap.Error(err))
		return CloseResult{}, errChannelFailure(err)
	}

	if !changed {
		outcome = "already_closed"
		return CloseResult{TicketID: id, AlreadyClosed: true}, nil
	}

	if err := s.channels.PostNotice(ctx, channelID, domain.Notice{
		Kind:      domain.NoticeClosed,
		TicketID:  id,
		SubjectID: ticket.CreatorID,
	}); err != nil {
		log.Warn("post closed notice", zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketClosed,
		TicketID:  id,
		ChannelID: &channelID,
		Actor:     staffActor(requesterID),
		Payload:   events.TicketClosedPayload{CreatorID: ticket.CreatorID, ClosedBy: requesterID},
	})
	log.Info("ticket closed", zap.Stringer("closed_by", requesterID))
	return CloseResult{TicketID: id}, nil
}

// Delete removes the channel and then the ticket row. A channel that is
// already gone does not block removing the row.
func (s *TicketService) Delete(ctx context.Context, channelID snowflake.ID) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, "ok", err) }()

	id, err := s.requireTicket(ctx, channelID)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("ticket_id", id), zap.Stringer("channel_id", channelID))

	channelDeleted, err := s.deleteChannel(ctx, channelID, log)
	if err != nil {
		return err
	}
	if _, err := s.tickets.Delete(ctx, id); err != nil {
		log.Error("delete ticket row", zap.Error(err))
		return errStoreFailure(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketDeleted,
		TicketID:  id,
		ChannelID: &channelID,
		Actor:     events.Actor{Type: events.ActorStaff},
		Payload:   events.TicketRemovedPayload{ChannelDeleted: channelDeleted},
	})
	log.Info("ticket deleted")
	return nil
}

// Claim assigns the ticket to staffID if nobody holds it.
func (s *TicketService) Claim(ctx context.Context, channelID, staffID snowflake.ID) (result ClaimResult, err error) {
	start, outcome := time.Now(), ClaimSucceeded.String()
	defer func() { s.observe("claim", start, outcome, err) }()

	id, err := s.requireTicket(ctx, channelID)
	if err != nil {
		return ClaimResult{}, err
	}
	log := s.logger.With(zap.String("ticket_id", id), zap.Stringer("staff_id", staffID))

	won, err := s.tickets.Claim(ctx, id, staffID)
	if err != nil {
		log.Error("claim ticket", zap.Error(err))
		return ClaimResult{}, errStoreFailure(err)
	}

	if !won {
		ticket, err := s.loadTicket(ctx, id)
		if err != nil {
			return ClaimResult{}, err
		}
		if !ticket.IsClaimed() {
			log.Warn("claim lost but ticket has no claimer")
			return ClaimResult{}, errInconsistentState(id)
		}
		outcome = ClaimAlreadyClaimed.String()
		return ClaimResult{TicketID: id, Outcome: ClaimAlreadyClaimed, ClaimedBy: *ticket.ClaimedBy}, nil
	}

	if err := s.channels.PostNotice(ctx, channelID, domain.Notice{
		Kind:      domain.NoticeClaimed,
		TicketID:  id,
		SubjectID: staffID,
	}); err != nil {
		log.Warn("post claim notice", zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketClaimed,
		TicketID:  id,
		ChannelID: &channelID,
		Actor:     staffActor(staffID),
		Payload:   events.TicketClaimPayload{StaffID: staffID},
	})
	log.Info("ticket claimed")
	return ClaimResult{TicketID: id, Outcome: ClaimSucceeded, ClaimedBy: staffID}, nil
}

// Unclaim releases the ticket. Only the current claimer may do so.
func (s *TicketService) Unclaim(ctx context.Context, channelID, staffID snowflake.ID) (err error) {
	start := time.Now()
	defer func() { s.observe("unclaim", start, "ok", err) }()

	id, err := s.requireTicket(ctx, channelID)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("ticket_id", id), zap.Stringer("staff_id", staffID))

	released, err := s.tickets.Unclaim(ctx, id, staffID)
	if err != nil {
		log.Error("unclaim ticket", zap.Error(err))
		return errStoreFailure(err)
	}
	if !released {
		return errNotClaimant()
	}

	if err := s.channels.PostNotice(ctx, channelID, domain.Notice{
		Kind:      domain.NoticeUnclaimed,
		TicketID:  id,
		SubjectID: staffID,
	}); err != nil {
		log.Warn("post unclaim notice", zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketUnclaimed,
		TicketID:  id,
		ChannelID: &channelID,
		Actor:     staffActor(staffID),
		Payload:   events.TicketClaimPayload{StaffID: staffID},
	})
	log.Info("ticket unclaimed")
	return nil
}

// AddParticipant grants userID full access to the ticket channel.
func (s *TicketService) AddParticipant(ctx context.Context, channelID, userID snowflake.ID) (err error) {
	start := time.Now()
	defer func() { s.observe("add_participant", start, "ok", err) }()

	id, err := s.requireTicket(ctx, channelID)
	if err != nil {
		return err
	}
	if err := s.channels.UpsertOverride(ctx, channelID, domain.ParticipantOverride(userID)); err != nil {
		s.logger.Error("add participant", zap.Error(err),
			zap.String("ticket_id", id), zap.Stringer("user_id", userID))
		return errChannelFailure(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventParticipantAdded,
		TicketID:  id,
		ChannelID: &channelID,
		Actor:     events.Actor{Type: events.ActorStaff},
		Payload:   events.ParticipantPayload{UserID: userID},
	})
	return nil
}

// RemoveParticipant drops userID's override from the ticket channel.
func (s *TicketService) RemoveParticipant(ctx context.Context, channelID, userID snowflake.ID) (err error) {
	start := time.Now()
	defer func() { s.observe("remove_participant", start, "ok", err) }()

	id, err := s.requireTicket(ctx, channelID)
	if err != nil {
		return err
	}
	if err := s.channels.RemoveOverride(ctx, channelID, userID); err != nil {
		s.logger.Error("remove participant", zap.Error(err),
			zap.String("ticket_id", id), zap.Stringer("user_id", userID))
		return errChannelFailure(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventParticipantRemoved,
		TicketID:  id,
		ChannelID: &channelID,
		Actor:     events.Actor{Type: events.ActorStaff},
		Payload:   events.ParticipantPayload{UserID: userID},
	})
	return nil
}

// Info returns the ticket bound to channelID.
func (s *TicketService) Info(ctx context.Context, channelID snowflake.ID) (*domain.Ticket, error) {
	id, err := s.requireTicket(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return s.loadTicket(ctx, id)
}

// GetTicket looks a ticket up by id for operators.
func (s *TicketService) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.loadTicket(ctx, strings.TrimSpace(id))
}

// ListTickets returns tickets matching filter, oldest first.
func (s *TicketService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		s.logger.Error("list tickets", zap.Error(err))
		return nil, errStoreFailure(err)
	}
	return tickets, nil
}

// Purge removes a ticket by id regardless of where its command would be
// issued from: the channel first if one is bound, then the row.
func (s *TicketService) Purge(ctx context.Context, id, operator string) (err error) {
	start := time.Now()
	defer func() { s.observe("purge", start, "ok", err) }()

	ticket, err := s.loadTicket(ctx, id)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("ticket_id", id), zap.String("operator", operator))

	channelDeleted := false
	if ticket.ChannelID != nil {
		channelDeleted, err = s.deleteChannel(ctx, *ticket.ChannelID, log)
		if err != nil {
			return err
		}
	}
	if _, err := s.tickets.Delete(ctx, id); err != nil {
		log.Error("delete ticket row", zap.Error(err))
		return errStoreFailure(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketPurged,
		TicketID:  id,
		ChannelID: ticket.ChannelID,
		Actor:     events.Actor{Type: events.ActorOperator, Name: operator},
		Payload:   events.TicketRemovedPayload{ChannelDeleted: channelDeleted},
	})
	log.Info("ticket purged")
	return nil
}

// ReconcileOrphans finds rows that never got a channel and were created
// before now-olderThan. With purge set they are deleted. olderThan below
// config.MinOrphanAge is refused so a ticket still being opened is never
// swept.
func (s *TicketService) ReconcileOrphans(ctx context.Context, olderThan time.Duration, purge bool) (report ReconcileReport, err error) {
	start := time.Now()
	defer func() { s.observe("reconcile", start, "ok", err) }()

	if olderThan < config.MinOrphanAge {
		return ReconcileReport{}, errOrphanAgeTooShort(olderThan)
	}

	cutoff := s.clock().UTC().Add(-olderThan)
	orphans, err := s.tickets.List(ctx, repository.TicketFilter{
		Unbound:       true,
		CreatedBefore: &cutoff,
		Limit:         reconcileBatch,
	})
	if err != nil {
		s.logger.Error("list orphaned tickets", zap.Error(err))
		return ReconcileReport{}, errStoreFailure(err)
	}

	report.Orphans = make([]string, 0, len(orphans))
	for _, t := range orphans {
		report.Orphans = append(report.Orphans, t.ID)
		s.logger.Warn("orphaned ticket row",
			zap.String("ticket_id", t.ID),
			zap.Time("created_at", t.CreatedAt),
			zap.Bool("purge", purge))
		if !purge {
			continue
		}
		deleted, err := s.tickets.Delete(ctx, t.ID)
		if err != nil {
			s.logger.Error("purge orphaned ticket", zap.Error(err), zap.String("ticket_id", t.ID))
			return report, errStoreFailure(err)
		}
		if deleted {
			report.Purged++
		}
	}
	s.metrics.RecordOrphans(len(orphans))
	return report, nil
}

// requireTicket resolves channelID to a ticket id or fails with NOT_A_TICKET
// before anything is mutated.
func (s *TicketService) requireTicket(ctx context.Context, channelID snowflake.ID) (string, error) {
	exists, err := s.tickets.ChannelExists(ctx, channelID)
	if err != nil {
		s.logger.Error("check ticket channel", zap.Error(err), zap.Stringer("channel_id", channelID))
		return "", errStoreFailure(err)
	}
	if !exists {
		return "", errNotATicket()
	}

	id, err := s.tickets.GetIDByChannel(ctx, channelID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", errNotATicket()
	}
	if err != nil {
		s.logger.Error("resolve ticket channel", zap.Error(err), zap.Stringer("channel_id", channelID))
		return "", errStoreFailure(err)
	}
	return id, nil
}

func (s *TicketService) loadTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errTicketNotFound(id)
	}
	if err != nil {
		s.logger.Error("load ticket", zap.Error(err), zap.String("ticket_id", id))
		return nil, errStoreFailure(err)
	}
	return ticket, nil
}

// deleteChannel reports whether the channel was removed by this call; a
// channel that was already gone is not an error.
func (s *TicketService) deleteChannel(ctx context.Context, channelID snowflake.ID, log *zap.Logger) (bool, error) {
	err := s.channels.DeleteChannel(ctx, channelID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrChannelNotFound):
		log.Info("ticket channel already gone")
		return false, nil
	default:
		log.Error("delete ticket channel", zap.Error(err))
		return false, errChannelFailure(err)
	}
}

func (s *TicketService) observe(operation string, start time.Time, outcome string, err error) {
	if err != nil {
		outcome = strings.ToLower(apperrors.ToDomainError(err).Code)
	}
	s.metrics.RecordOperation(operation, outcome, time.Since(start))
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock().UTC()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func memberActor(id snowflake.ID) events.Actor {
	return events.Actor{Type: events.ActorMember, ID: &id}
}

func staffActor(id snowflake.ID) events.Actor {
	return events.Actor{Type: events.ActorStaff, ID: &id}
}
