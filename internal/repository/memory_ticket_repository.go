package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"

	"github.com/spec-kit/ticketbot/internal/domain"
)

type memoryTicketRepository struct {
	mu       sync.Mutex
	tickets  map[string]*domain.Ticket
	channels map[snowflake.ID]string
}

// NewMemoryTicketRepository returns a process-local store used by tests and
// dry runs.
func NewMemoryTicketRepository() TicketRepository {
	return &memoryTicketRepository{
		tickets:  make(map[string]*domain.Ticket),
		channels: make(map[snowflake.ID]string),
	}
}

func (r *memoryTicketRepository) Create(_ context.Context, guildID, creatorID snowflake.ID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := newTicketID()
	r.tickets[id] = &domain.Ticket{
		ID:        id,
		GuildID:   guildID,
		CreatorID: creatorID,
		Status:    domain.TicketStatusOpen,
		CreatedAt: now(),
	}
	return id, nil
}

func (r *memoryTicketRepository) SetChannel(_ context.Context, id string, channelID snowflake.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return ErrNotFound
	}
	if ticket.ChannelID != nil {
		if *ticket.ChannelID == channelID {
			return nil
		}
		return ErrConflict
	}
	if _, taken := r.channels[channelID]; taken {
		return ErrConflict
	}
	ch := channelID
	ticket.ChannelID = &ch
	r.channels[channelID] = id
	return nil
}

func (r *memoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTicket(ticket), nil
}

func (r *memoryTicketRepository) GetIDByChannel(_ context.Context, channelID snowflake.ID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.channels[channelID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (r *memoryTicketRepository) ChannelExists(_ context.Context, channelID snowflake.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.channels[channelID]
	return ok, nil
}

func (r *memoryTicketRepository) MarkClosed(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok || ticket.Status != domain.TicketStatusOpen {
		return false, nil
	}
	closedAt := now()
	ticket.Status = domain.TicketStatusClosed
	ticket.ClosedAt = &closedAt
	return true, nil
}

func (r *memoryTicketRepository) Claim(_ context.Context, id string, staffID snowflake.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok || ticket.IsClaimed() {
		return false, nil
	}
	staff := staffID
	ticket.ClaimedBy = &staff
	return true, nil
}

func (r *memoryTicketRepository) Unclaim(_ context.Context, id string, staffID snowflake.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok || !ticket.IsClaimed() || *ticket.ClaimedBy != staffID {
		return false, nil
	}
	ticket.ClaimedBy = nil
	return true, nil
}

func (r *memoryTicketRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return false, nil
	}
	if ticket.ChannelID != nil {
		delete(r.channels, *ticket.ChannelID)
	}
	delete(r.tickets, id)
	return true, nil
}

func (r *memoryTicketRepository) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.Ticket, 0)
	for _, ticket := range r.tickets {
		if filter.matches(ticket) {
			result = append(result, *cloneTicket(ticket))
		}
	}
	sortTickets(result)
	if len(result) > filter.limit() {
		result = result[:filter.limit()]
	}
	return result, nil
}

func (r *memoryTicketRepository) Ping(context.Context) error {
	return nil
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	c := *t
	if t.ChannelID != nil {
		v := *t.ChannelID
		c.ChannelID = &v
	}
	if t.ClosedAt != nil {
		v := *t.ClosedAt
		c.ClosedAt = &v
	}
	if t.ClaimedBy != nil {
		v := *t.ClaimedBy
		c.ClaimedBy = &v
	}
	return &c
}

// sortTickets orders oldest first, id breaking ties.
func sortTickets(tickets []domain.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].ID < tickets[j].ID
		}
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})
}
