package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"github.com/spec-kit/ticketbot/internal/domain"
)

var (
	// ErrNotFound is returned when no ticket matches the lookup.
	ErrNotFound = errors.New("ticket not found")
	// ErrConflict is returned when a write would break channel uniqueness.
	ErrConflict = errors.New("ticket channel conflict")
)

// StoreError wraps a backend failure so callers can tell storage problems
// apart from lifecycle outcomes.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// TicketFilter narrows List results. Zero values mean "any".
type TicketFilter struct {
	GuildID       *snowflake.ID
	Status        *domain.TicketStatus
	Unbound       bool
	CreatedBefore *time.Time
	Limit         int
}

const defaultListLimit = 100

func (f TicketFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func (f TicketFilter) matches(t *domain.Ticket) bool {
	if f.GuildID != nil && t.GuildID != *f.GuildID {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Unbound && t.ChannelID != nil {
		return false
	}
	if f.CreatedBefore != nil && !t.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// TicketRepository encapsulates ticket persistence. Every implementation
// must perform Claim, Unclaim and MarkClosed as a single conditional write.
type TicketRepository interface {
	Create(ctx context.Context, guildID, creatorID snowflake.ID) (string, error)
	SetChannel(ctx context.Context, id string, channelID snowflake.ID) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetIDByChannel(ctx context.Context, channelID snowflake.ID) (string, error)
	ChannelExists(ctx context.Context, channelID snowflake.ID) (bool, error)
	MarkClosed(ctx context.Context, id string) (bool, error)
	Claim(ctx context.Context, id string, staffID snowflake.ID) (bool, error)
	Unclaim(ctx context.Context, id string, staffID snowflake.ID) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Ping(ctx context.Context) error
}

// wrapErr passes lifecycle sentinels through and tags everything else.
func wrapErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return &StoreError{Backend: backend, Op: op, Err: err}
}

func newTicketID() string {
	return uuid.NewString()
}

func now() time.Time {
	return time.Now().UTC()
}

func idPtr(v int64) *snowflake.ID {
	id := snowflake.ID(v)
	return &id
}
