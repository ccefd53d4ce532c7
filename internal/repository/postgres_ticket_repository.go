package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticketbot/internal/domain"
)

const pgUniqueViolation = "23505"

type postgresTicketRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTicketRepository instantiates the PostgreSQL store.
func NewPostgresTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &postgresTicketRepository{pool: pool}
}

func (r *postgresTicketRepository) Create(ctx context.Context, guildID, creatorID snowflake.ID) (string, error) {
	const query = `
        INSERT INTO tickets (id, guild_id, channel_id, creator_id, status, created_at, closed_at, claimed_by)
        VALUES ($1, $2, NULL, $3, $4, $5, NULL, NULL)`
	id := newTicketID()
	if _, err := r.pool.Exec(ctx, query,
		id,
		guildID.Int64(),
		creatorID.Int64(),
		string(domain.TicketStatusOpen),
		now(),
	); err != nil {
		return "", pgWrap("create", err)
	}
	return id, nil
}

func (r *postgresTicketRepository) SetChannel(ctx context.Context, id string, channelID snowflake.ID) error {
	const query = `UPDATE tickets SET channel_id = $1 WHERE id = $2 AND channel_id IS NULL`
	cmd, err := r.pool.Exec(ctx, query, channelID.Int64(), id)
	if err != nil {
		return pgWrap("set channel", err)
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}

	var current *int64
	err = r.pool.QueryRow(ctx, `SELECT channel_id FROM tickets WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return pgWrap("set channel", err)
	}
	if current != nil && *current == channelID.Int64() {
		return nil
	}
	return ErrConflict
}

func (r *postgresTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `
        SELECT id, guild_id, channel_id, creator_id, status, created_at, closed_at, claimed_by
        FROM tickets WHERE id = $1`
	ticket, err := scanPgTicket(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pgWrap("get", err)
	}
	return ticket, nil
}

func (r *postgresTicketRepository) GetIDByChannel(ctx context.Context, channelID snowflake.ID) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM tickets WHERE channel_id = $1`, channelID.Int64()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", pgWrap("get id by channel", err)
	}
	return id, nil
}

func (r *postgresTicketRepository) ChannelExists(ctx context.Context, channelID snowflake.ID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE channel_id = $1)`, channelID.Int64()).Scan(&exists)
	if err != nil {
		return false, pgWrap("channel exists", err)
	}
	return exists, nil
}

func (r *postgresTicketRepository) MarkClosed(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE tickets SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4`
	return r.execModified(ctx, "close", query,
		string(domain.TicketStatusClosed),
		now(),
		id,
		string(domain.TicketStatusOpen),
	)
}

func (r *postgresTicketRepository) Claim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	const query = `UPDATE tickets SET claimed_by = $1 WHERE id = $2 AND claimed_by IS NULL`
	return r.execModified(ctx, "claim", query, staffID.Int64(), id)
}

func (r *postgresTicketRepository) Unclaim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	const query = `UPDATE tickets SET claimed_by = NULL WHERE id = $1 AND claimed_by = $2`
	return r.execModified(ctx, "unclaim", query, id, staffID.Int64())
}

func (r *postgresTicketRepository) Delete(ctx context.Context, id string) (bool, error) {
	return r.execModified(ctx, "delete", `DELETE FROM tickets WHERE id = $1`, id)
}

func (r *postgresTicketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT id, guild_id, channel_id, creator_id, status, created_at, closed_at, claimed_by
             FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.GuildID != nil {
		args = append(args, filter.GuildID.Int64())
		clauses = append(clauses, fmt.Sprintf("guild_id=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Unbound {
		clauses = append(clauses, "channel_id IS NULL")
	}
	if filter.CreatedBefore != nil {
		args = append(args, *filter.CreatedBefore)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at ASC, id ASC LIMIT %d`,
		base, strings.Join(clauses, " AND "), filter.limit())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgWrap("list", err)
	}
	defer rows.Close()

	result := make([]domain.Ticket, 0)
	for rows.Next() {
		ticket, err := scanPgTicket(rows)
		if err != nil {
			return nil, pgWrap("list", err)
		}
		result = append(result, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, pgWrap("list", err)
	}
	return result, nil
}

func (r *postgresTicketRepository) Ping(ctx context.Context) error {
	return pgWrap("ping", r.pool.Ping(ctx))
}

func (r *postgresTicketRepository) execModified(ctx context.Context, op, query string, args ...any) (bool, error) {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, pgWrap(op, err)
	}
	return cmd.RowsAffected() > 0, nil
}

func pgWrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("postgres %s: %s: %w", op, pgErr.ConstraintName, ErrConflict)
	}
	return wrapErr("postgres", op, err)
}

func scanPgTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket    domain.Ticket
		guildID   int64
		creatorID int64
		status    string
		channelID *int64
		claimedBy *int64
	)
	if err := row.Scan(
		&ticket.ID,
		&guildID,
		&channelID,
		&creatorID,
		&status,
		&ticket.CreatedAt,
		&ticket.ClosedAt,
		&claimedBy,
	); err != nil {
		return nil, err
	}
	ticket.GuildID = snowflake.ID(guildID)
	ticket.CreatorID = snowflake.ID(creatorID)
	ticket.Status = domain.TicketStatus(status)
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	if ticket.ClosedAt != nil {
		t := ticket.ClosedAt.UTC()
		ticket.ClosedAt = &t
	}
	if channelID != nil {
		ticket.ChannelID = idPtr(*channelID)
	}
	if claimedBy != nil {
		ticket.ClaimedBy = idPtr(*claimedBy)
	}
	return &ticket, nil
}
