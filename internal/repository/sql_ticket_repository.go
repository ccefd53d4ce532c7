package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// sqliteTimeLayout is fixed width so TEXT columns sort chronologically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// sqlDialect captures the few differences between the database/sql backends.
// Both SQLite and MySQL use '?' placeholders.
type sqlDialect struct {
	name              string
	timeArg           func(time.Time) any
	isUniqueViolation func(error) bool
}

var sqliteDialect = sqlDialect{
	name: "sqlite",
	timeArg: func(t time.Time) any {
		return t.UTC().Format(sqliteTimeLayout)
	},
	isUniqueViolation: func(err error) bool {
		var sqliteErr *sqlite.Error
		if !errors.As(err, &sqliteErr) {
			return false
		}
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqliteErr.Error(), "UNIQUE")
		}
		return false
	},
}

var mysqlDialect = sqlDialect{
	name: "mysql",
	timeArg: func(t time.Time) any {
		return t.UTC()
	},
	isUniqueViolation: func(err error) bool {
		var mysqlErr *mysql.MySQLError
		return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
	},
}

type sqlTicketRepository struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteTicketRepository stores tickets in an embedded SQLite file.
func NewSQLiteTicketRepository(db *sql.DB) TicketRepository {
	return &sqlTicketRepository{db: db, dialect: sqliteDialect}
}

// NewMySQLTicketRepository stores tickets in MySQL. The DSN must enable parseTime.
func NewMySQLTicketRepository(db *sql.DB) TicketRepository {
	return &sqlTicketRepository{db: db, dialect: mysqlDialect}
}

const sqlTicketColumns = `id, guild_id, channel_id, creator_id, status, created_at, closed_at, claimed_by`

func (r *sqlTicketRepository) Create(ctx context.Context, guildID, creatorID snowflake.ID) (string, error) {
	const query = `
        INSERT INTO tickets (id, guild_id, channel_id, creator_id, status, created_at, closed_at, claimed_by)
        VALUES (?, ?, NULL, ?, ?, ?, NULL, NULL)`
	id := newTicketID()
	if _, err := r.db.ExecContext(ctx, query,
		id,
		guildID.Int64(),
		creatorID.Int64(),
		string(domain.TicketStatusOpen),
		r.dialect.timeArg(now()),
	); err != nil {
		return "", r.wrap("create", err)
	}
	return id, nil
}

func (r *sqlTicketRepository) SetChannel(ctx context.Context, id string, channelID snowflake.ID) error {
	const query = `UPDATE tickets SET channel_id = ? WHERE id = ? AND channel_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, channelID.Int64(), id)
	if err != nil {
		return r.wrap("set channel", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return r.wrap("set channel", err)
	}
	if n > 0 {
		return nil
	}

	var current sql.NullInt64
	err = r.db.QueryRowContext(ctx, `SELECT channel_id FROM tickets WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return r.wrap("set channel", err)
	}
	if current.Valid && current.Int64 == channelID.Int64() {
		return nil
	}
	return ErrConflict
}

func (r *sqlTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + sqlTicketColumns + ` FROM tickets WHERE id = ?`
	ticket, err := scanSQLTicket(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.wrap("get", err)
	}
	return ticket, nil
}

func (r *sqlTicketRepository) GetIDByChannel(ctx context.Context, channelID snowflake.ID) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM tickets WHERE channel_id = ?`, channelID.Int64()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", r.wrap("get id by channel", err)
	}
	return id, nil
}

func (r *sqlTicketRepository) ChannelExists(ctx context.Context, channelID snowflake.ID) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM tickets WHERE channel_id = ?`, channelID.Int64()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, r.wrap("channel exists", err)
	}
	return true, nil
}

func (r *sqlTicketRepository) MarkClosed(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE tickets SET status = ?, closed_at = ? WHERE id = ? AND status = ?`
	return r.execModified(ctx, "close", query,
		string(domain.TicketStatusClosed),
		r.dialect.timeArg(now()),
		id,
		string(domain.TicketStatusOpen),
	)
}

func (r *sqlTicketRepository) Claim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	const query = `UPDATE tickets SET claimed_by = ? WHERE id = ? AND claimed_by IS NULL`
	return r.execModified(ctx, "claim", query, staffID.Int64(), id)
}

func (r *sqlTicketRepository) Unclaim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	const query = `UPDATE tickets SET claimed_by = NULL WHERE id = ? AND claimed_by = ?`
	return r.execModified(ctx, "unclaim", query, id, staffID.Int64())
}

func (r *sqlTicketRepository) Delete(ctx context.Context, id string) (bool, error) {
	return r.execModified(ctx, "delete", `DELETE FROM tickets WHERE id = ?`, id)
}

func (r *sqlTicketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.GuildID != nil {
		clauses = append(clauses, "guild_id = ?")
		args = append(args, filter.GuildID.Int64())
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Unbound {
		clauses = append(clauses, "channel_id IS NULL")
	}
	if filter.CreatedBefore != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, r.dialect.timeArg(*filter.CreatedBefore))
	}
	args = append(args, filter.limit())

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at ASC, id ASC LIMIT ?`,
		sqlTicketColumns, strings.Join(clauses, " AND "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.wrap("list", err)
	}
	defer rows.Close()

	result := make([]domain.Ticket, 0)
	for rows.Next() {
		ticket, err := scanSQLTicket(rows)
		if err != nil {
			return nil, r.wrap("list", err)
		}
		result = append(result, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, r.wrap("list", err)
	}
	return result, nil
}

func (r *sqlTicketRepository) Ping(ctx context.Context) error {
	return r.wrap("ping", r.db.PingContext(ctx))
}

func (r *sqlTicketRepository) execModified(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, r.wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, r.wrap(op, err)
	}
	return n > 0, nil
}

func (r *sqlTicketRepository) wrap(op string, err error) error {
	if err != nil && r.dialect.isUniqueViolation(err) {
		return fmt.Errorf("%s %s: %w", r.dialect.name, op, ErrConflict)
	}
	return wrapErr(r.dialect.name, op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		ticket    domain.Ticket
		guildID   int64
		creatorID int64
		status    string
		channelID sql.NullInt64
		claimedBy sql.NullInt64
		createdAt sqlTime
		closedAt  sqlTime
	)
	if err := row.Scan(
		&ticket.ID,
		&guildID,
		&channelID,
		&creatorID,
		&status,
		&createdAt,
		&closedAt,
		&claimedBy,
	); err != nil {
		return nil, err
	}
	ticket.GuildID = snowflake.ID(guildID)
	ticket.CreatorID = snowflake.ID(creatorID)
	ticket.Status = domain.TicketStatus(status)
	ticket.CreatedAt = createdAt.Time
	if closedAt.Valid {
		t := closedAt.Time
		ticket.ClosedAt = &t
	}
	if channelID.Valid {
		ticket.ChannelID = idPtr(channelID.Int64)
	}
	if claimedBy.Valid {
		ticket.ClaimedBy = idPtr(claimedBy.Int64)
	}
	return &ticket, nil
}

// sqlTime scans timestamps whether the driver hands back time.Time (MySQL
// with parseTime) or text (SQLite TEXT columns).
type sqlTime struct {
	Time  time.Time
	Valid bool
}

func (s *sqlTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		s.Time, s.Valid = time.Time{}, false
		return nil
	case time.Time:
		s.Time, s.Valid = v.UTC(), true
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", value)
	}
}

func (s *sqlTime) parse(v string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			s.Time, s.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}
