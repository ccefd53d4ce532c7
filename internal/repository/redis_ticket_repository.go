package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// Each ticket is a hash under {prefix}:ticket:{id}. {prefix}:channel:{ch}
// points back at the owning ticket and {prefix}:tickets orders ids by
// creation time. Conditional writes run as Lua scripts so they stay atomic.

var setChannelScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local current = redis.call('HGET', KEYS[1], 'channel_id')
if current then
  if current == ARGV[1] then return 0 end
  return -2
end
if redis.call('SETNX', KEYS[2], ARGV[2]) == 0 then return -2 end
redis.call('HSET', KEYS[1], 'channel_id', ARGV[1])
return 1
`)

var closeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'closed_at', ARGV[3])
return 1
`)

var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('HEXISTS', KEYS[1], 'claimed_by') == 1 then return 0 end
redis.call('HSET', KEYS[1], 'claimed_by', ARGV[1])
return 1
`)

var unclaimScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'claimed_by') ~= ARGV[1] then return 0 end
redis.call('HDEL', KEYS[1], 'claimed_by')
return 1
`)

var deleteScript = redis.NewScript(`
local ch = redis.call('HGET', KEYS[1], 'channel_id')
if redis.call('DEL', KEYS[1]) == 0 then return 0 end
redis.call('ZREM', KEYS[2], ARGV[1])
if ch then redis.call('DEL', ARGV[2] .. ':channel:' .. ch) end
return 1
`)

const (
	setChannelMissing  = -1
	setChannelConflict = -2
)

type redisTicketRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTicketRepository stores tickets as Redis hashes under prefix.
func NewRedisTicketRepository(client redis.UniversalClient, prefix string) TicketRepository {
	if prefix == "" {
		prefix = "ticketbot"
	}
	return &redisTicketRepository{client: client, prefix: prefix}
}

func (r *redisTicketRepository) ticketKey(id string) string {
	return r.prefix + ":ticket:" + id
}

func (r *redisTicketRepository) channelKey(channelID snowflake.ID) string {
	return r.prefix + ":channel:" + channelID.String()
}

func (r *redisTicketRepository) indexKey() string {
	return r.prefix + ":tickets"
}

func (r *redisTicketRepository) Create(ctx context.Context, guildID, creatorID snowflake.ID) (string, error) {
	id := newTicketID()
	createdAt := now()

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.ticketKey(id),
		"id", id,
		"guild_id", guildID.String(),
		"creator_id", creatorID.String(),
		"status", string(domain.TicketStatusOpen),
		"created_at", createdAt.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(createdAt.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", wrapErr("redis", "create", err)
	}
	return id, nil
}

func (r *redisTicketRepository) SetChannel(ctx context.Context, id string, channelID snowflake.ID) error {
	res, err := setChannelScript.Run(ctx, r.client,
		[]string{r.ticketKey(id), r.channelKey(channelID)},
		channelID.String(), id,
	).Int()
	if err != nil {
		return wrapErr("redis", "set channel", err)
	}
	switch res {
	case setChannelMissing:
		return ErrNotFound
	case setChannelConflict:
		return ErrConflict
	default:
		return nil
	}
}

func (r *redisTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	fields, err := r.client.HGetAll(ctx, r.ticketKey(id)).Result()
	if err != nil {
		return nil, wrapErr("redis", "get", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	ticket, err := decodeRedisTicket(fields)
	if err != nil {
		return nil, wrapErr("redis", "get", err)
	}
	return ticket, nil
}

func (r *redisTicketRepository) GetIDByChannel(ctx context.Context, channelID snowflake.ID) (string, error) {
	id, err := r.client.Get(ctx, r.channelKey(channelID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrapErr("redis", "get id by channel", err)
	}
	return id, nil
}

func (r *redisTicketRepository) ChannelExists(ctx context.Context, channelID snowflake.ID) (bool, error) {
	n, err := r.client.Exists(ctx, r.channelKey(channelID)).Result()
	if err != nil {
		return false, wrapErr("redis", "channel exists", err)
	}
	return n > 0, nil
}

func (r *redisTicketRepository) MarkClosed(ctx context.Context, id string) (bool, error) {
	return r.runModified(ctx, "close", closeScript,
		[]string{r.ticketKey(id)},
		string(domain.TicketStatusOpen),
		string(domain.TicketStatusClosed),
		now().Format(time.RFC3339Nano),
	)
}

func (r *redisTicketRepository) Claim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	return r.runModified(ctx, "claim", claimScript, []string{r.ticketKey(id)}, staffID.String())
}

func (r *redisTicketRepository) Unclaim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	return r.runModified(ctx, "unclaim", unclaimScript, []string{r.ticketKey(id)}, staffID.String())
}

func (r *redisTicketRepository) Delete(ctx context.Context, id string) (bool, error) {
	return r.runModified(ctx, "delete", deleteScript,
		[]string{r.ticketKey(id), r.indexKey()},
		id, r.prefix,
	)
}

func (r *redisTicketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, wrapErr("redis", "list", err)
	}
	if len(ids) == 0 {
		return []domain.Ticket{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.ticketKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrapErr("redis", "list", err)
	}

	result := make([]domain.Ticket, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// deleted between ZRANGE and HGETALL
			continue
		}
		ticket, err := decodeRedisTicket(fields)
		if err != nil {
			return nil, wrapErr("redis", "list", err)
		}
		if filter.matches(ticket) {
			result = append(result, *ticket)
		}
	}
	sortTickets(result)
	if len(result) > filter.limit() {
		result = result[:filter.limit()]
	}
	return result, nil
}

func (r *redisTicketRepository) Ping(ctx context.Context) error {
	return wrapErr("redis", "ping", r.client.Ping(ctx).Err())
}

func (r *redisTicketRepository) runModified(ctx context.Context, op string, script *redis.Script, keys []string, args ...any) (bool, error) {
	n, err := script.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return false, wrapErr("redis", op, err)
	}
	return n == 1, nil
}

func decodeRedisTicket(fields map[string]string) (*domain.Ticket, error) {
	guildID, err := strconv.ParseInt(fields["guild_id"], 10, 64)
	if err != nil {
		return nil, err
	}
	creatorID, err := strconv.ParseInt(fields["creator_id"], 10, 64)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, err
	}

	ticket := &domain.Ticket{
		ID:        fields["id"],
		GuildID:   snowflake.ID(guildID),
		CreatorID: snowflake.ID(creatorID),
		Status:    domain.TicketStatus(fields["status"]),
		CreatedAt: createdAt.UTC(),
	}
	if v, ok := fields["channel_id"]; ok {
		ch, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		ticket.ChannelID = idPtr(ch)
	}
	if v, ok := fields["claimed_by"]; ok {
		staff, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		ticket.ClaimedBy = idPtr(staff)
	}
	if v, ok := fields["closed_at"]; ok {
		closedAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, err
		}
		closedAt = closedAt.UTC()
		ticket.ClosedAt = &closedAt
	}
	return ticket, nil
}
