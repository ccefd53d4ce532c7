package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spec-kit/ticketbot/internal/domain"
)

type mongoTicket struct {
	ID        string     `bson:"_id"`
	GuildID   int64      `bson:"guild_id"`
	ChannelID *int64     `bson:"channel_id"`
	CreatorID int64      `bson:"creator_id"`
	Status    string     `bson:"status"`
	CreatedAt time.Time  `bson:"created_at"`
	ClosedAt  *time.Time `bson:"closed_at"`
	ClaimedBy *int64     `bson:"claimed_by"`
}

func (m mongoTicket) toDomain() *domain.Ticket {
	ticket := &domain.Ticket{
		ID:        m.ID,
		GuildID:   snowflake.ID(m.GuildID),
		CreatorID: snowflake.ID(m.CreatorID),
		Status:    domain.TicketStatus(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.ChannelID != nil {
		ticket.ChannelID = idPtr(*m.ChannelID)
	}
	if m.ClaimedBy != nil {
		ticket.ClaimedBy = idPtr(*m.ClaimedBy)
	}
	if m.ClosedAt != nil {
		t := m.ClosedAt.UTC()
		ticket.ClosedAt = &t
	}
	return ticket
}

type mongoTicketRepository struct {
	coll *mongo.Collection
}

// NewMongoTicketRepository stores one document per ticket in coll.
// EnsureMongoTicketIndexes must have run against the collection.
func NewMongoTicketRepository(coll *mongo.Collection) TicketRepository {
	return &mongoTicketRepository{coll: coll}
}

// EnsureMongoTicketIndexes creates the channel uniqueness and listing indexes.
// Only bound channels participate in the unique index.
func EnsureMongoTicketIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "channel_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_channel_id").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"channel_id": bson.M{"$type": "long"}}),
		},
		{
			Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_guild_status"),
		},
	})
	return wrapErr("mongodb", "ensure indexes", err)
}

func (r *mongoTicketRepository) Create(ctx context.Context, guildID, creatorID snowflake.ID) (string, error) {
	doc := mongoTicket{
		ID:        newTicketID(),
		GuildID:   guildID.Int64(),
		CreatorID: creatorID.Int64(),
		Status:    string(domain.TicketStatusOpen),
		CreatedAt: now(),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return "", mongoWrap("create", err)
	}
	return doc.ID, nil
}

func (r *mongoTicketRepository) SetChannel(ctx context.Context, id string, channelID snowflake.ID) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "channel_id": nil},
		bson.M{"$set": bson.M{"channel_id": channelID.Int64()}},
	)
	if err != nil {
		return mongoWrap("set channel", err)
	}
	if res.ModifiedCount > 0 {
		return nil
	}

	var current mongoTicket
	err = r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&current)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return mongoWrap("set channel", err)
	}
	if current.ChannelID != nil && *current.ChannelID == channelID.Int64() {
		return nil
	}
	return ErrConflict
}

func (r *mongoTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	var doc mongoTicket
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mongoWrap("get", err)
	}
	return doc.toDomain(), nil
}

func (r *mongoTicketRepository) GetIDByChannel(ctx context.Context, channelID snowflake.ID) (string, error) {
	var doc struct {
		ID string `bson:"_id"`
	}
	err := r.coll.FindOne(ctx,
		bson.M{"channel_id": channelID.Int64()},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", mongoWrap("get id by channel", err)
	}
	return doc.ID, nil
}

func (r *mongoTicketRepository) ChannelExists(ctx context.Context, channelID snowflake.ID) (bool, error) {
	n, err := r.coll.CountDocuments(ctx,
		bson.M{"channel_id": channelID.Int64()},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, mongoWrap("channel exists", err)
	}
	return n > 0, nil
}

func (r *mongoTicketRepository) MarkClosed(ctx context.Context, id string) (bool, error) {
	return r.updateModified(ctx, "close",
		bson.M{"_id": id, "status": string(domain.TicketStatusOpen)},
		bson.M{"$set": bson.M{"status": string(domain.TicketStatusClosed), "closed_at": now()}},
	)
}

func (r *mongoTicketRepository) Claim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	return r.updateModified(ctx, "claim",
		bson.M{"_id": id, "claimed_by": nil},
		bson.M{"$set": bson.M{"claimed_by": staffID.Int64()}},
	)
}

func (r *mongoTicketRepository) Unclaim(ctx context.Context, id string, staffID snowflake.ID) (bool, error) {
	return r.updateModified(ctx, "unclaim",
		bson.M{"_id": id, "claimed_by": staffID.Int64()},
		bson.M{"$set": bson.M{"claimed_by": nil}},
	)
}

func (r *mongoTicketRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, mongoWrap("delete", err)
	}
	return res.DeletedCount > 0, nil
}

func (r *mongoTicketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	query := bson.M{}
	if filter.GuildID != nil {
		query["guild_id"] = filter.GuildID.Int64()
	}
	if filter.Status != nil {
		query["status"] = string(*filter.Status)
	}
	if filter.Unbound {
		query["channel_id"] = nil
	}
	if filter.CreatedBefore != nil {
		query["created_at"] = bson.M{"$lt": filter.CreatedBefore.UTC()}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(filter.limit()))

	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, mongoWrap("list", err)
	}
	defer cursor.Close(ctx)

	result := make([]domain.Ticket, 0)
	for cursor.Next(ctx) {
		var doc mongoTicket
		if err := cursor.Decode(&doc); err != nil {
			return nil, mongoWrap("list", err)
		}
		result = append(result, *doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, mongoWrap("list", err)
	}
	return result, nil
}

func (r *mongoTicketRepository) Ping(ctx context.Context) error {
	return mongoWrap("ping", r.coll.Database().Client().Ping(ctx, nil))
}

func (r *mongoTicketRepository) updateModified(ctx context.Context, op string, filter, update bson.M) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, mongoWrap(op, err)
	}
	return res.ModifiedCount > 0, nil
}

func mongoWrap(op string, err error) error {
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return wrapErr("mongodb", op, err)
}
