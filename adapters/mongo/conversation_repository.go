package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/arunika/gateway/domain/entities"
	"github.com/satriahrh/arunika/gateway/domain/repositories"
)

const conversationsCollection = "conversations"

// ConversationRepository stores conversations as one document each, with
// turns appended in place.
type ConversationRepository struct {
	collection *mongo.Collection
}

var _ repositories.ConversationRepository = (*ConversationRepository)(nil)

// NewConversationRepository creates a new MongoDB conversation repository
func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{
		collection: db.Collection(conversationsCollection),
	}
}

// EnsureIndexes creates the device lookup index
func (r *ConversationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation index: %w", err)
	}
	return nil
}

// Create implements repositories.ConversationRepository
func (r *ConversationRepository) Create(ctx context.Context, conversation *entities.Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conversation.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, conversation); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// AppendTurn implements repositories.ConversationRepository
func (r *ConversationRepository) AppendTurn(ctx context.Context, id string, turn entities.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$push": bson.M{"turns": turn},
			"$set":  bson.M{"updated_at": turn.Timestamp},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", repositories.ErrConversationNotFound, id)
	}
	return nil
}

// Close implements repositories.ConversationRepository. Closing an
// already closed conversation keeps the first closed_at.
func (r *ConversationRepository) Close(ctx context.Context, id string, closedAt time.Time) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": entities.ConversationStatusActive},
		bson.M{"$set": bson.M{
			"status":     entities.ConversationStatusClosed,
			"closed_at":  closedAt,
			"updated_at": closedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to close conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("failed to close conversation: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", repositories.ErrConversationNotFound, id)
		}
	}
	return nil
}

// GetByID implements repositories.ConversationRepository
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*entities.Conversation, error) {
	var conversation entities.Conversation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&conversation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", repositories.ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &conversation, nil
}

// ListByDevice implements repositories.ConversationRepository, newest first
func (r *ConversationRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*entities.Conversation, error) {
	if deviceID == "" {
		return nil, errors.New("device ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"device_id": deviceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations for device %s: %w", deviceID, err)
	}
	defer cursor.Close(ctx)

	conversations := make([]*entities.Conversation, 0)
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return conversations, nil
}
