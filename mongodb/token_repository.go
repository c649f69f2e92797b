package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/quorumid/stepauth/domain"
)

// TokenRepositoryMongo implements domain.TokenRepository. Every state
// transition is a single conditional update keyed on the current status, so
// concurrent consume/expire attempts against one token resolve to exactly
// one winner.
type TokenRepositoryMongo struct {
	coll *mongo.Collection
}

// NewTokenRepositoryMongo creates the repository and ensures its indexes.
func NewTokenRepositoryMongo(ctx context.Context, db *mongo.Database) (domain.TokenRepository, error) {
	repo := &TokenRepositoryMongo{coll: db.Collection(TokensCollection)}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "digest", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "device_id", Value: 1}},
		},
	}
	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for onetime tokens collection (might already exist)")
	}
	return repo, nil
}

// Insert stores a freshly issued token.
func (r *TokenRepositoryMongo) Insert(ctx context.Context, token *domain.OneTimeToken) error {
	_, err := r.coll.InsertOne(ctx, token)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: duplicate digest", domain.ErrAlreadyTerminal)
		}
		log.Error().Err(err).Msg("Error storing one-time token in MongoDB")
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ConsumeActive flips an ACTIVE, unexpired token to USED in one conditional
// update. The filter carries the deviceID so a digest hit for another device
// is simply not found, never a match.
func (r *TokenRepositoryMongo) ConsumeActive(ctx context.Context, digest, deviceID string, now time.Time) (*domain.OneTimeToken, error) {
	filter := bson.M{
		"digest":     digest,
		"device_id":  deviceID,
		"status":     domain.TokenStatusActive,
		"expires_at": bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{
		"status":  domain.TokenStatusUsed,
		"used_at": now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var token domain.OneTimeToken
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error consuming one-time token in MongoDB")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return &token, nil
}

// ExpireActive lazily materializes expiry: it flips whatever is still ACTIVE
// under (digest, deviceID) to EXPIRED. Called only after ConsumeActive found
// nothing consumable, so any remaining ACTIVE match is past its deadline.
func (r *TokenRepositoryMongo) ExpireActive(ctx context.Context, digest, deviceID string) (*domain.OneTimeToken, error) {
	filter := bson.M{
		"digest":    digest,
		"device_id": deviceID,
		"status":    domain.TokenStatusActive,
	}
	update := bson.M{"$set": bson.M{"status": domain.TokenStatusExpired}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var token domain.OneTimeToken
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error expiring one-time token in MongoDB")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return &token, nil
}

// FindByDigest fetches a token by digest regardless of status. Used for the
// internal denial-reason classification only.
func (r *TokenRepositoryMongo) FindByDigest(ctx context.Context, digest string) (*domain.OneTimeToken, error) {
	var token domain.OneTimeToken
	err := r.coll.FindOne(ctx, bson.M{"digest": digest}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error looking up one-time token by digest in MongoDB")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return &token, nil
}

// SweepExpired bulk-transitions ACTIVE tokens past their deadline to EXPIRED.
func (r *TokenRepositoryMongo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{
		"status":     domain.TokenStatusActive,
		"expires_at": bson.M{"$lt": now},
	}
	update := bson.M{"$set": bson.M{"status": domain.TokenStatusExpired}}
	result, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Msg("Error sweeping expired one-time tokens in MongoDB")
		return 0, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return result.ModifiedCount, nil
}

// PurgeExpired permanently deletes EXPIRED tokens.
func (r *TokenRepositoryMongo) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"status": domain.TokenStatusExpired})
	if err != nil {
		log.Error().Err(err).Msg("Error purging expired one-time tokens in MongoDB")
		return 0, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return result.DeletedCount, nil
}

// DeleteByID removes a token regardless of status.
func (r *TokenRepositoryMongo) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Error deleting one-time token from MongoDB")
		return false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return result.DeletedCount > 0, nil
}

// List returns tokens, optionally filtered by status, newest first.
func (r *TokenRepositoryMongo) List(ctx context.Context, status *domain.TokenStatus) ([]*domain.OneTimeToken, error) {
	filter := bson.M{}
	if status != nil {
		filter["status"] = *status
	}
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		log.Error().Err(err).Msg("Error listing one-time tokens from MongoDB")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var tokens []*domain.OneTimeToken
	if err = cursor.All(ctx, &tokens); err != nil {
		log.Error().Err(err).Msg("Error decoding listed one-time tokens from MongoDB")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return tokens, nil
}

var _ domain.TokenRepository = (*TokenRepositoryMongo)(nil)
