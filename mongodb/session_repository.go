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

// SessionRepositoryMongo implements domain.SessionRepository.
type SessionRepositoryMongo struct {
	coll   *mongo.Collection
	client *mongo.Client
}

// NewSessionRepositoryMongo creates the repository and ensures its indexes.
func NewSessionRepositoryMongo(ctx context.Context, db *mongo.Database) (domain.SessionRepository, error) {
	repo := &SessionRepositoryMongo{
		coll:   db.Collection(SessionsCollection),
		client: db.Client(),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "principal", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "started_at", Value: -1}},
		},
	}
	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for sessions collection (might already exist)")
	}
	return repo, nil
}

// OpenExclusive demotes every ACTIVE session of the principal to EXPIRED and
// inserts the new session, inside a transaction so two concurrent opens for
// one principal cannot both end up ACTIVE.
func (r *SessionRepositoryMongo) OpenExclusive(ctx context.Context, session *domain.Session) (int64, error) {
	mongoSession, err := r.client.StartSession()
	if err != nil {
		log.Error().Err(err).Msg("Error starting MongoDB session for exclusive open")
		return 0, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	defer mongoSession.EndSession(ctx)

	demoted, err := mongoSession.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		filter := bson.M{
			"principal": session.Principal,
			"status":    domain.SessionStatusActive,
		}
		update := bson.M{"$set": bson.M{"status": domain.SessionStatusExpired}}
		result, err := r.coll.UpdateMany(txCtx, filter, update)
		if err != nil {
			return int64(0), err
		}
		if _, err := r.coll.InsertOne(txCtx, session); err != nil {
			return int64(0), err
		}
		return result.ModifiedCount, nil
	})
	if err != nil {
		log.Error().Err(err).Str("principal", session.Principal).Msg("Error opening session in MongoDB")
		return 0, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return demoted.(int64), nil
}

// FindByID fetches a session by its identifier.
func (r *SessionRepositoryMongo) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Error getting session by ID from MongoDB")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return &session, nil
}

// TransitionActive moves an ACTIVE session to the given terminal status in a
// single conditional update. Missing or already-terminal sessions report
// false without touching anything.
func (r *SessionRepositoryMongo) TransitionActive(ctx context.Context, id string, to domain.SessionStatus) (bool, error) {
	filter := bson.M{"_id": id, "status": domain.SessionStatusActive}
	update := bson.M{"$set": bson.M{"status": to}}
	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Error transitioning session in MongoDB")
		return false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return result.ModifiedCount > 0, nil
}

// SweepExpired bulk-transitions ACTIVE sessions past their deadline.
func (r *SessionRepositoryMongo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{
		"status":     domain.SessionStatusActive,
		"expires_at": bson.M{"$lt": now},
	}
	update := bson.M{"$set": bson.M{"status": domain.SessionStatusExpired}}
	result, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Msg("Error sweeping expired sessions in MongoDB")
		return 0, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return result.ModifiedCount, nil
}

// ListActive returns ACTIVE sessions, newest first.
func (r *SessionRepositoryMongo) ListActive(ctx context.Context) ([]*domain.Session, error) {
	filter := bson.M{"status": domain.SessionStatusActive}
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}))
	if err != nil {
		log.Error().Err(err).Msg("Error listing active sessions from MongoDB")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var sessions []*domain.Session
	if err = cursor.All(ctx, &sessions); err != nil {
		log.Error().Err(err).Msg("Error decoding listed sessions from MongoDB")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return sessions, nil
}

var _ domain.SessionRepository = (*SessionRepositoryMongo)(nil)
