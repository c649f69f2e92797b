package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/quorumid/stepauth/domain"
)

// IdentityRepositoryMongo implements the identity-lookup collaborator over
// the principals collection. Provisioning of principals is out of scope;
// this repository only reads.
type IdentityRepositoryMongo struct {
	coll *mongo.Collection
}

// NewIdentityRepositoryMongo creates the repository and ensures its indexes.
func NewIdentityRepositoryMongo(ctx context.Context, db *mongo.Database) (domain.IdentityRepository, error) {
	repo := &IdentityRepositoryMongo{coll: db.Collection(PrincipalsCollection)}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "device_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for principals collection (might already exist)")
	}
	return repo, nil
}

func (r *IdentityRepositoryMongo) findOne(ctx context.Context, filter bson.M) (*domain.Principal, error) {
	var principal domain.Principal
	err := r.coll.FindOne(ctx, filter).Decode(&principal)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error looking up principal in MongoDB")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return &principal, nil
}

// FindPrincipalByUsername implements domain.IdentityRepository.
func (r *IdentityRepositoryMongo) FindPrincipalByUsername(ctx context.Context, username string) (*domain.Principal, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

// FindPrincipalByDeviceID implements domain.IdentityRepository.
func (r *IdentityRepositoryMongo) FindPrincipalByDeviceID(ctx context.Context, deviceID string) (*domain.Principal, error) {
	return r.findOne(ctx, bson.M{"device_id": deviceID})
}

var _ domain.IdentityRepository = (*IdentityRepositoryMongo)(nil)
