package mongodb

import (
	"context"
	"time"

	"github.com/silvershield/silvershield-backend/internal/models"
	"github.com/silvershield/silvershield-backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DonationRepository implements the repositories.DonationRepository interface
type DonationRepository struct {
	collection *mongo.Collection
}

// NewDonationRepository creates a new DonationRepository
func NewDonationRepository(db *mongo.Database) repositories.DonationRepository {
	return &DonationRepository{
		collection: db.Collection("donations"),
	}
}

// Create creates a new donation
func (r *DonationRepository) Create(ctx context.Context, donation *models.Donation) error {
	donation.CreatedAt = time.Now()
	donation.UpdatedAt = time.Now()
	result, err := r.collection.InsertOne(ctx, donation)
	if err != nil {
		return err
	}
	if id, ok := result.InsertedID.(primitive.ObjectID); ok {
		donation.ID = id
	}
	return nil
}

// FindByID finds a donation by ID
func (r *DonationRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Donation, error) {
	var donation models.Donation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&donation)
	if err != nil {
		return nil, err
	}
	return &donation, nil
}

// FindByProviderReference finds a donation by its provider correlation id
func (r *DonationRepository) FindByProviderReference(ctx context.Context, reference string) (*models.Donation, error) {
	var donation models.Donation
	err := r.collection.FindOne(ctx, bson.M{"providerReference": reference}).Decode(&donation)
	if err != nil {
		return nil, err
	}
	return &donation, nil
}

// SetProviderReference stores the provider correlation id and the raw
// initiation response after a successful charge call
func (r *DonationRepository) SetProviderReference(ctx context.Context, id primitive.ObjectID, reference string, metadata models.Metadata) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"providerReference": reference,
			"metadata":          metadata,
			"updatedAt":         time.Now(),
		}},
	)
	return err
}

// FinalizeIfPending applies a terminal status with a single conditional
// update. The status filter makes concurrent finalizers race safely: exactly
// one matches the PENDING document, the rest modify nothing.
func (r *DonationRepository) FinalizeIfPending(ctx context.Context, id primitive.ObjectID, status models.DonationStatus, transactionID string, metadata models.Metadata) (bool, error) {
	set := bson.M{
		"status":    status,
		"metadata":  metadata,
		"updatedAt": time.Now(),
	}
	if transactionID != "" {
		set["transactionId"] = transactionID
	}
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.StatusPending},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount == 1, nil
}

// FindAll finds donations with optional status and method filters, newest first
func (r *DonationRepository) FindAll(ctx context.Context, status models.DonationStatus, method models.DonationMethod) ([]*models.Donation, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	if method != "" {
		filter["method"] = method
	}

	opts := options.Find().SetSort(bson.M{"createdAt": -1})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var donations []*models.Donation
	if err := cursor.All(ctx, &donations); err != nil {
		return nil, err
	}
	return donations, nil
}

// Count counts all donations
func (r *DonationRepository) Count(ctx context.Context) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{})
}
