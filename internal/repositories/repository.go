package repositories

import (
	"context"

	"github.com/silvershield/silvershield-backend/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DonationRepository defines the interface for donation data operations.
// It is the single source of truth for settlement reconciliation.
type DonationRepository interface {
	Create(ctx context.Context, donation *models.Donation) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Donation, error)
	FindByProviderReference(ctx context.Context, reference string) (*models.Donation, error)
	// SetProviderReference records the provider correlation id issued at charge
	// time, together with the raw initiation response. Status stays PENDING.
	SetProviderReference(ctx context.Context, id primitive.ObjectID, reference string, metadata models.Metadata) error
	// FinalizeIfPending transitions a donation to a terminal status only if it
	// is still PENDING, as a single atomic conditional update. It reports
	// whether this caller won the transition.
	FinalizeIfPending(ctx context.Context, id primitive.ObjectID, status models.DonationStatus, transactionID string, metadata models.Metadata) (bool, error)
	FindAll(ctx context.Context, status models.DonationStatus, method models.DonationMethod) ([]*models.Donation, error)
	Count(ctx context.Context) (int64, error)
}
