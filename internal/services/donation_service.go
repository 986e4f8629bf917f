package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/silvershield/silvershield-backend/internal/apperrors"
	"github.com/silvershield/silvershield-backend/internal/models"
	"github.com/silvershield/silvershield-backend/internal/repositories"
	"github.com/silvershield/silvershield-backend/pkg/mpesa"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/exp/slog"
)

// Compile-time check to ensure DonationServiceImpl implements DonationService
var _ DonationService = (*DonationServiceImpl)(nil)

// DonationServiceImpl drives a donation from intent to a stable
// PENDING-with-provider-reference state and applies terminal transitions
// reported by the settlement ingestors.
type DonationServiceImpl struct {
	donationRepo repositories.DonationRepository
	mpesaGateway MpesaGateway
	paypalClient PaypalGateway
	publisher    Publisher
}

// NewDonationService creates a new DonationServiceImpl
func NewDonationService(donationRepo repositories.DonationRepository, mpesaGateway MpesaGateway, paypalClient PaypalGateway, publisher Publisher) *DonationServiceImpl {
	return &DonationServiceImpl{
		donationRepo: donationRepo,
		mpesaGateway: mpesaGateway,
		paypalClient: paypalClient,
		publisher:    publisher,
	}
}

// Initiate validates the intent, persists a PENDING donation, invokes the
// method-specific provider adapter, and records the provider correlation id.
// Adapter failure transitions the record to FAILED and propagates; the record
// is retained as evidence, not rolled back.
func (s *DonationServiceImpl) Initiate(ctx context.Context, intent DonationIntent) (*InitiationResult, error) {
	method := models.DonationMethod(strings.ToUpper(strings.TrimSpace(intent.Method)))
	if method == "" || intent.Amount <= 0 {
		return nil, apperrors.Validation("Method and valid amount are required.")
	}
	if !method.IsSupported() {
		return nil, apperrors.Validation("Unsupported donation method.")
	}

	donorPhone := strings.TrimSpace(intent.DonorPhone)
	if method == models.MethodMpesa {
		if donorPhone == "" {
			return nil, apperrors.Validation("Phone number is required for M-Pesa.")
		}
		normalized, err := mpesa.NormalizePhone(donorPhone)
		if err != nil {
			return nil, err
		}
		donorPhone = normalized
	}

	donorName := strings.TrimSpace(intent.DonorName)
	if donorName == "" {
		donorName = "Anonymous Donor"
	}
	currency := strings.ToUpper(strings.TrimSpace(intent.Currency))
	if currency == "" {
		if method == models.MethodPaypal {
			currency = "USD"
		} else {
			currency = "KES"
		}
	}

	donation := &models.Donation{
		DonorName:  donorName,
		DonorEmail: strings.TrimSpace(intent.DonorEmail),
		DonorPhone: donorPhone,
		Amount:     intent.Amount,
		Currency:   currency,
		Method:     method,
		Status:     models.StatusPending,
		ProgramID:  strings.TrimSpace(intent.ProgramID),
	}
	if err := s.donationRepo.Create(ctx, donation); err != nil {
		return nil, fmt.Errorf("failed to create donation: %w", err)
	}
	slog.Info("Donation created", "donationId", donation.ID.Hex(), "method", method, "amount", intent.Amount)

	switch method {
	case models.MethodMpesa:
		return s.initiateMpesa(ctx, donation)
	default:
		return s.initiatePaypal(ctx, donation)
	}
}

func (s *DonationServiceImpl) initiateMpesa(ctx context.Context, donation *models.Donation) (*InitiationResult, error) {
	accountReference := "SILVER-" + donation.ID.Hex()
	push, err := s.mpesaGateway.InitiateSTKPush(ctx, donation.Amount, donation.DonorPhone, accountReference, "Silver Shield Donation")
	if err != nil {
		return nil, s.failInitiation(ctx, donation, err)
	}

	if err := s.donationRepo.SetProviderReference(ctx, donation.ID, push.CheckoutRequestID, models.InitiationMetadata(push.Raw)); err != nil {
		return nil, fmt.Errorf("failed to record provider reference: %w", err)
	}
	updated := s.reloadAndPublish(ctx, donation.ID)
	if updated == nil {
		updated = donation
	}

	message := push.ResponseDescription
	if message == "" {
		message = "STK push sent."
	}
	return &InitiationResult{
		Donation:          updated,
		ProviderReference: push.CheckoutRequestID,
		ProviderMessage:   message,
		NormalizedPhone:   push.NormalizedPhone,
		Environment:       push.Environment,
	}, nil
}

func (s *DonationServiceImpl) initiatePaypal(ctx context.Context, donation *models.Donation) (*InitiationResult, error) {
	order, err := s.paypalClient.CreateOrder(ctx, donation.Amount, donation.Currency, "Silver Shield Organisation Donation")
	if err != nil {
		return nil, s.failInitiation(ctx, donation, err)
	}

	if err := s.donationRepo.SetProviderReference(ctx, donation.ID, order.OrderID, models.InitiationMetadata(order.Raw)); err != nil {
		return nil, fmt.Errorf("failed to record provider reference: %w", err)
	}
	updated := s.reloadAndPublish(ctx, donation.ID)
	if updated == nil {
		updated = donation
	}

	return &InitiationResult{
		Donation:          updated,
		ProviderReference: order.OrderID,
		ApprovalURL:       order.ApprovalURL,
		Mocked:            order.Mocked,
	}, nil
}

// failInitiation records an adapter failure as a FAILED terminal state and
// returns the original error for the caller.
func (s *DonationServiceImpl) failInitiation(ctx context.Context, donation *models.Donation, cause error) error {
	won, err := s.donationRepo.FinalizeIfPending(ctx, donation.ID, models.StatusFailed, "", models.ErrorMetadata(cause.Error(), ""))
	if err != nil {
		slog.Error("Failed to mark donation FAILED after initiation error", "donationId", donation.ID.Hex(), "error", err)
	} else if won {
		s.reloadAndPublish(ctx, donation.ID)
	}
	return cause
}

// FinalizeByReference applies a provider-reported terminal outcome looked up
// by correlation id (webhook path). An unknown reference is a logged no-op,
// never an error: providers retry callbacks and a retried callback for an
// already-processed or unknown reference must be harmless.
func (s *DonationServiceImpl) FinalizeByReference(ctx context.Context, providerReference string, outcome SettlementOutcome) error {
	donation, err := s.donationRepo.FindByProviderReference(ctx, providerReference)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			slog.Warn("Settlement callback for unknown provider reference", "providerReference", providerReference)
			return nil
		}
		return fmt.Errorf("failed to look up donation by provider reference: %w", err)
	}
	return s.finalize(ctx, donation, outcome)
}

// finalize applies the terminal transition. The store's conditional update is
// the race arbiter: whichever ingestor wins persists, the loser's outcome is
// discarded. A conflicting outcome for an already-terminal donation keeps the
// existing state; the first settlement wins.
func (s *DonationServiceImpl) finalize(ctx context.Context, donation *models.Donation, outcome SettlementOutcome) error {
	status := models.StatusFailed
	if outcome.Succeeded {
		status = models.StatusSuccess
	}

	if donation.Status.IsTerminal() {
		if donation.Status != status {
			slog.Warn("Conflicting settlement outcome for terminal donation, keeping existing state",
				"donationId", donation.ID.Hex(), "existing", donation.Status, "reported", status)
		} else {
			slog.Info("Duplicate settlement for terminal donation ignored", "donationId", donation.ID.Hex())
		}
		return nil
	}

	won, err := s.donationRepo.FinalizeIfPending(ctx, donation.ID, status, outcome.TransactionID, models.SettlementMetadata(outcome.Raw))
	if err != nil {
		return fmt.Errorf("failed to finalize donation: %w", err)
	}
	if !won {
		slog.Warn("Lost settlement race, concurrent finalizer already applied a terminal state", "donationId", donation.ID.Hex())
		return nil
	}

	slog.Info("Donation settled", "donationId", donation.ID.Hex(), "status", status, "transactionId", outcome.TransactionID)
	s.reloadAndPublish(ctx, donation.ID)
	return nil
}

// ConfirmPaypal captures a previously approved order and finalizes the
// donation with the capture outcome. Safe to call repeatedly: a terminal
// donation is returned as-is and capture itself does not double-settle.
func (s *DonationServiceImpl) ConfirmPaypal(ctx context.Context, donationID, orderID string) (*models.Donation, error) {
	if donationID == "" || orderID == "" {
		return nil, apperrors.Validation("donationId and orderId are required.")
	}
	id, err := primitive.ObjectIDFromHex(donationID)
	if err != nil {
		return nil, apperrors.Validation("Invalid donation id format.")
	}

	donation, err := s.donationRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("Donation not found.")
		}
		return nil, fmt.Errorf("failed to look up donation: %w", err)
	}

	if donation.Status.IsTerminal() {
		return donation, nil
	}

	// A capture timeout or rejection leaves the record PENDING: the provider
	// side may still settle asynchronously via a later confirm.
	capture, err := s.paypalClient.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	outcome := SettlementOutcome{
		Succeeded:     capture.Completed,
		TransactionID: capture.TransactionID,
		Raw:           capture.Raw,
	}
	if err := s.finalize(ctx, donation, outcome); err != nil {
		return nil, err
	}

	updated, err := s.donationRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload donation: %w", err)
	}
	return updated, nil
}

// GetStatus returns the current donation record for the polling fallback
func (s *DonationServiceImpl) GetStatus(ctx context.Context, donationID string) (*models.Donation, error) {
	id, err := primitive.ObjectIDFromHex(donationID)
	if err != nil {
		return nil, apperrors.Validation("Invalid donation id format.")
	}
	donation, err := s.donationRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("Donation not found.")
		}
		return nil, fmt.Errorf("failed to look up donation: %w", err)
	}
	return donation, nil
}

// GetAllDonations lists donations for the admin console with optional status
// and method filters
func (s *DonationServiceImpl) GetAllDonations(ctx context.Context, status, method string) ([]*models.Donation, error) {
	donations, err := s.donationRepo.FindAll(ctx,
		models.DonationStatus(strings.ToUpper(strings.TrimSpace(status))),
		models.DonationMethod(strings.ToUpper(strings.TrimSpace(method))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list donations: %w", err)
	}
	return donations, nil
}

// MpesaPaymentDetails exposes the paybill configuration for display before initiation
func (s *DonationServiceImpl) MpesaPaymentDetails() mpesa.PaymentDetails {
	return s.mpesaGateway.PaymentDetails()
}

// reloadAndPublish fetches the durably persisted record and broadcasts it.
// Publishing always happens after the store mutation, never before.
func (s *DonationServiceImpl) reloadAndPublish(ctx context.Context, id primitive.ObjectID) *models.Donation {
	donation, err := s.donationRepo.FindByID(ctx, id)
	if err != nil {
		slog.Error("Failed to reload donation for realtime publish", "donationId", id.Hex(), "error", err)
		return nil
	}
	s.publisher.PublishDonationUpdate(donation)
	return donation
}
