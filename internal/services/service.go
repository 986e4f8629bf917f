package services

import (
	"context"

	"github.com/silvershield/silvershield-backend/internal/models"
	"github.com/silvershield/silvershield-backend/pkg/mpesa"
	"github.com/silvershield/silvershield-backend/pkg/paypal"
)

// MpesaGateway is the capability contract the orchestrator needs from the
// mobile-money adapter
type MpesaGateway interface {
	InitiateSTKPush(ctx context.Context, amount float64, phone, accountReference, transactionDesc string) (*mpesa.STKPushResult, error)
	PaymentDetails() mpesa.PaymentDetails
}

// PaypalGateway is the capability contract the orchestrator needs from the
// card/wallet adapter
type PaypalGateway interface {
	CreateOrder(ctx context.Context, amount float64, currency, description string) (*paypal.OrderResult, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.CaptureResult, error)
}

// Publisher receives every donation state change for realtime fan-out.
// Publishes are fire-and-forget relative to the store mutation.
type Publisher interface {
	PublishDonationUpdate(donation *models.Donation)
}

// DonationIntent is a donor's submission from the public initiate endpoint
type DonationIntent struct {
	Method     string
	Amount     float64
	DonorName  string
	DonorEmail string
	DonorPhone string
	Currency   string
	ProgramID  string
}

// InitiationResult is the created donation plus the provider-specific
// initiation payload the donor UI needs to continue the flow
type InitiationResult struct {
	Donation          *models.Donation
	ProviderReference string
	ProviderMessage   string
	ApprovalURL       string
	NormalizedPhone   string
	Environment       string
	Mocked            bool
}

// SettlementOutcome is a provider-reported terminal outcome delivered by a
// settlement ingestor
type SettlementOutcome struct {
	Succeeded     bool
	TransactionID string
	Raw           string
}

// DonationService defines the interface for the donation lifecycle
type DonationService interface {
	Initiate(ctx context.Context, intent DonationIntent) (*InitiationResult, error)
	FinalizeByReference(ctx context.Context, providerReference string, outcome SettlementOutcome) error
	ConfirmPaypal(ctx context.Context, donationID, orderID string) (*models.Donation, error)
	GetStatus(ctx context.Context, donationID string) (*models.Donation, error)
	GetAllDonations(ctx context.Context, status, method string) ([]*models.Donation, error)
	MpesaPaymentDetails() mpesa.PaymentDetails
}
