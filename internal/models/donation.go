package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DonationStatus is the lifecycle state of a donation. PENDING is the only
// initial state; SUCCESS and FAILED are terminal.
type DonationStatus string

const (
	StatusPending DonationStatus = "PENDING"
	StatusSuccess DonationStatus = "SUCCESS"
	StatusFailed  DonationStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are permitted.
func (s DonationStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// DonationMethod is the payment method chosen at initiation. Immutable after creation.
type DonationMethod string

const (
	MethodMpesa  DonationMethod = "MPESA"
	MethodPaypal DonationMethod = "PAYPAL"
)

// IsSupported reports whether the method is part of the closed enumeration.
func (m DonationMethod) IsSupported() bool {
	return m == MethodMpesa || m == MethodPaypal
}

// MetadataKind discriminates the metadata variant captured on a donation.
type MetadataKind string

const (
	MetadataInitiation MetadataKind = "initiation"
	MetadataSettlement MetadataKind = "settlement"
	MetadataError      MetadataKind = "error"
)

// Metadata captures the latest raw provider interaction for audit and
// debugging. It is overwritten on each provider interaction, not appended, and
// is never used for control flow.
type Metadata struct {
	Kind  MetadataKind `bson:"kind,omitempty" json:"kind,omitempty"`
	Raw   string       `bson:"raw,omitempty" json:"raw,omitempty"`
	Error string       `bson:"error,omitempty" json:"error,omitempty"`
}

// InitiationMetadata wraps the raw provider response from a charge call.
func InitiationMetadata(raw string) Metadata {
	return Metadata{Kind: MetadataInitiation, Raw: raw}
}

// SettlementMetadata wraps the raw settlement payload (webhook or capture).
func SettlementMetadata(raw string) Metadata {
	return Metadata{Kind: MetadataSettlement, Raw: raw}
}

// ErrorMetadata captures a provider failure. raw may be empty when the
// provider never responded.
func ErrorMetadata(message, raw string) Metadata {
	return Metadata{Kind: MetadataError, Error: message, Raw: raw}
}

// Donation represents a single monetary contribution attempt, tracked from
// intent to settlement.
type Donation struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	DonorName         string             `bson:"donorName" json:"donorName"`
	DonorEmail        string             `bson:"donorEmail" json:"donorEmail"`
	DonorPhone        string             `bson:"donorPhone" json:"donorPhone"`
	Amount            float64            `bson:"amount" json:"amount"`
	Currency          string             `bson:"currency" json:"currency"`
	Method            DonationMethod     `bson:"method" json:"method"`
	Status            DonationStatus     `bson:"status" json:"status"`
	ProviderReference string             `bson:"providerReference,omitempty" json:"providerReference,omitempty"`
	TransactionID     string             `bson:"transactionId,omitempty" json:"transactionId,omitempty"`
	ProgramID         string             `bson:"programId,omitempty" json:"programId,omitempty"`
	Metadata          Metadata           `bson:"metadata" json:"metadata"`
	CreatedAt         time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time          `bson:"updatedAt" json:"updatedAt"`
}
