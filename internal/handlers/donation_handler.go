package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/silvershield/silvershield-backend/internal/apperrors"
	"github.com/silvershield/silvershield-backend/internal/models"
	"github.com/silvershield/silvershield-backend/internal/services"
	"golang.org/x/exp/slog"
)

// DonationHandler handles donation-related HTTP requests
type DonationHandler struct {
	donationService services.DonationService
}

// NewDonationHandler creates a new DonationHandler
func NewDonationHandler(donationService services.DonationService) *DonationHandler {
	return &DonationHandler{
		donationService: donationService,
	}
}

type initiateRequest struct {
	Method     string  `json:"method"`
	Amount     float64 `json:"amount"`
	DonorName  string  `json:"donorName"`
	DonorEmail string  `json:"donorEmail"`
	DonorPhone string  `json:"donorPhone"`
	Currency   string  `json:"currency"`
	ProgramID  string  `json:"programId"`
}

// Initiate handles POST /donations/initiate
func (h *DonationHandler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.donationService.Initiate(c.Request.Context(), services.DonationIntent{
		Method:     req.Method,
		Amount:     req.Amount,
		DonorName:  req.DonorName,
		DonorEmail: req.DonorEmail,
		DonorPhone: req.DonorPhone,
		Currency:   req.Currency,
		ProgramID:  req.ProgramID,
	})
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"message": err.Error()})
		return
	}

	data := gin.H{
		"donationId":        result.Donation.ID.Hex(),
		"method":            result.Donation.Method,
		"status":            result.Donation.Status,
		"providerReference": result.ProviderReference,
	}
	switch result.Donation.Method {
	case models.MethodMpesa:
		data["providerMessage"] = result.ProviderMessage
		data["environment"] = result.Environment
		data["normalizedPhone"] = result.NormalizedPhone
	case models.MethodPaypal:
		data["approvalUrl"] = result.ApprovalURL
		data["mocked"] = result.Mocked
	}

	c.JSON(http.StatusCreated, gin.H{"data": data})
}

type confirmPaypalRequest struct {
	DonationID string `json:"donationId"`
	OrderID    string `json:"orderId"`
}

// ConfirmPaypal handles POST /donations/paypal/confirm
func (h *DonationHandler) ConfirmPaypal(c *gin.Context) {
	var req confirmPaypalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "donationId and orderId are required."})
		return
	}

	donation, err := h.donationService.ConfirmPaypal(c.Request.Context(), req.DonationID, req.OrderID)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": donation})
}

type stkCallback struct {
	MerchantRequestID string      `json:"MerchantRequestID"`
	CheckoutRequestID string      `json:"CheckoutRequestID"`
	ResultCode        interface{} `json:"ResultCode"`
	ResultDesc        string      `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []struct {
			Name  string      `json:"Name"`
			Value interface{} `json:"Value"`
		} `json:"Item"`
	} `json:"CallbackMetadata"`
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
	StkCallback *stkCallback `json:"stkCallback"`
}

// MpesaCallback handles POST /donations/mpesa/callback. It always returns a
// 200 acknowledgment: a provider given an error response will retry the
// callback indefinitely, and a lookup miss or malformed body is this system's
// anomaly to log, not the provider's to resolve.
func (h *DonationHandler) MpesaCallback(c *gin.Context) {
	ack := gin.H{"message": "Callback processed."}

	var envelope stkCallbackEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		slog.Warn("M-Pesa callback body was not valid JSON", "error", err)
		c.JSON(http.StatusOK, ack)
		return
	}

	callback := envelope.Body.StkCallback
	if callback == nil {
		callback = envelope.StkCallback
	}
	if callback == nil || callback.CheckoutRequestID == "" {
		slog.Warn("M-Pesa callback missing stkCallback or CheckoutRequestID")
		c.JSON(http.StatusOK, ack)
		return
	}

	succeeded := fmt.Sprintf("%v", callback.ResultCode) == "0"

	receipt := ""
	if succeeded {
		for _, item := range callback.CallbackMetadata.Item {
			if item.Name == "MpesaReceiptNumber" && item.Value != nil {
				receipt = fmt.Sprintf("%v", item.Value)
				break
			}
		}
	}

	raw, _ := json.Marshal(callback)
	err := h.donationService.FinalizeByReference(c.Request.Context(), callback.CheckoutRequestID, services.SettlementOutcome{
		Succeeded:     succeeded,
		TransactionID: receipt,
		Raw:           string(raw),
	})
	if err != nil {
		slog.Error("Failed to process M-Pesa callback", "checkoutRequestId", callback.CheckoutRequestID, "error", err)
	}

	c.JSON(http.StatusOK, ack)
}

// GetStatus handles GET /donations/:id/status, the polling fallback. The body
// shape matches the realtime event payload so the UI can treat either source
// interchangeably.
func (h *DonationHandler) GetStatus(c *gin.Context) {
	donation, err := h.donationService.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": donation})
}

// GetAllDonations handles GET /donations for the admin console, with optional
// status/method filters and CSV export
func (h *DonationHandler) GetAllDonations(c *gin.Context) {
	donations, err := h.donationService.GetAllDonations(c.Request.Context(), c.Query("status"), c.Query("method"))
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"message": err.Error()})
		return
	}

	if c.Query("export") == "csv" {
		filename := fmt.Sprintf("silver-shield-donations-%d.csv", time.Now().UnixMilli())
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.String(http.StatusOK, buildCSV(donations))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": donations})
}

// GetMpesaDetails handles GET /donations/mpesa/details
func (h *DonationHandler) GetMpesaDetails(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.donationService.MpesaPaymentDetails()})
}

func buildCSV(donations []*models.Donation) string {
	header := []string{
		"id", "donorName", "donorEmail", "donorPhone", "amount", "currency",
		"method", "status", "providerReference", "transactionId", "createdAt",
	}

	lines := []string{strings.Join(header, ",")}
	for _, d := range donations {
		values := []string{
			d.ID.Hex(),
			d.DonorName,
			d.DonorEmail,
			d.DonorPhone,
			fmt.Sprintf("%g", d.Amount),
			d.Currency,
			string(d.Method),
			string(d.Status),
			d.ProviderReference,
			d.TransactionID,
			d.CreatedAt.Format(time.RFC3339),
		}
		for i, v := range values {
			values[i] = `"` + strings.ReplaceAll(strings.TrimSpace(v), `"`, `""`) + `"`
		}
		lines = append(lines, strings.Join(values, ","))
	}
	return strings.Join(lines, "\n")
}
