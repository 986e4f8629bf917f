package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/silvershield/silvershield-backend/internal/apperrors"
	"github.com/silvershield/silvershield-backend/internal/models"
	"github.com/silvershield/silvershield-backend/internal/services"
	"github.com/silvershield/silvershield-backend/pkg/mpesa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type stubDonationService struct {
	initiateResult *services.InitiationResult
	initiateErr    error
	lastIntent     services.DonationIntent

	finalizeErr       error
	finalizedRefs     []string
	finalizedOutcomes []services.SettlementOutcome

	confirmResult *models.Donation
	confirmErr    error

	statusResult *models.Donation
	statusErr    error

	listResult []*models.Donation
	listErr    error

	details mpesa.PaymentDetails
}

func (s *stubDonationService) Initiate(ctx context.Context, intent services.DonationIntent) (*services.InitiationResult, error) {
	s.lastIntent = intent
	return s.initiateResult, s.initiateErr
}

func (s *stubDonationService) FinalizeByReference(ctx context.Context, ref string, outcome services.SettlementOutcome) error {
	s.finalizedRefs = append(s.finalizedRefs, ref)
	s.finalizedOutcomes = append(s.finalizedOutcomes, outcome)
	return s.finalizeErr
}

func (s *stubDonationService) ConfirmPaypal(ctx context.Context, donationID, orderID string) (*models.Donation, error) {
	return s.confirmResult, s.confirmErr
}

func (s *stubDonationService) GetStatus(ctx context.Context, donationID string) (*models.Donation, error) {
	return s.statusResult, s.statusErr
}

func (s *stubDonationService) GetAllDonations(ctx context.Context, status, method string) ([]*models.Donation, error) {
	return s.listResult, s.listErr
}

func (s *stubDonationService) MpesaPaymentDetails() mpesa.PaymentDetails {
	return s.details
}

func setupRouter(svc services.DonationService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewDonationHandler(svc)
	router := gin.New()
	router.POST("/donations/initiate", h.Initiate)
	router.POST("/donations/paypal/confirm", h.ConfirmPaypal)
	router.POST("/donations/mpesa/callback", h.MpesaCallback)
	router.GET("/donations/mpesa/details", h.GetMpesaDetails)
	router.GET("/donations/:id/status", h.GetStatus)
	router.GET("/donations", h.GetAllDonations)
	return router
}

func performJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInitiateMpesaResponseShape(t *testing.T) {
	donation := &models.Donation{
		ID:     primitive.NewObjectID(),
		Method: models.MethodMpesa,
		Status: models.StatusPending,
	}
	svc := &stubDonationService{
		initiateResult: &services.InitiationResult{
			Donation:          donation,
			ProviderReference: "ws_CO_1",
			ProviderMessage:   "Success. Request accepted for processing",
			NormalizedPhone:   "254712345678",
			Environment:       "sandbox",
		},
	}
	router := setupRouter(svc)

	w := performJSON(router, http.MethodPost, "/donations/initiate",
		`{"method":"MPESA","amount":500,"donorPhone":"0712345678"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, donation.ID.Hex(), body.Data["donationId"])
	assert.Equal(t, "PENDING", body.Data["status"])
	assert.Equal(t, "ws_CO_1", body.Data["providerReference"])
	assert.Equal(t, "254712345678", body.Data["normalizedPhone"])
	assert.NotContains(t, body.Data, "approvalUrl")

	assert.Equal(t, "MPESA", svc.lastIntent.Method)
	assert.Equal(t, float64(500), svc.lastIntent.Amount)
}

func TestInitiatePaypalResponseShape(t *testing.T) {
	donation := &models.Donation{
		ID:     primitive.NewObjectID(),
		Method: models.MethodPaypal,
		Status: models.StatusPending,
	}
	svc := &stubDonationService{
		initiateResult: &services.InitiationResult{
			Donation:          donation,
			ProviderReference: "MOCK-PAYPAL-1",
			ApprovalURL:       "http://localhost:5173/donate?mockPaypal=true",
			Mocked:            true,
		},
	}
	router := setupRouter(svc)

	w := performJSON(router, http.MethodPost, "/donations/initiate", `{"method":"PAYPAL","amount":20}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "http://localhost:5173/donate?mockPaypal=true", body.Data["approvalUrl"])
	assert.Equal(t, true, body.Data["mocked"])
	assert.NotContains(t, body.Data, "normalizedPhone")
}

func TestInitiateErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperrors.Validation("Method and valid amount are required."), http.StatusBadRequest},
		{apperrors.Configuration("M-Pesa is not configured."), http.StatusServiceUnavailable},
		{apperrors.ProviderRejected("Request cancelled by user"), http.StatusBadGateway},
		{apperrors.ProviderTimeout("M-Pesa request timed out.", nil), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		router := setupRouter(&stubDonationService{initiateErr: tc.err})
		w := performJSON(router, http.MethodPost, "/donations/initiate", `{"method":"MPESA","amount":500}`)
		assert.Equal(t, tc.want, w.Code, "error %v", tc.err)
		assert.Contains(t, w.Body.String(), "message")
	}
}

func TestInitiateRejectsMalformedBody(t *testing.T) {
	router := setupRouter(&stubDonationService{})
	w := performJSON(router, http.MethodPost, "/donations/initiate", `{"amount": "five hundred"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMpesaCallbackSuccessOutcome(t *testing.T) {
	svc := &stubDonationService{}
	router := setupRouter(svc)

	body := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 500},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`
	w := performJSON(router, http.MethodPost, "/donations/mpesa/callback", body)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.finalizedRefs, 1)
	assert.Equal(t, "ws_CO_191220191020363925", svc.finalizedRefs[0])
	outcome := svc.finalizedOutcomes[0]
	assert.True(t, outcome.Succeeded)
	assert.Equal(t, "NLJ7RT61SV", outcome.TransactionID)
	assert.NotEmpty(t, outcome.Raw)
}

func TestMpesaCallbackFailureOutcome(t *testing.T) {
	svc := &stubDonationService{}
	router := setupRouter(svc)

	// Top-level stkCallback without the Body wrapper is also accepted
	body := `{
		"stkCallback": {
			"CheckoutRequestID": "ws_CO_1",
			"ResultCode": 1032,
			"ResultDesc": "Request cancelled by user"
		}
	}`
	w := performJSON(router, http.MethodPost, "/donations/mpesa/callback", body)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.finalizedOutcomes, 1)
	assert.False(t, svc.finalizedOutcomes[0].Succeeded)
	assert.Empty(t, svc.finalizedOutcomes[0].TransactionID)
}

func TestMpesaCallbackStringResultCode(t *testing.T) {
	svc := &stubDonationService{}
	router := setupRouter(svc)

	body := `{"stkCallback": {"CheckoutRequestID": "ws_CO_2", "ResultCode": "0"}}`
	w := performJSON(router, http.MethodPost, "/donations/mpesa/callback", body)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.finalizedOutcomes, 1)
	assert.True(t, svc.finalizedOutcomes[0].Succeeded)
}

func TestMpesaCallbackAlwaysAcknowledges(t *testing.T) {
	cases := []string{
		`not json at all`,
		`{}`,
		`{"Body": {}}`,
		`{"Body": {"stkCallback": {"ResultCode": 0}}}`,
	}
	for _, body := range cases {
		svc := &stubDonationService{}
		router := setupRouter(svc)
		w := performJSON(router, http.MethodPost, "/donations/mpesa/callback", body)
		assert.Equal(t, http.StatusOK, w.Code, "body %q", body)
		assert.Contains(t, w.Body.String(), "Callback processed.", "body %q", body)
		assert.Empty(t, svc.finalizedRefs, "body %q must not reach the service", body)
	}
}

func TestMpesaCallbackAcknowledgesDespiteServiceError(t *testing.T) {
	svc := &stubDonationService{finalizeErr: errors.New("store down")}
	router := setupRouter(svc)

	body := `{"stkCallback": {"CheckoutRequestID": "ws_CO_3", "ResultCode": 0}}`
	w := performJSON(router, http.MethodPost, "/donations/mpesa/callback", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConfirmPaypal(t *testing.T) {
	donation := &models.Donation{
		ID:            primitive.NewObjectID(),
		Method:        models.MethodPaypal,
		Status:        models.StatusSuccess,
		TransactionID: "TX-1",
	}
	router := setupRouter(&stubDonationService{confirmResult: donation})

	w := performJSON(router, http.MethodPost, "/donations/paypal/confirm",
		`{"donationId":"`+donation.ID.Hex()+`","orderId":"ORDER-1"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"SUCCESS"`)
	assert.Contains(t, w.Body.String(), "TX-1")
}

func TestConfirmPaypalNotFound(t *testing.T) {
	router := setupRouter(&stubDonationService{confirmErr: apperrors.NotFound("Donation not found.")})

	w := performJSON(router, http.MethodPost, "/donations/paypal/confirm",
		`{"donationId":"`+primitive.NewObjectID().Hex()+`","orderId":"ORDER-1"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStatus(t *testing.T) {
	donation := &models.Donation{ID: primitive.NewObjectID(), Status: models.StatusPending}
	router := setupRouter(&stubDonationService{statusResult: donation})

	req := httptest.NewRequest(http.MethodGet, "/donations/"+donation.ID.Hex()+"/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"PENDING"`)
}

func TestGetStatusNotFound(t *testing.T) {
	router := setupRouter(&stubDonationService{statusErr: apperrors.NotFound("Donation not found.")})

	req := httptest.NewRequest(http.MethodGet, "/donations/"+primitive.NewObjectID().Hex()+"/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAllDonationsJSON(t *testing.T) {
	donations := []*models.Donation{
		{ID: primitive.NewObjectID(), Status: models.StatusSuccess, Method: models.MethodMpesa, Amount: 500},
	}
	router := setupRouter(&stubDonationService{listResult: donations})

	req := httptest.NewRequest(http.MethodGet, "/donations?status=SUCCESS", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), donations[0].ID.Hex())
}

func TestGetAllDonationsCSVExport(t *testing.T) {
	donations := []*models.Donation{
		{
			ID:                primitive.NewObjectID(),
			DonorName:         `Jane "JJ" Donor`,
			DonorPhone:        "254712345678",
			Amount:            500,
			Currency:          "KES",
			Method:            models.MethodMpesa,
			Status:            models.StatusSuccess,
			ProviderReference: "ws_CO_1",
			TransactionID:     "NLJ7RT61SV",
			CreatedAt:         time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC),
		},
	}
	router := setupRouter(&stubDonationService{listResult: donations})

	req := httptest.NewRequest(http.MethodGet, "/donations?export=csv", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	lines := strings.Split(w.Body.String(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,donorName,donorEmail,donorPhone,amount,currency,method,status,providerReference,transactionId,createdAt", lines[0])
	assert.Contains(t, lines[1], `"Jane ""JJ"" Donor"`)
	assert.Contains(t, lines[1], `"NLJ7RT61SV"`)
	assert.Contains(t, lines[1], `"2025-03-09T14:05:07Z"`)
}

func TestGetMpesaDetails(t *testing.T) {
	router := setupRouter(&stubDonationService{
		details: mpesa.PaymentDetails{Paybill: "522522", AccountNumber: "1342183193", Configured: true},
	})

	req := httptest.NewRequest(http.MethodGet, "/donations/mpesa/details", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "522522")
	assert.Contains(t, w.Body.String(), "1342183193")
}
