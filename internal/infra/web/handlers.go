package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/infra/metrics"
	"mpesa-subscription-billing/internal/usecase"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type stkPushRequest struct {
	BusinessID       string `json:"business_id"`
	Phone            string `json:"phone"`
	Amount           int64  `json:"amount"`
	AccountReference string `json:"account_reference"`
	Description      string `json:"description"`
	Type             string `json:"type"` // "subscription" or "pos"
	PlanID           string `json:"plan_id"`
	BillingCycle     string `json:"billing_cycle"`
}

func stkPushHandler(paymentUC usecase.PaymentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req stkPushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		intent, res, err := paymentUC.Initiate(ctx, usecase.InitiateInput{
			BusinessID:       req.BusinessID,
			Phone:            req.Phone,
			Amount:           req.Amount,
			AccountReference: req.AccountReference,
			Description:      req.Description,
			Type:             req.Type,
			PlanID:           req.PlanID,
			BillingCycle:     req.BillingCycle,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidArgument):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, domain.ErrNotFound):
				http.Error(w, "Unknown plan or business", http.StatusNotFound)
			case errors.Is(err, domain.ErrNoGatewayCredentials):
				http.Error(w, "Business has no gateway credentials", http.StatusUnprocessableEntity)
			default:
				http.Error(w, "Failed to initiate payment", http.StatusInternalServerError)
			}
			return
		}

		if !res.OK {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"ok":      false,
				"message": res.Message,
			})
			return
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"ok":                  true,
			"intent_id":           intent.ID,
			"checkout_request_id": res.CheckoutRequestID,
			"merchant_request_id": res.MerchantRequestID,
			"amount":              intent.Amount,
			"message":             res.Message,
		})
	}
}

// stkCallbackEnvelope mirrors the Daraja confirmation payload. Metadata items
// are loosely typed name/value pairs; amounts arrive as JSON numbers and
// receipts as strings.
type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// callbackHandler acknowledges every delivery with 200 and Daraja's expected
// body, no matter what reconciliation did with it. A non-200 would make the
// gateway retry a payload we have already judged.
func callbackHandler(activationUC usecase.ActivationUseCase, log *zerolog.Logger) http.HandlerFunc {
	ack := map[string]interface{}{"ResultCode": 0, "ResultDesc": "Accepted"}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var env stkCallbackEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			metrics.IncCallback("malformed")
			log.Warn().Err(err).Msg("unparseable stk callback payload")
			writeJSON(w, http.StatusOK, ack)
			return
		}

		cb := env.Body.StkCallback
		d := usecase.ResolutionData{
			CheckoutRequestID: cb.CheckoutRequestID,
			ResultCode:        cb.ResultCode,
			Raw: map[string]interface{}{
				"MerchantRequestID": cb.MerchantRequestID,
				"CheckoutRequestID": cb.CheckoutRequestID,
				"ResultDesc":        cb.ResultDesc,
			},
		}
		if cb.ResultCode != nil {
			d.Raw["ResultCode"] = *cb.ResultCode
		}
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case "MpesaReceiptNumber":
				if s, ok := item.Value.(string); ok {
					d.MpesaReceipt = s
				}
			case "Amount":
				if f, ok := item.Value.(float64); ok {
					d.Amount = int64(f)
				}
			case "PhoneNumber":
				d.Phone = fmt.Sprintf("%v", item.Value)
			}
			d.Raw[item.Name] = item.Value
		}

		if _, err := activationUC.Finalize(ctx, d); err != nil {
			metrics.IncCallback("error")
			log.Error().Err(err).
				Str("checkout_request_id", cb.CheckoutRequestID).
				Msg("callback reconciliation failed")
		} else {
			metrics.IncCallback("processed")
		}

		writeJSON(w, http.StatusOK, ack)
	}
}

type statusRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
}

func statusHandler(statusUC usecase.StatusUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		checkoutID := r.URL.Query().Get("checkout_request_id")
		if checkoutID == "" && r.Method == http.MethodPost {
			var req statusRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
				checkoutID = req.CheckoutRequestID
			}
		}
		if checkoutID == "" {
			http.Error(w, "checkout_request_id is required", http.StatusBadRequest)
			return
		}

		state, detail, err := statusUC.Check(ctx, checkoutID)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "Failed to check payment status", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"checkout_request_id": checkoutID,
			"state":               string(state),
			"detail":              detail,
		})
	}
}

type finalizeRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	MpesaReceipt      string `json:"mpesa_receipt"`
	ResultCode        *int   `json:"result_code"`
	Phone             string `json:"phone"`
	Amount            int64  `json:"amount"`
}

// finalizeHandler is the manual entry point: an operator pastes the M-Pesa
// receipt from a customer message and forces reconciliation.
func finalizeHandler(activationUC usecase.ActivationUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req finalizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.CheckoutRequestID == "" && req.MpesaReceipt == "" {
			http.Error(w, "checkout_request_id or mpesa_receipt is required", http.StatusBadRequest)
			return
		}

		rc := req.ResultCode
		if rc == nil && req.MpesaReceipt != "" {
			// A pasted receipt is proof of success.
			zero := 0
			rc = &zero
		}

		activated, err := activationUC.Finalize(ctx, usecase.ResolutionData{
			CheckoutRequestID: req.CheckoutRequestID,
			MpesaReceipt:      req.MpesaReceipt,
			ResultCode:        rc,
			Phone:             req.Phone,
			Amount:            req.Amount,
		})
		if err != nil {
			http.Error(w, "Failed to finalize payment", http.StatusInternalServerError)
			return
		}

		msg := "no matching activation performed"
		if activated {
			msg = "subscription active"
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      activated,
			"message": msg,
		})
	}
}

type sessionRequest struct {
	Secret string `json:"secret"`
}

func sessionHandler(auth *AuthManager, adminSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if adminSecret == "" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(adminSecret)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		token, err := auth.Mint(w)
		if err != nil {
			http.Error(w, "Failed to mint session", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

func paymentsListHandler(adminUC usecase.AdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		if offset < 0 {
			offset = 0
		}

		payments, err := adminUC.ListPayments(ctx, offset, limit)
		if err != nil {
			http.Error(w, "Failed to list payments", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":   payments,
			"limit":  limit,
			"offset": offset,
		})
	}
}
