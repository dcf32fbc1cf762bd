//go:build !integration

package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/config"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/adapter"
)

func testGateway(baseURL string, simulate, dev bool) *DarajaGateway {
	l := zerolog.New(io.Discard)
	return NewDarajaGateway(config.DarajaConfig{
		BaseURL:        baseURL,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		Shortcode:      "600000",
		StoreNumber:    "600111",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/cb",
		Timeout:        2 * time.Second,
		Simulate:       simulate,
	}, dev, &l)
}

// darajaStub serves the token endpoint plus scripted push/query responses.
type darajaStub struct {
	pushResponses  []func(body map[string]interface{}) (int, interface{})
	queryResponse  func() (int, interface{})
	pushCalls      int
	lastPushBodies []map[string]interface{}
}

func (s *darajaStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/oauth/v1/generate"):
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
		case r.URL.Path == "/mpesa/stkpush/v1/processrequest":
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			s.lastPushBodies = append(s.lastPushBodies, body)
			idx := s.pushCalls
			s.pushCalls++
			if idx >= len(s.pushResponses) {
				idx = len(s.pushResponses) - 1
			}
			status, resp := s.pushResponses[idx](body)
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(resp)
		case r.URL.Path == "/mpesa/stkpushquery/v1/query":
			status, resp := s.queryResponse()
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
}

func acceptedPush(map[string]interface{}) (int, interface{}) {
	return http.StatusOK, map[string]string{
		"MerchantRequestID":   "mr-1",
		"CheckoutRequestID":   "ws_CO_STUB1",
		"ResponseCode":        "0",
		"ResponseDescription": "Success. Request accepted for processing",
		"CustomerMessage":     "Success. Request accepted for processing",
	}
}

func declinedPush(map[string]interface{}) (int, interface{}) {
	return http.StatusBadRequest, map[string]string{
		"errorCode":    "500.001.1001",
		"errorMessage": "Wrong credentials",
	}
}

func TestInitiateStkPush_HeadOfficeAccepted(t *testing.T) {
	stub := &darajaStub{pushResponses: []func(map[string]interface{}) (int, interface{}){acceptedPush}}
	srv := stub.server(t)
	defer srv.Close()

	g := testGateway(srv.URL, false, false)
	res, err := g.InitiateStkPush(context.Background(), adapter.StkPushRequest{
		Phone:            "254700000001",
		Amount:           3500,
		AccountReference: "SUB-1",
		Scope:            adapter.ScopePlatform,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected OK, got message %q", res.Message)
	}
	if res.Strategy != StrategyHeadOffice {
		t.Errorf("strategy = %s, want head_office first", res.Strategy)
	}
	if res.CheckoutRequestID != "ws_CO_STUB1" {
		t.Errorf("checkout id = %s", res.CheckoutRequestID)
	}
	if stub.pushCalls != 1 {
		t.Errorf("push calls = %d, want 1 (no fallback after acceptance)", stub.pushCalls)
	}

	body := stub.lastPushBodies[0]
	if body["TransactionType"] != "CustomerPayBillOnline" {
		t.Errorf("head office mapping must use CustomerPayBillOnline, got %v", body["TransactionType"])
	}
	if body["PartyB"] != "600000" {
		t.Errorf("PartyB = %v, want shortcode", body["PartyB"])
	}
}

func TestInitiateStkPush_FallsBackToStoreMapping(t *testing.T) {
	stub := &darajaStub{pushResponses: []func(map[string]interface{}) (int, interface{}){declinedPush, acceptedPush}}
	srv := stub.server(t)
	defer srv.Close()

	g := testGateway(srv.URL, false, false)
	res, err := g.InitiateStkPush(context.Background(), adapter.StkPushRequest{
		Phone:  "254700000001",
		Amount: 250,
		Scope:  adapter.ScopePlatform,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected store fallback to succeed, got %q", res.Message)
	}
	if res.Strategy != StrategyStore {
		t.Errorf("strategy = %s, want store", res.Strategy)
	}
	if stub.pushCalls != 2 {
		t.Fatalf("push calls = %d, want 2", stub.pushCalls)
	}
	second := stub.lastPushBodies[1]
	if second["TransactionType"] != "CustomerBuyGoodsOnline" {
		t.Errorf("store mapping must use CustomerBuyGoodsOnline, got %v", second["TransactionType"])
	}
	if second["PartyB"] != "600111" {
		t.Errorf("store PartyB = %v, want store number", second["PartyB"])
	}
	if second["BusinessShortCode"] != "600000" {
		t.Errorf("store mapping must keep head office BusinessShortCode, got %v", second["BusinessShortCode"])
	}
}

func TestInitiateStkPush_DeclineIsNotAnError(t *testing.T) {
	stub := &darajaStub{pushResponses: []func(map[string]interface{}) (int, interface{}){declinedPush, declinedPush}}
	srv := stub.server(t)
	defer srv.Close()

	g := testGateway(srv.URL, false, false)
	res, err := g.InitiateStkPush(context.Background(), adapter.StkPushRequest{
		Phone: "254700000001", Amount: 100, Scope: adapter.ScopePlatform,
	})
	if err != nil {
		t.Fatalf("a decline must not be a Go error: %v", err)
	}
	if res.OK {
		t.Fatal("expected OK=false after both mappings declined")
	}
	if res.Message == "" {
		t.Error("expected the gateway message to surface")
	}
}

func TestInitiateStkPush_NoSimulationOutsideDevMode(t *testing.T) {
	stub := &darajaStub{pushResponses: []func(map[string]interface{}) (int, interface{}){declinedPush, declinedPush}}
	srv := stub.server(t)
	defer srv.Close()

	// Simulate off, dev on: declines stay declines.
	g := testGateway(srv.URL, false, true)
	res, err := g.InitiateStkPush(context.Background(), adapter.StkPushRequest{
		Phone: "254700000001", Amount: 100, Scope: adapter.ScopePlatform,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK {
		t.Fatal("dev mode alone must never flip into simulation")
	}
}

func TestInitiateStkPush_SimulateMode(t *testing.T) {
	g := testGateway("http://127.0.0.1:1", true, false)
	req := adapter.StkPushRequest{Phone: "254700000001", Amount: 3500, AccountReference: "SUB-1"}

	res, err := g.InitiateStkPush(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK || !strings.HasPrefix(res.CheckoutRequestID, "SIM-CHECKOUT-") {
		t.Fatalf("expected simulated acceptance, got %+v", res)
	}
	// Deterministic: same request, same ids.
	res2, _ := g.InitiateStkPush(context.Background(), req)
	if res.CheckoutRequestID != res2.CheckoutRequestID {
		t.Error("simulated ids must be deterministic per request")
	}
}

func TestQueryStatus_ProcessingEnvelopeIsPending(t *testing.T) {
	stub := &darajaStub{queryResponse: func() (int, interface{}) {
		return http.StatusInternalServerError, map[string]string{
			"errorCode":    "500.001.1001",
			"errorMessage": "The transaction is being processed",
		}
	}}
	srv := stub.server(t)
	defer srv.Close()

	g := testGateway(srv.URL, false, false)
	q, err := g.QueryStatus(context.Background(), "ws_CO_1", StrategyHeadOffice, adapter.ScopePlatform, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Pending {
		t.Fatal("processing envelope must map to pending")
	}
}

func TestQueryStatus_TransportFailureIsPending(t *testing.T) {
	g := testGateway("http://127.0.0.1:1", false, false)
	q, err := g.QueryStatus(context.Background(), "ws_CO_1", StrategyHeadOffice, adapter.ScopePlatform, nil)
	if err != nil {
		t.Fatalf("transport failure must not surface as an error: %v", err)
	}
	if !q.Pending {
		t.Fatal("transport failure must map to pending, never a verdict")
	}
}

func TestQueryStatus_ConclusiveOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		resultCode string
		receipt    string
		wantRC     int
	}{
		{"success", "0", "SFCQRY001", 0},
		{"user cancelled", "1032", "", 1032},
		{"insufficient funds", "1", "", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &darajaStub{queryResponse: func() (int, interface{}) {
				return http.StatusOK, map[string]string{
					"ResponseCode":       "0",
					"ResultCode":         tc.resultCode,
					"ResultDesc":         "desc",
					"MpesaReceiptNumber": tc.receipt,
				}
			}}
			srv := stub.server(t)
			defer srv.Close()

			g := testGateway(srv.URL, false, false)
			q, err := g.QueryStatus(context.Background(), "ws_CO_1", StrategyHeadOffice, adapter.ScopePlatform, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Pending {
				t.Fatal("conclusive answer reported pending")
			}
			if q.ResultCode != tc.wantRC {
				t.Errorf("result code = %d, want %d", q.ResultCode, tc.wantRC)
			}
			if q.Receipt != tc.receipt {
				t.Errorf("receipt = %q, want %q", q.Receipt, tc.receipt)
			}
		})
	}
}

func TestQueryStatus_BusinessScopeUsesBusinessCredentials(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/oauth/v1/generate") {
			sawAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ResponseCode": "0", "ResultCode": "0", "ResultDesc": "ok"})
	}))
	defer srv.Close()

	g := testGateway(srv.URL, false, false)
	creds := &model.DarajaCredentials{ConsumerKey: "bizkey", ConsumerSecret: "bizsecret", Shortcode: "700700", Passkey: "bizpass"}
	if _, err := g.QueryStatus(context.Background(), "ws_CO_1", StrategyHeadOffice, adapter.ScopeBusiness, creds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("bizkey:bizsecret"))
	if sawAuth != want {
		t.Errorf("token request used %q, want business credentials", sawAuth)
	}
}

func TestDarajaPassword(t *testing.T) {
	got := darajaPassword("174379", "key", "20240101120000")
	want := base64.StdEncoding.EncodeToString([]byte("174379key20240101120000"))
	if got != want {
		t.Errorf("password = %q, want %q", got, want)
	}
}
