package payment

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/config"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.StkGateway = (*DarajaGateway)(nil)

const (
	tokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	initiateRetries = 2
	initiateBackoff = 2 * time.Second
)

// Shortcode mapping strategies, tried in order. A business running both a
// paybill and an aggregator-style till needs the head-office mapping first;
// whichever succeeds is carried on the result so status queries stay
// symmetric.
const (
	StrategyHeadOffice = "head_office"
	StrategyStore      = "store"
)

// DarajaGateway implements the STK push port against the Safaricom Daraja API.
type DarajaGateway struct {
	cfg    config.DarajaConfig
	dev    bool
	client *http.Client
	log    *zerolog.Logger

	mu     sync.Mutex
	tokens map[string]cachedToken // keyed by consumer key
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

func NewDarajaGateway(cfg config.DarajaConfig, dev bool, logger *zerolog.Logger) *DarajaGateway {
	l := logger.With().Str("component", "DarajaGateway").Logger()
	return &DarajaGateway{
		cfg:    cfg,
		dev:    dev,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    &l,
		tokens: make(map[string]cachedToken),
	}
}

func (g *DarajaGateway) Name() string { return "daraja" }

// shortcodeStrategy describes one way of mapping a credential set onto the
// STK push party fields.
type shortcodeStrategy struct {
	name            string
	businessShort   string
	partyB          string
	transactionType string
	passkeyShort    string // shortcode used in the password hash
}

func strategiesFor(creds *model.DarajaCredentials) []shortcodeStrategy {
	out := []shortcodeStrategy{{
		name:            StrategyHeadOffice,
		businessShort:   creds.Shortcode,
		partyB:          creds.Shortcode,
		transactionType: "CustomerPayBillOnline",
		passkeyShort:    creds.Shortcode,
	}}
	if creds.StoreNumber != "" {
		out = append(out, shortcodeStrategy{
			name:            StrategyStore,
			businessShort:   creds.Shortcode,
			partyB:          creds.StoreNumber,
			transactionType: "CustomerBuyGoodsOnline",
			passkeyShort:    creds.Shortcode,
		})
	}
	return out
}

func (g *DarajaGateway) credentialsFor(scope adapter.CredentialScope, creds *model.DarajaCredentials) *model.DarajaCredentials {
	if scope == adapter.ScopeBusiness && creds != nil {
		return creds
	}
	return &model.DarajaCredentials{
		ConsumerKey:    g.cfg.ConsumerKey,
		ConsumerSecret: g.cfg.ConsumerSecret,
		Shortcode:      g.cfg.Shortcode,
		StoreNumber:    g.cfg.StoreNumber,
		Passkey:        g.cfg.Passkey,
	}
}

func (g *DarajaGateway) InitiateStkPush(ctx context.Context, req adapter.StkPushRequest) (*adapter.StkPushResult, error) {
	if g.cfg.Simulate {
		return g.simulatePush(req), nil
	}

	creds := g.credentialsFor(req.Scope, req.Credentials)
	var lastMsg string
	for _, strat := range strategiesFor(creds) {
		res, transportErr := g.pushWithStrategy(ctx, creds, strat, req)
		if transportErr != nil {
			// Bounded retry on transport failures only; gateway declines are
			// final for this strategy.
			for i := 0; i < initiateRetries && transportErr != nil; i++ {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(initiateBackoff):
				}
				res, transportErr = g.pushWithStrategy(ctx, creds, strat, req)
			}
		}
		if transportErr != nil {
			g.log.Warn().Err(transportErr).Str("strategy", strat.name).Msg("stk push transport failure")
			lastMsg = "gateway unreachable, try again later"
			continue
		}
		if res.OK {
			return res, nil
		}
		lastMsg = res.Message
		g.log.Info().Str("strategy", strat.name).Str("message", res.Message).Msg("stk push declined, trying next mapping")
	}

	// Debug fallback: only when simulate AND dev mode are both on. A
	// transient failure alone never flips us into simulation.
	if g.cfg.Simulate && g.dev {
		return g.simulatePush(req), nil
	}
	if lastMsg == "" {
		lastMsg = "stk push rejected by gateway"
	}
	return &adapter.StkPushResult{OK: false, Message: lastMsg}, nil
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func (g *DarajaGateway) pushWithStrategy(ctx context.Context, creds *model.DarajaCredentials, strat shortcodeStrategy, req adapter.StkPushRequest) (*adapter.StkPushResult, error) {
	token, err := g.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	body := map[string]interface{}{
		"BusinessShortCode": strat.businessShort,
		"Password":          darajaPassword(strat.passkeyShort, creds.Passkey, timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   strat.transactionType,
		"Amount":            req.Amount,
		"PartyA":            req.Phone,
		"PartyB":            strat.partyB,
		"PhoneNumber":       req.Phone,
		"CallBackURL":       g.cfg.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.Description,
	}

	var parsed stkPushResponse
	raw, status, err := g.postJSON(ctx, stkPushPath, token, body, &parsed)
	if err != nil {
		return nil, err
	}

	if status < 200 || status >= 300 || parsed.ResponseCode != "0" {
		msg := parsed.ErrorMessage
		if msg == "" {
			msg = parsed.ResponseDescription
		}
		if msg == "" {
			msg = fmt.Sprintf("gateway responded with status %d", status)
		}
		return &adapter.StkPushResult{OK: false, Message: msg, Strategy: strat.name, Raw: raw}, nil
	}

	return &adapter.StkPushResult{
		OK:                true,
		CheckoutRequestID: parsed.CheckoutRequestID,
		MerchantRequestID: parsed.MerchantRequestID,
		Message:           parsed.CustomerMessage,
		Strategy:          strat.name,
		Raw:               raw,
	}, nil
}

type stkQueryResponse struct {
	ResponseCode       string `json:"ResponseCode"`
	ResultCode         string `json:"ResultCode"`
	ResultDesc         string `json:"ResultDesc"`
	CheckoutRequestID  string `json:"CheckoutRequestID"`
	MpesaReceiptNumber string `json:"MpesaReceiptNumber"`
	ErrorCode          string `json:"errorCode"`
	ErrorMessage       string `json:"errorMessage"`
}

func (g *DarajaGateway) QueryStatus(ctx context.Context, checkoutRequestID, strategy string, scope adapter.CredentialScope, creds *model.DarajaCredentials) (*adapter.StkQueryResult, error) {
	if g.cfg.Simulate {
		return g.simulateQuery(checkoutRequestID), nil
	}

	c := g.credentialsFor(scope, creds)
	short := c.Shortcode
	_ = strategy // both strategies hash the head-office shortcode; kept for symmetry

	token, err := g.accessToken(ctx, c)
	if err != nil {
		// Ambiguous network conditions mean "ask again later".
		g.log.Warn().Err(err).Str("checkout_request_id", checkoutRequestID).Msg("status query token fetch failed, treating as pending")
		return &adapter.StkQueryResult{Pending: true}, nil
	}

	timestamp := time.Now().Format("20060102150405")
	body := map[string]interface{}{
		"BusinessShortCode": short,
		"Password":          darajaPassword(short, c.Passkey, timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var parsed stkQueryResponse
	_, status, err := g.postJSON(ctx, stkQueryPath, token, body, &parsed)
	if err != nil {
		g.log.Warn().Err(err).Str("checkout_request_id", checkoutRequestID).Msg("status query transport failure, treating as pending")
		return &adapter.StkQueryResult{Pending: true}, nil
	}

	// The gateway answers "transaction is being processed" with an error
	// envelope; that is a pending sentinel, not a verdict.
	if status < 200 || status >= 300 || parsed.ResultCode == "" {
		return &adapter.StkQueryResult{Pending: true}, nil
	}

	rc, err := strconv.Atoi(parsed.ResultCode)
	if err != nil {
		return &adapter.StkQueryResult{Pending: true}, nil
	}
	return &adapter.StkQueryResult{
		ResultCode: rc,
		ResultDesc: parsed.ResultDesc,
		Receipt:    parsed.MpesaReceiptNumber,
	}, nil
}

// accessToken fetches (or reuses) an OAuth client-credentials token.
func (g *DarajaGateway) accessToken(ctx context.Context, creds *model.DarajaCredentials) (string, error) {
	g.mu.Lock()
	if t, ok := g.tokens[creds.ConsumerKey]; ok && time.Now().Before(t.expiresAt) {
		g.mu.Unlock()
		return t.value, nil
	}
	g.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("token decode: %w", err)
	}
	ttl := 3500 * time.Second
	if secs, err := strconv.Atoi(parsed.ExpiresIn); err == nil && secs > 60 {
		ttl = time.Duration(secs-60) * time.Second
	}

	g.mu.Lock()
	g.tokens[creds.ConsumerKey] = cachedToken{value: parsed.AccessToken, expiresAt: time.Now().Add(ttl)}
	g.mu.Unlock()
	return parsed.AccessToken, nil
}

func (g *DarajaGateway) postJSON(ctx context.Context, path, token string, body map[string]interface{}, out interface{}) (map[string]interface{}, int, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("unmarshal response: %w, body: %s", err, string(data))
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(data, &raw)
	return raw, resp.StatusCode, nil
}

// darajaPassword is base64(shortcode + passkey + timestamp).
func darajaPassword(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// simulatePush synthesizes a deterministic success response for environments
// without gateway credentials. Ids derive from the request fields so repeated
// runs line up.
func (g *DarajaGateway) simulatePush(req adapter.StkPushRequest) *adapter.StkPushResult {
	seed := fmt.Sprintf("%s|%d|%s", req.Phone, req.Amount, req.AccountReference)
	sum := sha1.Sum([]byte(seed))
	suffix := hex.EncodeToString(sum[:6])
	return &adapter.StkPushResult{
		OK:                true,
		CheckoutRequestID: "SIM-CHECKOUT-" + suffix,
		MerchantRequestID: "SIM-MERCHANT-" + suffix,
		Message:           "Simulated STK push accepted",
		Strategy:          StrategyHeadOffice,
		Raw:               map[string]interface{}{"simulated": true},
	}
}

func (g *DarajaGateway) simulateQuery(checkoutRequestID string) *adapter.StkQueryResult {
	sum := sha1.Sum([]byte(checkoutRequestID))
	return &adapter.StkQueryResult{
		ResultCode: 0,
		ResultDesc: "Simulated: the service request is processed successfully.",
		Receipt:    "SIM" + hex.EncodeToString(sum[:4]),
	}
}
