package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tollgate-labs/x402/facilitator"
	"github.com/tollgate-labs/x402/types"
	"github.com/tollgate-labs/x402/utils"
)

const testPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeFacilitator is a canned facilitator endpoint. Counters track whether
// the gate crossed the process boundary.
type fakeFacilitator struct {
	verify      types.VerifyResponse
	settle      types.SettleResponse
	verifyCalls atomic.Int64
	settleCalls atomic.Int64

	// failTransport makes both endpoints return 500.
	failTransport bool
	// failSettleTransport makes only /settle return 500.
	failSettleTransport bool
}

func (f *fakeFacilitator) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failTransport {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/verify":
			f.verifyCalls.Add(1)
			json.NewEncoder(w).Encode(f.verify)
		case "/settle":
			f.settleCalls.Add(1)
			if f.failSettleTransport {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(f.settle)
		default:
			t.Errorf("Unexpected facilitator path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestRouter(t *testing.T, cfg Config) (*gin.Engine, *atomic.Int64) {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var handlerCalls atomic.Int64
	router := gin.New()
	router.Use(m.Handler())
	router.GET("/weather", func(c *gin.Context) {
		handlerCalls.Add(1)
		c.Header("X-Forecast-Model", "gfs")
		c.JSON(http.StatusOK, gin.H{"weather": "sunny"})
	})
	router.GET("/free", func(c *gin.Context) {
		c.String(http.StatusOK, "free")
	})
	return router, &handlerCalls
}

func facilitatorConfig(url string) facilitator.Config {
	return facilitator.Config{URL: url}
}

func testConfig(facilitatorURL string) Config {
	return Config{
		Facilitator: facilitatorConfig(facilitatorURL),
		Rules: []RuleConfig{{
			Price:   types.Money("$0.001"),
			PayTo:   testPayTo,
			Paths:   []string{"/weather"},
			Network: "base-sepolia",
		}},
	}
}

func validHeader(t *testing.T) string {
	t.Helper()
	header, err := utils.EncodePaymentHeader(&types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      types.SchemeExact,
		Network:     "base-sepolia",
		Payload: types.ExactPayload{
			Signature: "0xdeadbeef",
			Authorization: types.ExactAuthorization{
				From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:          testPayTo,
				Value:       "1000",
				ValidAfter:  "1716150000",
				ValidBefore: "1716150600",
				Nonce:       "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480",
			},
		},
	})
	if err != nil {
		t.Fatalf("EncodePaymentHeader failed: %v", err)
	}
	return header
}

func decodeChallenge(t *testing.T, rec *httptest.ResponseRecorder) types.PaymentRequiredResponse {
	t.Helper()
	var body types.PaymentRequiredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode 402 body: %v", err)
	}
	return body
}

func TestMissingPaymentHeader(t *testing.T) {
	f := &fakeFacilitator{}
	server := f.server(t)
	defer server.Close()

	router, handlerCalls := newTestRouter(t, testConfig(server.URL))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", rec.Code)
	}
	if handlerCalls.Load() != 0 {
		t.Error("Handler must not run without payment")
	}

	body := decodeChallenge(t, rec)
	if body.X402Version != types.X402Version {
		t.Errorf("Expected x402Version %d, got %d", types.X402Version, body.X402Version)
	}
	if body.Error != "No X-PAYMENT header provided" {
		t.Errorf("Unexpected error string: %q", body.Error)
	}
	if len(body.Accepts) != 1 {
		t.Fatalf("Expected exactly one accepted requirement, got %d", len(body.Accepts))
	}

	req0 := body.Accepts[0]
	if req0.MaxAmountRequired != "1000" {
		t.Errorf("Expected maxAmountRequired 1000 for $0.001, got %s", req0.MaxAmountRequired)
	}
	if req0.Scheme != types.SchemeExact || req0.Network != "base-sepolia" {
		t.Errorf("Unexpected scheme/network: %s/%s", req0.Scheme, req0.Network)
	}
	if req0.PayTo != testPayTo {
		t.Errorf("Unexpected payTo: %s", req0.PayTo)
	}
	if req0.MaxTimeoutSeconds != DefaultMaxTimeoutSeconds {
		t.Errorf("Expected default timeout, got %d", req0.MaxTimeoutSeconds)
	}
	if req0.OutputSchema == nil || req0.Extra == nil {
		t.Error("outputSchema and extra must be present, not null")
	}
	if req0.Resource == "" {
		t.Error("Expected resource to default to the request URL")
	}
}

func TestChallengeWireFormat(t *testing.T) {
	f := &fakeFacilitator{}
	server := f.server(t)
	defer server.Close()

	router, _ := newTestRouter(t, testConfig(server.URL))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather", nil))

	// Field names on the wire are camelCase, and the always-present object
	// fields serialize as {} rather than null.
	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if _, ok := raw["x402Version"]; !ok {
		t.Error("Missing x402Version field")
	}
	accepts, ok := raw["accepts"].([]any)
	if !ok || len(accepts) != 1 {
		t.Fatalf("Malformed accepts: %v", raw["accepts"])
	}
	entry := accepts[0].(map[string]any)
	for _, field := range []string{"maxAmountRequired", "payTo", "maxTimeoutSeconds", "mimeType"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("Missing camelCase field %s", field)
		}
	}
	if entry["outputSchema"] == nil {
		t.Error("outputSchema serialized as null")
	}
	if entry["extra"] == nil {
		t.Error("extra serialized as null")
	}
}

func TestUnmatchedPathPassesThrough(t *testing.T) {
	f := &fakeFacilitator{}
	server := f.server(t)
	defer server.Close()

	router, _ := newTestRouter(t, testConfig(server.URL))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/free", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "free" {
		t.Errorf("Expected body untouched, got %q", rec.Body.String())
	}
	if rec.Header().Get(HeaderPaymentResponse) != "" {
		t.Error("Unmatched request must not carry a payment response header")
	}
	if f.verifyCalls.Load() != 0 || f.settleCalls.Load() != 0 {
		t.Error("Facilitator must not be called for unmatched paths")
	}
}

func TestInvalidPaymentHeader(t *testing.T) {
	f := &fakeFacilitator{}
	server := f.server(t)
	defer server.Close()

	router, handlerCalls := newTestRouter(t, testConfig(server.URL))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(HeaderPayment, "not_base64!!!")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", rec.Code)
	}
	body := decodeChallenge(t, rec)
	if !strings.HasPrefix(body.Error, "Invalid payment header format: ") {
		t.Errorf("Unexpected error string: %q", body.Error)
	}
	if handlerCalls.Load() != 0 {
		t.Error("Handler must not run on malformed payment")
	}
}

func TestNoMatchingRequirements(t *testing.T) {
	f := &fakeFacilitator{verify: types.VerifyResponse{IsValid: true}}
	server := f.server(t)
	defer server.Close()

	router, _ := newTestRouter(t, testConfig(server.URL))

	payload := &types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      types.SchemeExact,
		Network:     "base", // rule accepts base-sepolia
		Payload: types.ExactPayload{
			Signature: "0x1",
			Authorization: types.ExactAuthorization{
				From: "0x1", To: "0x2", Value: "1000", Nonce: "0x3",
			},
		},
	}
	header, err := utils.EncodePaymentHeader(payload)
	if err != nil {
		t.Fatalf("EncodePaymentHeader failed: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(HeaderPayment, header)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", rec.Code)
	}
	if body := decodeChallenge(t, rec); body.Error != "No matching payment requirements found" {
		t.Errorf("Unexpected error string: %q", body.Error)
	}
	if f.verifyCalls.Load() != 0 {
		t.Error("Verify must not be called without matching requirements")
	}
}

func TestVerifyRejected(t *testing.T) {
	f := &fakeFacilitator{verify: types.VerifyResponse{IsValid: false, InvalidReason: "insufficient funds"}}
	server := f.server(t)
	defer server.Close()

	router, handlerCalls := newTestRouter(t, testConfig(server.URL))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(HeaderPayment, validHeader(t))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", rec.Code)
	}
	if body := decodeChallenge(t, rec); body.Error != "Invalid payment: insufficient funds" {
		t.Errorf("Unexpected error string: %q", body.Error)
	}
	if handlerCalls.Load() != 0 {
		t.Error("Handler must not run on rejected payment")
	}
	if f.settleCalls.Load() != 0 {
		t.Error("Settle must not be called for rejected payment")
	}
}

func TestVerifyTransportFailure(t *testing.T) {
	f := &fakeFacilitator{failTransport: true}
	server := f.server(t)
	defer server.Close()

	router, handlerCalls := newTestRouter(t, testConfig(server.URL))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(HeaderPayment, validHeader(t))
	router.ServeHTTP(rec, req)

	// Not a 402: an unreachable verifier is not an invalid payment.
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", rec.Code)
	}
	if handlerCalls.Load() != 0 {
		t.Error("Handler must not run when verification is unavailable")
	}
}

func TestSettledRequest(t *testing.T) {
	f := &fakeFacilitator{
		verify: types.VerifyResponse{IsValid: true, Payer: "0x857b06519E91e3A54538791bDbb0E22373e36b66"},
		settle: types.SettleResponse{
			Success:     true,
			Transaction: "0xabc123",
			Network:     "base-sepolia",
			Payer:       "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		},
	}
	server := f.server(t)
	defer server.Close()

	router, handlerCalls := newTestRouter(t, testConfig(server.URL))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(HeaderPayment, validHeader(t))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if handlerCalls.Load() != 1 {
		t.Errorf("Expected handler to run once, ran %d times", handlerCalls.Load())
	}
	if f.verifyCalls.Load() != 1 || f.settleCalls.Load() != 1 {
		t.Errorf("Expected one verify and one settle call, got %d/%d", f.verifyCalls.Load(), f.settleCalls.Load())
	}

	// Handler output passes through intact.
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["weather"] != "sunny" {
		t.Errorf("Handler body altered: %v", body)
	}
	if rec.Header().Get("X-Forecast-Model") != "gfs" {
		t.Error("Handler headers must survive buffering")
	}

	// Settlement proof rides the response header.
	encoded := rec.Header().Get(HeaderPaymentResponse)
	if encoded == "" {
		t.Fatal("Missing X-PAYMENT-RESPONSE header")
	}
	proof, err := utils.DecodeSettleResponse(encoded)
	if err != nil {
		t.Fatalf("Failed to decode settlement proof: %v", err)
	}
	if !proof.Success || proof.Transaction != "0xabc123" {
		t.Errorf("Unexpected settlement proof: %+v", proof)
	}
}

func TestHandlerSeesPaymentContext(t *testing.T) {
	f := &fakeFacilitator{
		verify: types.VerifyResponse{IsValid: true, Payer: "0xpayer"},
		settle: types.SettleResponse{Success: true},
	}
	server := f.server(t)
	defer server.Close()

	m, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var gotPayer string
	var gotAmount string
	router := gin.New()
	router.Use(m.Handler())
	router.GET("/weather", func(c *gin.Context) {
		if vr, ok := VerifyResponseFromContext(c); ok {
			gotPayer = vr.Payer
		}
		if reqs, ok := RequirementsFromContext(c); ok {
			gotAmount = reqs.MaxAmountRequired
		}
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(HeaderPayment, validHeader(t))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if gotPayer != "0xpayer" {
		t.Errorf("Handler did not see verify response, payer=%q", gotPayer)
	}
	if gotAmount != "1000" {
		t.Errorf("Handler did not see selected requirements, amount=%q", gotAmount)
	}
}

func TestHandlerErrorSkipsSettlement(t *testing.T) {
	f := &fakeFacilitator{verify: types.VerifyResponse{IsValid: true}}
	server := f.server(t)
	defer server.Close()

	m, err := New(Config{
		Facilitator: facilitatorConfig(server.URL),
		Rules: []RuleConfig{{
			Price: types.Money("$0.001"),
			PayTo: testPayTo,
			Paths: []string{"/teapot"},
		}},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	router := gin.New()
	router.Use(m.Handler())
	router.GET("/teapot", func(c *gin.Context) {
		c.String(http.StatusTeapot, "short and stout")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/teapot", nil)
	req.Header.Set(HeaderPayment, validHeader(t))
	router.ServeHTTP(rec, req)

	// Handler's own failure passes through unmodified; no settlement.
	if rec.Code != http.StatusTeapot {
		t.Fatalf("Expected 418 passthrough, got %d", rec.Code)
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("Expected handler body passthrough, got %q", rec.Body.String())
	}
	if f.settleCalls.Load() != 0 {
		t.Error("Settle must not be called for a non-2xx handler response")
	}
	if rec.Header().Get(HeaderPaymentResponse) != "" {
		t.Error("No settlement proof without settlement")
	}
}

func TestResponseBufferOverflow(t *testing.T) {
	f := &fakeFacilitator{
		verify: types.VerifyResponse{IsValid: true},
		settle: types.SettleResponse{Success: true},
	}
	server := f.server(t)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxBufferSize = 16
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	router := gin.New()
	router.Use(m.Handler())
	router.GET("/weather", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("x", 1024))
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(HeaderPayment, validHeader(t))
	router.ServeHTTP(rec, req)

	// An oversized response is never released and never charged for.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 on oversized response, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["error"] != "Response too large to process payment" {
		t.Errorf("Unexpected error body: %v", body)
	}
	if f.settleCalls.Load() != 0 {
		t.Error("Settle must not be called when the response overflows the buffer")
	}
	if rec.Header().Get(HeaderPaymentResponse) != "" {
		t.Error("No settlement proof for an unsettled response")
	}
	if strings.Contains(rec.Body.String(), "xxxx") {
		t.Error("Oversized handler body must not leak to the client")
	}
}

func TestSettleFailureReplacesResponse(t *testing.T) {
	f := &fakeFacilitator{
		verify: types.VerifyResponse{IsValid: true},
		settle: types.SettleResponse{Success: false, ErrorReason: "transaction reverted"},
	}
	server := f.server(t)
	defer server.Close()

	router, handlerCalls := newTestRouter(t, testConfig(server.URL))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(HeaderPayment, validHeader(t))
	router.ServeHTTP(rec, req)

	// The handler ran, but the buffered 2xx is replaced: the client never
	// sees a success it did not pay for.
	if handlerCalls.Load() != 1 {
		t.Errorf("Expected handler to run, ran %d times", handlerCalls.Load())
	}
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402 on settle failure, got %d", rec.Code)
	}
	if body := decodeChallenge(t, rec); body.Error != "Settle failed: transaction reverted" {
		t.Errorf("Unexpected error string: %q", body.Error)
	}
}

func TestSettleTransportFailure(t *testing.T) {
	f := &fakeFacilitator{
		verify:              types.VerifyResponse{IsValid: true},
		failSettleTransport: true,
	}
	server := f.server(t)
	defer server.Close()

	router, _ := newTestRouter(t, testConfig(server.URL))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(HeaderPayment, validHeader(t))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402 on settle transport failure, got %d", rec.Code)
	}
	if body := decodeChallenge(t, rec); body.Error != "Settle failed" {
		t.Errorf("Unexpected error string: %q", body.Error)
	}
}

func TestResourceOverride(t *testing.T) {
	f := &fakeFacilitator{}
	server := f.server(t)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Rules[0].Resource = "https://api.example.com/weather"
	router, _ := newTestRouter(t, cfg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather", nil))

	body := decodeChallenge(t, rec)
	if body.Accepts[0].Resource != "https://api.example.com/weather" {
		t.Errorf("Expected resource override, got %s", body.Accepts[0].Resource)
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	f := &fakeFacilitator{}
	server := f.server(t)
	defer server.Close()

	cfg := Config{
		Facilitator: facilitatorConfig(server.URL),
		Rules: []RuleConfig{
			{Price: types.Money("$0.001"), PayTo: testPayTo, Paths: []string{"/weather"}},
			{Price: types.Money("$5"), PayTo: testPayTo, Paths: []string{"/weather*"}},
		},
	}
	router, _ := newTestRouter(t, cfg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather", nil))

	body := decodeChallenge(t, rec)
	if body.Accepts[0].MaxAmountRequired != "1000" {
		t.Errorf("Expected first rule to win, got amount %s", body.Accepts[0].MaxAmountRequired)
	}
}

func TestNewConfigurationErrors(t *testing.T) {
	valid := RuleConfig{Price: types.Money("$1"), PayTo: testPayTo, Paths: []string{"/x"}}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"bad facilitator URL", Config{Facilitator: facilitatorConfig("ftp://nope"), Rules: []RuleConfig{valid}}},
		{"bad price", Config{Rules: []RuleConfig{{Price: types.Money("$nope"), PayTo: testPayTo}}}},
		{"bad network", Config{Rules: []RuleConfig{{Price: types.Money("$1"), PayTo: testPayTo, Network: "ethereum"}}}},
		{"bad pay-to address", Config{Rules: []RuleConfig{{Price: types.Money("$1"), PayTo: "nope"}}}},
		{"bad regex pattern", Config{Rules: []RuleConfig{{Price: types.Money("$1"), PayTo: testPayTo, Paths: []string{"regex:["}}}}},
		{"nil price", Config{Rules: []RuleConfig{{PayTo: testPayTo}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Error("Expected configuration error, got nil")
			}
		})
	}
}
