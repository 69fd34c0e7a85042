package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"polyrelay/internal/clob"
	"polyrelay/internal/config"
	"polyrelay/internal/signer"
)

// 公开的测试私钥（hardhat account #1），不承载任何资产。
const testPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.ExchangeConfig{BaseURL: baseURL, Timeout: 5 * time.Second}, 137, nil)
}

func testLocalCapability(t *testing.T) signer.Capability {
	t.Helper()
	capability, err := signer.NewLocalKey(testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalKey returned error: %v", err)
	}
	return capability
}

func testOrder() *clob.Order {
	return &clob.Order{
		Salt:        42,
		Maker:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Signer:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TokenID:     "123456",
		MakerAmount: big.NewInt(10_000000),
		TakerAmount: big.NewInt(20_000000),
		Expiration:  1_750_000_000,
		Nonce:       big.NewInt(1),
		Side:        clob.SideBuy,
	}
}

func TestCreateAPIKey_L1Handshake(t *testing.T) {
	capability := testLocalCapability(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != pathCreateAPIKey {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(headerAddress); got != capability.Address().Hex() {
			t.Errorf("expected POLY_ADDRESS=%s, got %s", capability.Address().Hex(), got)
		}
		if r.Header.Get(headerSignature) == "" {
			t.Error("expected POLY_SIGNATURE header")
		}
		if _, err := strconv.ParseInt(r.Header.Get(headerTimestamp), 10, 64); err != nil {
			t.Errorf("POLY_TIMESTAMP is not a unix timestamp: %v", err)
		}
		if got := r.Header.Get(headerNonce); got != "0" {
			t.Errorf("expected POLY_NONCE=0, got %s", got)
		}

		_ = json.NewEncoder(w).Encode(apiKeyResponse{APIKey: "key-1", Secret: "sec-1", Passphrase: "pass-1"})
	}))
	defer srv.Close()

	creds, err := testClient(t, srv.URL).CreateAPIKey(context.Background(), capability)
	if err != nil {
		t.Fatalf("CreateAPIKey returned error: %v", err)
	}
	if creds.Key != "key-1" || creds.Secret != "sec-1" || creds.Passphrase != "pass-1" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestCreateAPIKey_FallsBackToDerive(t *testing.T) {
	capability := testLocalCapability(t)
	var deriveCalled bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathCreateAPIKey:
			// 身份已注册，创建接口报冲突。
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"api key already exists"}`))
		case pathDeriveAPIKey:
			deriveCalled = true
			if r.Method != http.MethodGet {
				t.Errorf("derive must be GET, got %s", r.Method)
			}
			_ = json.NewEncoder(w).Encode(apiKeyResponse{APIKey: "key-2", Secret: "sec-2", Passphrase: "pass-2"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	creds, err := testClient(t, srv.URL).CreateAPIKey(context.Background(), capability)
	if err != nil {
		t.Fatalf("CreateAPIKey returned error: %v", err)
	}
	if !deriveCalled {
		t.Fatal("expected fallback to derive endpoint")
	}
	if creds.Key != "key-2" {
		t.Errorf("expected derived credentials, got %+v", creds)
	}
}

func TestPostOrder_SubmitsSignedOrder(t *testing.T) {
	capability := testLocalCapability(t)
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret"))
	creds := APICredentials{Key: "key-1", Secret: secret, Passphrase: "pass-1"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathPostOrder {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get(headerAPIKey); got != creds.Key {
			t.Errorf("expected POLY_API_KEY=%s, got %s", creds.Key, got)
		}
		if got := r.Header.Get(headerPassphrase); got != creds.Passphrase {
			t.Errorf("expected POLY_PASSPHRASE=%s, got %s", creds.Passphrase, got)
		}

		var req newOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding order body failed: %v", err)
		}
		if req.Owner != creds.Key {
			t.Errorf("expected owner=%s, got %s", creds.Key, req.Owner)
		}
		if req.OrderType != OrderTypeGTC {
			t.Errorf("expected default orderType GTC, got %s", req.OrderType)
		}
		if req.Order.MakerAmount != "10000000" || req.Order.TakerAmount != "20000000" {
			t.Errorf("unexpected amounts: %s/%s", req.Order.MakerAmount, req.Order.TakerAmount)
		}
		if req.Order.Side != clob.SideBuy {
			t.Errorf("expected side BUY, got %s", req.Order.Side)
		}
		if req.Order.Signature != "0xdeadbeef" {
			t.Errorf("expected signature to pass through, got %s", req.Order.Signature)
		}
		if req.Order.Taker != (common.Address{}).Hex() {
			t.Errorf("expected zero taker, got %s", req.Order.Taker)
		}

		_ = json.NewEncoder(w).Encode(orderResponse{Success: true, OrderID: "0xorder1"})
	}))
	defer srv.Close()

	orderID, err := testClient(t, srv.URL).PostOrder(context.Background(), creds, capability, testOrder(), "0xdeadbeef", "")
	if err != nil {
		t.Fatalf("PostOrder returned error: %v", err)
	}
	if orderID != "0xorder1" {
		t.Errorf("expected orderID 0xorder1, got %s", orderID)
	}
}

func TestPostOrder_RejectionCarriesDetail(t *testing.T) {
	capability := testLocalCapability(t)
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret"))
	creds := APICredentials{Key: "key-1", Secret: secret, Passphrase: "pass-1"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(orderResponse{Success: false, ErrorMsg: "market closed"})
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).PostOrder(context.Background(), creds, capability, testOrder(), "0xdeadbeef", OrderTypeGTC)
	if err == nil {
		t.Fatal("expected rejection error")
	}
	var rejErr *RejectionError
	if !errors.As(err, &rejErr) {
		t.Fatalf("expected *RejectionError, got %T: %v", err, err)
	}
	if rejErr.ErrorMsg != "market closed" {
		t.Errorf("expected exchange detail to be retained, got %q", rejErr.ErrorMsg)
	}
	// 拒单不是传输问题，错误文案不得冒充 HTTP 状态。
	if strings.Contains(err.Error(), "status=200") {
		t.Errorf("rejection must not read like an HTTP success: %q", err.Error())
	}
	if IsRetryable(err) {
		t.Error("a business rejection is not retryable")
	}
}

func TestHMACSignature_Deterministic(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret"))

	first, err := buildHMACSignature(secret, 1_750_000_000, http.MethodPost, pathPostOrder, `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMACSignature returned error: %v", err)
	}
	second, err := buildHMACSignature(secret, 1_750_000_000, http.MethodPost, pathPostOrder, `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMACSignature returned error: %v", err)
	}
	if first != second {
		t.Error("same inputs must produce the same HMAC")
	}

	changed, err := buildHMACSignature(secret, 1_750_000_001, http.MethodPost, pathPostOrder, `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMACSignature returned error: %v", err)
	}
	if changed == first {
		t.Error("timestamp must be part of the signed payload")
	}

	if _, err := buildHMACSignature("not base64!!", 1, http.MethodGet, "/", ""); err == nil {
		t.Error("expected error for malformed secret")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&APIError{Status: http.StatusTooManyRequests}, true},
		{&APIError{Status: http.StatusBadGateway}, true},
		{&APIError{Status: http.StatusBadRequest}, false},
		{context.DeadlineExceeded, true},
	}

	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
