package relay

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"polyrelay/internal/clob"
	"polyrelay/internal/exchange"
	"polyrelay/internal/ledger"
	"polyrelay/internal/precheck"
	"polyrelay/internal/signer"
)

// 公开的测试私钥（hardhat account #1），不承载任何资产。
const testPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

type fakeOracle struct {
	balance   decimal.Decimal
	allowance decimal.Decimal
	err       error
}

func (f *fakeOracle) Balance(_ context.Context, _ common.Address) (decimal.Decimal, error) {
	return f.balance, f.err
}

func (f *fakeOracle) Allowance(_ context.Context, _, _ common.Address) (decimal.Decimal, error) {
	return f.allowance, f.err
}

type fakeIssuer struct {
	calls int
}

func (f *fakeIssuer) CreateAPIKey(_ context.Context, _ signer.Capability) (exchange.APICredentials, error) {
	f.calls++
	return exchange.APICredentials{Key: "k", Secret: "s", Passphrase: "p"}, nil
}

type fakeSubmitter struct {
	orderID   string
	err       error
	calls     int
	lastOrder *clob.Order
	lastSig   string
	lastCreds exchange.APICredentials
}

func (f *fakeSubmitter) PostOrder(_ context.Context, creds exchange.APICredentials, _ signer.Capability,
	order *clob.Order, signature string, _ exchange.OrderType) (string, error) {
	f.calls++
	f.lastOrder = order
	f.lastSig = signature
	f.lastCreds = creds
	if f.err != nil {
		return "", f.err
	}
	return f.orderID, nil
}

type fakeLedger struct {
	created   []ledger.Trade
	confirmed map[string]string
	failed    map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		confirmed: make(map[string]string),
		failed:    make(map[string]string),
	}
}

func (f *fakeLedger) Create(_ context.Context, t ledger.Trade) (string, error) {
	t.ID = "trade-1"
	f.created = append(f.created, t)
	return t.ID, nil
}

func (f *fakeLedger) MarkConfirmed(_ context.Context, id, orderID string) error {
	f.confirmed[id] = orderID
	return nil
}

func (f *fakeLedger) MarkFailed(_ context.Context, id, reason string) error {
	f.failed[id] = reason
	return nil
}

type pipeline struct {
	svc       *Service
	submitter *fakeSubmitter
	ledger    *fakeLedger
	issuer    *fakeIssuer
	oracle    *fakeOracle
}

func newPipeline(t *testing.T, oracle *fakeOracle, submitter *fakeSubmitter) *pipeline {
	t.Helper()

	capability, err := signer.NewLocalKey(testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalKey returned error: %v", err)
	}

	spender := common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	engine := precheck.NewEngine(oracle, spender, nil)
	builder := clob.NewBuilder(137, spender)
	issuer := &fakeIssuer{}
	creds := exchange.NewCredentialSource(exchange.APICredentials{}, issuer, nil)
	fl := newFakeLedger()

	return &pipeline{
		svc:       NewService(engine, builder, capability, creds, submitter, fl, nil),
		submitter: submitter,
		ledger:    fl,
		issuer:    issuer,
		oracle:    oracle,
	}
}

func buyRequest(price, amount string) Request {
	return Request{
		UserID: "user-1",
		Intent: clob.TradeIntent{
			TokenID: "123456",
			Side:    clob.SideBuy,
			Price:   decimal.RequireFromString(price),
			Amount:  decimal.RequireFromString(amount),
		},
	}
}

func TestExecute_EndToEndBuy(t *testing.T) {
	p := newPipeline(t,
		&fakeOracle{balance: decimal.RequireFromString("50"), allowance: decimal.RequireFromString("100")},
		&fakeSubmitter{orderID: "0xorder1"},
	)

	result := p.svc.Execute(context.Background(), buyRequest("0.5", "10"))

	if !result.Success {
		t.Fatalf("expected success, got error: %v", result.Err)
	}
	if result.OrderID != "0xorder1" {
		t.Errorf("expected venue orderId, got %q", result.OrderID)
	}
	if result.Precheck == nil || !result.Precheck.Allowed {
		t.Error("expected allowed precheck in result")
	}

	order := p.submitter.lastOrder
	if order == nil {
		t.Fatal("expected an order to reach the submitter")
	}
	if got := order.MakerAmount.Int64(); got != 10_000000 {
		t.Errorf("expected makerAmount=10000000, got %d", got)
	}
	if got := order.TakerAmount.Int64(); got != 20_000000 {
		t.Errorf("expected takerAmount=20000000, got %d", got)
	}
	if order.Side.Code() != 0 {
		t.Errorf("expected side=0, got %d", order.Side.Code())
	}
	if p.submitter.lastSig == "" {
		t.Error("expected a signature to reach the submitter")
	}
	if p.submitter.lastCreds.Key != "k" {
		t.Errorf("expected issued credentials, got %+v", p.submitter.lastCreds)
	}

	// 台账从 pending 迁移到 confirmed 并带上交易所订单号。
	if len(p.ledger.created) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(p.ledger.created))
	}
	if got := p.ledger.confirmed["trade-1"]; got != "0xorder1" {
		t.Errorf("expected trade-1 confirmed with 0xorder1, got %q", got)
	}
	if len(p.ledger.failed) != 0 {
		t.Errorf("expected no failed trades, got %v", p.ledger.failed)
	}
}

func TestExecute_ValidationFailsBeforeLedger(t *testing.T) {
	p := newPipeline(t, &fakeOracle{}, &fakeSubmitter{})

	result := p.svc.Execute(context.Background(), buyRequest("0.5", "0"))

	if result.Success {
		t.Fatal("expected validation failure")
	}
	if result.Err.Kind != KindValidation {
		t.Errorf("expected validation kind, got %s", result.Err.Kind)
	}
	if result.Err.Stage != StageIntentReceived {
		t.Errorf("expected INTENT_RECEIVED stage, got %s", result.Err.Stage)
	}
	if len(p.ledger.created) != 0 {
		t.Error("invalid intent must not produce a ledger row")
	}
	if p.submitter.calls != 0 {
		t.Error("invalid intent must never reach submission")
	}
}

func TestExecute_NonNumericTokenIDRejectedUpfront(t *testing.T) {
	p := newPipeline(t, &fakeOracle{}, &fakeSubmitter{})

	req := buyRequest("0.5", "10")
	req.Intent.TokenID = "not-a-token"

	result := p.svc.Execute(context.Background(), req)

	if result.Success {
		t.Fatal("expected validation failure for non-numeric token id")
	}
	if result.Err.Kind != KindValidation {
		t.Errorf("expected validation kind, got %s", result.Err.Kind)
	}
	if result.Err.Stage != StageIntentReceived {
		t.Errorf("non-numeric token id must fail before any work, got stage %s", result.Err.Stage)
	}
	if len(p.ledger.created) != 0 {
		t.Error("non-numeric token id must not produce a ledger row")
	}
	if p.submitter.calls != 0 || p.issuer.calls != 0 {
		t.Error("non-numeric token id must never reach the network")
	}
}

func TestExecute_PrecheckDenialMarksFailed(t *testing.T) {
	p := newPipeline(t,
		&fakeOracle{balance: decimal.RequireFromString("5"), allowance: decimal.RequireFromString("100")},
		&fakeSubmitter{orderID: "0xorder1"},
	)

	result := p.svc.Execute(context.Background(), buyRequest("0.5", "10"))

	if result.Success {
		t.Fatal("expected precheck denial")
	}
	if result.Err.Kind != KindInsufficientFunds {
		t.Errorf("expected insufficient_funds, got %s", result.Err.Kind)
	}
	if result.Err.Details == nil {
		t.Error("expected shortfall details on funds denial")
	}
	if reason := p.ledger.failed["trade-1"]; reason == "" {
		t.Error("expected ledger row marked failed with reason")
	}
	if p.submitter.calls != 0 {
		t.Error("denied trade must never reach submission")
	}
	if p.issuer.calls != 0 {
		t.Error("denied trade must not trigger credential issuance")
	}
}

func TestExecute_OracleOutageIsNetworkKind(t *testing.T) {
	p := newPipeline(t, &fakeOracle{err: errors.New("rpc timeout")}, &fakeSubmitter{})

	result := p.svc.Execute(context.Background(), buyRequest("0.5", "10"))

	if result.Success {
		t.Fatal("expected denial on oracle outage")
	}
	if result.Err.Kind != KindNetwork {
		t.Errorf("expected network kind, got %s", result.Err.Kind)
	}
}

func TestExecute_SubmissionRejection(t *testing.T) {
	p := newPipeline(t,
		&fakeOracle{balance: decimal.RequireFromString("50"), allowance: decimal.RequireFromString("100")},
		&fakeSubmitter{err: &exchange.APIError{Status: http.StatusBadRequest, ErrorMsg: "market closed"}},
	)

	result := p.svc.Execute(context.Background(), buyRequest("0.5", "10"))

	if result.Success {
		t.Fatal("expected submission failure")
	}
	if result.Err.Kind != KindSubmission {
		t.Errorf("expected submission kind, got %s", result.Err.Kind)
	}
	if result.Err.Stage != StageSigned {
		t.Errorf("submission failure happens after SIGNED, got %s", result.Err.Stage)
	}
	if reason := p.ledger.failed["trade-1"]; reason == "" {
		t.Error("expected ledger row marked failed")
	}
}

func TestExecute_TransientSubmissionErrorIsNetworkKind(t *testing.T) {
	p := newPipeline(t,
		&fakeOracle{balance: decimal.RequireFromString("50"), allowance: decimal.RequireFromString("100")},
		&fakeSubmitter{err: &exchange.APIError{Status: http.StatusBadGateway, ErrorMsg: "upstream unavailable"}},
	)

	result := p.svc.Execute(context.Background(), buyRequest("0.5", "10"))

	if result.Success {
		t.Fatal("expected submission failure")
	}
	if result.Err.Kind != KindNetwork {
		t.Errorf("transient errors map to network kind for caller-driven retry, got %s", result.Err.Kind)
	}
	if p.submitter.calls != 1 {
		t.Errorf("the pipeline must not auto-retry, got %d calls", p.submitter.calls)
	}
}

func TestExecute_CredentialsIssuedOncePerIdentity(t *testing.T) {
	p := newPipeline(t,
		&fakeOracle{balance: decimal.RequireFromString("50"), allowance: decimal.RequireFromString("100")},
		&fakeSubmitter{orderID: "0xorder1"},
	)

	for i := 0; i < 3; i++ {
		if result := p.svc.Execute(context.Background(), buyRequest("0.5", "10")); !result.Success {
			t.Fatalf("attempt %d failed: %v", i, result.Err)
		}
	}

	if p.issuer.calls != 1 {
		t.Errorf("expected one credential issuance across attempts, got %d", p.issuer.calls)
	}
}
