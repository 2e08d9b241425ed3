package market_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betledger/internal/amm"
	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/ledger"
	"github.com/alanyoungcy/betledger/internal/market"
	"github.com/alanyoungcy/betledger/internal/store/memstore"
)

const usd = "USD"

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Notify(_ context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type memPrices struct {
	mu     sync.Mutex
	prices map[string][]*big.Int
}

func (c *memPrices) SetPrices(_ context.Context, id string, prices []*big.Int, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prices == nil {
		c.prices = make(map[string][]*big.Int)
	}
	c.prices[id] = prices
	return nil
}

func (c *memPrices) GetPrices(_ context.Context, id string) ([]*big.Int, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[id]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

type fixture struct {
	store   *memstore.Store
	ledger  *ledger.Service
	markets *market.Service
	events  *recordingPublisher
	prices  *memPrices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := &recordingPublisher{}
	prices := &memPrices{}
	cfg := market.Config{DefaultFee: decimal.Zero, DefaultCollateral: usd}
	return &fixture{
		store:   store,
		ledger:  ledger.NewService(store, nil, logger),
		markets: market.NewService(store, cfg, events, prices, store, nil, logger),
		events:  events,
		prices:  prices,
	}
}

func (f *fixture) fund(t *testing.T, user string, amount int64) {
	t.Helper()
	if err := f.ledger.Mint(context.Background(), domain.UserAccount(user), big.NewInt(amount), usd); err != nil {
		t.Fatalf("Mint(%s): %v", user, err)
	}
}

func (f *fixture) balance(t *testing.T, acct domain.Account, symbol string) int64 {
	t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), acct, symbol)
	if err != nil {
		t.Fatalf("BalanceOf(%s, %s): %v", acct, symbol, err)
	}
	return bal.Int64()
}

func (f *fixture) supply(t *testing.T, symbol string) int64 {
	t.Helper()
	total, err := f.ledger.TotalSupply(context.Background(), symbol)
	if err != nil {
		t.Fatalf("TotalSupply(%s): %v", symbol, err)
	}
	return total.Int64()
}

func (f *fixture) status(t *testing.T, id string) domain.MarketStatus {
	t.Helper()
	m, err := f.markets.GetMarket(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	return m.Status
}

// funded creates a two-outcome market with oracle "oracle", fee rate fee and
// 100 of equal liquidity from alice.
func (f *fixture) funded(t *testing.T, fee string) domain.Market {
	t.Helper()
	ctx := context.Background()
	m, err := f.markets.CreateMarket(ctx, market.CreateParams{
		ID:       "m1",
		Question: "will it rain?",
		Outcomes: 2,
		FeeRate:  decimal.NewNullDecimal(decimal.RequireFromString(fee)),
		Oracle:   "oracle",
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	f.fund(t, "alice", 100)
	if _, err := f.markets.AddLiquidity(ctx, m.ID, "alice", big.NewInt(100), nil); err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}
	return m
}

func (f *fixture) buy(t *testing.T, m domain.Market, who string, outcome int, inv int64) market.TradeResult {
	t.Helper()
	res, err := f.markets.Buy(context.Background(), market.BuyParams{
		MarketID: m.ID, Buyer: who, Outcome: outcome, Investment: big.NewInt(inv),
	})
	if err != nil {
		t.Fatalf("Buy(%s): %v", who, err)
	}
	return res
}

func ints(vs []*big.Int) []int64 {
	out := make([]int64, len(vs))
	for i, v := range vs {
		out[i] = v.Int64()
	}
	return out
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Test: CreateMarket
// ============================================================================

func TestCreateMarket_DefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.markets.CreateMarket(ctx, market.CreateParams{Question: "q", Outcomes: 3})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if m.ID == "" {
		t.Error("expected a generated id")
	}
	if m.Collateral != usd {
		t.Errorf("collateral: got %q, want %q", m.Collateral, usd)
	}
	if m.Outcomes() != 3 || m.OutcomeSymbols[2] != domain.OutcomeSymbol(m.ID, 2) {
		t.Errorf("symbols: got %v", m.OutcomeSymbols)
	}
	if m.Status != domain.MarketStatusCreated {
		t.Errorf("status: got %s, want created", m.Status)
	}

	tests := []struct {
		name string
		p    market.CreateParams
		want error
	}{
		{"one outcome", market.CreateParams{Outcomes: 1}, domain.ErrInvalidMarket},
		{"symbol count mismatch", market.CreateParams{Outcomes: 3, OutcomeSymbols: []string{"A", "B"}}, domain.ErrInvalidMarket},
		{"fee of one", market.CreateParams{Outcomes: 2, FeeRate: decimal.NewNullDecimal(decimal.NewFromInt(1))}, domain.ErrInvalidFee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.markets.CreateMarket(ctx, tt.p); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := f.markets.CreateMarket(ctx, market.CreateParams{ID: m.ID, Outcomes: 2}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate id: got %v, want ErrAlreadyExists", err)
	}
}

// ============================================================================
// Test: AddLiquidity
// ============================================================================

func TestAddLiquidity_EqualSplitFundsEveryOutcome(t *testing.T) {
	f := newFixture(t)
	m := f.funded(t, "0")

	pool, err := f.markets.Pool(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if got := ints(pool); !equal(got, []int64{100, 100}) {
		t.Errorf("pool: got %v, want [100 100]", got)
	}
	if got := f.balance(t, m.PoolAccount(), usd); got != 100 {
		t.Errorf("pool collateral: got %d, want 100", got)
	}
	if got := f.balance(t, domain.UserAccount("alice"), usd); got != 0 {
		t.Errorf("alice collateral: got %d, want 0", got)
	}
	if got := f.status(t, m.ID); got != domain.MarketStatusTrading {
		t.Errorf("status: got %s, want trading", got)
	}

	snap, err := f.markets.Prices(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	half := new(big.Int).Div(big.NewInt(1e18), big.NewInt(2))
	for i, p := range snap.Marginal {
		if p.Cmp(half) != 0 {
			t.Errorf("marginal[%d]: got %s, want %s", i, p, half)
		}
	}
}

func TestAddLiquidity_HintSendsBackSurplus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.markets.CreateMarket(ctx, market.CreateParams{ID: "m1", Outcomes: 2})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	f.fund(t, "alice", 90)

	res, err := f.markets.AddLiquidity(ctx, m.ID, "alice", big.NewInt(90), []*big.Int{big.NewInt(9), big.NewInt(1)})
	if err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}
	if got := ints(res.SentBack); !equal(got, []int64{0, 80}) {
		t.Errorf("sent back: got %v, want [0 80]", got)
	}
	if got := ints(res.Pool); !equal(got, []int64{90, 10}) {
		t.Errorf("pool: got %v, want [90 10]", got)
	}
	if got := f.balance(t, domain.UserAccount("alice"), m.OutcomeSymbols[1]); got != 80 {
		t.Errorf("alice outcome 1: got %d, want 80", got)
	}

	// A funded pool keeps its prices.
	f.fund(t, "bob", 10)
	_, err = f.markets.AddLiquidity(ctx, m.ID, "bob", big.NewInt(10), []*big.Int{big.NewInt(1), big.NewInt(1)})
	if !errors.Is(err, domain.ErrHintNotAllowed) {
		t.Errorf("hint on funded pool: got %v, want ErrHintNotAllowed", err)
	}
	if got := f.balance(t, domain.UserAccount("bob"), usd); got != 10 {
		t.Errorf("bob collateral after rejected deposit: got %d, want 10", got)
	}
}

func TestAddLiquidity_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")

	if _, err := f.markets.AddLiquidity(ctx, "nope", "alice", big.NewInt(1), nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market: got %v, want ErrNotFound", err)
	}
	if _, err := f.markets.AddLiquidity(ctx, m.ID, "alice", big.NewInt(0), nil); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := f.markets.AddLiquidity(ctx, m.ID, "bob", big.NewInt(5), nil); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("unfunded provider: got %v, want ErrInsufficientFunds", err)
	}
}

// ============================================================================
// Test: Buy / Sell
// ============================================================================

func TestBuy_MovesTokensAndCollateral(t *testing.T) {
	f := newFixture(t)
	m := f.funded(t, "0")
	f.fund(t, "bob", 100)

	res := f.buy(t, m, "bob", 0, 10)
	if got := res.OutcomeTokens.Int64(); got != 19 {
		t.Errorf("bought: got %d, want 19", got)
	}
	if got := ints(res.Pool); !equal(got, []int64{91, 110}) {
		t.Errorf("pool: got %v, want [91 110]", got)
	}
	if got := f.balance(t, domain.UserAccount("bob"), m.OutcomeSymbols[0]); got != 19 {
		t.Errorf("bob outcome 0: got %d, want 19", got)
	}
	if got := f.balance(t, domain.UserAccount("bob"), usd); got != 90 {
		t.Errorf("bob collateral: got %d, want 90", got)
	}

	// Every outcome's supply matches the collateral backing it.
	for _, sym := range m.OutcomeSymbols {
		if got := f.supply(t, sym); got != 110 {
			t.Errorf("supply of %s: got %d, want 110", sym, got)
		}
	}
	if got := f.balance(t, m.PoolAccount(), usd); got != 110 {
		t.Errorf("pool collateral: got %d, want 110", got)
	}

	cached, _, err := f.markets.CachedPrices(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("CachedPrices: %v", err)
	}
	if cached[0].Cmp(cached[1]) <= 0 {
		t.Errorf("bought outcome should be dearer: got %v", cached)
	}
}

func TestBuy_FeeGoesToFeeWallet(t *testing.T) {
	f := newFixture(t)
	m := f.funded(t, "0.1")
	f.fund(t, "bob", 10)

	res := f.buy(t, m, "bob", 0, 10)
	if got := res.Fee.Int64(); got != 1 {
		t.Errorf("fee: got %d, want 1", got)
	}
	if got := res.OutcomeTokens.Int64(); got != 17 {
		t.Errorf("bought: got %d, want 17", got)
	}
	if got := f.balance(t, m.FeeAccount(), usd); got != 1 {
		t.Errorf("fee wallet: got %d, want 1", got)
	}
	if got := f.balance(t, m.PoolAccount(), usd); got != 109 {
		t.Errorf("pool collateral: got %d, want 109", got)
	}
}

func TestBuy_RejectionsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")
	f.fund(t, "bob", 100)

	tests := []struct {
		name string
		p    market.BuyParams
		want error
	}{
		{"slippage", market.BuyParams{MarketID: m.ID, Buyer: "bob", Investment: big.NewInt(10), MinOutcomeTokens: big.NewInt(20)}, domain.ErrSlippageExceeded},
		{"insufficient funds", market.BuyParams{MarketID: m.ID, Buyer: "bob", Investment: big.NewInt(101)}, domain.ErrInsufficientFunds},
		{"bad outcome", market.BuyParams{MarketID: m.ID, Buyer: "bob", Outcome: 2, Investment: big.NewInt(10)}, domain.ErrInvalidOutcome},
		{"zero investment", market.BuyParams{MarketID: m.ID, Buyer: "bob", Investment: big.NewInt(0)}, domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.markets.Buy(ctx, tt.p); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if got := f.balance(t, domain.UserAccount("bob"), usd); got != 100 {
		t.Errorf("bob collateral: got %d, want 100", got)
	}
	pool, _ := f.markets.Pool(ctx, m.ID)
	if got := ints(pool); !equal(got, []int64{100, 100}) {
		t.Errorf("pool: got %v, want [100 100]", got)
	}
}

func TestBuy_EmptyPoolHasNoLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.markets.CreateMarket(ctx, market.CreateParams{ID: "m1", Outcomes: 2})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	f.fund(t, "bob", 10)
	_, err = f.markets.Buy(ctx, market.BuyParams{MarketID: m.ID, Buyer: "bob", Investment: big.NewInt(10)})
	if !errors.Is(err, domain.ErrNoLiquidity) {
		t.Errorf("got %v, want ErrNoLiquidity", err)
	}
}

func TestSellExact_ReturnsCollateralAndBurnsSets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")
	f.fund(t, "bob", 100)
	f.buy(t, m, "bob", 0, 10)

	res, err := f.markets.SellExact(ctx, market.SellExactParams{
		MarketID: m.ID, Seller: "bob", Outcome: 0, ReturnAmount: big.NewInt(9),
	})
	if err != nil {
		t.Fatalf("SellExact: %v", err)
	}
	if got := res.OutcomeTokens.Int64(); got != 18 {
		t.Errorf("tokens sold: got %d, want 18", got)
	}
	if got := ints(res.Pool); !equal(got, []int64{100, 101}) {
		t.Errorf("pool: got %v, want [100 101]", got)
	}
	if got := f.balance(t, domain.UserAccount("bob"), m.OutcomeSymbols[0]); got != 1 {
		t.Errorf("bob outcome 0: got %d, want 1", got)
	}
	if got := f.balance(t, domain.UserAccount("bob"), usd); got != 99 {
		t.Errorf("bob collateral: got %d, want 99", got)
	}
	for _, sym := range m.OutcomeSymbols {
		if got := f.supply(t, sym); got != 101 {
			t.Errorf("supply of %s: got %d, want 101", sym, got)
		}
	}

	_, err = f.markets.SellExact(ctx, market.SellExactParams{
		MarketID: m.ID, Seller: "bob", Outcome: 0, ReturnAmount: big.NewInt(5),
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("selling tokens not held: got %v, want ErrInsufficientFunds", err)
	}
}

func TestSell_NeverReturnsMoreThanPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0.02")
	f.fund(t, "bob", 100)
	bought := f.buy(t, m, "bob", 1, 50)

	res, err := f.markets.Sell(ctx, market.SellParams{
		MarketID: m.ID, Seller: "bob", Outcome: 1, OutcomeTokens: bought.OutcomeTokens,
	})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if res.Collateral.Cmp(big.NewInt(50)) >= 0 {
		t.Errorf("round trip returned %s for 50 paid", res.Collateral)
	}
	if res.OutcomeTokens.Cmp(bought.OutcomeTokens) > 0 {
		t.Errorf("sold %s tokens, only offered %s", res.OutcomeTokens, bought.OutcomeTokens)
	}
	if got := f.balance(t, domain.UserAccount("bob"), usd); got != 50+res.Collateral.Int64() {
		t.Errorf("bob collateral: got %d, want %d", got, 50+res.Collateral.Int64())
	}

	_, err = f.markets.Sell(ctx, market.SellParams{
		MarketID: m.ID, Seller: "bob", Outcome: 1, OutcomeTokens: big.NewInt(1), MinReturn: big.NewInt(1000),
	})
	if err == nil {
		t.Error("expected rejection for a sale that cannot meet its minimum")
	}
}

func TestQuoteBuy_MatchesExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0.1")
	f.fund(t, "bob", 10)

	q, err := f.markets.QuoteBuy(ctx, m.ID, 0, big.NewInt(10))
	if err != nil {
		t.Fatalf("QuoteBuy: %v", err)
	}
	res := f.buy(t, m, "bob", 0, 10)
	if q.OutcomeTokens.Cmp(res.OutcomeTokens) != 0 || q.Fee.Cmp(res.Fee) != 0 {
		t.Errorf("quote %v/%v, executed %v/%v", q.OutcomeTokens, q.Fee, res.OutcomeTokens, res.Fee)
	}
}

// ============================================================================
// Test: Resolution / Payout
// ============================================================================

func TestResolveBet_ExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")

	if _, err := f.markets.GetResult(ctx, m.ID); !errors.Is(err, domain.ErrNotResolved) {
		t.Errorf("result before resolve: got %v, want ErrNotResolved", err)
	}
	if _, err := f.markets.GetResult(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("result of unknown market: got %v, want ErrNotFound", err)
	}
	if _, err := f.markets.ResolveBet(ctx, m.ID, "mallory", 0); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("non-oracle resolve: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.markets.ResolveBet(ctx, m.ID, "oracle", 2); !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Errorf("bad outcome: got %v, want ErrInvalidOutcome", err)
	}

	res, err := f.markets.ResolveBet(ctx, m.ID, "oracle", 1)
	if err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}
	if _, err := f.markets.ResolveBet(ctx, m.ID, "oracle", 0); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second resolve: got %v, want ErrAlreadyResolved", err)
	}

	got, err := f.markets.GetResult(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Outcome != 1 || got.Reporter != "oracle" || !got.Timestamp.Equal(res.Timestamp) {
		t.Errorf("result: got %+v, want %+v", got, res)
	}
	if f.status(t, m.ID) != domain.MarketStatusResolved {
		t.Errorf("status: got %s, want resolved", f.status(t, m.ID))
	}

	f.fund(t, "bob", 10)
	_, err = f.markets.Buy(ctx, market.BuyParams{MarketID: m.ID, Buyer: "bob", Investment: big.NewInt(10)})
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("buy after resolve: got %v, want ErrAlreadyResolved", err)
	}

	audit, err := f.store.List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	if len(audit) == 0 || audit[0].Event != "market.resolved" {
		t.Errorf("audit: got %+v, want market.resolved first", audit)
	}
}

func TestGetPayout_RedeemsWinningTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")
	f.fund(t, "bob", 100)
	f.fund(t, "carol", 100)
	f.buy(t, m, "bob", 0, 10)
	f.buy(t, m, "carol", 1, 10)

	if _, err := f.markets.GetPayout(ctx, m.ID, "bob"); !errors.Is(err, domain.ErrNotResolved) {
		t.Errorf("payout before resolve: got %v, want ErrNotResolved", err)
	}
	if _, err := f.markets.ResolveBet(ctx, m.ID, "oracle", 0); err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}

	paid, err := f.markets.GetPayout(ctx, m.ID, "bob")
	if err != nil {
		t.Fatalf("GetPayout: %v", err)
	}
	if got := paid.Int64(); got != 19 {
		t.Errorf("paid: got %d, want 19", got)
	}
	if got := f.balance(t, domain.UserAccount("bob"), usd); got != 109 {
		t.Errorf("bob collateral: got %d, want 109", got)
	}
	if got := f.balance(t, domain.UserAccount("bob"), m.OutcomeSymbols[0]); got != 0 {
		t.Errorf("bob winning tokens: got %d, want 0", got)
	}

	if _, err := f.markets.GetPayout(ctx, m.ID, "carol"); !errors.Is(err, domain.ErrNothingToRedeem) {
		t.Errorf("loser payout: got %v, want ErrNothingToRedeem", err)
	}
	if _, err := f.markets.GetPayout(ctx, m.ID, "bob"); !errors.Is(err, domain.ErrNothingToRedeem) {
		t.Errorf("second payout: got %v, want ErrNothingToRedeem", err)
	}
	if got := f.status(t, m.ID); got != domain.MarketStatusPaidOut {
		t.Errorf("status: got %s, want paid_out", got)
	}
}

func TestResolveAndPayout_PaysEveryWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")
	f.fund(t, "bob", 10)
	f.fund(t, "carol", 10)
	f.buy(t, m, "bob", 1, 10)
	f.buy(t, m, "carol", 1, 10)

	sum, err := f.markets.ResolveAndPayout(ctx, m.ID, "oracle", 1)
	if err != nil {
		t.Fatalf("ResolveAndPayout: %v", err)
	}
	if got := sum.Paid["bob"].Int64(); got != 19 {
		t.Errorf("bob paid: got %d, want 19", got)
	}
	if got := sum.Paid["carol"].Int64(); got != 17 {
		t.Errorf("carol paid: got %d, want 17", got)
	}
	if got := sum.Total.Int64(); got != 36 {
		t.Errorf("total: got %d, want 36", got)
	}
	if got := f.balance(t, m.PoolAccount(), usd); got != 120-36 {
		t.Errorf("pool collateral: got %d, want %d", got, 120-36)
	}
	if got := f.status(t, m.ID); got != domain.MarketStatusPaidOut {
		t.Errorf("status: got %s, want paid_out", got)
	}
}

// ============================================================================
// Test: Refund
// ============================================================================

func TestRefund_ReturnsContributionsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")
	f.fund(t, "bob", 10)
	f.buy(t, m, "bob", 0, 10)

	sum, err := f.markets.Refund(ctx, m.ID, "ops")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got := sum.Refunded["alice"].Int64(); got != 100 {
		t.Errorf("alice refund: got %d, want 100", got)
	}
	if got := sum.Refunded["bob"].Int64(); got != 10 {
		t.Errorf("bob refund: got %d, want 10", got)
	}
	if got := f.balance(t, m.PoolAccount(), usd); got != 0 {
		t.Errorf("pool collateral: got %d, want 0", got)
	}
	if got := f.status(t, m.ID); got != domain.MarketStatusRefunded {
		t.Errorf("status: got %s, want refunded", got)
	}

	again, err := f.markets.Refund(ctx, m.ID, "ops")
	if err != nil {
		t.Fatalf("second Refund: %v", err)
	}
	if again.Total.Sign() != 0 || len(again.Refunded) != 0 {
		t.Errorf("second refund paid %s to %d participants", again.Total, len(again.Refunded))
	}
	if got := f.balance(t, domain.UserAccount("bob"), usd); got != 10 {
		t.Errorf("bob collateral: got %d, want 10", got)
	}

	_, err = f.markets.Buy(ctx, market.BuyParams{MarketID: m.ID, Buyer: "bob", Investment: big.NewInt(1)})
	if !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("buy after refund: got %v, want ErrMarketClosed", err)
	}
	if _, err := f.markets.ResolveBet(ctx, m.ID, "oracle", 0); !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("resolve after refund: got %v, want ErrMarketClosed", err)
	}
}

func TestRefundParticipant_RefundsOnlyThatParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")
	f.fund(t, "bob", 10)
	f.buy(t, m, "bob", 0, 10)

	amt, err := f.markets.RefundParticipant(ctx, m.ID, "ops", "bob")
	if err != nil {
		t.Fatalf("RefundParticipant: %v", err)
	}
	if got := amt.Int64(); got != 10 {
		t.Errorf("bob refund: got %d, want 10", got)
	}
	if got := f.balance(t, domain.UserAccount("alice"), usd); got != 0 {
		t.Errorf("alice collateral: got %d, want 0", got)
	}

	amt, err = f.markets.RefundParticipant(ctx, m.ID, "ops", "bob")
	if err != nil {
		t.Fatalf("second RefundParticipant: %v", err)
	}
	if amt.Sign() != 0 {
		t.Errorf("second refund: got %s, want 0", amt)
	}
}

func TestRefund_PaidOutMarketIsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")
	if _, err := f.markets.ResolveAndPayout(ctx, m.ID, "oracle", 0); err != nil {
		t.Fatalf("ResolveAndPayout: %v", err)
	}
	if _, err := f.markets.Refund(ctx, m.ID, "ops"); !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("got %v, want ErrMarketClosed", err)
	}
}

func TestRefund_UnfundedMarketCannotBeVoidedOrResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.markets.CreateMarket(ctx, market.CreateParams{ID: "m1", Outcomes: 2})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := f.markets.Refund(ctx, m.ID, "ops"); !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("refund: got %v, want ErrMarketClosed", err)
	}
	if _, err := f.markets.ResolveBet(ctx, m.ID, "anyone", 0); !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("resolve: got %v, want ErrMarketClosed", err)
	}
	if got := f.status(t, m.ID); got != domain.MarketStatusCreated {
		t.Errorf("status: got %s, want created", got)
	}
}

func TestRefund_IgnoresCallerEditsToTradeResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0.1")
	f.fund(t, "bob", 100)

	res := f.buy(t, m, "bob", 0, 100)
	if got := res.Fee.Int64(); got != 10 {
		t.Fatalf("fee: got %d, want 10", got)
	}
	res.Fee.SetInt64(100)
	res.OutcomeTokens.SetInt64(0)
	res.Collateral.SetInt64(0)

	sum, err := f.markets.Refund(ctx, m.ID, "ops")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got := sum.Refunded["bob"]; got == nil || got.Int64() != 90 {
		t.Errorf("bob refund: got %v, want 90", got)
	}
	if got := sum.Refunded["alice"]; got == nil || got.Int64() != 100 {
		t.Errorf("alice refund: got %v, want 100", got)
	}
}

// ============================================================================
// Test: Account naming
// ============================================================================

func TestUserIDs_CannotNameOtherWallets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")

	house := "casino:house"
	if err := f.ledger.Mint(ctx, domain.UserAccount(house), big.NewInt(500), usd); !errors.Is(err, domain.ErrInvalidAccount) {
		t.Errorf("mint to %q: got %v, want ErrInvalidAccount", house, err)
	}
	if _, err := f.markets.AddLiquidity(ctx, m.ID, house, big.NewInt(1), nil); !errors.Is(err, domain.ErrInvalidAccount) {
		t.Errorf("liquidity from %q: got %v, want ErrInvalidAccount", house, err)
	}
	_, err := f.markets.Buy(ctx, market.BuyParams{MarketID: m.ID, Buyer: "fees:" + m.ID, Investment: big.NewInt(1)})
	if !errors.Is(err, domain.ErrInvalidAccount) {
		t.Errorf("buy as fee wallet: got %v, want ErrInvalidAccount", err)
	}

	if _, err := f.markets.ResolveBet(ctx, m.ID, "oracle", 0); err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}
	if _, err := f.markets.GetPayout(ctx, m.ID, "pool:"+m.ID); !errors.Is(err, domain.ErrInvalidAccount) {
		t.Errorf("payout to pool: got %v, want ErrInvalidAccount", err)
	}
	if got := f.balance(t, m.PoolAccount(), m.OutcomeSymbols[0]); got != 100 {
		t.Errorf("pool winning tokens: got %d, want 100", got)
	}
	if got := f.status(t, m.ID); got != domain.MarketStatusResolved {
		t.Errorf("status: got %s, want resolved", got)
	}
	if got := f.balance(t, domain.CasinoAccount("house"), usd); got != 0 {
		t.Errorf("house wallet: got %d, want 0", got)
	}
}

// ============================================================================
// Test: Prices
// ============================================================================

func TestPrices_SkewedLiquidityReversePrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := amm.One()
	ninety := new(big.Int).Mul(one, big.NewInt(90))

	m, err := f.markets.CreateMarket(ctx, market.CreateParams{ID: "m1", Outcomes: 2})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if err := f.ledger.Mint(ctx, domain.UserAccount("alice"), ninety, usd); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := f.markets.AddLiquidity(ctx, m.ID, "alice", ninety, []*big.Int{big.NewInt(90), big.NewInt(10)}); err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}

	snap, err := f.markets.Prices(ctx, m.ID)
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	hundred := new(big.Int).Mul(one, big.NewInt(100))
	want0 := new(big.Int).Quo(hundred, snap.Pool[1])
	if got := new(big.Int).Add(snap.Reverse[0], big.NewInt(1)); got.Cmp(want0) != 0 {
		t.Errorf("reverse[0]+1: got %s, want %s", got, want0)
	}
	if want1 := new(big.Int).Quo(hundred, snap.Pool[0]); snap.Reverse[1].Cmp(want1) != 0 {
		t.Errorf("reverse[1]: got %s, want %s", snap.Reverse[1], want1)
	}
}

// ============================================================================
// Test: Events
// ============================================================================

func TestLifecycle_PublishesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.funded(t, "0")
	f.fund(t, "bob", 10)
	f.buy(t, m, "bob", 0, 10)
	if _, err := f.markets.ResolveBet(ctx, m.ID, "oracle", 0); err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}

	want := []string{
		domain.EventMarketCreated,
		domain.EventLiquidityAdded,
		domain.EventMarketTrade,
		domain.EventMarketResolved,
	}
	got := f.events.types()
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}
