package memstore_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/store/memstore"
)

func begin(t *testing.T, s *memstore.Store) domain.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	alice := domain.UserAccount("alice")

	tx := begin(t, s)
	if err := tx.Ledger().WriteBalance(ctx, alice, "USD", big.NewInt(9)); err != nil {
		t.Fatalf("WriteBalance: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	tx = begin(t, s)
	defer tx.Rollback(ctx)
	bal, err := tx.Ledger().ReadBalance(ctx, alice, "USD")
	if err != nil {
		t.Fatalf("ReadBalance: %v", err)
	}
	if bal.Sign() != 0 {
		t.Errorf("got %s, want 0", bal)
	}
}

func TestRollbackAfterCommitIsNoop(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	tx := begin(t, s)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("Rollback after Commit: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("second Commit: got %v, want ErrPersistence", err)
	}
}

func TestBeginWaitsForOpenUnit(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	first := begin(t, s)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := s.Begin(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded while a unit is open", err)
	}

	if err := first.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	second := begin(t, s)
	_ = second.Rollback(ctx)
}

func TestCommitWithCancelledContextFails(t *testing.T) {
	s := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_ = tx.Ledger().WriteBalance(ctx, domain.UserAccount("a"), "USD", big.NewInt(1))
	cancel()
	if err := tx.Commit(ctx); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("got %v, want ErrPersistence", err)
	}

	tx = begin(t, s)
	defer tx.Rollback(context.Background())
	bal, _ := tx.Ledger().ReadBalance(context.Background(), domain.UserAccount("a"), "USD")
	if bal.Sign() != 0 {
		t.Errorf("failed commit leaked balance %s", bal)
	}
}

func TestRunInTxWrapsCommitFailure(t *testing.T) {
	s := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())

	err := domain.RunInTx(ctx, s, func(tx domain.Tx) error {
		cancel()
		return nil
	})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("got %v, want ErrPersistence", err)
	}
	if domain.IsRetryable(err) {
		t.Errorf("a cancelled commit is not a conflict")
	}
}

func TestMarketStore_ResolutionExactlyOnce(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	tx := begin(t, s)
	defer tx.Rollback(ctx)

	r := domain.Resolution{MarketID: "m1", Reporter: "oracle", Outcome: 1}
	if err := tx.Markets().InsertResolution(ctx, r); err != nil {
		t.Fatalf("InsertResolution: %v", err)
	}
	if err := tx.Markets().InsertResolution(ctx, r); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("got %v, want ErrAlreadyResolved", err)
	}
	if _, err := tx.Markets().GetResolution(ctx, "m2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMarketStore_RefundOncePerParticipant(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	tx := begin(t, s)
	defer tx.Rollback(ctx)

	r := domain.Refund{MarketID: "m1", Participant: "alice", Amount: big.NewInt(5)}
	ok, err := tx.Markets().InsertRefund(ctx, r)
	if err != nil || !ok {
		t.Fatalf("first InsertRefund: ok=%v err=%v", ok, err)
	}
	ok, err = tx.Markets().InsertRefund(ctx, r)
	if err != nil || ok {
		t.Errorf("second InsertRefund: ok=%v err=%v, want false nil", ok, err)
	}
}

func TestCasinoStore_RoundLifecycle(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	tx := begin(t, s)
	defer tx.Rollback(ctx)
	cs := tx.Casino()

	mk := func(user, factor, game string) domain.CasinoTrade {
		ct := domain.CasinoTrade{
			ID:           uuid.New(),
			UserID:       user,
			CrashFactor:  decimal.RequireFromString(factor),
			StakedAmount: big.NewInt(100),
			State:        domain.TradeOpen,
			GameID:       game,
		}
		if err := cs.Insert(ctx, ct); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		return ct
	}
	low := mk("alice", "1.50", "g1")
	high := mk("alice", "3.00", "g1")
	other := mk("bob", "2.00", "g2")

	locked, err := cs.LockOpen(ctx, "g1", "h1")
	if err != nil {
		t.Fatalf("LockOpen: %v", err)
	}
	if len(locked) != 2 {
		t.Fatalf("locked %d trades, want 2", len(locked))
	}
	if got, _ := cs.Get(ctx, other.ID); got.State != domain.TradeOpen {
		t.Errorf("trade of another game changed to %s", got.State)
	}

	found, err := cs.FindLockedForCashout(ctx, "alice", "h1", decimal.RequireFromString("1.20"))
	if err != nil {
		t.Fatalf("FindLockedForCashout: %v", err)
	}
	if found.ID != low.ID {
		t.Errorf("picked target %s, want the nearest 1.50", found.CrashFactor)
	}
	if _, err := cs.FindLockedForCashout(ctx, "alice", "h1", decimal.RequireFromString("3.01")); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound above every target", err)
	}

	settled, err := cs.SetOutcomes(ctx, "h1", decimal.RequireFromString("2.00"), time.Now())
	if err != nil {
		t.Fatalf("SetOutcomes: %v", err)
	}
	states := map[uuid.UUID]domain.TradeState{}
	for _, ct := range settled {
		states[ct.ID] = ct.State
	}
	if states[low.ID] != domain.TradeWin || states[high.ID] != domain.TradeLoss {
		t.Errorf("states: low=%s high=%s, want WIN LOSS", states[low.ID], states[high.ID])
	}

	if err := cs.MarkWin(ctx, high.ID, decimal.NewFromInt(1), big.NewInt(1), time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("MarkWin on settled trade: got %v, want ErrNotFound", err)
	}
	if err := cs.Cancel(ctx, other.ID, domain.TradeOpen, time.Now()); err != nil {
		t.Errorf("Cancel open trade: %v", err)
	}
	if err := cs.Cancel(ctx, other.ID, domain.TradeOpen, time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Cancel: got %v, want ErrNotFound", err)
	}
}

func TestInteractionAmountsAreCopied(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	fee := big.NewInt(10)
	tx := begin(t, s)
	err := tx.Interactions().Insert(ctx, domain.Interaction{
		ID:               uuid.NewString(),
		Participant:      "bob",
		MarketID:         "m1",
		Direction:        domain.DirectionBuy,
		InvestmentAmount: big.NewInt(100),
		FeeAmount:        fee,
		OutcomeTokens:    big.NewInt(150),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	fee.SetInt64(100)

	read := func() domain.Interaction {
		t.Helper()
		tx := begin(t, s)
		defer tx.Rollback(ctx)
		log, err := tx.Interactions().ListByMarket(ctx, "m1")
		if err != nil || len(log) != 1 {
			t.Fatalf("ListByMarket: %v, %d rows", err, len(log))
		}
		return log[0]
	}
	got := read()
	if got.FeeAmount.Int64() != 10 {
		t.Errorf("after caller write: fee %s, want 10", got.FeeAmount)
	}
	got.FeeAmount.SetInt64(55)
	got.InvestmentAmount.SetInt64(0)
	if again := read(); again.FeeAmount.Int64() != 10 || again.InvestmentAmount.Int64() != 100 {
		t.Errorf("after reader write: got fee %s investment %s, want 10 and 100", again.FeeAmount, again.InvestmentAmount)
	}
}

func TestCasinoTradeAmountsAreCopied(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	stake := big.NewInt(100)
	ct := domain.CasinoTrade{
		ID:           uuid.New(),
		UserID:       "alice",
		CrashFactor:  decimal.RequireFromString("2"),
		StakedAmount: stake,
		State:        domain.TradeOpen,
		GameID:       "g1",
	}
	tx := begin(t, s)
	defer tx.Rollback(ctx)
	if err := tx.Casino().Insert(ctx, ct); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	stake.SetInt64(1)

	got, err := tx.Casino().Get(ctx, ct.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StakedAmount.Int64() != 100 {
		t.Errorf("stake %s, want 100", got.StakedAmount)
	}
	got.StakedAmount.SetInt64(7)
	again, err := tx.Casino().Get(ctx, ct.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.StakedAmount.Int64() != 100 {
		t.Errorf("stake after reader write %s, want 100", again.StakedAmount)
	}
}

func TestAuditLogNewestFirst(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	for _, ev := range []string{"a", "b", "c"} {
		if err := s.Log(ctx, ev, map[string]any{"k": ev}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	entries, err := s.List(ctx, domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].Event != "c" || entries[1].Event != "b" {
		t.Errorf("got %+v, want c then b", entries)
	}
}
