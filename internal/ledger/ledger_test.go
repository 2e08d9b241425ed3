package ledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/ledger"
	"github.com/alanyoungcy/betledger/internal/store/memstore"
)

const usd = "USD"

var (
	alice = domain.UserAccount("alice")
	bob   = domain.UserAccount("bob")
	carol = domain.UserAccount("carol")
)

func newService(t *testing.T) (*ledger.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ledger.NewService(store, nil, logger), store
}

func mustBalance(t *testing.T, svc *ledger.Service, acct domain.Account, symbol string) int64 {
	t.Helper()
	bal, err := svc.BalanceOf(context.Background(), acct, symbol)
	if err != nil {
		t.Fatalf("BalanceOf(%s): %v", acct, err)
	}
	return bal.Int64()
}

func mustSupply(t *testing.T, svc *ledger.Service, symbol string) int64 {
	t.Helper()
	total, err := svc.TotalSupply(context.Background(), symbol)
	if err != nil {
		t.Fatalf("TotalSupply: %v", err)
	}
	return total.Int64()
}

// ============================================================================
// Test: Mint / Burn
// ============================================================================

func TestMint_IncreasesBalanceAndSupply(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Mint(ctx, alice, big.NewInt(100), usd); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if got := mustBalance(t, svc, alice, usd); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
	if got := mustSupply(t, svc, usd); got != 100 {
		t.Errorf("supply: got %d, want 100", got)
	}
}

func TestMintBurn_RejectNonPositiveAmounts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, amt := range []*big.Int{big.NewInt(0), big.NewInt(-5), nil} {
		if err := svc.Mint(ctx, alice, amt, usd); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("Mint(%v): got %v, want ErrInvalidAmount", amt, err)
		}
		if err := svc.Burn(ctx, alice, amt, usd); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("Burn(%v): got %v, want ErrInvalidAmount", amt, err)
		}
		if err := svc.Transfer(ctx, alice, bob, amt, usd); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("Transfer(%v): got %v, want ErrInvalidAmount", amt, err)
		}
	}
}

func TestBurn_DecreasesSupply(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Mint(ctx, alice, big.NewInt(100), usd); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := svc.Burn(ctx, alice, big.NewInt(40), usd); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if got := mustBalance(t, svc, alice, usd); got != 60 {
		t.Errorf("balance: got %d, want 60", got)
	}
	if got := mustSupply(t, svc, usd); got != 60 {
		t.Errorf("supply: got %d, want 60", got)
	}
}

func TestBurn_InsufficientFundsLeavesBalance(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Mint(ctx, alice, big.NewInt(10), usd); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := svc.Burn(ctx, alice, big.NewInt(11), usd); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if got := mustBalance(t, svc, alice, usd); got != 10 {
		t.Errorf("got %d, want 10", got)
	}
}

// ============================================================================
// Test: Transfer
// ============================================================================

func TestTransfer_Conserves(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Mint(ctx, alice, big.NewInt(100), usd); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := svc.Transfer(ctx, alice, bob, big.NewInt(30), usd); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := mustBalance(t, svc, alice, usd); got != 70 {
		t.Errorf("alice: got %d, want 70", got)
	}
	if got := mustBalance(t, svc, bob, usd); got != 30 {
		t.Errorf("bob: got %d, want 30", got)
	}
	if got := mustSupply(t, svc, usd); got != 100 {
		t.Errorf("supply: got %d, want 100", got)
	}
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Transfer(ctx, alice, bob, big.NewInt(1), usd); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if got := mustBalance(t, svc, bob, usd); got != 0 {
		t.Errorf("bob: got %d, want 0", got)
	}
}

func TestTransfer_SymbolsAreIndependent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Mint(ctx, alice, big.NewInt(5), "EUR"); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := svc.Transfer(ctx, alice, bob, big.NewInt(5), usd); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestTransfer_ToSelfKeepsBalance(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Mint(ctx, alice, big.NewInt(9), usd); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := svc.Transfer(ctx, alice, alice, big.NewInt(9), usd); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := mustBalance(t, svc, alice, usd); got != 9 {
		t.Errorf("got %d, want 9", got)
	}
}

func TestTransfer_RejectsEmptySide(t *testing.T) {
	svc, _ := newService(t)
	if err := svc.Transfer(context.Background(), domain.Account{}, bob, big.NewInt(1), usd); !errors.Is(err, domain.ErrInvalidAccount) {
		t.Errorf("got %v, want ErrInvalidAccount", err)
	}
}

// ============================================================================
// Test: unit atomicity
// ============================================================================

func TestLedger_FailureRollsBackWholeUnit(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	if err := svc.Mint(ctx, alice, big.NewInt(50), usd); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	err := domain.RunInTx(ctx, store, func(tx domain.Tx) error {
		l := ledger.New(tx.Ledger(), nil)
		if err := l.Transfer(ctx, alice, bob, big.NewInt(30), usd); err != nil {
			return err
		}
		return l.Transfer(ctx, alice, carol, big.NewInt(30), usd)
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if got := mustBalance(t, svc, alice, usd); got != 50 {
		t.Errorf("alice: got %d, want 50", got)
	}
	if got := mustBalance(t, svc, bob, usd); got != 0 {
		t.Errorf("bob: got %d, want 0 after rollback", got)
	}
}

func TestLedger_AppliedListsEntriesInOrder(t *testing.T) {
	_, store := newService(t)
	ctx := context.Background()

	err := domain.RunInTx(ctx, store, func(tx domain.Tx) error {
		l := ledger.New(tx.Ledger(), nil)
		if err := l.Mint(ctx, alice, big.NewInt(3), usd); err != nil {
			return err
		}
		if err := l.Transfer(ctx, alice, bob, big.NewInt(2), usd); err != nil {
			return err
		}
		if err := l.Burn(ctx, bob, big.NewInt(1), usd); err != nil {
			return err
		}
		applied := l.Applied()
		want := []domain.TransferKind{domain.TransferMint, domain.TransferTransfer, domain.TransferBurn}
		if len(applied) != len(want) {
			t.Fatalf("applied %d entries, want %d", len(applied), len(want))
		}
		for i, k := range want {
			if applied[i].Kind() != k {
				t.Errorf("entry %d: got %s, want %s", i, applied[i].Kind(), k)
			}
			if applied[i].ID == 0 {
				t.Errorf("entry %d: missing id", i)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
}

// ============================================================================
// Test: balance equals the fold of the log
// ============================================================================

func TestVerify_CachedBalanceMatchesLog(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	steps := []func() error{
		func() error { return svc.Mint(ctx, alice, big.NewInt(500), usd) },
		func() error { return svc.Transfer(ctx, alice, bob, big.NewInt(120), usd) },
		func() error { return svc.Transfer(ctx, bob, carol, big.NewInt(20), usd) },
		func() error { return svc.Burn(ctx, alice, big.NewInt(80), usd) },
		func() error { return svc.Transfer(ctx, carol, alice, big.NewInt(5), usd) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	for _, acct := range []domain.Account{alice, bob, carol} {
		if err := svc.Verify(ctx, acct, usd); err != nil {
			t.Errorf("Verify(%s): %v", acct, err)
		}
	}
	if got := mustSupply(t, svc, usd); got != 420 {
		t.Errorf("supply: got %d, want 420", got)
	}
}

func TestTransfer_ConcurrentUnitsNeverOverdraw(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Mint(ctx, alice, big.NewInt(100), usd); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Transfer(ctx, alice, bob, big.NewInt(7), usd)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 14 {
		t.Errorf("accepted %d transfers, want 14", accepted)
	}
	if got := mustBalance(t, svc, alice, usd); got != 2 {
		t.Errorf("alice: got %d, want 2", got)
	}
	if got := mustBalance(t, svc, bob, usd); got != 98 {
		t.Errorf("bob: got %d, want 98", got)
	}
}
