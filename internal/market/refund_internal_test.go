package market

import (
	"math/big"
	"testing"

	"github.com/alanyoungcy/betledger/internal/domain"
)

func interaction(who string, dir domain.Direction, inv, fee int64) domain.Interaction {
	return domain.Interaction{
		Participant:      who,
		Direction:        dir,
		InvestmentAmount: big.NewInt(inv),
		FeeAmount:        big.NewInt(fee),
		OutcomeTokens:    new(big.Int),
	}
}

func TestRefundsOwed_NetContributions(t *testing.T) {
	log := []domain.Interaction{
		interaction("alice", domain.DirectionLiquidity, 100, 0),
		interaction("bob", domain.DirectionBuy, 10, 1),
		interaction("bob", domain.DirectionSell, 4, 0),
		interaction("bob", domain.DirectionRefund, 99, 0),
	}
	owed := refundsOwed(log)
	if got := owed["alice"].Int64(); got != 100 {
		t.Errorf("alice: got %d, want 100", got)
	}
	if got := owed["bob"].Int64(); got != 5 {
		t.Errorf("bob: got %d, want 5", got)
	}
}

func TestRefundsOwed_ScalesWhenSomeoneProfited(t *testing.T) {
	// bob sold for more than they paid, so the pool holds 115 against 120 of
	// positive contributions.
	log := []domain.Interaction{
		interaction("alice", domain.DirectionLiquidity, 100, 0),
		interaction("bob", domain.DirectionBuy, 10, 0),
		interaction("bob", domain.DirectionSell, 15, 0),
		interaction("carol", domain.DirectionBuy, 20, 0),
	}
	owed := refundsOwed(log)
	want := map[string]int64{"alice": 95, "bob": 0, "carol": 19}
	total := new(big.Int)
	for who, w := range want {
		if got := owed[who].Int64(); got != w {
			t.Errorf("%s: got %d, want %d", who, got, w)
		}
		total.Add(total, owed[who])
	}
	if total.Cmp(big.NewInt(115)) > 0 {
		t.Errorf("refunds total %s exceed pool collateral 115", total)
	}
}
