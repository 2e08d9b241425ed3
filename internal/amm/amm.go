// Package amm prices multi-outcome prediction-market shares against a shared
// pool of outcome tokens. Every function is pure: it reads pool balances and
// returns integer amounts without touching the ledger.
package amm

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betledger/internal/domain"
)

var (
	one     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	bigOne  = big.NewInt(1)
	rateOne = decimal.NewFromInt(1)
)

// One returns the base unit 10^18 used to scale reported prices.
func One() *big.Int { return new(big.Int).Set(one) }

// ValidateFee checks 0 <= f < 1.
func ValidateFee(f decimal.Decimal) error {
	if f.IsNegative() || f.GreaterThanOrEqual(rateOne) {
		return fmt.Errorf("amm: %w: %s", domain.ErrInvalidFee, f)
	}
	return nil
}

// MulRate returns amount*rate rounded half up to the integer unit. The rate
// is applied exactly once so no rounding error accumulates.
func MulRate(amount *big.Int, rate decimal.Decimal) *big.Int {
	return decimal.NewFromBigInt(amount, 0).Mul(rate).Round(0).BigInt()
}

// FeeOf is the fee charged on amount at rate f.
func FeeOf(amount *big.Int, f decimal.Decimal) *big.Int {
	return MulRate(amount, f)
}

// CalcBuy returns how many outcome tokens investment buys. The fee is taken
// out of investment before sizing. Each other outcome is visited in index
// order and the target balance is rounded up, so the pool keeps at least one
// unit of the bought outcome.
func CalcBuy(pool []*big.Int, fee decimal.Decimal, investment *big.Int, outcome int) (*big.Int, error) {
	if err := checkPool(pool, outcome); err != nil {
		return nil, err
	}
	if err := ValidateFee(fee); err != nil {
		return nil, err
	}
	if investment == nil || investment.Sign() <= 0 {
		return nil, fmt.Errorf("amm: buy: %w: %v", domain.ErrInvalidAmount, investment)
	}

	net := new(big.Int).Sub(investment, FeeOf(investment, fee))
	if net.Sign() <= 0 {
		return nil, fmt.Errorf("amm: buy: %w: nothing left after fee", domain.ErrInvalidAmount)
	}

	target := new(big.Int).Set(pool[outcome])
	denom := new(big.Int)
	for j, bal := range pool {
		if j == outcome {
			continue
		}
		denom.Add(bal, net)
		target.Mul(target, bal)
		ceilDiv(target, target, denom)
	}
	if target.Cmp(bigOne) < 0 {
		return nil, fmt.Errorf("amm: buy outcome %d: %w", outcome, domain.ErrPoolDrained)
	}

	bought := new(big.Int).Add(pool[outcome], net)
	bought.Sub(bought, target)
	return bought, nil
}

// CalcSell returns how many outcome tokens must be returned to the pool for
// the seller to receive returnAmount after the fee. It fails with
// ErrPoolDrained when any other outcome's pool could not cover the amount
// while keeping one unit.
func CalcSell(pool []*big.Int, fee decimal.Decimal, returnAmount *big.Int, outcome int) (*big.Int, error) {
	if err := checkPool(pool, outcome); err != nil {
		return nil, err
	}
	if err := ValidateFee(fee); err != nil {
		return nil, err
	}
	if returnAmount == nil || returnAmount.Sign() <= 0 {
		return nil, fmt.Errorf("amm: sell: %w: %v", domain.ErrInvalidAmount, returnAmount)
	}

	plusFee := new(big.Int).Add(returnAmount, FeeOf(returnAmount, fee))

	target := new(big.Int).Set(pool[outcome])
	denom := new(big.Int)
	for j, bal := range pool {
		if j == outcome {
			continue
		}
		if bal.Cmp(plusFee) <= 0 {
			return nil, fmt.Errorf("amm: sell outcome %d: %w", outcome, domain.ErrPoolDrained)
		}
		denom.Sub(bal, plusFee)
		target.Mul(target, bal)
		ceilDiv(target, target, denom)
	}

	tokens := new(big.Int).Add(plusFee, target)
	tokens.Sub(tokens, pool[outcome])
	return tokens, nil
}

// CalcSellFromAmount returns the largest collateral return whose CalcSell
// cost does not exceed tokens. CalcSell is strictly increasing in the return,
// so CalcSellFromAmount(CalcSell(x)) == x. A zero result means tokens cannot
// buy back even one unit.
func CalcSellFromAmount(pool []*big.Int, fee decimal.Decimal, tokens *big.Int, outcome int) (*big.Int, error) {
	if err := checkPool(pool, outcome); err != nil {
		return nil, err
	}
	if err := ValidateFee(fee); err != nil {
		return nil, err
	}
	if tokens == nil || tokens.Sign() <= 0 {
		return nil, fmt.Errorf("amm: sell from amount: %w: %v", domain.ErrInvalidAmount, tokens)
	}

	// Any return >= the smallest other pool drains it, so that bounds the search.
	hi := minOther(pool, outcome)
	lo := new(big.Int)
	mid := new(big.Int)
	for new(big.Int).Sub(hi, lo).Cmp(bigOne) > 0 {
		mid.Add(lo, hi)
		mid.Rsh(mid, 1)
		cost, err := CalcSell(pool, fee, mid, outcome)
		if err != nil || cost.Cmp(tokens) > 0 {
			hi.Set(mid)
			continue
		}
		lo.Set(mid)
	}
	return lo, nil
}

// SplitLiquidity returns, per outcome, how many of the amount freshly minted
// tokens go back to the provider; the rest stay in the pool. On an empty pool
// the weights come from hint, or are equal when hint is nil. On a funded pool
// the weights are the current balances and a hint is rejected.
func SplitLiquidity(pool []*big.Int, amount *big.Int, hint []*big.Int) ([]*big.Int, error) {
	if len(pool) < 2 {
		return nil, fmt.Errorf("amm: split: %w: %d outcomes", domain.ErrInvalidOutcome, len(pool))
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amm: split: %w: %v", domain.ErrInvalidAmount, amount)
	}

	funded := false
	for _, bal := range pool {
		if bal.Sign() > 0 {
			funded = true
			break
		}
	}

	var weights []*big.Int
	switch {
	case funded && hint != nil:
		return nil, fmt.Errorf("amm: split: %w", domain.ErrHintNotAllowed)
	case funded:
		for i, bal := range pool {
			if bal.Sign() <= 0 {
				return nil, fmt.Errorf("amm: split: outcome %d: %w", i, domain.ErrNoLiquidity)
			}
		}
		weights = pool
	case hint == nil:
		weights = make([]*big.Int, len(pool))
		for i := range weights {
			weights[i] = bigOne
		}
	default:
		if len(hint) != len(pool) {
			return nil, fmt.Errorf("amm: split: %w: %d weights for %d outcomes", domain.ErrInvalidHint, len(hint), len(pool))
		}
		for i, w := range hint {
			if w == nil || w.Sign() <= 0 {
				return nil, fmt.Errorf("amm: split: %w: weight %d is %v", domain.ErrInvalidHint, i, w)
			}
		}
		weights = hint
	}

	maxW := weights[0]
	for _, w := range weights[1:] {
		if w.Cmp(maxW) > 0 {
			maxW = w
		}
	}

	sendBack := make([]*big.Int, len(weights))
	for i, w := range weights {
		kept := new(big.Int).Mul(amount, w)
		kept.Quo(kept, maxW)
		if !funded && kept.Sign() == 0 {
			return nil, fmt.Errorf("amm: split: %w: outcome %d would start empty", domain.ErrInvalidHint, i)
		}
		sendBack[i] = kept.Sub(amount, kept)
	}
	return sendBack, nil
}

// MarginalPrices returns each outcome's instantaneous price scaled by One.
// The price of i is proportional to the product of every other pool balance.
func MarginalPrices(pool []*big.Int) ([]*big.Int, error) {
	if err := checkPool(pool, 0); err != nil {
		return nil, err
	}
	weights := make([]*big.Int, len(pool))
	total := new(big.Int)
	for i := range pool {
		w := big.NewInt(1)
		for j, bal := range pool {
			if j != i {
				w.Mul(w, bal)
			}
		}
		weights[i] = w
		total.Add(total, w)
	}
	prices := make([]*big.Int, len(pool))
	for i, w := range weights {
		p := new(big.Int).Mul(w, one)
		prices[i] = p.Quo(p, total)
	}
	return prices, nil
}

// BuyPrices returns, for each outcome, the average price of a zero-fee buy
// of One collateral: One² divided by the tokens it buys.
func BuyPrices(pool []*big.Int) ([]*big.Int, error) {
	prices := make([]*big.Int, len(pool))
	for i := range pool {
		tokens, err := CalcBuy(pool, decimal.Zero, one, i)
		if err != nil {
			return nil, err
		}
		p := new(big.Int).Mul(one, one)
		prices[i] = p.Quo(p, tokens)
	}
	return prices, nil
}

// ReversePrices returns, for each outcome, how many whole outcome tokens One
// of collateral buys at zero fee. It is the inverse view of BuyPrices: a
// binary pool holding [90, 10]·One reports [9, 1].
func ReversePrices(pool []*big.Int) ([]*big.Int, error) {
	rev := make([]*big.Int, len(pool))
	for i := range pool {
		tokens, err := CalcBuy(pool, decimal.Zero, one, i)
		if err != nil {
			return nil, err
		}
		rev[i] = tokens.Quo(tokens, one)
	}
	return rev, nil
}

// Clone copies a pool so callers can simulate trades on it.
func Clone(pool []*big.Int) []*big.Int {
	out := make([]*big.Int, len(pool))
	for i, bal := range pool {
		out[i] = new(big.Int).Set(bal)
	}
	return out
}

func checkPool(pool []*big.Int, outcome int) error {
	if outcome < 0 || outcome >= len(pool) {
		return fmt.Errorf("amm: %w: %d of %d", domain.ErrInvalidOutcome, outcome, len(pool))
	}
	if len(pool) < 2 {
		return fmt.Errorf("amm: %w: %d outcomes", domain.ErrInvalidOutcome, len(pool))
	}
	for i, bal := range pool {
		if bal == nil || bal.Sign() <= 0 {
			return fmt.Errorf("amm: outcome %d: %w", i, domain.ErrNoLiquidity)
		}
	}
	return nil
}

func minOther(pool []*big.Int, outcome int) *big.Int {
	var m *big.Int
	for j, bal := range pool {
		if j == outcome {
			continue
		}
		if m == nil || bal.Cmp(m) < 0 {
			m = bal
		}
	}
	return new(big.Int).Set(m)
}

// ceilDiv sets z = ceil(x/y) for x >= 0, y > 0.
func ceilDiv(z, x, y *big.Int) *big.Int {
	r := new(big.Int)
	z.QuoRem(x, y, r)
	if r.Sign() > 0 {
		z.Add(z, bigOne)
	}
	return z
}
