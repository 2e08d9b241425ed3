package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusCreated  MarketStatus = "created"
	MarketStatusTrading  MarketStatus = "trading"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusPaidOut  MarketStatus = "paid_out"
	MarketStatusRefunded MarketStatus = "refunded"
)

var marketTransitions = map[MarketStatus][]MarketStatus{
	MarketStatusCreated:  {MarketStatusTrading},
	MarketStatusTrading:  {MarketStatusResolved, MarketStatusRefunded},
	MarketStatusResolved: {MarketStatusPaidOut, MarketStatusRefunded},
}

// CanTransition reports whether the state machine allows s -> to.
func (s MarketStatus) CanTransition(to MarketStatus) bool {
	for _, next := range marketTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Resolved reports whether an outcome has been recorded for the market.
func (s MarketStatus) Resolved() bool {
	return s == MarketStatusResolved || s == MarketStatusPaidOut
}

// Tradable reports whether liquidity and trades are still accepted.
func (s MarketStatus) Tradable() bool {
	return s == MarketStatusCreated || s == MarketStatusTrading
}

// Market is a K-outcome prediction market priced by the AMM. Its pool wallet
// holds the collateral and the unsold outcome tokens.
type Market struct {
	ID             string
	Question       string
	OutcomeSymbols []string
	Collateral     string
	FeeRate        decimal.Decimal
	Oracle         string // empty means any reporter may resolve
	Status         MarketStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OutcomeSymbol is the default token symbol of outcome i of a market.
func OutcomeSymbol(marketID string, i int) string {
	return marketID + "/" + strconv.Itoa(i)
}

// Outcomes returns K.
func (m Market) Outcomes() int { return len(m.OutcomeSymbols) }

// ValidOutcome reports whether i is in [0, K).
func (m Market) ValidOutcome(i int) bool { return i >= 0 && i < len(m.OutcomeSymbols) }

func (m Market) PoolAccount() Account { return PoolAccount(m.ID) }
func (m Market) FeeAccount() Account  { return FeeAccount(m.ID) }

// Validate checks the creation-time invariants.
func (m Market) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidMarket)
	}
	if strings.Contains(m.ID, ":") {
		return fmt.Errorf("%w: id %q contains ':'", ErrInvalidMarket, m.ID)
	}
	if len(m.OutcomeSymbols) < 2 {
		return fmt.Errorf("%w: need at least 2 outcomes, got %d", ErrInvalidMarket, len(m.OutcomeSymbols))
	}
	seen := make(map[string]bool, len(m.OutcomeSymbols))
	for _, s := range m.OutcomeSymbols {
		if s == "" || s == m.Collateral || seen[s] {
			return fmt.Errorf("%w: bad outcome symbol %q", ErrInvalidMarket, s)
		}
		seen[s] = true
	}
	if m.Collateral == "" {
		return fmt.Errorf("%w: empty collateral symbol", ErrInvalidMarket)
	}
	if m.FeeRate.IsNegative() || m.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: %s", ErrInvalidFee, m.FeeRate)
	}
	return nil
}

// Resolution is the single recorded outcome of a market.
type Resolution struct {
	MarketID  string    `json:"market_id"`
	Reporter  string    `json:"reporter"`
	Outcome   int       `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}
