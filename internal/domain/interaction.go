package domain

import (
	"math/big"
	"time"
)

// Direction labels an interaction record.
type Direction string

const (
	DirectionBuy       Direction = "BUY"
	DirectionSell      Direction = "SELL"
	DirectionPayout    Direction = "PAYOUT"
	DirectionRefund    Direction = "REFUND"
	DirectionLiquidity Direction = "LIQUIDITY"
)

// NoOutcome marks interactions that are not tied to one outcome.
const NoOutcome = -1

// Interaction is an append-only audit record of one market operation. For
// BUY and LIQUIDITY InvestmentAmount is collateral paid in, for SELL, PAYOUT
// and REFUND it is collateral paid out.
type Interaction struct {
	ID               string    `json:"id"`
	Participant      string    `json:"participant"`
	MarketID         string    `json:"market_id"`
	Outcome          int       `json:"outcome"`
	Direction        Direction `json:"direction"`
	InvestmentAmount *big.Int  `json:"investment_amount"`
	FeeAmount        *big.Int  `json:"fee_amount"`
	OutcomeTokens    *big.Int  `json:"outcome_tokens"`
	Timestamp        time.Time `json:"timestamp"`
}

// Refund records that a participant of a voided market has been repaid.
type Refund struct {
	MarketID    string
	Participant string
	Amount      *big.Int
	Timestamp   time.Time
}
