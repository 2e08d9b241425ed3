package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeState is the persisted state of a casino trade.
type TradeState int

const (
	TradeOpen      TradeState = 0
	TradeLocked    TradeState = 1
	TradeWin       TradeState = 2
	TradeLoss      TradeState = 3
	TradeCancelled TradeState = 4
)

func (s TradeState) String() string {
	switch s {
	case TradeOpen:
		return "OPEN"
	case TradeLocked:
		return "LOCKED"
	case TradeWin:
		return "WIN"
	case TradeLoss:
		return "LOSS"
	case TradeCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s TradeState) Terminal() bool {
	return s == TradeWin || s == TradeLoss || s == TradeCancelled
}

// CasinoTrade is one stake on a crash round. CrashFactor is the target the
// user cashes out at; CashoutFactor and Reward are set once the trade wins.
type CasinoTrade struct {
	ID            uuid.UUID           `json:"id"`
	UserID        string              `json:"user_id"`
	CrashFactor   decimal.Decimal     `json:"crash_factor"`
	StakedAmount  *big.Int            `json:"staked_amount"`
	State         TradeState          `json:"state"`
	GameID        string              `json:"game_id"`
	GameHash      string              `json:"game_hash,omitempty"`
	CashoutFactor decimal.NullDecimal `json:"cashout_factor"`
	Reward        *big.Int            `json:"reward,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	SettledAt     *time.Time          `json:"settled_at,omitempty"`
}
