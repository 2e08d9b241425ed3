package domain

import (
	"context"
	"time"
)

// Event channels.
const (
	ChannelMarket  = "betledger:market"
	ChannelCasino  = "betledger:casino"
	ChannelPattern = "betledger:*"
	EventStream    = "betledger:events"
)

// Event types published after a unit commits.
const (
	EventMarketCreated  = "market.created"
	EventLiquidityAdded = "market.liquidity_added"
	EventMarketTrade    = "market.trade"
	EventMarketResolved = "market.resolved"
	EventMarketPayout   = "market.payout"
	EventMarketRefunded = "market.refunded"
	EventTradePlaced    = "casino.trade_placed"
	EventRoundLocked    = "casino.round_locked"
	EventTradeCashedOut = "casino.cashout"
	EventRoundSettled   = "casino.round_settled"
	EventTradeCancelled = "casino.trade_cancelled"
	EventRoundVoided    = "casino.round_voided"
)

// Event is the JSON envelope for everything the services publish.
type Event struct {
	Type      string         `json:"type"`
	MarketID  string         `json:"market_id,omitempty"`
	GameHash  string         `json:"game_hash,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Channel returns the pub/sub channel for the event.
func (e Event) Channel() string {
	if e.MarketID != "" {
		return ChannelMarket
	}
	return ChannelCasino
}

// EventPublisher fans committed events out to subscribers.
type EventPublisher interface {
	Notify(ctx context.Context, evt Event) error
}
