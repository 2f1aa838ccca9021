package domain

import "time"

// TradeHistoryProvider supplies closed trade records for a key and window.
// The execution system owns trade capture; this core only reads.
//
// Windows select by exit time: a trade belongs to [from, to) when its exit
// falls inside the range, since that is when its P/L is realized.
// Implementations must return trades ordered by entry time ascending.
// Ties keep the provider's storage order so metric computation stays
// deterministic across calls.
type TradeHistoryProvider interface {
	// ClosedTrades returns real closed trades exiting within [from, to).
	ClosedTrades(account string, key Key, from, to time.Time) ([]Trade, error)

	// ShadowTrades returns closed shadow (simulated) trades exiting within
	// [from, to). Only meaningful while the symbol is disabled.
	ShadowTrades(account string, key Key, from, to time.Time) ([]Trade, error)
}
