// Package storage persists the live position and closed-trade history.
package storage

import "github.com/eddiefleurent/zerodte_strangler/internal/models"

// Interface defines the contract for position and trade persistence.
//
// Implementations must be safe for concurrent use: the monitor writes from
// its polling goroutine while the dashboard reads from HTTP handlers.
type Interface interface {
	// Live position
	GetCurrentPosition() *models.OpenPosition
	SetCurrentPosition(pos *models.OpenPosition) error
	GetState() models.PositionState
	SetState(state models.PositionState) error
	// ClosePosition archives the live position into history with its
	// realized P&L and exit reason, then clears it.
	ClosePosition(realizedPnL float64, reason models.ExitReason) error

	// Historical data and analytics
	GetHistory() []models.OpenPosition
	GetStatistics() Statistics

	// Data persistence
	Save() error
	Load() error
}

// Statistics summarizes closed trades.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	MaxDrawdown   float64 `json:"max_drawdown"`
}

// NewStorage creates the default storage implementation (JSON file).
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface.
var _ Interface = (*JSONStorage)(nil)
