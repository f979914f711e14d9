package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

// JSONStorage persists engine state to a single JSON file with atomic
// replace-on-write.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

type storageData struct {
	CurrentPosition *models.OpenPosition  `json:"current_position"`
	State           models.PositionState  `json:"state"`
	History         []models.OpenPosition `json:"history"`
	Statistics      Statistics            `json:"statistics"`
	LastUpdated     time.Time             `json:"last_updated"`
}

// NewJSONStorage creates a storage backed by the given file, loading any
// existing contents.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data: &storageData{
			State: models.StateIdle,
		},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load reads the state file from disk.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return err
	}
	if s.data.State == "" {
		s.data.State = models.StateIdle
	}
	return nil
}

// Save writes the state file atomically: temp file then rename.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// GetCurrentPosition returns a copy of the live position, or nil.
func (s *JSONStorage) GetCurrentPosition() *models.OpenPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.CurrentPosition == nil {
		return nil
	}
	cp := *s.data.CurrentPosition
	return &cp
}

// SetCurrentPosition stores the live position and persists.
func (s *JSONStorage) SetCurrentPosition(pos *models.OpenPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.CurrentPosition = pos
	return s.saveLocked()
}

// GetState returns the persisted lifecycle state.
func (s *JSONStorage) GetState() models.PositionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.State
}

// SetState stores the lifecycle state and persists.
func (s *JSONStorage) SetState(state models.PositionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.State = state
	return s.saveLocked()
}

// ClosePosition archives the live position into history and clears it.
func (s *JSONStorage) ClosePosition(realizedPnL float64, reason models.ExitReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.CurrentPosition == nil {
		return fmt.Errorf("no position to close")
	}

	pos := *s.data.CurrentPosition
	pos.ExitTime = time.Now().UTC()
	pos.ExitReason = reason
	pos.RealizedPnL = realizedPnL

	s.data.History = append(s.data.History, pos)
	s.updateStatisticsLocked(realizedPnL)
	s.data.CurrentPosition = nil
	s.data.State = models.StateIdle

	return s.saveLocked()
}

// GetHistory returns a copy of the closed-trade history.
func (s *JSONStorage) GetHistory() []models.OpenPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.OpenPosition, len(s.data.History))
	copy(out, s.data.History)
	return out
}

// GetStatistics returns the running summary of closed trades.
func (s *JSONStorage) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Statistics
}

func (s *JSONStorage) updateStatisticsLocked(pnl float64) {
	stats := &s.data.Statistics
	stats.TotalTrades++
	stats.TotalPnL += pnl

	if pnl > 0 {
		stats.WinningTrades++
	} else {
		stats.LosingTrades++
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	if pnl < 0 && pnl < stats.MaxDrawdown {
		stats.MaxDrawdown = pnl
	}
}
