// Package ledger provides an in-memory implementation of the position ledger,
// used by tests and by monitor mode when no database is configured. The
// PostgreSQL-backed implementation lives in internal/store/postgres.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// Memory is a mutex-guarded, map-backed PositionLedger.
type Memory struct {
	mu           sync.Mutex
	nextID       int64
	byPositionID map[string]*domain.Position
	openBySymbol map[string]string // symbol -> position_id
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		byPositionID: make(map[string]*domain.Position),
		openBySymbol: make(map[string]string),
	}
}

// Open records a new open position. The uniqueness check and the insert are
// performed under one lock, so concurrent opens for the same symbol cannot
// both succeed.
func (m *Memory) Open(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.openBySymbol[pos.Symbol]; exists {
		return domain.ErrConflict
	}
	if _, exists := m.byPositionID[pos.PositionID]; exists {
		return domain.ErrConflict
	}

	m.nextID++
	p := pos
	p.ID = m.nextID
	p.Status = domain.PositionStatusOpen
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	m.byPositionID[p.PositionID] = &p
	m.openBySymbol[p.Symbol] = p.PositionID
	return nil
}

// Close finalizes an open position. Closing an unknown or already-closed
// position returns ErrNotFound and leaves the stored PnL untouched.
func (m *Memory) Close(_ context.Context, positionID string, exitSpread, profitLoss float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byPositionID[positionID]
	if !ok || p.Status != domain.PositionStatusOpen {
		return domain.ErrNotFound
	}

	now := time.Now().UTC()
	p.Status = domain.PositionStatusClosed
	p.ExitSpread = &exitSpread
	p.ProfitLoss = profitLoss
	p.ClosedAt = &now
	delete(m.openBySymbol, p.Symbol)
	return nil
}

// UpdateMark refreshes the mark-to-market fields on an open position.
func (m *Memory) UpdateMark(_ context.Context, positionID string, currentSpread, profitLoss float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byPositionID[positionID]
	if !ok || p.Status != domain.PositionStatusOpen {
		return domain.ErrNotFound
	}
	p.CurrentSpread = currentSpread
	p.ProfitLoss = profitLoss
	return nil
}

// CurrentOpen returns the open position for a symbol.
func (m *Memory) CurrentOpen(_ context.Context, symbol string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.openBySymbol[symbol]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return *m.byPositionID[id], nil
}

// ListOpen returns all open positions, newest first.
func (m *Memory) ListOpen(_ context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Position, 0, len(m.openBySymbol))
	for _, id := range m.openBySymbol {
		out = append(out, *m.byPositionID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

// ListClosed returns positions closed at or after since, newest first.
func (m *Memory) ListClosed(_ context.Context, since time.Time) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Position
	for _, p := range m.byPositionID {
		if p.Status != domain.PositionStatusClosed || p.ClosedAt == nil {
			continue
		}
		if p.ClosedAt.Before(since) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.After(*out[j].ClosedAt) })
	return out, nil
}

// Compile-time interface check.
var _ domain.PositionLedger = (*Memory)(nil)
