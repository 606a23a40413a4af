package models

import "time"

// JournalEntry represents a trading journal row.
type JournalEntry struct {
	ID          string
	WorkspaceID string
	TradeDate   time.Time
	Symbol      string
	Side        string // long, short
	TradeType   string // Spot, Options, Futures
	Quantity    float64
	EntryPrice  float64
	ExitPrice   *float64
	Strategy    string
	Setup       string
	Notes       string
	Emotions    string
	Outcome     string // win, loss, breakeven, open
	PL          *float64
	PLPercent   *float64
	Tags        []string
	IsOpen      bool
	StopLoss    *float64
	Target      *float64
	RiskAmount  *float64
	RMultiple   *float64
	PlannedRR   *float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasTag reports whether the entry carries tag.
func (j *JournalEntry) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
