package models

import "time"

// Event types published after a computation finishes.
const (
	EventMomentumRanked    = "momentum.ranked"
	EventConstituentsBuilt = "constituents.built"
	EventIndexBuilt        = "index.built"
)

// ComputationEvent announces that a batch of derived rows has been written.
type ComputationEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	IndexType string    `json:"index_type,omitempty"`
	IndexCode string    `json:"index_code,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Rows      int       `json:"rows"`
	At        time.Time `json:"at"`
}

// PricesUpdated is the inbound notice that price rows were inserted or corrected.
type PricesUpdated struct {
	InstrumentIDs []string `json:"codes,omitempty"`
	From          string   `json:"from"`
	To            string   `json:"to"`
}
