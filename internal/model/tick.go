package model

import "time"

// Tick represents a single generated price observation for a symbol.
// Ticks are ephemeral and never persisted individually.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"timestamp"` // UTC
}
