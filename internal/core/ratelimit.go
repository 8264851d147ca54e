package core

import "time"

// RateState captures a client's token bucket.
type RateState struct {
	Tokens          float64   `json:"tokens"`
	Capacity        float64   `json:"capacity"`
	RefillPerSecond float64   `json:"refill_per_second"`
	LastRefill      time.Time `json:"last_refill"`
}
