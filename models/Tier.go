package models

import (
	"sort"
	"time"
)

// Tiers maps a push-payment amount in KES to the hotspot access window it
// buys. An amount outside this map is rejected before any gateway call.
var Tiers = map[int]time.Duration{
	20:  5 * time.Hour,
	100: 168 * time.Hour, // 7 days
}

func TierDuration(amount int) (time.Duration, bool) {
	d, ok := Tiers[amount]
	return d, ok
}

func TierAmounts() []int {
	amounts := make([]int, 0, len(Tiers))
	for a := range Tiers {
		amounts = append(amounts, a)
	}
	sort.Ints(amounts)
	return amounts
}
