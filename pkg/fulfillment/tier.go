package fulfillment

import (
	"strconv"
	"strings"
)

// Product tiers. The tier doubles as the license edition.
const (
	TierTeam         = "team"
	TierOrganization = "organization"
)

// SeatCap is the hard upper bound on licensed seats per purchase.
const SeatCap = 500

// NormalizeTier canonicalizes a tier identifier from purchase metadata.
// "org" is a historical alias for "organization"; anything empty falls back
// to the team tier.
func NormalizeTier(raw string) string {
	tier := strings.ToLower(strings.TrimSpace(raw))
	switch tier {
	case "":
		return TierTeam
	case "org":
		return TierOrganization
	default:
		return tier
	}
}

// DefaultSeats returns the seat count assumed when a purchase carries no
// usable seat metadata.
func DefaultSeats(tier string) int {
	if tier == TierOrganization {
		return 25
	}
	return 5
}

// ClampSeats resolves a raw seat-count string into [1, SeatCap]. Unparsable
// or missing input falls back to the tier default, never to zero or a
// negative count.
func ClampSeats(raw, tier string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultSeats(tier)
	}
	return clampSeatCount(n)
}

// ClampSeatCount bounds an already-numeric seat count into [1, SeatCap],
// substituting the tier default for the zero value.
func ClampSeatCount(n int, tier string) int {
	if n == 0 {
		return DefaultSeats(tier)
	}
	return clampSeatCount(n)
}

func clampSeatCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > SeatCap {
		return SeatCap
	}
	return n
}
