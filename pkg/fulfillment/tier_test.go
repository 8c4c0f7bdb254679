package fulfillment

import "testing"

func TestNormalizeTier(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", TierTeam},
		{"team", TierTeam},
		{"org", TierOrganization},
		{"organization", TierOrganization},
		{"  Team ", TierTeam},
		{"enterprise", "enterprise"},
	}

	for _, tt := range tests {
		if got := NormalizeTier(tt.raw); got != tt.want {
			t.Errorf("NormalizeTier(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestClampSeats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		tier string
		want int
	}{
		{"zero clamps to one", "0", TierTeam, 1},
		{"negative clamps to one", "-5", TierTeam, 1},
		{"garbage falls back to team default", "abc", TierTeam, 5},
		{"garbage falls back to org default", "abc", TierOrganization, 25},
		{"missing falls back to default", "", TierTeam, 5},
		{"over cap clamps to cap", "9999", TierTeam, SeatCap},
		{"in range passes through", "42", TierTeam, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampSeats(tt.raw, tt.tier); got != tt.want {
				t.Errorf("ClampSeats(%q, %q) = %d, want %d", tt.raw, tt.tier, got, tt.want)
			}
		})
	}
}

func TestClampSeatCount(t *testing.T) {
	tests := []struct {
		n    int
		tier string
		want int
	}{
		{0, TierTeam, 5},
		{0, TierOrganization, 25},
		{-3, TierTeam, 1},
		{17, TierTeam, 17},
		{100000, TierOrganization, SeatCap},
	}

	for _, tt := range tests {
		if got := ClampSeatCount(tt.n, tt.tier); got != tt.want {
			t.Errorf("ClampSeatCount(%d, %q) = %d, want %d", tt.n, tt.tier, got, tt.want)
		}
	}
}
