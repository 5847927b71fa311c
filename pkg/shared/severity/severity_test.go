package severity

import "testing"

func TestLevel_Weight(t *testing.T) {
	tests := []struct {
		level Level
		want  float64
	}{
		{Critical, 1.0},
		{High, 0.8},
		{Medium, 0.5},
		{Low, 0.2},
		{Informational, 0},
		{Level("bogus"), 0},
	}
	for _, tt := range tests {
		if got := tt.level.Weight(); got != tt.want {
			t.Errorf("%s.Weight() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestLevel_Priority(t *testing.T) {
	levels := AllLevels()
	for i := 1; i < len(levels); i++ {
		if !levels[i-1].IsHigherThan(levels[i]) {
			t.Errorf("%s should be higher than %s", levels[i-1], levels[i])
		}
	}
}

func TestFromString(t *testing.T) {
	tests := map[string]Level{
		"CRITICAL": Critical,
		" high ":   High,
		"moderate": Medium,
		"Low":      Low,
		"info":     Informational,
		"":         Informational,
	}
	for in, want := range tests {
		if got := FromString(in); got != want {
			t.Errorf("FromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRating(t *testing.T) {
	tests := []struct {
		rating Rating
		weight float64
		rank   int
	}{
		{RatingHigh, 1.0, 3},
		{RatingMedium, 0.6, 2},
		{RatingLow, 0.3, 1},
		{Rating("extreme"), 0, 0},
	}
	for _, tt := range tests {
		if got := tt.rating.ScoreWeight(); got != tt.weight {
			t.Errorf("%s.ScoreWeight() = %v, want %v", tt.rating, got, tt.weight)
		}
		if got := tt.rating.Rank(); got != tt.rank {
			t.Errorf("%s.Rank() = %v, want %v", tt.rating, got, tt.rank)
		}
	}
	if Rating("extreme").Valid() {
		t.Error("unknown rating should not be valid")
	}
}
