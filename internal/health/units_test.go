package health

import (
	"testing"
	"time"
)

func TestFeetInchesToCm(t *testing.T) {
	tests := []struct {
		feet, inches int
		want         int
	}{
		{5, 10, 178}, // 70in * 2.54 = 177.8
		{6, 0, 183},  // 72in * 2.54 = 182.88
		{5, 0, 152},  // 60in * 2.54 = 152.4
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := FeetInchesToCm(tt.feet, tt.inches); got != tt.want {
			t.Errorf("FeetInchesToCm(%d, %d) = %d, want %d", tt.feet, tt.inches, got, tt.want)
		}
	}
}

func TestCmToFeetInches(t *testing.T) {
	tests := []struct {
		cm   int
		want FeetInches
	}{
		{178, FeetInches{5, 10}},
		{152, FeetInches{5, 0}},
		{183, FeetInches{6, 0}},
	}
	for _, tt := range tests {
		if got := CmToFeetInches(tt.cm); got != tt.want {
			t.Errorf("CmToFeetInches(%d) = %+v, want %+v", tt.cm, got, tt.want)
		}
	}
}

func TestWeightConversions(t *testing.T) {
	if got := KgToGrams(68.5); got != 68500 {
		t.Errorf("KgToGrams(68.5) = %d, want 68500", got)
	}
	if got := GramsToKg(68500); got != 68.5 {
		t.Errorf("GramsToKg(68500) = %v, want 68.5", got)
	}
	if got := LbsToKg(150); got != 68.0 {
		t.Errorf("LbsToKg(150) = %v, want 68.0", got)
	}
	if got := KgToLbs(68.0); got != 149.9 {
		t.Errorf("KgToLbs(68.0) = %v, want 149.9", got)
	}
}

func TestAge(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		dob  time.Time
		want int
	}{
		{"birthday passed", time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC), 36},
		{"birthday upcoming", time.Date(1990, 11, 2, 0, 0, 0, 0, time.UTC), 35},
		{"birthday today", time.Date(1990, 8, 31, 0, 0, 0, 0, time.UTC), 36},
		{"birthday tomorrow", time.Date(1990, 9, 1, 0, 0, 0, 0, time.UTC), 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Age(tt.dob, now); got != tt.want {
				t.Errorf("Age = %d, want %d", got, tt.want)
			}
		})
	}
}
