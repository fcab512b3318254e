package x402

import (
	"errors"
	"fmt"
	"testing"
)

func TestUnitsToUSD(t *testing.T) {
	tests := []struct {
		units string
		want  string
	}{
		{"5000000", "5.00"},
		{"1", "0.00"},
		{"10000", "0.01"},
		{"1234567", "1.23"},
		{"100000000", "100.00"},
		{"999999990000", "999999.99"},
		{"2995000", "3.00"},
	}

	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			got, err := UnitsToUSD(tt.units)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("UnitsToUSD(%s) = %s, want %s", tt.units, got, tt.want)
			}
		})
	}

	if _, err := UnitsToUSD("abc"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

// Whole-cent amounts must format exactly as cents/100.
func TestUnitsToUSDWholeCents(t *testing.T) {
	for cents := int64(1); cents < 100000; cents += 997 {
		units := fmt.Sprintf("%d", cents*10000)
		want := fmt.Sprintf("%d.%02d", cents/100, cents%100)
		got, err := UnitsToUSD(units)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", units, err)
		}
		if got != want {
			t.Fatalf("UnitsToUSD(%s) = %s, want %s", units, got, want)
		}
	}
}

func TestUSDToUnits(t *testing.T) {
	tests := []struct {
		usd     string
		want    string
		wantErr bool
	}{
		{"5", "5000000", false},
		{"10", "10000000", false},
		{"100", "100000000", false},
		{"2.5", "2500000", false},
		{"0.000001", "1", false},
		{"0.0000001", "", true},
		{"five", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.usd, func(t *testing.T) {
			got, err := USDToUnits(tt.usd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("USDToUnits(%s) error = %v, wantErr %v", tt.usd, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("USDToUnits(%s) = %s, want %s", tt.usd, got, tt.want)
			}
		})
	}
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("5000000")
	if err != nil || v.Int64() != 5000000 {
		t.Fatalf("ParseUnits = %v, %v", v, err)
	}
	if _, err := ParseUnits("5.0"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}
