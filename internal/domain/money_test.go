package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestScaleFor(t *testing.T) {
	cases := []struct {
		currency string
		want     int32
	}{
		{"USD", 2},
		{"USDC", 2},
		{"SUI", 4},
		{"BTC", 8},
		{"ETH", 8},
		{"DOGE", DefaultScale},
	}

	for _, tc := range cases {
		if got := ScaleFor(tc.currency); got != tc.want {
			t.Fatalf("ScaleFor(%s) = %d, want %d", tc.currency, got, tc.want)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	if got := NormalizeCurrency("  usdc "); got != "USDC" {
		t.Fatalf("NormalizeCurrency = %q, want USDC", got)
	}
	if got := NormalizeCurrency("   "); got != "" {
		t.Fatalf("NormalizeCurrency of blank = %q, want empty", got)
	}
}

func TestConvertRoundsHalfUpToTargetScale(t *testing.T) {
	cases := []struct {
		name       string
		amount     string
		rate       string
		toCurrency string
		want       string
	}{
		{"exact", "100", "1.5", "USD", "150"},
		{"rounds half up", "1", "0.125", "USD", "0.13"},
		{"rounds down below half", "1", "0.124", "USD", "0.12"},
		{"sui scale", "1", "0.00005", "SUI", "0.0001"},
		{"btc keeps precision", "1", "0.000000015", "BTC", "0.00000002"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tc.amount)
			rate := decimal.RequireFromString(tc.rate)
			want := decimal.RequireFromString(tc.want)

			got := Convert(amount, rate, tc.toCurrency)
			if !got.Equal(want) {
				t.Fatalf("Convert(%s * %s -> %s) = %s, want %s", tc.amount, tc.rate, tc.toCurrency, got.String(), want.String())
			}
		})
	}
}

func TestIsPositive(t *testing.T) {
	if IsPositive(decimal.Zero) {
		t.Fatal("zero must not be positive")
	}
	if IsPositive(decimal.RequireFromString("-1")) {
		t.Fatal("negative must not be positive")
	}
	if !IsPositive(decimal.RequireFromString("0.000000000000000001")) {
		t.Fatal("smallest positive unit must be positive")
	}
}
