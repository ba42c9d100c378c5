package amount

import (
	"errors"
	"math/big"
	"strings"
	"testing"
)

func TestToInteger(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		precision uint8
		want      string
	}{
		{name: "simple", input: "1.5", precision: 6, want: "1500000"},
		{name: "whole", input: "42", precision: 18, want: "42000000000000000000"},
		{name: "leading dot", input: ".25", precision: 2, want: "25"},
		{name: "trailing dot", input: "7.", precision: 3, want: "7000"},
		{name: "floors excess digits", input: "0.1234569", precision: 6, want: "123456"},
		{name: "strips separators", input: "1,234.5 USDC", precision: 6, want: "1234500000"},
		{name: "second separator truncates", input: "1.2.3", precision: 2, want: "120"},
		{name: "zero precision", input: "12.99", precision: 0, want: "12"},
		{
			name:      "large magnitude",
			input:     "123456789012345678901234567890.123456789012345678",
			precision: 18,
			want:      "123456789012345678901234567890123456789012345678",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToInteger(tc.input, tc.precision)
			if err != nil {
				t.Fatalf("ToInteger(%q): %v", tc.input, err)
			}
			if got.String() != tc.want {
				t.Fatalf("ToInteger(%q) = %s, want %s", tc.input, got, tc.want)
			}
		})
	}
}

func TestToIntegerRejectsEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", ".", "abc", "-"} {
		if _, err := ToInteger(input, 6); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("ToInteger(%q) error = %v, want ErrInvalidAmount", input, err)
		}
	}
}

func TestToDisplay(t *testing.T) {
	cases := []struct {
		value     string
		precision uint8
		cap       int
		want      string
	}{
		{value: "1500000", precision: 6, cap: 6, want: "1.500000"},
		{value: "1", precision: 18, cap: 6, want: "0.000000"},
		{value: "1234567890000000000", precision: 18, cap: 4, want: "1.2345"},
		{value: "5", precision: 0, cap: 6, want: "5"},
		{value: "-2500", precision: 3, cap: 6, want: "-2.500"},
		{value: "2500", precision: 3, cap: 0, want: "2"},
	}
	for _, tc := range cases {
		v, _ := new(big.Int).SetString(tc.value, 10)
		if got := ToDisplay(v, tc.precision, tc.cap); got != tc.want {
			t.Fatalf("ToDisplay(%s, %d, %d) = %q, want %q", tc.value, tc.precision, tc.cap, got, tc.want)
		}
	}
	if got := Format(nil, 6); got != "0.000000" {
		t.Fatalf("Format(nil) = %q", got)
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []struct {
		s         string
		precision uint8
	}{
		{"1.5", 6},
		{"0.000001", 6},
		{"1000000", 6},
		{"98765.4321", 8},
		{"0.123456789012345678", 18},
		{"340282366920938463463374607431768211455.5", 1},
		{"3", 0},
	}
	for _, in := range inputs {
		n, err := ToInteger(in.s, in.precision)
		if err != nil {
			t.Fatalf("ToInteger(%q): %v", in.s, err)
		}
		back := ToDisplay(n, in.precision, int(in.precision))
		if Normalize(back) != Normalize(in.s) {
			t.Fatalf("round trip %q -> %s -> %q", in.s, n, back)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"001.500": "1.5",
		"2.000":   "2",
		"0.0":     "0",
		".5":      "0.5",
		"10":      "10",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFitsUint256(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if _, err := FitsUint256(max); err != nil {
		t.Fatalf("max uint256 rejected: %v", err)
	}
	over := new(big.Int).Add(max, big.NewInt(1))
	if _, err := FitsUint256(over); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := FitsUint256(big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for negative, got %v", err)
	}
	huge := "1" + strings.Repeat("0", 80)
	n, err := ToInteger(huge, 0)
	if err != nil {
		t.Fatalf("ToInteger: %v", err)
	}
	if _, err := FitsUint256(n); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow for 1e80, got %v", err)
	}
}
