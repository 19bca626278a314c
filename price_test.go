package x402

import (
	"errors"
	"math/big"
	"testing"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"one cent", "$0.01", 6, "10000", false},
		{"no dollar sign", "0.01", 6, "10000", false},
		{"whole dollars", "$5", 6, "5000000", false},
		{"full precision", "$0.000001", 6, "1", false},
		{"eighteen decimals", "0.5", 18, "500000000000000000", false},
		{"surrounding space", " $1.25 ", 6, "1250000", false},
		{"too precise", "$0.0000001", 6, "", true},
		{"zero", "$0", 6, "", true},
		{"negative", "-1", 6, "", true},
		{"empty", "", 6, "", true},
		{"dollar only", "$", 6, "", true},
		{"garbage", "$abc", 6, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.price, tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrice(%q) error = %v, wantErr %v", tt.price, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Errorf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if got.String() != tt.want {
				t.Errorf("ParsePrice(%q) = %s, want %s", tt.price, got, tt.want)
			}
		})
	}
}

func TestParseAtomicAmount(t *testing.T) {
	if v, err := ParseAtomicAmount("10000"); err != nil || v.Int64() != 10000 {
		t.Errorf("ParseAtomicAmount(10000) = %v, %v", v, err)
	}
	for _, bad := range []string{"", "1.5", "-3", "0x10"} {
		if _, err := ParseAtomicAmount(bad); err == nil {
			t.Errorf("ParseAtomicAmount(%q) expected error", bad)
		}
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		atomic   int64
		decimals uint8
		want     int64
		wantErr  bool
	}{
		{"usdc one cent", 10000, 6, 1, false},
		{"usdc one dollar", 1000000, 6, 100, false},
		{"two decimal asset", 250, 2, 250, false},
		{"fraction of a cent", 15000, 6, 0, true},
		{"below a cent", 1, 6, 0, true},
		{"too few decimals", 1, 0, 0, true},
		{"zero", 0, 6, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinorUnits(big.NewInt(tt.atomic), tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToMinorUnits(%d, %d) error = %v, wantErr %v", tt.atomic, tt.decimals, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ToMinorUnits(%d, %d) = %d, want %d", tt.atomic, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(big.NewInt(10000), 6); got != "$0.01" {
		t.Errorf("FormatPrice = %s, want $0.01", got)
	}
}
