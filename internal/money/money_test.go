package money

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

var (
	RWF = MustGetAsset("RWF")
	KES = MustGetAsset("KES")
)

func TestToMajor(t *testing.T) {
	tests := []struct {
		name string
		m    Money
		want string
	}{
		{"RWF whole", New(RWF, 3000), "3000"},
		{"RWF zero", Zero(RWF), "0"},
		{"KES cents", New(KES, 1250), "12.50"},
		{"KES small", New(KES, 5), "0.05"},
		{"KES negative", New(KES, -1205), "-12.05"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.ToMajor(); got != tt.want {
				t.Errorf("ToMajor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMulPercent(t *testing.T) {
	tests := []struct {
		atomic  int64
		percent int64
		want    int64
	}{
		{1000, 80, 800},
		{999, 80, 799},  // 799.2 rounds down
		{1001, 50, 501}, // 500.5 rounds half-up
		{-1001, 50, -501},
		{1, 80, 1},
	}
	for _, tt := range tests {
		got, err := New(RWF, tt.atomic).MulPercent(tt.percent)
		if err != nil {
			t.Fatalf("MulPercent: %v", err)
		}
		if got.Atomic != tt.want {
			t.Errorf("%d * %d%% = %d, want %d", tt.atomic, tt.percent, got.Atomic, tt.want)
		}
	}
}

func TestMul_Overflow(t *testing.T) {
	if _, err := New(RWF, math.MaxInt64/2+1).Mul(2); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
	got, err := New(RWF, 1000).Mul(3)
	if err != nil || got.Atomic != 3000 {
		t.Errorf("1000*3 = %v, %v", got, err)
	}
}

func TestAddSub_AssetMismatch(t *testing.T) {
	if _, err := New(RWF, 1).Add(New(KES, 1)); !errors.Is(err, ErrAssetMismatch) {
		t.Errorf("expected asset mismatch, got %v", err)
	}
	diff, err := New(RWF, 5000).Sub(New(RWF, 3000))
	if err != nil || diff.Atomic != 2000 {
		t.Errorf("5000-3000 = %v, %v", diff, err)
	}
}

func TestGetAsset_CaseInsensitive(t *testing.T) {
	a, err := GetAsset(" rwf ")
	if err != nil || a.Code != "RWF" {
		t.Fatalf("GetAsset(rwf) = %+v, %v", a, err)
	}
	if _, err := GetAsset("XYZ"); err == nil {
		t.Error("expected unknown asset error")
	}
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(New(KES, 1250))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"currency":"KES","amount":1250,"major":"12.50"}` {
		t.Errorf("unexpected json %s", data)
	}

	tests := []struct {
		name    string
		in      string
		want    Money
		wantErr bool
	}{
		{name: "number", in: `{"currency":"RWF","amount":3000}`, want: New(RWF, 3000)},
		{name: "numeric string", in: `{"currency":"RWF","amount":"3000"}`, want: New(RWF, 3000)},
		{name: "major ignored", in: `{"currency":"KES","amount":1250,"major":"99.99"}`, want: New(KES, 1250)},
		{name: "unknown currency", in: `{"currency":"XYZ","amount":1}`, wantErr: true},
		{name: "missing currency", in: `{"amount":1}`, wantErr: true},
		{name: "missing amount", in: `{"currency":"RWF"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Money
			err := json.Unmarshal([]byte(tt.in), &m)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", m)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !m.Equal(tt.want) {
				t.Errorf("got %v, want %v", m, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := New(RWF, 500).String(); got != "500 RWF" {
		t.Errorf("String() = %q", got)
	}
}
