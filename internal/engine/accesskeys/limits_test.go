package accesskeys

import (
	stderrors "errors"
	"math/big"
	"testing"

	"grip/internal/pkg/errors"
	"grip/internal/platform/models"
)

const tokenA = "0x20C0000000000000000000000000000000000001"

func TestNewLimits(t *testing.T) {
	tests := []struct {
		name    string
		input   []SpendingLimit
		wantErr bool
	}{
		{"valid", []SpendingLimit{{Token: tokenA, Amount: "1000000000000000000000"}}, false},
		{"empty", nil, true},
		{"bad address", []SpendingLimit{{Token: "0x123", Amount: "1"}}, true},
		{"zero amount", []SpendingLimit{{Token: tokenA, Amount: "0"}}, true},
		{"negative amount", []SpendingLimit{{Token: tokenA, Amount: "-5"}}, true},
		{"decimal amount", []SpendingLimit{{Token: tokenA, Amount: "1.5"}}, true},
		{"duplicate token", []SpendingLimit{{Token: tokenA, Amount: "1"}, {Token: "0x20c0000000000000000000000000000000000001", Amount: "2"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits, err := NewLimits(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLimits() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !stderrors.Is(err, errors.ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			for _, l := range limits {
				if l.Initial != l.Remaining {
					t.Errorf("expected initial == remaining, got %+v", l)
				}
			}
		})
	}
}

func TestSpend(t *testing.T) {
	limits, err := NewLimits([]SpendingLimit{{Token: tokenA, Amount: "100"}})
	if err != nil {
		t.Fatalf("NewLimits() error = %v", err)
	}

	next, err := limits.Spend(tokenA, big.NewInt(40))
	if err != nil {
		t.Fatalf("Spend() error = %v", err)
	}
	if got := next["0x20c0000000000000000000000000000000000001"].Remaining; got != "60" {
		t.Errorf("remaining = %s, want 60", got)
	}
	if limits["0x20c0000000000000000000000000000000000001"].Remaining != "100" {
		t.Error("Spend must not mutate the receiver")
	}
	if err := next.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	if _, err := next.Spend(tokenA, big.NewInt(61)); !stderrors.Is(err, ErrLimitExceeded) {
		t.Errorf("expected ErrLimitExceeded, got %v", err)
	}
	if _, err := next.Spend("0x20c0000000000000000000000000000000000002", big.NewInt(1)); err == nil {
		t.Error("expected error for unknown token")
	}

	done, err := next.Spend(tokenA, big.NewInt(60))
	if err != nil {
		t.Fatalf("Spend() error = %v", err)
	}
	if !done.Exhausted() {
		t.Error("expected limits to be exhausted")
	}
}

func TestValidateRejectsRemainingAboveInitial(t *testing.T) {
	limits := Limits{"0xabc": models.TokenLimit{Initial: "10", Remaining: "11"}}
	if err := limits.Validate(); err == nil {
		t.Error("expected remaining > initial to be rejected")
	}
}
