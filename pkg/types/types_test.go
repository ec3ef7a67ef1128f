package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTradeStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status TradeStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusSubmitted, false},
		{StatusPartial, false},
		{StatusFilled, true},
		{StatusCancelled, true},
		{StatusRejected, true},
		{StatusError, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("TradeStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTradeStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from TradeStatus
		to   TradeStatus
		want bool
	}{
		{StatusPending, StatusSubmitted, true},
		{StatusPending, StatusRejected, true},
		{StatusSubmitted, StatusFilled, true},
		{StatusSubmitted, StatusPartial, true},
		{StatusSubmitted, StatusPending, false}, // never backwards
		{StatusFilled, StatusSubmitted, false},
		{StatusFilled, StatusFilled, true}, // duplicate fill event is idempotent
		{StatusPartial, StatusFilled, true},
		{StatusRejected, StatusFilled, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%q → %q = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSignalIsActionable(t *testing.T) {
	t.Parallel()

	if !(Signal{Action: ActionBuy}).IsActionable() {
		t.Error("buy signal should be actionable")
	}
	if !(Signal{Action: ActionSell}).IsActionable() {
		t.Error("sell signal should be actionable")
	}
	if (Signal{Action: ActionHold}).IsActionable() {
		t.Error("hold signal should not be actionable")
	}
}

func TestSignalHasPrice(t *testing.T) {
	t.Parallel()

	if (Signal{}).HasPrice() {
		t.Error("zero price should mean no price")
	}
	if (Signal{Price: decimal.NewFromInt(-1)}).HasPrice() {
		t.Error("negative price should mean no price")
	}
	if !(Signal{Price: decimal.NewFromFloat(185.50)}).HasPrice() {
		t.Error("positive price should count as a price")
	}
}
