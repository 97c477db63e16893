package models

import "testing"

func TestIsValidPaymentTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{PaymentStatusPending, PaymentStatusVerified, true},
		{PaymentStatusPending, PaymentStatusCredited, true},
		{PaymentStatusVerified, PaymentStatusCredited, true},
		{PaymentStatusPending, PaymentStatusRejected, true},
		{PaymentStatusVerified, PaymentStatusRejected, true},

		// Replay protection: credited is terminal
		{PaymentStatusCredited, PaymentStatusCredited, false},
		{PaymentStatusCredited, PaymentStatusPending, false},
		{PaymentStatusCredited, PaymentStatusRejected, false},
		{PaymentStatusRejected, PaymentStatusCredited, false},
		{PaymentStatusRejected, PaymentStatusPending, false},

		{"nonexistent", PaymentStatusCredited, false},
		{PaymentStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidPaymentTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidPaymentTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestIsValidSubscriptionTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{SubscriptionStatusActive, SubscriptionStatusCancelled, true},
		{SubscriptionStatusActive, SubscriptionStatusExpired, true},
		{SubscriptionStatusCancelled, SubscriptionStatusActive, false},
		{SubscriptionStatusExpired, SubscriptionStatusActive, false},
		{SubscriptionStatusCancelled, SubscriptionStatusExpired, false},
		{"nonexistent", SubscriptionStatusExpired, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidSubscriptionTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidSubscriptionTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, status := range []string{PaymentStatusCredited, PaymentStatusRejected} {
		if len(ValidPaymentTransitions[status]) != 0 {
			t.Errorf("terminal payment status %q should have no transitions", status)
		}
	}
	for _, status := range []string{SubscriptionStatusCancelled, SubscriptionStatusExpired} {
		if len(ValidSubscriptionTransitions[status]) != 0 {
			t.Errorf("terminal subscription status %q should have no transitions", status)
		}
	}
}
