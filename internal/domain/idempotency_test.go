package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		ttlAt time.Time
		want  bool
	}{
		{name: "future", ttlAt: now.Add(time.Minute), want: false},
		{name: "exact", ttlAt: now, want: true},
		{name: "past", ttlAt: now.Add(-time.Second), want: true},
		{name: "zero ttl never expires", ttlAt: time.Time{}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			record := IdempotencyRecord{Key: "k", TTLAt: tc.ttlAt}
			if got := record.Expired(now); got != tc.want {
				t.Fatalf("Expired()=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewIdempotencyClaim(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	claim, err := NewIdempotencyClaim("  checkout-7 ", " hash ", time.Time{}, now)
	if err != nil {
		t.Fatalf("NewIdempotencyClaim: %v", err)
	}
	if claim.Key != "checkout-7" || claim.RequestHash != "hash" {
		t.Fatalf("expected trimmed key and hash, got %q %q", claim.Key, claim.RequestHash)
	}
	if claim.Status != IdempotencyStatusProcessing || claim.Finished() {
		t.Fatalf("fresh claim must be processing and unfinished, got %+v", claim)
	}
	if !claim.TTLAt.Equal(now.Add(DefaultIdempotencyTTL)) {
		t.Fatalf("unexpected default ttl %v", claim.TTLAt)
	}

	if _, err := NewIdempotencyClaim(" ", "hash", now, now); err != ErrIdempotencyKeyRequired {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := NewIdempotencyClaim("k", "", now, now); err != ErrIdempotencyRequestHashRequired {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRecordFinished(t *testing.T) {
	cases := []struct {
		record IdempotencyRecord
		want   bool
	}{
		{IdempotencyRecord{Status: IdempotencyStatusDone, HTTPStatus: 201}, true},
		{IdempotencyRecord{Status: IdempotencyStatusFailed, HTTPStatus: 409}, true},
		{IdempotencyRecord{Status: IdempotencyStatusDone}, false},
		{IdempotencyRecord{Status: IdempotencyStatusProcessing, HTTPStatus: 201}, false},
	}
	for _, tc := range cases {
		if got := tc.record.Finished(); got != tc.want {
			t.Fatalf("Finished(%+v) = %v, want %v", tc.record, got, tc.want)
		}
	}
}
