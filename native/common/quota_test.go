package common

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 10 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, 0)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaLamports(t *testing.T) {
	q := Quota{MaxLamportsPerEpoch: 1000}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 0, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.LamportsUsed != 1000 {
		t.Fatalf("unexpected lamports used: %d", next.LamportsUsed)
	}

	denied, err := CheckQuota(q, 5, next, 0, 1)
	if !errors.Is(err, ErrQuotaLamportsExceeded) {
		t.Fatalf("expected ErrQuotaLamportsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 6, next, 0, 500)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.LamportsUsed != 500 {
		t.Fatalf("unexpected lamports used after rollover: %d", rollover.LamportsUsed)
	}
}

func TestCheckQuotaOverflow(t *testing.T) {
	prev := QuotaNow{EpochID: 1, ReqCount: math.MaxUint32, LamportsUsed: math.MaxUint64}
	if _, err := CheckQuota(Quota{}, 1, prev, 1, 0); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected request overflow, got %v", err)
	}
	if _, err := CheckQuota(Quota{}, 1, prev, 0, 1); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected lamport overflow, got %v", err)
	}
}

func TestQuotaEpochID(t *testing.T) {
	now := time.Unix(1_700_000_030, 0)
	if got := (Quota{}).EpochID(now); got != 1_700_000_030/60 {
		t.Fatalf("default epoch = %d", got)
	}
	if got := (Quota{EpochSeconds: 3600}).EpochID(now); got != 1_700_000_030/3600 {
		t.Fatalf("hourly epoch = %d", got)
	}
	if (Quota{}).Enabled() || !(Quota{MaxLamportsPerEpoch: 1}).Enabled() {
		t.Fatalf("unexpected Enabled result")
	}
}
