package common

import (
	"errors"
	"math"
	"time"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaLamportsExceeded = errors.New("quota lamport cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for a signer.
type QuotaNow struct {
	ReqCount     uint32
	LamportsUsed uint64
	EpochID      uint64
}

// Quota defines the limits enforced per signer and quota epoch. Zero limits
// are unbounded.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxLamportsPerEpoch uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is set.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxLamportsPerEpoch > 0
}

// EpochID returns the quota epoch containing now. A zero EpochSeconds means
// one minute.
func (q Quota) EpochID(now time.Time) uint64 {
	seconds := int64(q.EpochSeconds)
	if seconds <= 0 {
		seconds = 60
	}
	unix := now.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix / seconds)
}

// CheckQuota verifies whether the additional request and lamport usage fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addLamports uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addLamports > 0 {
		if next.LamportsUsed > math.MaxUint64-addLamports {
			return prev, ErrQuotaCounterOverflow
		}
		next.LamportsUsed += addLamports
	}
	if q.MaxLamportsPerEpoch > 0 && next.LamportsUsed > q.MaxLamportsPerEpoch {
		return prev, ErrQuotaLamportsExceeded
	}

	return next, nil
}
