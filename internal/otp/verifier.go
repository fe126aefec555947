// Package otp gates account creation and password reset behind proof of
// email ownership using short-lived six-digit codes.
package otp

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Flow identifies which verification workflow a code belongs to. Each flow
// has its own keyspace and TTL, so a registration code can never satisfy a
// password reset and vice versa.
type Flow string

const (
	FlowRegister Flow = "register"
	FlowReset    Flow = "reset"
)

var (
	// ErrNoPendingRequest means no code was requested, or it already expired
	// past recovery and was evicted.
	ErrNoPendingRequest = errors.New("no pending verification request")
	// ErrExpired means the code existed but its window has passed.
	ErrExpired = errors.New("verification code expired")
	// ErrMismatch means the submitted code does not match the pending one.
	ErrMismatch = errors.New("verification code mismatch")
)

// NormalizeEmail lowercases and trims an address. Every store key and every
// comparison goes through this, so addresses differing only in case or
// surrounding whitespace are the same identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Verifier issues and checks one-time codes. Codes are single use: a
// successful verification consumes the record.
type Verifier struct {
	store Store
	ttls  map[Flow]time.Duration
	now   func() time.Time
}

// NewVerifier builds a verifier over the given store with per-flow TTLs.
func NewVerifier(store Store, registerTTL, resetTTL time.Duration) *Verifier {
	return &Verifier{
		store: store,
		ttls: map[Flow]time.Duration{
			FlowRegister: registerTTL,
			FlowReset:    resetTTL,
		},
		now: time.Now,
	}
}

// Request generates a fresh six-digit code for email in the given flow and
// stores it, overwriting any prior pending code for that email+flow. The
// caller is responsible for delivering the returned code.
func (v *Verifier) Request(ctx context.Context, email string, flow Flow) (string, error) {
	code := strconv.Itoa(100000 + rand.Intn(900000))
	rec := Record{Code: code, ExpiresAt: v.now().Add(v.ttls[flow])}
	if err := v.store.Put(ctx, key(email, flow), rec, v.ttls[flow]); err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks submitted against the pending code for email+flow. On
// success the record is deleted so the code cannot be replayed. An expired
// record is also deleted, so a later re-request starts clean.
func (v *Verifier) Verify(ctx context.Context, email string, flow Flow, submitted string) error {
	k := key(email, flow)
	rec, err := v.store.Get(ctx, k)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNoPendingRequest
	}
	if !v.now().Before(rec.ExpiresAt) {
		_ = v.store.Delete(ctx, k)
		return ErrExpired
	}
	if rec.Code != strings.TrimSpace(submitted) {
		return ErrMismatch
	}
	return v.store.Delete(ctx, k)
}

func key(email string, flow Flow) string {
	return string(flow) + ":" + NormalizeEmail(email)
}
