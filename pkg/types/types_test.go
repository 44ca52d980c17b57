package types_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicegate/pkg/types"
)

func TestModelTierIsValid(t *testing.T) {
	t.Parallel()

	if !types.TierLight.IsValid() || !types.TierHeavy.IsValid() {
		t.Error("built-in tiers reported invalid")
	}
	if types.ModelTier("medium").IsValid() {
		t.Error("unknown tier reported valid")
	}
}

func TestVerificationTokenExpired(t *testing.T) {
	t.Parallel()

	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tok := types.VerificationToken{
		OwnerID:  "owner-1",
		Nonce:    uuid.New(),
		IssuedAt: issued,
		TTL:      30 * time.Second,
	}

	if tok.Expired(issued.Add(29 * time.Second)) {
		t.Error("token expired before its TTL elapsed")
	}
	if tok.Expired(issued.Add(30 * time.Second)) {
		t.Error("token expired exactly at the TTL boundary")
	}
	if !tok.Expired(issued.Add(31 * time.Second)) {
		t.Error("token still valid after its TTL elapsed")
	}
}
