package queue

import (
	"testing"

	"github.com/google/uuid"
)

func TestKeyFormats(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	if got := BetKey(id); got != "bet:550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("BetKey = %q", got)
	}
	if got := UserIndexKey("EXAMPLEpubkey123"); got != "bets:user:EXAMPLEpubkey123" {
		t.Errorf("UserIndexKey = %q", got)
	}
	if got := BatchKey(id); got != "batch:550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("BatchKey = %q", got)
	}
	if got := RecoveryKey(42); got != "settlement:recovery:42" {
		t.Errorf("RecoveryKey = %q", got)
	}
}

func TestIndexKeysAreConstants(t *testing.T) {
	if ClaimableIndexKey() != "bets:claimable" {
		t.Errorf("ClaimableIndexKey = %q", ClaimableIndexKey())
	}
	if ProcessingIndexKey() != "bets:processing" {
		t.Errorf("ProcessingIndexKey = %q", ProcessingIndexKey())
	}
}
