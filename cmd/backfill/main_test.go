package main

import (
	"testing"

	"github.com/tendant/simple-photos/internal/domain"
)

func TestParseTiers(t *testing.T) {
	tiers, err := parseTiers(" medium , small,")
	if err != nil {
		t.Fatalf("parseTiers: %v", err)
	}
	if len(tiers) != 2 || tiers[0] != domain.TierMedium || tiers[1] != domain.TierSmall {
		t.Fatalf("unexpected tiers: %v", tiers)
	}

	for _, bad := range []string{"", "original", "huge"} {
		if _, err := parseTiers(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
