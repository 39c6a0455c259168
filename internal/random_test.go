package internal

import (
	"sort"
	"testing"
	"time"
)

func TestNewRecordIDSortsByIssuance(t *testing.T) {
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, NewRecordID())
		time.Sleep(2 * time.Millisecond)
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("expected lexical order to follow issuance, got %v", ids)
	}
}

func TestRandomIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		for _, gen := range []func() (string, error){NewJTI, NewFamilyID, NewSessionID} {
			id, err := gen()
			if err != nil {
				t.Fatalf("generate id: %v", err)
			}
			if _, dup := seen[id]; dup {
				t.Fatalf("duplicate id %s", id)
			}
			seen[id] = struct{}{}
		}
	}
}

// FuzzDeviceFingerprint checks field separation: shifting bytes between
// adjacent fields must change the fingerprint.
func FuzzDeviceFingerprint(f *testing.F) {
	f.Add("Mozilla/5.0", "Linux", "Firefox")
	f.Add("", "", "")
	f.Add("ab", "c", "")

	f.Fuzz(func(t *testing.T, ua, os, browser string) {
		fp := DeviceFingerprint(ua, os, browser)
		if len(fp) != 64 {
			t.Fatalf("expected 64 hex chars, got %d", len(fp))
		}
		if fp != DeviceFingerprint(ua, os, browser) {
			t.Fatal("fingerprint not deterministic")
		}
		if len(ua) > 0 {
			shifted := DeviceFingerprint(ua[:len(ua)-1], ua[len(ua)-1:]+os, browser)
			if shifted == fp {
				t.Fatalf("fields collided for %q/%q/%q", ua, os, browser)
			}
		}
	})
}
