/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import "testing"

func TestTimebaseAcquireIsFirstWinsAndVacantOnly(t *testing.T) {
	tb := NewTimebase()

	if err := tb.Acquire("A"); err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}
	if err := tb.Acquire("A"); err != nil {
		t.Fatalf("re-acquiring by the current master should succeed: %v", err)
	}
	if err := tb.Acquire("B"); err == nil {
		t.Fatalf("expected B's acquire to fail while A holds the role")
	}

	master, held := tb.Master()
	if !held || master != "A" {
		t.Fatalf("Master() = (%q, %v), want (A, true)", master, held)
	}

	tb.Release("A")
	if _, held := tb.Master(); held {
		t.Fatalf("expected timebase vacant after release")
	}
	if err := tb.Acquire("B"); err != nil {
		t.Fatalf("B should be able to acquire the now-vacant role: %v", err)
	}
}

func TestTimebaseReleaseIfHeldIsNoOpForNonMaster(t *testing.T) {
	tb := NewTimebase()
	tb.Acquire("A")
	tb.ReleaseIfHeld("B") // B never held it
	master, held := tb.Master()
	if !held || master != "A" {
		t.Fatalf("expected A to remain master, got (%q, %v)", master, held)
	}
}
