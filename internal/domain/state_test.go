// Copyright 2025 James Ross
package domain

import "testing"

// TestCanTransition table-tests every edge of the AuthRequestState machine
// (spec.md §4.7): the two reachable moves out of PENDING, every move out of
// PROCESSING (including the self-loop used by retry bookkeeping), and that
// every terminal status -- including to itself -- never transitions again.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusAuthorized, false},
		{StatusPending, StatusDenied, false},
		{StatusPending, StatusFailed, false},
		{StatusPending, StatusVoided, false},
		{StatusPending, StatusPending, false},

		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusAuthorized, true},
		{StatusProcessing, StatusDenied, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusExpired, true},
		{StatusProcessing, StatusPending, false},
		{StatusProcessing, StatusVoided, false},

		{StatusAuthorized, StatusProcessing, false},
		{StatusAuthorized, StatusAuthorized, false},
		{StatusDenied, StatusProcessing, false},
		{StatusDenied, StatusDenied, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusFailed, false},
		{StatusVoided, StatusProcessing, false},
		{StatusVoided, StatusVoided, false},
		{StatusExpired, StatusProcessing, false},
		{StatusExpired, StatusExpired, false},
	}

	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// TestStatusIsTerminal confirms IsTerminal agrees with CanTransition's
// terminal-state handling for every status.
func TestStatusIsTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusAuthorized: true,
		StatusDenied:     true,
		StatusFailed:     true,
		StatusVoided:     true,
		StatusExpired:    true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("Status(%s).IsTerminal() = %v, want %v", status, got, want)
		}
	}
}
