package model

import "testing"

func TestStatusBlocks(t *testing.T) {
	if !StatusPending.Blocks() || !StatusConfirmed.Blocks() {
		t.Fatalf("pending and confirmed must block their slot")
	}
	if StatusCancelled.Blocks() || StatusRejected.Blocks() {
		t.Fatalf("cancelled and rejected must free their slot")
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusRejected},
		{StatusConfirmed, StatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusCancelled},
		{StatusConfirmed, StatusRejected},
		{StatusConfirmed, StatusPending},
		{StatusCancelled, StatusConfirmed},
		{StatusCancelled, StatusPending},
		{StatusRejected, StatusConfirmed},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}
