package main

import (
	"testing"

	"github.com/keyward/keyward/internal/keyring"
)

func TestNeedsConfirmation(t *testing.T) {
	cases := []struct {
		name  string
		op    keyring.Op
		bulk  bool
		total int
		want  bool
	}{
		{"single accept", keyring.OpAccept, false, 1, false},
		{"multi accept", keyring.OpAccept, false, 2, true},
		{"accept-all with one pending", keyring.OpAccept, true, 1, true},
		{"single reject", keyring.OpReject, false, 1, true},
		{"single delete", keyring.OpDelete, false, 1, true},
		{"reject-all", keyring.OpReject, true, 1, true},
		{"delete-all", keyring.OpDelete, true, 1, true},
	}
	for _, tc := range cases {
		if got := needsConfirmation(tc.op, tc.bulk, tc.total); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
