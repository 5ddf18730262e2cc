package model

import "testing"

func TestVerificationStatus_Resettable(t *testing.T) {
	cases := map[VerificationStatus]bool{
		StatusPending:  false,
		StatusVerified: false,
		StatusFailed:   true,
		StatusExpired:  true,
	}
	for status, want := range cases {
		if got := status.Resettable(); got != want {
			t.Errorf("%s.Resettable() = %v, want %v", status, got, want)
		}
	}
}

func TestDomainVerification_Active(t *testing.T) {
	v := &DomainVerification{Status: StatusVerified}
	if !v.Active() {
		t.Error("new verification should be active")
	}
	v.Tombstone = true
	if v.Active() {
		t.Error("tombstoned verification should not be active")
	}
}
