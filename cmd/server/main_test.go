package main

import "testing"

func TestValidateSupervisorPINRejectsWeakValues(t *testing.T) {
	for _, pin := range []string{"12", "1111", "1234", "9876", "12ab"} {
		if err := validateSupervisorPIN(pin); err == nil {
			t.Fatalf("expected pin %q to be rejected", pin)
		}
	}
}

func TestValidateSupervisorPINAcceptsStrongValues(t *testing.T) {
	for _, pin := range []string{"2580", "739154", "4071"} {
		if err := validateSupervisorPIN(pin); err != nil {
			t.Fatalf("expected pin %q to pass, got %v", pin, err)
		}
	}
}
