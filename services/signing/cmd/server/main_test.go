package main

import (
	"testing"

	"github.com/khalilayoub23/fastepost-signing/pkg/captoken"
	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
)

func TestTokenMatchesNormalizesRole(t *testing.T) {
	claims := captoken.Claims{DeliveryID: "dlv_1", UserID: "usr_r", Role: domain.RoleRecipient}

	cases := []struct {
		deliveryID string
		roleName   string
		want       bool
	}{
		{"dlv_1", "recipient", true},
		{"dlv_1", "Recipient", true},
		{"dlv_1", "  RECIPIENT  ", true},
		{"dlv_1", "courier", false},
		{"dlv_2", "recipient", false},
		{"dlv_1", "witness", false},
	}
	for _, c := range cases {
		if got := tokenMatches(claims, c.deliveryID, c.roleName); got != c.want {
			t.Fatalf("tokenMatches(%q, %q) = %v, want %v", c.deliveryID, c.roleName, got, c.want)
		}
	}
}
