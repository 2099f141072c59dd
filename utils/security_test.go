package utils

import (
	"encoding/hex"
	"net/http/httptest"
	"testing"
)

// TestGenerateCookie validates that pseudonyms are deterministic and scoped per community.
func TestGenerateCookie(t *testing.T) {
	testCases := []struct {
		name      string
		userID    int64
		community int64
	}{
		{"Small ids", 1, 2},
		{"Snowflake ids", 281474976710655, 1098765432109876543},
		{"Zero community", 99, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			first := GenerateCookie(tc.userID, tc.community)
			second := GenerateCookie(tc.userID, tc.community)
			if first != second {
				t.Errorf("Expected identical pseudonyms, got '%s' and '%s'", first, second)
			}
			if len(first) != 16 {
				t.Errorf("Expected pseudonym length to be 16, but got %d", len(first))
			}
			if _, err := hex.DecodeString(first); err != nil {
				t.Errorf("Expected a hex pseudonym, got '%s'", first)
			}
		})
	}
}

// TestGenerateCookieKnownValue pins the derivation so existing rows stay reachable.
func TestGenerateCookieKnownValue(t *testing.T) {
	expected := "d3dbf7cea6b38d5e"
	if got := GenerateCookie(1, 2); got != expected {
		t.Errorf("Expected pseudonym to be '%s', but got '%s'", expected, got)
	}
}

// TestGenerateCookieDisjoint ensures the same user gets unrelated pseudonyms across communities.
func TestGenerateCookieDisjoint(t *testing.T) {
	seen := make(map[string]int64)
	for community := int64(1); community <= 500; community++ {
		cookie := GenerateCookie(42, community)
		if prev, ok := seen[cookie]; ok {
			t.Fatalf("Communities %d and %d produced the same pseudonym '%s'", prev, community, cookie)
		}
		seen[cookie] = community
	}
	if GenerateCookie(42, 1) == GenerateCookie(43, 1) {
		t.Error("Different users in one community produced the same pseudonym")
	}
}

func TestShortCookie(t *testing.T) {
	if got := ShortCookie("0123456789abcdef"); got != "01234567" {
		t.Errorf("Expected '01234567', got '%s'", got)
	}
	if got := ShortCookie("abc"); got != "abc" {
		t.Errorf("Expected short input to be unchanged, got '%s'", got)
	}
}

func TestIsLocalRequest(t *testing.T) {
	testCases := []struct {
		remoteAddr string
		expected   bool
	}{
		{"127.0.0.1:5555", true},
		{"10.1.2.3:80", true},
		{"192.168.0.7", true},
		{"[::1]:8080", true},
		{"8.8.8.8:443", false},
		{"garbage", false},
	}
	for _, tc := range testCases {
		r := httptest.NewRequest("GET", "/metrics", nil)
		r.RemoteAddr = tc.remoteAddr
		if got := IsLocalRequest(r); got != tc.expected {
			t.Errorf("IsLocalRequest(%q) = %v, expected %v", tc.remoteAddr, got, tc.expected)
		}
	}
}
