package hub

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, secret string, claims connClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestAuthenticate(t *testing.T) {
	auth := NewAuthenticator("secret")
	tok := mintToken(t, "secret", connClaims{
		UID: "u1",
		MID: "m1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	req := httptest.NewRequest("GET", "/hubs/zoom?access_token="+tok, nil)
	id, err := auth.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.UserID != "u1" || id.MeetingID != "m1" {
		t.Errorf("identity: %+v", id)
	}
	if id.ConnectionID == "" {
		t.Errorf("no connection id assigned")
	}

	// connection ids must be unique per connection, even for the same token
	id2, err := auth.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate (again): %v", err)
	}
	if id2.ConnectionID == id.ConnectionID {
		t.Errorf("connection id reused across connections")
	}
}

func TestAuthenticateRejects(t *testing.T) {
	auth := NewAuthenticator("secret")
	expired := mintToken(t, "secret", connClaims{
		UID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	wrongKey := mintToken(t, "other-secret", connClaims{UID: "u1"})
	noUID := mintToken(t, "secret", connClaims{MID: "m1"})

	testCases := []struct {
		name  string
		query string
	}{
		{name: "missing token", query: ""},
		{name: "garbage", query: "?access_token=not-a-jwt"},
		{name: "expired", query: "?access_token=" + expired},
		{name: "wrong key", query: "?access_token=" + wrongKey},
		{name: "no uid claim", query: "?access_token=" + noUID},
	}
	for _, tc := range testCases {
		req := httptest.NewRequest("GET", "/hubs/zoom"+tc.query, nil)
		if _, err := auth.Authenticate(req); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
