package hub

import (
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// claims carried by the signed connection context the client obtains from the
// conferencing host integration layer.
type connClaims struct {
	UID string `json:"uid"`
	MID string `json:"mid,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates the signed connection context supplied in the
// query string at upgrade time and mints the connection's Identity. WebSocket
// clients can't set headers, hence the query parameter.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Authenticate(req *http.Request) (Identity, error) {
	raw := req.URL.Query().Get("access_token")
	if raw == "" {
		return Identity{}, fmt.Errorf("missing access_token")
	}
	var claims connClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("invalid connection context: %w", err)
	}
	if claims.UID == "" {
		return Identity{}, fmt.Errorf("connection context has no uid claim")
	}
	return Identity{
		UserID:       claims.UID,
		MeetingID:    claims.MID,
		ConnectionID: uuid.NewString(),
	}, nil
}
