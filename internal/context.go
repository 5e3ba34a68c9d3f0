package internal

import (
	"context"

	"github.com/rs/zerolog"
)

type ctx string

var ctxData ctx = "zoomsvc_data"

// logging metadata for a single hub connection
type data struct {
	userID       string
	meetingID    string
	connectionID string
	method       string
}

// prepare a context so it can carry hub connection info
func ConnContext(ctx context.Context) context.Context {
	d := &data{}
	return context.WithValue(ctx, ctxData, d)
}

// record the authenticated claims on this connection context. Need to have
// called ConnContext first.
func SetConnContextClaims(ctx context.Context, userID, meetingID, connectionID string) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.userID = userID
	da.meetingID = meetingID
	da.connectionID = connectionID
}

// record the hub method currently being served on this connection.
func SetConnContextMethod(ctx context.Context, method string) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.method = method
}

func DecorateLogger(ctx context.Context, l *zerolog.Event) *zerolog.Event {
	d := ctx.Value(ctxData)
	if d == nil {
		return l
	}
	da := d.(*data)
	if da.userID != "" {
		l = l.Str("u", da.userID)
	}
	if da.meetingID != "" {
		l = l.Str("m", da.meetingID)
	}
	if da.connectionID != "" {
		l = l.Str("c", da.connectionID)
	}
	if da.method != "" {
		l = l.Str("op", da.method)
	}
	return l
}
