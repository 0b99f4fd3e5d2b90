// Package api implements the teamboard REST handlers used by tooling that
// does not hold a websocket session.
package api

import (
	"context"

	"github.com/GoCodeAlone/teamboard/access"
	"github.com/GoCodeAlone/teamboard/board"
)

// Broadcaster sends a pre-built event to a project room.
// Implemented by board.Engine.
type Broadcaster interface {
	Broadcast(ctx context.Context, projectID string, ev board.Event) error
}

// TokenIssuer mints bearer tokens. Implemented by the server.
type TokenIssuer interface {
	IssueToken(id access.Identity) (string, error)
}
