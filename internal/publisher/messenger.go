// Package publisher keeps the live chat views in sync with season state.
// A scheduler periodically snapshots the season, renders each enabled
// view, and creates or edits the corresponding chat message only when
// the rendered content actually changed.
package publisher

import (
	"context"
	"errors"
)

// ErrMessageNotFound reports that a previously published message no
// longer exists on the chat surface. The scheduler reacts by dropping
// the stored handle and recreating the message on the next sync.
var ErrMessageNotFound = errors.New("message not found")

// Messenger is the chat surface the publisher writes to. A handle is an
// opaque string identifying a created message for later edits.
type Messenger interface {
	CreateMessage(ctx context.Context, channelID, content string) (handle string, err error)
	EditMessage(ctx context.Context, handle, content string) error
}
