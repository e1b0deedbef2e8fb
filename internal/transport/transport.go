// Package transport defines the contract every concrete device link
// satisfies. Inbound traffic and connection status are exposed as channels
// instead of a callback pair so consumers tear down by dropping the reader,
// never by unhooking handlers from a live object.
package transport

import (
	"context"
	"errors"

	"baerlink/internal/models"
)

// ErrNotConnected is returned by Send when no live channel exists.
var ErrNotConnected = errors.New("transport not connected")

// Session is one logical connection to one device. Connect and Disconnect
// are idempotent: connecting an already connecting or connected session is a
// no-op, and Disconnect may be called any number of times.
//
// Updates carries decoded state updates in arrival order; the consumer must
// not reorder or batch them. StatusChanges carries connection transitions.
// Both channels stay open for the lifetime of the Session object so a
// registry can reconnect it after a disconnect.
type Session interface {
	DeviceID() string
	Kind() models.TransportKind

	Connect(ctx context.Context) error
	Disconnect()
	Send(ctx context.Context, cmd models.Command) error

	Updates() <-chan models.StateUpdate
	StatusChanges() <-chan models.Status
	Status() models.Status
}
