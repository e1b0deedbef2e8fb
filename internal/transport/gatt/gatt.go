// Package gatt implements the short-range radio transport. The device
// exposes one primary service with three state characteristics (power,
// player, network); each is read once on connect to seed the mirror, then
// subscribed for notifications. Unlike the streaming socket this transport
// never reconnects by itself: a device-level disconnect needs a fresh radio
// handshake that only the caller can drive.
package gatt

import "context"

// UUIDs baked into the device firmware.
const (
	ServiceUUID     = "4ed1ce10-a038-404e-9e93-64bc8d8a4753"
	PowerCharUUID   = "bdb1d967-8a30-42fd-b035-0b65e15074ca"
	PlayerCharUUID  = "936bc2e0-2ba8-4a15-9c98-b82fcc308d22"
	NetworkCharUUID = "14fbff44-b62b-4f75-91aa-aac6df208754"
	ControlCharUUID = "e3a1c5f0-7b2d-4c8a-9f3e-2d6b8a9e5c4f"
)

// Dialer opens a device-level link. The concrete implementation sits on top
// of the platform radio stack; tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, address string) (Link, error)
}

// Link is one open device-level connection. Characteristic lookups fail for
// UUIDs the device does not expose. Disconnected is closed when the radio
// stack reports the device gone.
type Link interface {
	Characteristic(uuid string) (Characteristic, error)
	Disconnected() <-chan struct{}
	Close() error
}

// Unsubscribe tears down one notification subscription.
type Unsubscribe func() error

// Characteristic is one independently readable and subscribable data
// channel within the service.
type Characteristic interface {
	Read() ([]byte, error)
	Subscribe(fn func(data []byte)) (Unsubscribe, error)
	Write(data []byte) error
}
