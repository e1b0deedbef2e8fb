package models

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackIdle    PlaybackState = "idle"
)

func (p PlaybackState) Valid() bool {
	switch p {
	case PlaybackPlaying, PlaybackPaused, PlaybackIdle:
		return true
	}
	return false
}

// Status is the connection status of a transport session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

type TransportKind string

const (
	TransportSocket TransportKind = "socket"
	TransportGATT   TransportKind = "gatt"
)

// Battery is the power snapshot reported by the device. Voltage is rounded
// to 0.1V and percentage to the nearest integer before it reaches consumers.
type Battery struct {
	VoltageVolts float64 `json:"voltage_volts"`
	Percentage   int     `json:"percentage"`
	Charging     bool    `json:"charging"`
}

// Network is the device's own wifi link state, reported over the gatt
// network characteristic. IPv4 is the dotted-quad form.
type Network struct {
	Connected bool   `json:"connected"`
	Enabled   bool   `json:"enabled"`
	IPv4      string `json:"ipv4,omitempty"`
	RSSI      int    `json:"rssi"`
}

type CatalogItem struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist,omitempty"`
	Path            string  `json:"path"`
	SlotID          int     `json:"slot_id"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Slot is one device-side storage partition and its ordered files.
type Slot struct {
	ID    int           `json:"id"`
	Path  string        `json:"path"`
	Items []CatalogItem `json:"items"`
}

// DeviceInfo is the static metadata reported by the device's info endpoint.
type DeviceInfo struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
	Wifi     struct {
		Enabled bool   `json:"enabled"`
		SSID    string `json:"ssid"`
	} `json:"wifi"`
}

// DeviceState is the mirrored state of one connected player. A zero value is
// what a freshly created session starts from; every later value is produced
// by the state mirror applying updates in arrival order.
type DeviceState struct {
	Playback         PlaybackState `json:"playback"`
	ActiveSlot       *int          `json:"active_slot"`
	ActiveIndex      *int          `json:"active_index"`
	TotalInSlot      *int          `json:"total_in_slot"`
	DurationSeconds  *float64      `json:"duration_seconds"`
	PositionSeconds  float64       `json:"position_seconds"`
	VolumeRaw        int           `json:"volume_raw"`
	MaxVolume        int           `json:"max_volume"`
	VolumeNormalized float64       `json:"volume_normalized"`
	Battery          *Battery      `json:"battery,omitempty"`
	Network          *Network      `json:"network,omitempty"`
	CurrentItem      *CatalogItem  `json:"current_item,omitempty"`
}

// BatteryUpdate is the battery block as it arrives off the wire, before the
// mirror rounds it for display.
type BatteryUpdate struct {
	VoltageVolts float64
	Percentage   float64
	Charging     bool
}

// StateUpdate is one partial, order-sensitive update decoded from either
// transport. Nil pointer fields were absent from the wire message and must
// leave the mirrored field untouched.
//
// HasPlayback marks updates that describe the playing context at all: every
// socket frame does, but gatt characteristics arrive one at a time, and a
// battery-only or network-only notification must not disturb the current
// track.
type StateUpdate struct {
	HasPlayback     bool
	Playback        PlaybackState
	Slot            *int
	Index           *int
	Total           *int
	DurationSeconds *float64
	PositionSeconds *float64
	Serial          *int64
	VolumeRaw       int
	MaxVolume       int
	Battery         *BatteryUpdate
	Network         *Network
}

// Command is an outbound control request. Cmd is one of play, pause, next,
// previous, playSlot, setVol.
type Command struct {
	Cmd    string `json:"cmd"`
	Slot   *int   `json:"slot,omitempty"`
	Index  *int   `json:"index,omitempty"`
	Volume *int   `json:"volume,omitempty"`
}

func (c Command) Validate() error {
	switch c.Cmd {
	case "play", "pause", "next", "previous":
		return nil
	case "playSlot":
		if c.Slot == nil || c.Index == nil {
			return errors.New("playSlot requires slot and index")
		}
		return nil
	case "setVol":
		if c.Volume == nil {
			return errors.New("setVol requires volume")
		}
		return nil
	}
	return errors.New("unknown command")
}

// KnownDevice is a previously discovered or connected player, persisted so
// the companion UI can list bears it has seen before.
type KnownDevice struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Address   string        `json:"address"`
	Transport TransportKind `json:"transport"`
	RSSI      int           `json:"rssi,omitempty"`
	LastSeen  time.Time     `json:"last_seen"`
}
