package gatt

import (
	"fmt"
	"math"
	"net"

	"google.golang.org/protobuf/encoding/protowire"

	"baerlink/internal/models"
)

// The characteristics carry small protobuf messages (the firmware encodes
// them with nanopb). They are decoded field by field with protowire; with
// three fixed message shapes, generated bindings would be more machinery
// than the payloads deserve.

// Player state enum as the firmware defines it.
const (
	playerStopped = 0
	playerPlaying = 1
	playerPaused  = 2
)

type fieldFunc func(num protowire.Number, typ protowire.Type, data []byte) (int, error)

// walkFields iterates a protobuf message, handing every field to fn.
// Unknown fields are skipped so a newer firmware does not break decoding.
func walkFields(data []byte, fn fieldFunc) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		used, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if used == 0 {
			used = protowire.ConsumeFieldValue(num, typ, data)
			if used < 0 {
				return protowire.ParseError(used)
			}
		}
		data = data[used:]
	}
	return nil
}

func consumeBool(data []byte) (bool, int, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return false, 0, protowire.ParseError(n)
	}
	return v != 0, n, nil
}

func consumeInt(data []byte) (int64, int, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return int64(v), n, nil
}

func consumeFloat(data []byte) (float64, int, error) {
	v, n := protowire.ConsumeFixed32(data)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return float64(math.Float32frombits(uint32(v))), n, nil
}

// decodePower decodes the power characteristic:
// 1 batteryPresent, 2 batteryVoltage, 3 batteryPercentage, 4 charging.
func decodePower(data []byte) (models.StateUpdate, error) {
	var (
		present bool
		bat     models.BatteryUpdate
	)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		var (
			n   int
			err error
		)
		switch num {
		case 1:
			present, n, err = consumeBool(data)
		case 2:
			bat.VoltageVolts, n, err = consumeFloat(data)
		case 3:
			bat.Percentage, n, err = consumeFloat(data)
		case 4:
			bat.Charging, n, err = consumeBool(data)
		}
		return n, err
	})
	if err != nil {
		return models.StateUpdate{}, fmt.Errorf("decoding power characteristic: %w", err)
	}
	var u models.StateUpdate
	if present {
		u.Battery = &bat
	}
	return u, nil
}

// decodePlayer decodes the player characteristic:
// 1 state, 2 slotActive, 3 fileIndex, 4 fileCount, 5 currentTime,
// 6 duration, 7 volume, 8 maxVolume.
func decodePlayer(data []byte) (models.StateUpdate, error) {
	var state, slot, index, total, position, duration, volume, maxVolume int64
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		var (
			n   int
			err error
		)
		switch num {
		case 1:
			state, n, err = consumeInt(data)
		case 2:
			slot, n, err = consumeInt(data)
		case 3:
			index, n, err = consumeInt(data)
		case 4:
			total, n, err = consumeInt(data)
		case 5:
			position, n, err = consumeInt(data)
		case 6:
			duration, n, err = consumeInt(data)
		case 7:
			volume, n, err = consumeInt(data)
		case 8:
			maxVolume, n, err = consumeInt(data)
		}
		return n, err
	})
	if err != nil {
		return models.StateUpdate{}, fmt.Errorf("decoding player characteristic: %w", err)
	}

	u := models.StateUpdate{
		HasPlayback: true,
		VolumeRaw:   int(volume),
		MaxVolume:   int(maxVolume),
	}
	switch state {
	case playerPlaying, playerPaused:
		if state == playerPlaying {
			u.Playback = models.PlaybackPlaying
		} else {
			u.Playback = models.PlaybackPaused
		}
		// Absent proto3 fields decode as zero, which is exactly what the
		// firmware means: slot 0, index 0.
		s, i, tot := int(slot), int(index), int(total)
		pos, dur := float64(position), float64(duration)
		u.Slot = &s
		u.Index = &i
		u.Total = &tot
		u.PositionSeconds = &pos
		u.DurationSeconds = &dur
	default:
		// Stopped. Slot and index stay nil: the merge treats that as the
		// idle signal.
		u.Playback = models.PlaybackIdle
	}
	return u, nil
}

// decodeNetwork decodes the network characteristic:
// 1 connected, 2 enabled, 3 ipV4Address, 4 rssi.
func decodeNetwork(data []byte) (models.StateUpdate, error) {
	var (
		n4   models.Network
		ipv4 int64
		rssi int64
	)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		var (
			n   int
			err error
		)
		switch num {
		case 1:
			n4.Connected, n, err = consumeBool(data)
		case 2:
			n4.Enabled, n, err = consumeBool(data)
		case 3:
			ipv4, n, err = consumeInt(data)
		case 4:
			rssi, n, err = consumeInt(data)
		}
		return n, err
	})
	if err != nil {
		return models.StateUpdate{}, fmt.Errorf("decoding network characteristic: %w", err)
	}
	n4.RSSI = int(int32(rssi))
	if ipv4 != 0 {
		n4.IPv4 = formatIPv4(uint32(ipv4))
	}
	return models.StateUpdate{Network: &n4}, nil
}

// formatIPv4 renders the big-endian packed address the firmware reports.
func formatIPv4(v uint32) string {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).String()
}
