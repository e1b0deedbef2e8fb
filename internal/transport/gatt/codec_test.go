package gatt

import (
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"baerlink/internal/models"
)

func encPower(present bool, voltage, pct float32, charging bool) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(present))
	b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(voltage))
	b = protowire.AppendTag(b, 3, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(pct))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(charging))
	return b
}

func encPlayer(state, slot, index, total, position, duration, volume, maxVolume int64) []byte {
	var b []byte
	for i, v := range []int64{state, slot, index, total, position, duration, volume, maxVolume} {
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

func encNetwork(connected, enabled bool, ipv4 uint32, rssi int32) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(connected))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(enabled))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ipv4))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(rssi)))
	return b
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func TestDecodePower(t *testing.T) {
	u, err := decodePower(encPower(true, 3.8449, 87.6, true))
	if err != nil {
		t.Fatal(err)
	}
	if u.Battery == nil {
		t.Fatal("battery missing")
	}
	if math.Abs(u.Battery.VoltageVolts-3.8449) > 0.0001 {
		t.Errorf("voltage = %v", u.Battery.VoltageVolts)
	}
	if math.Abs(u.Battery.Percentage-87.6) > 0.01 {
		t.Errorf("percentage = %v", u.Battery.Percentage)
	}
	if !u.Battery.Charging {
		t.Error("charging flag lost")
	}
	if u.HasPlayback {
		t.Error("power update must not claim playback fields")
	}
}

func TestDecodePowerNoBatteryInstalled(t *testing.T) {
	u, err := decodePower(encPower(false, 0, 0, false))
	if err != nil {
		t.Fatal(err)
	}
	if u.Battery != nil {
		t.Error("batteryPresent=false must yield no battery block")
	}
}

func TestDecodePlayerPlaying(t *testing.T) {
	u, err := decodePlayer(encPlayer(playerPlaying, 2, 4, 9, 73, 210, 128, 255))
	if err != nil {
		t.Fatal(err)
	}
	if !u.HasPlayback || u.Playback != models.PlaybackPlaying {
		t.Fatalf("playback = %q", u.Playback)
	}
	if u.Slot == nil || *u.Slot != 2 || u.Index == nil || *u.Index != 4 {
		t.Errorf("slot/index = %v/%v", u.Slot, u.Index)
	}
	if u.Total == nil || *u.Total != 9 {
		t.Errorf("total = %v", u.Total)
	}
	if u.PositionSeconds == nil || *u.PositionSeconds != 73 {
		t.Errorf("position = %v", u.PositionSeconds)
	}
	if u.DurationSeconds == nil || *u.DurationSeconds != 210 {
		t.Errorf("duration = %v", u.DurationSeconds)
	}
	if u.VolumeRaw != 128 || u.MaxVolume != 255 {
		t.Errorf("volume = %d/%d", u.VolumeRaw, u.MaxVolume)
	}
}

func TestDecodePlayerZeroSlotIsStillPresent(t *testing.T) {
	// proto3 omits zero fields; slot 0 / index 0 must decode as present.
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, playerPaused)
	u, err := decodePlayer(b)
	if err != nil {
		t.Fatal(err)
	}
	if u.Playback != models.PlaybackPaused {
		t.Fatalf("playback = %q", u.Playback)
	}
	if u.Slot == nil || *u.Slot != 0 || u.Index == nil || *u.Index != 0 {
		t.Errorf("slot/index = %v/%v, want 0/0", u.Slot, u.Index)
	}
}

func TestDecodePlayerStopped(t *testing.T) {
	u, err := decodePlayer(encPlayer(playerStopped, 0, 0, 0, 0, 0, 100, 255))
	if err != nil {
		t.Fatal(err)
	}
	if u.Playback != models.PlaybackIdle {
		t.Errorf("playback = %q, want idle", u.Playback)
	}
	if u.Slot != nil || u.Index != nil {
		t.Error("stopped state must leave slot/index nil (idle signal)")
	}
	if u.VolumeRaw != 100 || u.MaxVolume != 255 {
		t.Errorf("volume = %d/%d", u.VolumeRaw, u.MaxVolume)
	}
}

func TestDecodeNetwork(t *testing.T) {
	u, err := decodeNetwork(encNetwork(true, true, 0xC0A80F0A, -61))
	if err != nil {
		t.Fatal(err)
	}
	if u.Network == nil {
		t.Fatal("network missing")
	}
	if !u.Network.Connected || !u.Network.Enabled {
		t.Errorf("flags = %+v", u.Network)
	}
	if u.Network.IPv4 != "192.168.15.10" {
		t.Errorf("ipv4 = %q, want 192.168.15.10", u.Network.IPv4)
	}
	if u.Network.RSSI != -61 {
		t.Errorf("rssi = %d, want -61", u.Network.RSSI)
	}
}

func TestDecodeUnknownFieldsSkipped(t *testing.T) {
	b := encPower(true, 3.7, 50, false)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future firmware"))
	u, err := decodePower(b)
	if err != nil {
		t.Fatal(err)
	}
	if u.Battery == nil || u.Battery.Percentage != 50 {
		t.Errorf("battery = %+v", u.Battery)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	full := encPlayer(playerPlaying, 1, 2, 3, 4, 5, 6, 7)
	if _, err := decodePlayer(full[:3]); err == nil {
		t.Error("truncated payload silently accepted")
	}
}
