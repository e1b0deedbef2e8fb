package websock

import (
	"encoding/json"

	"baerlink/internal/models"
)

// stateMessage is the device's pushed JSON frame, discriminated by t.
type stateMessage struct {
	T           string   `json:"t"`
	State       string   `json:"state"`
	Slot        *int     `json:"slot"`
	Index       *int     `json:"index"`
	Total       *int     `json:"total"`
	Duration    *float64 `json:"duration"`
	CurrentTime *float64 `json:"currentTime"`
	Serial      *int64   `json:"serial"`
	Volume      int      `json:"volume"`
	MaxVolume   int      `json:"maxVolume"`
	Bat         *struct {
		V   float64 `json:"v"`
		Pct float64 `json:"pct"`
		Chg bool    `json:"chg"`
	} `json:"bat"`
}

// parseStateMessage decodes one frame. ok is false for malformed JSON and
// for message kinds the sync core does not recognize; both are dropped
// without touching the connection.
func parseStateMessage(data []byte) (models.StateUpdate, bool) {
	var msg stateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.StateUpdate{}, false
	}
	if msg.T != "state" {
		return models.StateUpdate{}, false
	}
	playback := models.PlaybackState(msg.State)
	if !playback.Valid() {
		return models.StateUpdate{}, false
	}

	u := models.StateUpdate{
		HasPlayback:     true,
		Playback:        playback,
		Slot:            msg.Slot,
		Index:           msg.Index,
		Total:           msg.Total,
		DurationSeconds: msg.Duration,
		PositionSeconds: msg.CurrentTime,
		Serial:          msg.Serial,
		VolumeRaw:       msg.Volume,
		MaxVolume:       msg.MaxVolume,
	}
	if msg.Bat != nil {
		u.Battery = &models.BatteryUpdate{
			VoltageVolts: msg.Bat.V,
			Percentage:   msg.Bat.Pct,
			Charging:     msg.Bat.Chg,
		}
	}
	return u, true
}
