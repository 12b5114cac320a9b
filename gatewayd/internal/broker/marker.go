package broker

import (
	"encoding/json"

	"github.com/orcabay/control-plane/shared/types"
)

// markerPayload is the shape of a marker event's data field that drives a
// run's status transition. Unknown events (anything but "started" and
// "finished") are ignored — they pass through as plain events.
type markerPayload = types.MarkerPayload

func parseMarker(data string) (markerPayload, bool) {
	var m markerPayload
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return markerPayload{}, false
	}
	if m.Event != types.MarkerStarted && m.Event != types.MarkerFinished {
		return markerPayload{}, false
	}
	return m, true
}
