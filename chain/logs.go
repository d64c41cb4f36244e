package chain

import (
	"encoding/base64"
	"strings"
)

// programDataPrefix marks Anchor event emissions in transaction logs.
const programDataPrefix = "Program data: "

// ExtractRawEvents scans transaction log messages for Anchor event emissions
// and decodes each into a RawEvent. Lines that are not program-data lines,
// fail base64 decoding, or are too short to carry a discriminator are
// ignored; everything else is left for the normalizer to judge.
func ExtractRawEvents(logMessages []string) []RawEvent {
	var events []RawEvent

	for _, line := range logMessages {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(line[len(programDataPrefix):])
		if err != nil {
			continue
		}
		if len(data) < 8 {
			continue
		}

		var event RawEvent
		copy(event.Discriminator[:], data[:8])
		event.Payload = data[8:]
		events = append(events, event)
	}

	return events
}
