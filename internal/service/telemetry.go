package service

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// logTelemetry writes session analytics events to the process log.
type logTelemetry struct {
	userID string
}

func (t logTelemetry) Track(event string, props map[string]any) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, props[k])
	}
	log.Printf("telemetry: user=%s event=%s%s", t.userID, event, b.String())
}
