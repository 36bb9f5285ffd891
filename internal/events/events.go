// Package events publishes completed time series changes to a message
// broker. Publishers implement service.EventHandler; pre-events are not
// published since the change they announce may still be vetoed or fail.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/tejusbharadwaj/tscore/internal/service"
)

// DefaultPrefix is used when no subject or topic prefix is configured.
const DefaultPrefix = "tscore"

func encode(change service.Change) ([]byte, error) {
	payload, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event for %s: %w", change.Event, change.SeriesID, err)
	}
	return payload, nil
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}
