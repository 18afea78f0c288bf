package editor

import (
	"fmt"
	"strings"
)

// SavePolicy decides what a save trigger does while another save is in
// flight.
type SavePolicy string

const (
	// SaveQueue remembers at most one follow-up save. It is dispatched when
	// the in-flight save resolves and reads the buffers at that moment.
	SaveQueue SavePolicy = "queue"
	// SaveIgnore drops triggers while a save is in flight.
	SaveIgnore SavePolicy = "ignore"
	// SaveRace dispatches every trigger immediately. The shell stays in
	// Saving until all of them resolve.
	SaveRace SavePolicy = "race"
)

// ParseSavePolicy parses a policy name. The empty string is SaveQueue.
func ParseSavePolicy(s string) (SavePolicy, error) {
	switch p := SavePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return SaveQueue, nil
	case SaveQueue, SaveIgnore, SaveRace:
		return p, nil
	default:
		return "", fmt.Errorf("unknown save policy %q (want queue, ignore or race)", s)
	}
}
