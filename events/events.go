// Package events turns raw event-camera streams into the fixed shape
// tensors consumed by the flow network.
package events

import (
	"fmt"
	"strings"
)

// Sensor resolution of the DSEC event camera.
const (
	Height = 480
	Width  = 640
)

// Event is a single camera event: pixel location, timestamp in
// microseconds and polarity (+1 or -1).
type Event struct {
	X, Y     uint16
	T        int64
	Polarity int8
}

// Representation selects how an event window is discretised into
// temporal bins.
type Representation int

const (
	// Voxel spreads each event over the two nearest bins with bilinear
	// weights, signed by polarity.
	Voxel Representation = iota
	// Stepan assigns each event to a single bin as a signed count.
	Stepan
)

func (r Representation) String() string {
	switch r {
	case Voxel:
		return "voxel"
	case Stepan:
		return "stepan"
	}
	return fmt.Sprintf("representation(%d)", int(r))
}

// ParseRepresentation converts a config string to a Representation.
func ParseRepresentation(s string) (Representation, error) {
	switch strings.ToLower(s) {
	case "voxel":
		return Voxel, nil
	case "stepan":
		return Stepan, nil
	}
	return 0, fmt.Errorf("unknown representation %q", s)
}
