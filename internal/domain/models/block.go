package models

import (
	"fmt"
	"math"
	"strings"
)

// Direction of a single block.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

func (d Direction) Valid() bool {
	return d == Up || d == Down
}

func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	}
	return d
}

func (d Direction) String() string { return string(d) }

// ParseDirection accepts UP/DOWN in any case, plus the U/D shorthand used in CSV replays.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP", "U":
		return Up, nil
	case "DOWN", "D":
		return Down, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Block is one observed outcome in the stream.
type Block struct {
	Index     int       `json:"index"`
	Direction Direction `json:"direction"`
	Magnitude float64   `json:"magnitude"`
}

// Validate checks the block in isolation; ordering is the run tracker's concern.
func (b Block) Validate() error {
	if b.Index < 0 {
		return &InvalidBlockError{Index: b.Index, Reason: "negative index"}
	}
	if !b.Direction.Valid() {
		return &InvalidBlockError{Index: b.Index, Reason: fmt.Sprintf("direction %q", b.Direction)}
	}
	if math.IsNaN(b.Magnitude) || math.IsInf(b.Magnitude, 0) {
		return &InvalidBlockError{Index: b.Index, Reason: "magnitude is not finite"}
	}
	if b.Magnitude < 0 || b.Magnitude > 100 {
		return &InvalidBlockError{Index: b.Index, Reason: fmt.Sprintf("magnitude %.4f outside [0,100]", b.Magnitude)}
	}
	return nil
}
