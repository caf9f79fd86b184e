package models

import (
	"fmt"
	"strings"
)

// PatternID identifies a pattern from the fixed catalogue.
type PatternID uint8

const (
	PatternUnknown PatternID = iota
	SameDir
	SameDir2
	SameDir3
	ZZ
	AntiZZ
	Alt2A2
	Anti2A2
	Alt3A3
	Anti3A3
	Alt4A4
	Anti4A4
	Alt5A5
	Anti5A5

	patternCount
)

type Family string

const (
	FamilyContinuation    Family = "CONTINUATION"
	FamilyAlternation     Family = "ALTERNATION"
	FamilyAntiAlternation Family = "ANTI_ALTERNATION"
)

// PatternSpec is the static description of a pattern.
type PatternSpec struct {
	ID     PatternID
	Name   string
	Family Family
	// Index is the continuation depth for SameDir* and the run length k for kAk patterns.
	Index int
	// Counterpart links X and Anti-X.
	Counterpart     PatternID
	HostilityExempt bool
}

var patternTable = [patternCount]PatternSpec{
	PatternUnknown: {},
	SameDir:        {ID: SameDir, Name: "SameDir", Family: FamilyContinuation, Index: 1},
	SameDir2:       {ID: SameDir2, Name: "SameDir2", Family: FamilyContinuation, Index: 2},
	SameDir3:       {ID: SameDir3, Name: "SameDir3", Family: FamilyContinuation, Index: 3},
	ZZ:             {ID: ZZ, Name: "ZZ", Family: FamilyAlternation, Index: 1, Counterpart: AntiZZ, HostilityExempt: true},
	AntiZZ:         {ID: AntiZZ, Name: "AntiZZ", Family: FamilyAntiAlternation, Index: 1, Counterpart: ZZ, HostilityExempt: true},
	Alt2A2:         {ID: Alt2A2, Name: "2A2", Family: FamilyAlternation, Index: 2, Counterpart: Anti2A2},
	Anti2A2:        {ID: Anti2A2, Name: "Anti2A2", Family: FamilyAntiAlternation, Index: 2, Counterpart: Alt2A2},
	Alt3A3:         {ID: Alt3A3, Name: "3A3", Family: FamilyAlternation, Index: 3, Counterpart: Anti3A3},
	Anti3A3:        {ID: Anti3A3, Name: "Anti3A3", Family: FamilyAntiAlternation, Index: 3, Counterpart: Alt3A3},
	Alt4A4:         {ID: Alt4A4, Name: "4A4", Family: FamilyAlternation, Index: 4, Counterpart: Anti4A4},
	Anti4A4:        {ID: Anti4A4, Name: "Anti4A4", Family: FamilyAntiAlternation, Index: 4, Counterpart: Alt4A4},
	Alt5A5:         {ID: Alt5A5, Name: "5A5", Family: FamilyAlternation, Index: 5, Counterpart: Anti5A5},
	Anti5A5:        {ID: Anti5A5, Name: "Anti5A5", Family: FamilyAntiAlternation, Index: 5, Counterpart: Alt5A5},
}

func (p PatternID) Valid() bool {
	return p > PatternUnknown && p < patternCount
}

func (p PatternID) Spec() PatternSpec {
	if !p.Valid() {
		return PatternSpec{}
	}
	return patternTable[p]
}

func (p PatternID) Family() Family { return p.Spec().Family }

func (p PatternID) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Pattern(%d)", uint8(p))
	}
	return patternTable[p].Name
}

func (p PatternID) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPattern, uint8(p))
	}
	return []byte(patternTable[p].Name), nil
}

func (p *PatternID) UnmarshalText(b []byte) error {
	id, err := ParsePatternID(string(b))
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// ParsePatternID resolves a display name, case-insensitively.
func ParsePatternID(name string) (PatternID, error) {
	name = strings.TrimSpace(name)
	for id := SameDir; id < patternCount; id++ {
		if strings.EqualFold(patternTable[id].Name, name) {
			return id, nil
		}
	}
	return PatternUnknown, fmt.Errorf("%w: %q", ErrUnknownPattern, name)
}

// AllPatterns lists the catalogue in registry order.
func AllPatterns() []PatternID {
	out := make([]PatternID, 0, patternCount-1)
	for id := SameDir; id < patternCount; id++ {
		out = append(out, id)
	}
	return out
}

func PatternsOf(f Family) []PatternID {
	var out []PatternID
	for _, id := range AllPatterns() {
		if patternTable[id].Family == f {
			out = append(out, id)
		}
	}
	return out
}

// PatternSet is a small bitset over the catalogue.
type PatternSet uint32

func NewPatternSet(ids ...PatternID) PatternSet {
	var s PatternSet
	for _, id := range ids {
		s = s.With(id)
	}
	return s
}

func (s PatternSet) With(id PatternID) PatternSet {
	if !id.Valid() {
		return s
	}
	return s | 1<<id
}

func (s PatternSet) Has(id PatternID) bool {
	return id.Valid() && s&(1<<id) != 0
}

func (s PatternSet) Members() []PatternID {
	var out []PatternID
	for _, id := range AllPatterns() {
		if s.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// ParsePatternSet resolves a list of display names.
func ParsePatternSet(names []string) (PatternSet, error) {
	var s PatternSet
	for _, n := range names {
		id, err := ParsePatternID(n)
		if err != nil {
			return 0, err
		}
		s = s.With(id)
	}
	return s, nil
}
