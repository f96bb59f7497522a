// Package destination describes who a bulk mail goes to and fetches those
// recipients from storage.
package destination

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/column"
)

// Mode selects how target keys are matched to users.
type Mode int16

const (
	// ByPrimaryID matches targets against users.id.
	ByPrimaryID Mode = 0
	// ByCertificationNumber matches targets against users.certification_number.
	ByCertificationNumber Mode = 1
)

var modeNames = map[Mode]string{
	ByPrimaryID:           "user_id",
	ByCertificationNumber: "certification_number",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

var (
	ErrUnknownMode   = errors.New("destination: unknown selection mode")
	ErrInvalidTarget = errors.New("destination: invalid target")
	ErrNoTargets     = errors.New("destination: no targets")
)

// Destination is an immutable selection request.
type Destination struct {
	mode    Mode
	targets []string
	columns column.Set
}

// New validates and builds a Destination. Targets are trimmed, blanks are
// dropped and duplicates collapse, keeping first-seen order.
func New(mode Mode, targets []string, columns column.Set) (Destination, error) {
	if !mode.Valid() {
		return Destination{}, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
	}
	seen := make(map[string]struct{}, len(targets))
	clean := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		if mode == ByPrimaryID {
			if _, err := strconv.ParseInt(t, 10, 64); err != nil {
				return Destination{}, fmt.Errorf("%w: %q is not a user id", ErrInvalidTarget, t)
			}
		}
		seen[t] = struct{}{}
		clean = append(clean, t)
	}
	if len(clean) == 0 {
		return Destination{}, ErrNoTargets
	}
	return Destination{mode: mode, targets: clean, columns: columns}, nil
}

func (d Destination) Mode() Mode          { return d.mode }
func (d Destination) Targets() []string   { return slices.Clone(d.targets) }
func (d Destination) Columns() column.Set { return d.columns }

// TargetIDs parses the targets as user ids. It is only meaningful for
// ByPrimaryID and returns nil otherwise.
func (d Destination) TargetIDs() []int64 {
	if d.mode != ByPrimaryID {
		return nil
	}
	ids := make([]int64, 0, len(d.targets))
	for _, t := range d.targets {
		// New already rejected anything unparsable.
		id, _ := strconv.ParseInt(t, 10, 64)
		ids = append(ids, id)
	}
	return ids
}
