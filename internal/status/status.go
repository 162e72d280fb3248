package status

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidStatus indicates that a raw value does not name a known status.
var ErrInvalidStatus = errors.New("status: invalid status")

// Status is the lifecycle state shared by chart sets and their charts.
// Ordinals are persisted, so the declaration order must not change.
type Status int

const (
	WorkInProgress Status = 0
	Pending        Status = 1
	Ranked         Status = 2
	Qualified      Status = 3
	Graveyard      Status = 4
)

var names = map[Status]string{
	WorkInProgress: "WorkInProgress",
	Pending:        "Pending",
	Ranked:         "Ranked",
	Qualified:      "Qualified",
	Graveyard:      "Graveyard",
}

// String returns the status name used by the search index and the HTTP API.
func (s Status) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Valid reports whether s is a declared status.
func (s Status) Valid() bool {
	_, ok := names[s]
	return ok
}

// Submittable reports whether an uploader may choose s for their own set.
func (s Status) Submittable() bool {
	return s == Pending || s == WorkInProgress
}

// Parse accepts either a status name (case-insensitive) or its ordinal.
func Parse(raw string) (Status, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidStatus)
	}
	if ordinal, err := strconv.Atoi(trimmed); err == nil {
		candidate := Status(ordinal)
		if !candidate.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, ordinal)
		}
		return candidate, nil
	}
	for candidate, name := range names {
		if strings.EqualFold(name, trimmed) {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, trimmed)
}
