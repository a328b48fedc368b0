package model

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	appIDPrefix     = "application"
	attemptIDPrefix = "appattempt"
)

// ApplicationID uniquely identifies a submitted application across the
// cluster. ClusterTimestamp is the start time of the resource manager that
// accepted the submission, ID is the per-manager submission counter.
type ApplicationID struct {
	ClusterTimestamp int64 `json:"cluster_timestamp"`
	ID               int32 `json:"id"`
}

// String renders the canonical form, e.g. "application_1680000000000_0001".
// Store backends use this form as a file or node name, so it must stay
// stable across releases.
func (a ApplicationID) String() string {
	return fmt.Sprintf("%s_%d_%04d", appIDPrefix, a.ClusterTimestamp, a.ID)
}

// ParseApplicationID parses the canonical form produced by String.
func ParseApplicationID(s string) (ApplicationID, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 || parts[0] != appIDPrefix {
		return ApplicationID{}, fmt.Errorf("invalid application id %q", s)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ApplicationID{}, fmt.Errorf("invalid application id %q: %w", s, err)
	}
	id, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return ApplicationID{}, fmt.Errorf("invalid application id %q: %w", s, err)
	}
	return ApplicationID{ClusterTimestamp: ts, ID: int32(id)}, nil
}

// Less orders application ids by (cluster timestamp, id). Replay order
// across applications is not semantically significant, but a deterministic
// order keeps runs reproducible and logs readable.
func (a ApplicationID) Less(b ApplicationID) bool {
	if a.ClusterTimestamp != b.ClusterTimestamp {
		return a.ClusterTimestamp < b.ClusterTimestamp
	}
	return a.ID < b.ID
}

// AttemptID is the composite key of one execution attempt: the parent
// application plus a 1-based attempt number.
type AttemptID struct {
	ApplicationID ApplicationID `json:"application_id"`
	AttemptNumber int           `json:"attempt_number"`
}

// String renders the canonical form, e.g.
// "appattempt_1680000000000_0001_000002".
func (a AttemptID) String() string {
	return fmt.Sprintf("%s_%d_%04d_%06d",
		attemptIDPrefix, a.ApplicationID.ClusterTimestamp, a.ApplicationID.ID, a.AttemptNumber)
}

// ParseAttemptID parses the canonical form produced by String.
func ParseAttemptID(s string) (AttemptID, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 4 || parts[0] != attemptIDPrefix {
		return AttemptID{}, fmt.Errorf("invalid attempt id %q", s)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return AttemptID{}, fmt.Errorf("invalid attempt id %q: %w", s, err)
	}
	id, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return AttemptID{}, fmt.Errorf("invalid attempt id %q: %w", s, err)
	}
	n, err := strconv.Atoi(parts[3])
	if err != nil {
		return AttemptID{}, fmt.Errorf("invalid attempt id %q: %w", s, err)
	}
	return AttemptID{
		ApplicationID: ApplicationID{ClusterTimestamp: ts, ID: int32(id)},
		AttemptNumber: n,
	}, nil
}
