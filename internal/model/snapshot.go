package model

import (
	"fmt"
	"sort"
)

// ApplicationRecord is the recoverable metadata of one submitted
// application. Timestamps are milliseconds since the epoch, matching the
// resource manager's own clock domain.
type ApplicationRecord struct {
	ID         ApplicationID `json:"id"`
	User       string        `json:"user"`
	Name       string        `json:"name"`
	Queue      string        `json:"queue"`
	SubmitTime int64         `json:"submit_time"`
	StartTime  int64         `json:"start_time"`
	State      string        `json:"state"`
}

// AttemptRecord is the recoverable state of one execution attempt.
type AttemptRecord struct {
	ID              AttemptID `json:"id"`
	MasterContainer string    `json:"master_container"`
	StartTime       int64     `json:"start_time"`
	FinalStatus     string    `json:"final_status"`
	Diagnostics     string    `json:"diagnostics,omitempty"`
}

// ApplicationState groups an application record with its attempts.
// Attempts are kept in ascending attempt-number order; some destination
// backends require the parent record to exist before any attempt write,
// so replay follows the slice order.
type ApplicationState struct {
	Record   ApplicationRecord `json:"record"`
	Attempts []AttemptRecord   `json:"attempts"`
}

// MasterKey is a signing key for token validation, identified by a unique
// key id. Material is opaque key bytes.
type MasterKey struct {
	ID         int32  `json:"id"`
	ExpiryTime int64  `json:"expiry_time"`
	Material   []byte `json:"material"`
}

// AMRMTokenState is the secret state validating tokens issued to
// application masters. There is exactly one instance per store; writing
// it replaces any previous value.
type AMRMTokenState struct {
	CurrentKey MasterKey  `json:"current_key"`
	NextKey    *MasterKey `json:"next_key,omitempty"`
}

// DelegationTokenID identifies one issued delegation token. The struct is
// comparable so it can key the token map.
type DelegationTokenID struct {
	Owner          string `json:"owner"`
	Renewer        string `json:"renewer"`
	RealUser       string `json:"real_user,omitempty"`
	IssueDate      int64  `json:"issue_date"`
	MaxDate        int64  `json:"max_date"`
	SequenceNumber int64  `json:"sequence_number"`
	MasterKeyID    int32  `json:"master_key_id"`
}

// DelegationTokenState is the delegation token secret state: the running
// sequence number used to mint new token ids, the set of master signing
// keys, and every live token with its renewal deadline (millis).
type DelegationTokenState struct {
	SequenceNumber int64
	MasterKeys     []MasterKey
	Tokens         map[DelegationTokenID]int64
}

// HighWaterMark returns the largest sequence number observed across the
// running counter and every issued token. A destination must end up at or
// above this value or it risks minting colliding token ids.
func (d DelegationTokenState) HighWaterMark() int64 {
	high := d.SequenceNumber
	for tok := range d.Tokens {
		if tok.SequenceNumber > high {
			high = tok.SequenceNumber
		}
	}
	return high
}

// Snapshot is the full recovery state of one store, read in a single pass.
// It is read-only after construction and is discarded once replayed.
type Snapshot struct {
	Applications     map[ApplicationID]*ApplicationState
	AMRMToken        AMRMTokenState
	DelegationTokens DelegationTokenState
}

// NewSnapshot returns an empty snapshot with all containers allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Applications: make(map[ApplicationID]*ApplicationState),
		DelegationTokens: DelegationTokenState{
			Tokens: make(map[DelegationTokenID]int64),
		},
	}
}

// IsEmpty reports whether the snapshot carries no recoverable state at
// all. Used for the empty-destination pre-check.
func (s *Snapshot) IsEmpty() bool {
	return len(s.Applications) == 0 &&
		s.AMRMToken.CurrentKey.ID == 0 &&
		len(s.AMRMToken.CurrentKey.Material) == 0 &&
		s.AMRMToken.NextKey == nil &&
		s.DelegationTokens.SequenceNumber == 0 &&
		len(s.DelegationTokens.MasterKeys) == 0 &&
		len(s.DelegationTokens.Tokens) == 0
}

// SortedApplications returns the application states ordered by id.
func (s *Snapshot) SortedApplications() []*ApplicationState {
	apps := make([]*ApplicationState, 0, len(s.Applications))
	for _, app := range s.Applications {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].Record.ID.Less(apps[j].Record.ID)
	})
	return apps
}

// AttemptCount returns the total number of attempts across applications.
func (s *Snapshot) AttemptCount() int {
	n := 0
	for _, app := range s.Applications {
		n += len(app.Attempts)
	}
	return n
}

// Validate checks the structural invariants a well-formed snapshot must
// satisfy before replay: every attempt belongs to its map key's
// application, attempt numbers are contiguous starting at 1, and master
// key ids are unique.
func (s *Snapshot) Validate() error {
	for id, app := range s.Applications {
		if app.Record.ID != id {
			return fmt.Errorf("application %s: record id %s does not match snapshot key", id, app.Record.ID)
		}
		for i, attempt := range app.Attempts {
			if attempt.ID.ApplicationID != id {
				return fmt.Errorf("application %s: attempt %s belongs to another application", id, attempt.ID)
			}
			if attempt.ID.AttemptNumber != i+1 {
				return fmt.Errorf("application %s: attempt numbers not contiguous: position %d holds attempt %d", id, i+1, attempt.ID.AttemptNumber)
			}
		}
	}
	seen := make(map[int32]bool, len(s.DelegationTokens.MasterKeys))
	for _, key := range s.DelegationTokens.MasterKeys {
		if seen[key.ID] {
			return fmt.Errorf("duplicate delegation master key id %d", key.ID)
		}
		seen[key.ID] = true
	}
	return nil
}

// Clone returns a deep copy. The in-memory store hands out clones so a
// caller mutating a loaded snapshot cannot corrupt the store.
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	for id, app := range s.Applications {
		cp := &ApplicationState{Record: app.Record}
		cp.Attempts = append(cp.Attempts, app.Attempts...)
		out.Applications[id] = cp
	}
	out.AMRMToken = AMRMTokenState{CurrentKey: s.AMRMToken.CurrentKey.clone()}
	if s.AMRMToken.NextKey != nil {
		next := s.AMRMToken.NextKey.clone()
		out.AMRMToken.NextKey = &next
	}
	out.DelegationTokens.SequenceNumber = s.DelegationTokens.SequenceNumber
	for _, key := range s.DelegationTokens.MasterKeys {
		out.DelegationTokens.MasterKeys = append(out.DelegationTokens.MasterKeys, key.clone())
	}
	for tok, renew := range s.DelegationTokens.Tokens {
		out.DelegationTokens.Tokens[tok] = renew
	}
	return out
}

// SortAttempts orders attempts by ascending attempt number. Loaders use
// it so snapshots satisfy Validate regardless of backend listing order.
func SortAttempts(attempts []AttemptRecord) {
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].ID.AttemptNumber < attempts[j].ID.AttemptNumber
	})
}

// SortMasterKeys orders keys by ascending key id.
func SortMasterKeys(keys []MasterKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
}

func (k MasterKey) clone() MasterKey {
	cp := k
	cp.Material = append([]byte(nil), k.Material...)
	return cp
}
