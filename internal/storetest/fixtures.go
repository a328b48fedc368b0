package storetest

import (
	"context"
	"fmt"

	"github.com/roach88/statecopy/internal/model"
	"github.com/roach88/statecopy/internal/store"
)

// Fixture timestamps; the absolute values are arbitrary but fixed so
// golden output stays stable.
const (
	fixtureClusterTS int64 = 1680000000000
	fixtureBaseTime  int64 = 1680000100000
)

// AppID builds a fixture application id under the shared cluster
// timestamp.
func AppID(n int32) model.ApplicationID {
	return model.ApplicationID{ClusterTimestamp: fixtureClusterTS, ID: n}
}

// AttemptID builds a fixture attempt id.
func AttemptID(app int32, attempt int) model.AttemptID {
	return model.AttemptID{ApplicationID: AppID(app), AttemptNumber: attempt}
}

// FixtureSnapshot builds the canonical test state: two applications,
// app 1 with one attempt and app 2 with two, an AM-RM secret with a
// pending next key, two delegation master keys, three issued tokens, and
// a sequence counter of 42.
func FixtureSnapshot() *model.Snapshot {
	snap := model.NewSnapshot()

	app1 := &model.ApplicationState{
		Record: model.ApplicationRecord{
			ID:         AppID(1),
			User:       "alice",
			Name:       "wordcount",
			Queue:      "default",
			SubmitTime: fixtureBaseTime,
			StartTime:  fixtureBaseTime + 1000,
			State:      "FINISHED",
		},
	}
	app1.Attempts = []model.AttemptRecord{{
		ID:              AttemptID(1, 1),
		MasterContainer: "container_1680000000000_0001_01_000001",
		StartTime:       fixtureBaseTime + 1500,
		FinalStatus:     "SUCCEEDED",
	}}

	app2 := &model.ApplicationState{
		Record: model.ApplicationRecord{
			ID:         AppID(2),
			User:       "bob",
			Name:       "etl-nightly",
			Queue:      "batch",
			SubmitTime: fixtureBaseTime + 5000,
			StartTime:  fixtureBaseTime + 6000,
			State:      "RUNNING",
		},
	}
	app2.Attempts = []model.AttemptRecord{
		{
			ID:              AttemptID(2, 1),
			MasterContainer: "container_1680000000000_0002_01_000001",
			StartTime:       fixtureBaseTime + 6500,
			FinalStatus:     "FAILED",
			Diagnostics:     "AM container exited with status 1",
		},
		{
			ID:              AttemptID(2, 2),
			MasterContainer: "container_1680000000000_0002_02_000001",
			StartTime:       fixtureBaseTime + 9000,
			FinalStatus:     "",
		},
	}

	snap.Applications[app1.Record.ID] = app1
	snap.Applications[app2.Record.ID] = app2

	snap.AMRMToken = model.AMRMTokenState{
		CurrentKey: model.MasterKey{ID: 7, ExpiryTime: fixtureBaseTime + 86400000, Material: []byte("amrm-current")},
		NextKey:    &model.MasterKey{ID: 8, ExpiryTime: fixtureBaseTime + 172800000, Material: []byte("amrm-next")},
	}

	snap.DelegationTokens.SequenceNumber = 42
	snap.DelegationTokens.MasterKeys = []model.MasterKey{
		{ID: 1, ExpiryTime: fixtureBaseTime + 86400000, Material: []byte("dt-key-1")},
		{ID: 2, ExpiryTime: fixtureBaseTime + 172800000, Material: []byte("dt-key-2")},
	}
	for i, owner := range []string{"alice", "bob", "carol"} {
		tok := model.DelegationTokenID{
			Owner:          owner,
			Renewer:        "rm",
			IssueDate:      fixtureBaseTime + int64(i)*1000,
			MaxDate:        fixtureBaseTime + 604800000,
			SequenceNumber: int64(40 + i),
			MasterKeyID:    1,
		}
		snap.DelegationTokens.Tokens[tok] = fixtureBaseTime + 86400000 + int64(i)*1000
	}
	return snap
}

// Seed replays a snapshot into a store directly, version stamp included.
// Used to stage source stores for migration tests.
func Seed(ctx context.Context, s store.StateStore, snap *model.Snapshot) error {
	if err := s.StoreVersion(ctx); err != nil {
		return err
	}
	for _, app := range snap.SortedApplications() {
		if err := s.StoreApplication(ctx, app.Record); err != nil {
			return err
		}
		for _, attempt := range app.Attempts {
			if err := s.StoreAttempt(ctx, attempt); err != nil {
				return err
			}
		}
	}
	if err := s.StoreAMRMTokenState(ctx, snap.AMRMToken, false); err != nil {
		return err
	}
	for _, key := range snap.DelegationTokens.MasterKeys {
		if err := s.StoreDelegationKey(ctx, key); err != nil {
			return err
		}
	}
	for tok, renew := range snap.DelegationTokens.Tokens {
		if err := s.StoreDelegationToken(ctx, tok, renew, tok.SequenceNumber); err != nil {
			return err
		}
	}
	if err := s.StoreDelegationSequenceNumber(ctx, snap.DelegationTokens.SequenceNumber); err != nil {
		return err
	}
	return nil
}

// MustSeed is Seed with a panic on error, for fixture setup where failure
// is a test bug.
func MustSeed(ctx context.Context, s store.StateStore, snap *model.Snapshot) {
	if err := Seed(ctx, s, snap); err != nil {
		panic(fmt.Sprintf("storetest: seed: %v", err))
	}
}
