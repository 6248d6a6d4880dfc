package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetscope/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertAction(keys domain.IdentityKeys, attrs map[string]domain.AttrValue, passID string) domain.ResolutionAction {
	return domain.ResolutionAction{
		Kind:   domain.ActionInsert,
		PassID: passID,
		Fingerprint: domain.Fingerprint{
			Keys:       keys,
			Attributes: attrs,
			ObservedAt: time.Now().UTC(),
		},
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := domain.IdentityKeys{
		SerialNumber: "SN-100",
		MACs:         []string{"AA:BB:CC:DD:EE:FF"},
		Hostname:     "web-01",
		IP:           "10.0.0.5",
	}
	attrs := map[string]domain.AttrValue{
		domain.AttrHostname: domain.StringValue("web-01"),
		domain.AttrMemoryMB: domain.IntValue(8192),
	}

	id, err := s.Upsert(ctx, insertAction(keys, attrs, "pass-1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetDevice(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "SN-100", got.Keys.SerialNumber)
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:FF"}, got.Keys.MACs)
	assert.Equal(t, "web-01", got.Keys.Hostname)

	mem, ok := got.Attr(domain.AttrMemoryMB)
	require.True(t, ok)
	assert.EqualValues(t, 8192, mem.Int)
	assert.False(t, got.FirstSeen.IsZero())
	assert.False(t, got.LastSeen.Before(got.FirstSeen))

	// A brand-new device has no audit history.
	trail, err := s.AuditTrail(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestGetDeviceAbsent(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetDevice(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateWritesAuditTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := domain.IdentityKeys{SerialNumber: "SN-100"}
	id, err := s.Upsert(ctx, insertAction(keys, map[string]domain.AttrValue{
		domain.AttrMemoryMB: domain.IntValue(8192),
	}, "pass-1"))
	require.NoError(t, err)

	// Memory upgraded, os filled in for the first time.
	_, err = s.Upsert(ctx, domain.ResolutionAction{
		Kind:     domain.ActionMergeKeepNewest,
		PassID:   "pass-2",
		DeviceID: id,
		Fingerprint: domain.Fingerprint{Keys: keys, Attributes: map[string]domain.AttrValue{
			domain.AttrMemoryMB: domain.IntValue(16384),
			domain.AttrOS:       domain.StringValue("linux"),
		}},
		Diff: []domain.FieldDiff{
			{Field: domain.AttrMemoryMB, Old: domain.IntValue(8192), New: domain.IntValue(16384)},
			{Field: domain.AttrOS, New: domain.StringValue("linux")},
		},
	})
	require.NoError(t, err)

	got, err := s.GetDevice(ctx, id)
	require.NoError(t, err)
	mem, _ := got.Attr(domain.AttrMemoryMB)
	assert.EqualValues(t, 16384, mem.Int)
	osVal, _ := got.Attr(domain.AttrOS)
	assert.Equal(t, "linux", osVal.Str)

	// Only the replacement is audited; first-time fills have no old value.
	trail, err := s.AuditTrail(ctx, id)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.AttrMemoryMB, trail[0].Field)
	assert.Equal(t, "8192", trail[0].OldValue)
	assert.Equal(t, "16384", trail[0].NewValue)
	assert.Equal(t, "pass-2", trail[0].PassID)
}

func TestUserTransferAuditKeepsPriorUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := domain.IdentityKeys{SerialNumber: "SN-150"}
	id, err := s.Upsert(ctx, insertAction(keys, map[string]domain.AttrValue{
		domain.AttrCurrentUser: domain.StringValue("alice"),
	}, "pass-1"))
	require.NoError(t, err)

	_, err = s.Upsert(ctx, domain.ResolutionAction{
		Kind:     domain.ActionMergeKeepNewest,
		PassID:   "pass-2",
		DeviceID: id,
		Fingerprint: domain.Fingerprint{Keys: keys, Attributes: map[string]domain.AttrValue{
			domain.AttrCurrentUser: domain.StringValue("bob"),
		}},
		Diff: []domain.FieldDiff{
			{Field: domain.AttrCurrentUser, Old: domain.StringValue("alice"), New: domain.StringValue("bob")},
		},
	})
	require.NoError(t, err)

	got, err := s.GetDevice(ctx, id)
	require.NoError(t, err)
	user, _ := got.Attr(domain.AttrCurrentUser)
	assert.Equal(t, "bob", user.Str)

	trail, err := s.AuditTrail(ctx, id)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.AttrCurrentUser, trail[0].Field)
	assert.Equal(t, "alice", trail[0].OldValue)
	assert.Equal(t, "bob", trail[0].NewValue)
}

func TestMergeKeepOldestFillsOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := domain.IdentityKeys{SerialNumber: "SN-200"}
	id, err := s.Upsert(ctx, insertAction(keys, map[string]domain.AttrValue{
		domain.AttrHostname: domain.StringValue("original"),
	}, "pass-1"))
	require.NoError(t, err)

	_, err = s.Upsert(ctx, domain.ResolutionAction{
		Kind:     domain.ActionMergeKeepOldest,
		PassID:   "pass-2",
		DeviceID: id,
		Fingerprint: domain.Fingerprint{Keys: keys, Attributes: map[string]domain.AttrValue{
			domain.AttrHostname: domain.StringValue("impostor"),
			domain.AttrOS:       domain.StringValue("linux"),
		}},
		Diff: []domain.FieldDiff{
			{Field: domain.AttrHostname, Old: domain.StringValue("original"), New: domain.StringValue("impostor")},
			{Field: domain.AttrOS, New: domain.StringValue("linux")},
		},
	})
	require.NoError(t, err)

	got, err := s.GetDevice(ctx, id)
	require.NoError(t, err)

	hostname, _ := got.Attr(domain.AttrHostname)
	assert.Equal(t, "original", hostname.Str, "existing values win under keep-oldest")
	osVal, _ := got.Attr(domain.AttrOS)
	assert.Equal(t, "linux", osVal.Str, "gaps still fill")
}

func TestLookupCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.Upsert(ctx, insertAction(domain.IdentityKeys{
		SerialNumber: "SN-1", Hostname: "alpha", IP: "10.0.0.1",
	}, nil, "p"))
	require.NoError(t, err)
	id2, err := s.Upsert(ctx, insertAction(domain.IdentityKeys{
		SerialNumber: "SN-2", MACs: []string{"AA:BB:CC:00:00:02"},
	}, nil, "p"))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, insertAction(domain.IdentityKeys{
		SerialNumber: "SN-3", Hostname: "gamma",
	}, nil, "p"))
	require.NoError(t, err)

	t.Run("by serial", func(t *testing.T) {
		got, err := s.LookupCandidates(ctx, domain.IdentityKeys{SerialNumber: "SN-1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, id1, got[0].ID)
	})

	t.Run("by mac", func(t *testing.T) {
		got, err := s.LookupCandidates(ctx, domain.IdentityKeys{MACs: []string{"AA:BB:CC:00:00:02"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, id2, got[0].ID)
	})

	t.Run("hostname case insensitive", func(t *testing.T) {
		got, err := s.LookupCandidates(ctx, domain.IdentityKeys{Hostname: "ALPHA"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, id1, got[0].ID)
	})

	t.Run("multiple keys union", func(t *testing.T) {
		got, err := s.LookupCandidates(ctx, domain.IdentityKeys{
			SerialNumber: "SN-1",
			MACs:         []string{"AA:BB:CC:00:00:02"},
		})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("no match", func(t *testing.T) {
		got, err := s.LookupCandidates(ctx, domain.IdentityKeys{SerialNumber: "SN-999"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestInsertRaceConvergesToOneDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := domain.IdentityKeys{SerialNumber: "SN-RACE", Hostname: "twin"}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, len(ids))
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.Upsert(ctx, insertAction(keys, map[string]domain.AttrValue{
				domain.AttrHostname: domain.StringValue("twin"),
			}, "pass-1"))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1, "racing inserts of one physical device must converge")

	for _, id := range ids {
		assert.Equal(t, devices[0].ID, id)
	}
}

func TestFlagForReviewAndResolve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fp := domain.Fingerprint{
		Keys:       domain.IdentityKeys{MACs: []string{"AA:BB:CC:00:00:09"}, Hostname: "kiosk"},
		Attributes: map[string]domain.AttrValue{domain.AttrHostname: domain.StringValue("kiosk")},
	}
	id, err := s.Upsert(ctx, domain.ResolutionAction{
		Kind:        domain.ActionFlagForReview,
		PassID:      "pass-9",
		Fingerprint: fp,
		Match: domain.MatchResult{
			Type: domain.MatchAmbiguous,
			Candidates: []domain.CandidateScore{
				{DeviceID: "d1", Confidence: 0.55},
				{DeviceID: "d2", Confidence: 0.55},
			},
			Conflicts: []domain.FieldDiff{{
				Field: domain.AttrOS,
				Old:   domain.StringValue("ubuntu"),
				New:   domain.StringValue("debian"),
			}},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, id, "flagging must not create a device row")

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)

	pending, err := s.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pass-9", pending[0].PassID)
	assert.Equal(t, "kiosk", pending[0].Fingerprint.Keys.Hostname)
	require.Len(t, pending[0].Candidates, 2)
	require.Len(t, pending[0].Conflicts, 1)
	assert.Equal(t, domain.AttrOS, pending[0].Conflicts[0].Field)

	require.NoError(t, s.ResolveReview(ctx, pending[0].ID))

	pending, err = s.PendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRemoveIsAudited(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Upsert(ctx, insertAction(domain.IdentityKeys{
		SerialNumber: "SN-GONE", MACs: []string{"AA:BB:CC:00:00:05"},
	}, nil, "pass-1"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, id, "decommissioned", "admin"))

	got, err := s.GetDevice(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	// MAC rows cascade with the device.
	candidates, err := s.LookupCandidates(ctx, domain.IdentityKeys{MACs: []string{"AA:BB:CC:00:00:05"}})
	require.NoError(t, err)
	assert.Empty(t, candidates)

	trail, err := s.AuditTrail(ctx, id)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "removed", trail[0].Field)
	assert.Equal(t, "decommissioned", trail[0].OldValue)

	assert.Error(t, s.Remove(ctx, id, "again", "admin"))
}

func TestMergeGrowsMACSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Upsert(ctx, insertAction(domain.IdentityKeys{
		SerialNumber: "SN-700", MACs: []string{"AA:BB:CC:00:00:01"},
	}, nil, "pass-1"))
	require.NoError(t, err)

	_, err = s.Upsert(ctx, domain.ResolutionAction{
		Kind:     domain.ActionMergeKeepNewest,
		PassID:   "pass-2",
		DeviceID: id,
		Fingerprint: domain.Fingerprint{Keys: domain.IdentityKeys{
			SerialNumber: "SN-700",
			MACs:         []string{"AA:BB:CC:00:00:02"},
		}},
	})
	require.NoError(t, err)

	got, err := s.GetDevice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"AA:BB:CC:00:00:01", "AA:BB:CC:00:00:02"}, got.Keys.MACs)
}

func TestUpdateMissingDevice(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Upsert(context.Background(), domain.ResolutionAction{
		Kind:     domain.ActionUpdateExisting,
		DeviceID: "ghost",
	})
	require.Error(t, err)
}
