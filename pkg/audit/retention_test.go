package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory RetentionStore
type memoryStore struct {
	events    []*AuditEvent
	deleteErr error
	cutoffs   []time.Time
}

func (m *memoryStore) EventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*AuditEvent, error) {
	m.cutoffs = append(m.cutoffs, cutoff)
	var out []*AuditEvent
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memoryStore) DeleteThrough(ctx context.Context, cutoff time.Time, maxID int64) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	kept := m.events[:0]
	var deleted int64
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) && e.ID <= maxID {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}

type fakeArchiver struct {
	keys    []string
	objects [][]byte
	err     error
}

func (f *fakeArchiver) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.objects = append(f.objects, data)
	return nil
}

var retentionNow = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

func seedEvents(n int, age time.Duration) []*AuditEvent {
	events := make([]*AuditEvent, n)
	for i := range events {
		events[i] = &AuditEvent{
			ID:        int64(i + 1),
			Timestamp: retentionNow.Add(-age),
			EventType: EventTypeDataRoleUpdate,
			Status:    EventStatusSuccess,
		}
	}
	return events
}

func newTestRetention(store RetentionStore, archiver Archiver, days int, metrics *observability.Metrics) *Retention {
	r := NewRetention(store, archiver, days, observability.NewLogger(observability.ErrorLevel, io.Discard), metrics)
	r.now = func() time.Time { return retentionNow }
	return r
}

func TestRetention_DisabledWhenDaysZero(t *testing.T) {
	store := &memoryStore{events: seedEvents(3, 400*24*time.Hour)}
	purged, err := newTestRetention(store, nil, 0, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, purged)
	assert.Len(t, store.events, 3)
	assert.Empty(t, store.cutoffs)
}

func TestRetention_ArchivesThenDeletesInBatches(t *testing.T) {
	old := seedEvents(5, 40*24*time.Hour)
	recent := &AuditEvent{ID: 6, Timestamp: retentionNow.Add(-time.Hour), EventType: EventTypeDataRoleCreate}
	store := &memoryStore{events: append(old, recent)}
	archiver := &fakeArchiver{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	r := newTestRetention(store, archiver, 30, metrics)
	r.batchSize = 2

	purged, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, purged)
	require.Len(t, store.events, 1)
	assert.Equal(t, int64(6), store.events[0].ID)

	assert.Equal(t, []string{
		"2026/02/08/1-2.ndjson",
		"2026/02/08/3-4.ndjson",
		"2026/02/08/5-5.ndjson",
	}, archiver.keys)

	lines := bytes.Split(bytes.TrimSpace(archiver.objects[0]), []byte("\n"))
	require.Len(t, lines, 2)
	var decoded AuditEvent
	require.NoError(t, json.Unmarshal(lines[1], &decoded))
	assert.Equal(t, int64(2), decoded.ID)

	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.AuditArchivedTotal))
}

func TestRetention_ArchiveFailureKeepsRows(t *testing.T) {
	store := &memoryStore{events: seedEvents(3, 40*24*time.Hour)}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	purged, err := newTestRetention(store, &fakeArchiver{err: errors.New("access denied")}, 30, metrics).Run(context.Background())
	assert.Error(t, err)
	assert.Zero(t, purged)
	assert.Len(t, store.events, 3)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditRetentionErrors))
}

func TestRetention_WithoutArchiverOnlyDeletes(t *testing.T) {
	store := &memoryStore{events: seedEvents(4, 10*24*time.Hour)}
	purged, err := newTestRetention(store, nil, 7, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, purged)
	assert.Empty(t, store.events)
}

func TestRetention_DeleteError(t *testing.T) {
	store := &memoryStore{events: seedEvents(2, 10*24*time.Hour), deleteErr: errors.New("lock timeout")}
	_, err := newTestRetention(store, nil, 7, nil).Run(context.Background())
	assert.Error(t, err)
}

func TestRetention_Schedule(t *testing.T) {
	c := cron.New()
	r := newTestRetention(&memoryStore{}, nil, 7, nil)

	id, err := r.Schedule(c, "0 3 * * *", time.Minute)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, c.Entries(), 1)

	_, err = r.Schedule(c, "not a schedule", time.Minute)
	assert.Error(t, err)
}

func TestExportNDJSON(t *testing.T) {
	data, err := ExportNDJSON(seedEvents(3, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(data, []byte("\n")))

	empty, err := ExportNDJSON(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
