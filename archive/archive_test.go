package archive

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/froggu-tantei/apigateway/kvstore"
	"github.com/froggu-tantei/apigateway/metrics"
)

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}}
}

func (m *memStore) Store(file io.Reader, filename string) (string, error) {
	body, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filename] = body
	return "/" + filename, nil
}

func (m *memStore) Delete(path string) error { return nil }

func (m *memStore) GetPublicURL(path string) string { return path }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func (m *memStore) any() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.files {
		return v
	}
	return nil
}

func newTestReader(t *testing.T) *metrics.Reader {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kvstore.New(client)

	rec := metrics.New(store)
	rec.RecordPlanDecision(context.Background(), "basic", true)
	return metrics.NewReader(store, []string{"basic", "premium"}, map[string]int{"light": 1})
}

func TestArchiverWritesSnapshotOnTick(t *testing.T) {
	reader := newTestReader(t)
	store := newMemStore()
	a := New(reader, store, 10*time.Millisecond)
	a.Start()
	defer a.Close()

	deadline := time.After(time.Second)
	for store.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("archiver never wrote a snapshot")
		case <-time.After(5 * time.Millisecond):
		}
	}

	var decoded snapshot
	if err := json.Unmarshal(store.any(), &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if decoded.Report.Plans["basic"].Allowed != 1 {
		t.Errorf("expected 1 allowed in snapshot, got %d", decoded.Report.Plans["basic"].Allowed)
	}
}

func TestArchiverCloseStopsTicker(t *testing.T) {
	reader := newTestReader(t)
	store := newMemStore()
	a := New(reader, store, 10*time.Millisecond)
	a.Start()

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	before := store.count()
	time.Sleep(50 * time.Millisecond)
	after := store.count()
	if after != before {
		t.Errorf("expected no further snapshots after close, got %d -> %d", before, after)
	}
}

func TestArchiverDoesNotMutateLiveCounters(t *testing.T) {
	reader := newTestReader(t)
	store := newMemStore()
	a := New(reader, store, 10*time.Millisecond)

	before, err := reader.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	a.snapshotOnce()

	after, err := reader.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if before.Plans["basic"].Allowed != after.Plans["basic"].Allowed {
		t.Error("archiver snapshot mutated live counters")
	}
}
