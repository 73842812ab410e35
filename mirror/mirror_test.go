package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/field"
	"github.com/miradordb/mirador/search"
)

// fakeIndexer records index operations for assertions.
type fakeIndexer struct {
	mu      sync.Mutex
	indexed map[string]map[string]any
	deleted []string
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{indexed: make(map[string]map[string]any)}
}

func (f *fakeIndexer) Index(_ context.Context, docType, pk string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[docType+":"+pk] = payload
	return nil
}

func (f *fakeIndexer) BulkIndex(ctx context.Context, docType string, items []search.Item) error {
	for _, item := range items {
		if err := f.Index(ctx, docType, item.PK, item.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeIndexer) Delete(_ context.Context, docType, pk string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, docType+":"+pk)
	f.deleted = append(f.deleted, docType+":"+pk)
	return nil
}

func (f *fakeIndexer) Search(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}

func (f *fakeIndexer) Close() error { return nil }

func (f *fakeIndexer) get(key string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.indexed[key]
	return p, ok
}

func (f *fakeIndexer) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

// fakeLoader serves documents from memory.
type fakeLoader struct {
	mu   sync.Mutex
	docs map[string]map[string]*document.Document // schema -> pk -> doc
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{docs: make(map[string]map[string]*document.Document)}
}

func (l *fakeLoader) put(d *document.Document) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := d.Schema().Name
	if l.docs[name] == nil {
		l.docs[name] = make(map[string]*document.Document)
	}
	l.docs[name][document.PKString(d.PK())] = d
}

func (l *fakeLoader) Load(_ context.Context, schemaName, pk string) (*document.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.docs[schemaName][pk]
	if !ok {
		return nil, document.NotFoundf("'%s(%s)' resource not found", schemaName, pk)
	}
	return d, nil
}

func (l *fakeLoader) Resolve(ctx context.Context, schemaName string, pks []any) ([]*document.Document, error) {
	var out []*document.Document
	for _, pk := range pks {
		if d, err := l.Load(ctx, schemaName, document.PKString(pk)); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func mirrorFixture(t *testing.T) (*Mirror, *fakeIndexer, *fakeLoader, *document.Registry) {
	t.Helper()
	reg := document.NewRegistry()
	sch := document.NewSchema("Story", field.String("title"))
	sch.Indexed = true
	require.NoError(t, reg.Register(sch))

	idx := newFakeIndexer()
	loader := newFakeLoader()
	m := New(NewChannelQueue(16), loader, reg, idx,
		Config{Workers: 2, MaxRetries: 1}, zerolog.Nop())
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m, idx, loader, reg
}

func TestMirrorIndexesOnSave(t *testing.T) {
	m, idx, loader, reg := mirrorFixture(t)
	sch, err := reg.Get("Story")
	require.NoError(t, err)

	d := document.New(sch)
	require.NoError(t, d.Set("id", primitive.NewObjectID()))
	require.NoError(t, d.Set("title", "Roadside Picnic"))
	loader.put(d)

	m.OnSave(context.Background(), d, true)

	pk := document.PKString(d.PK())
	require.Eventually(t, func() bool {
		_, ok := idx.get("Story:" + pk)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	payload, _ := idx.get("Story:" + pk)
	require.Equal(t, "Roadside Picnic", payload["title"])
	require.Equal(t, "story", payload["_type"])
}

func TestMirrorDeleteRemovesFromIndex(t *testing.T) {
	m, idx, _, reg := mirrorFixture(t)
	sch, err := reg.Get("Story")
	require.NoError(t, err)

	pk := primitive.NewObjectID()
	m.OnDelete(context.Background(), sch, pk)

	require.Eventually(t, func() bool {
		return idx.deleteCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMirrorIndexOfMissingDocumentUnindexes(t *testing.T) {
	m, idx, _, reg := mirrorFixture(t)
	sch, err := reg.Get("Story")
	require.NoError(t, err)

	// The document vanished between enqueue and apply.
	m.OnBulkUpdate(context.Background(), sch, []any{primitive.NewObjectID()})

	require.Eventually(t, func() bool {
		return idx.deleteCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMirrorSkipsUnindexedSchema(t *testing.T) {
	m, idx, _, _ := mirrorFixture(t)

	hidden := document.NewSchema("Session", field.String("token"))
	m.OnDelete(context.Background(), hidden, primitive.NewObjectID())
	m.OnBulkUpdate(context.Background(), hidden, []any{primitive.NewObjectID()})

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, idx.deleteCount())
}

// flakyQueue fails the first few dequeues the way a dropped Redis
// connection would.
type flakyQueue struct {
	*ChannelQueue
	mu       sync.Mutex
	failures int
}

func (q *flakyQueue) Dequeue(ctx context.Context) (Task, error) {
	q.mu.Lock()
	if q.failures > 0 {
		q.failures--
		q.mu.Unlock()
		return Task{}, errors.New("dequeue task: connection refused")
	}
	q.mu.Unlock()
	return q.ChannelQueue.Dequeue(ctx)
}

func TestMirrorSurvivesTransientDequeueErrors(t *testing.T) {
	reg := document.NewRegistry()
	sch := document.NewSchema("Story", field.String("title"))
	sch.Indexed = true
	require.NoError(t, reg.Register(sch))

	idx := newFakeIndexer()
	loader := newFakeLoader()
	q := &flakyQueue{ChannelQueue: NewChannelQueue(16), failures: 2}
	m := New(q, loader, reg, idx, Config{Workers: 2, MaxRetries: 1}, zerolog.Nop())
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	d := document.New(sch)
	require.NoError(t, d.Set("id", primitive.NewObjectID()))
	require.NoError(t, d.Set("title", "Blindsight"))
	loader.put(d)
	m.OnSave(context.Background(), d, true)

	pk := document.PKString(d.PK())
	require.Eventually(t, func() bool {
		_, ok := idx.get("Story:" + pk)
		return ok
	}, 10*time.Second, 25*time.Millisecond)
}

func TestShardForIsStablePerDocument(t *testing.T) {
	m := New(NewChannelQueue(1), nil, nil, nil, Config{Workers: 4}, zerolog.Nop())
	m.shards = make([]chan Task, 4)

	a := newTask(OpIndex, "Story", "abc")
	b := newTask(OpDelete, "Story", "abc")
	require.Equal(t, m.shardFor(a), m.shardFor(b))
}

func TestChannelQueueCloseAndContext(t *testing.T) {
	q := NewChannelQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newTask(OpIndex, "Story", "1")))
	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", task.PK)

	require.NoError(t, q.Close())
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrQueueClosed)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	q2 := NewChannelQueue(1)
	_, err = q2.Dequeue(cancelled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, "test:sync")
	defer q.Close()

	ctx := context.Background()
	in := newTask(OpIndex, "Story", "abc123")
	require.NoError(t, q.Enqueue(ctx, in))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	out, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, OpIndex, out.Op)
	require.Equal(t, "Story", out.Type)
	require.Equal(t, "abc123", out.PK)
}

func TestRedisQueueDequeueHonorsContext(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, "test:sync")
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}
