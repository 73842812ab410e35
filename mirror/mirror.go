package mirror

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/pkg/metrics"
	"github.com/miradordb/mirador/search"
)

// Loader reloads documents at apply time. The MongoDB store satisfies it.
type Loader interface {
	document.Resolver
	Load(ctx context.Context, schemaName, pk string) (*document.Document, error)
}

// Config tunes the worker pool.
type Config struct {
	// Workers is the number of shard workers. Tasks for one document are
	// always routed to the same worker.
	Workers int
	// ShardSize is the per-worker task buffer.
	ShardSize int
	// Rate and Burst bound how fast tasks are applied to the index.
	Rate  float64
	Burst int
	// MaxRetries caps the retry attempts of a failing task.
	MaxRetries uint64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ShardSize <= 0 {
		c.ShardSize = 64
	}
	if c.Rate <= 0 {
		c.Rate = 200
	}
	if c.Burst <= 0 {
		c.Burst = 50
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	return c
}

// Mirror listens for store writes and applies them to the search index.
type Mirror struct {
	queue   Queue
	loader  Loader
	reg     *document.Registry
	idx     search.Indexer
	log     zerolog.Logger
	limiter *rate.Limiter
	cfg     Config

	shards []chan Task
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(queue Queue, loader Loader, reg *document.Registry, idx search.Indexer,
	cfg Config, log zerolog.Logger) *Mirror {

	cfg = cfg.withDefaults()
	return &Mirror{
		queue:   queue,
		loader:  loader,
		reg:     reg,
		idx:     idx,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		cfg:     cfg,
	}
}

// Start launches the dispatcher and workers. They run until Stop is called
// or ctx is done.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.shards = make([]chan Task, m.cfg.Workers)
	for i := range m.shards {
		m.shards[i] = make(chan Task, m.cfg.ShardSize)
		m.wg.Add(1)
		go m.worker(ctx, m.shards[i])
	}

	m.wg.Add(1)
	go m.dispatch(ctx)
}

// Stop cancels the workers and waits for in-flight tasks to finish.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// dispatch routes dequeued tasks onto shard channels by document identity,
// so two updates to the same document cannot be applied out of order by
// concurrent workers.
func (m *Mirror) dispatch(ctx context.Context) {
	defer m.wg.Done()
	defer func() {
		for _, shard := range m.shards {
			close(shard)
		}
	}()

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0
	for {
		t, err := m.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			// A transient queue failure (a Redis blip, say) must not kill
			// the pipeline; keep polling until cancelled.
			wait := retry.NextBackOff()
			m.log.Warn().Err(err).Dur("wait", wait).
				Msg("sync dequeue failed, retrying")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		retry.Reset()
		metrics.QueueDepth.Dec()
		select {
		case m.shards[m.shardFor(t)] <- t:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Mirror) shardFor(t Task) int {
	h := fnv.New32a()
	h.Write([]byte(t.Type))
	h.Write([]byte{':'})
	h.Write([]byte(t.PK))
	return int(h.Sum32() % uint32(len(m.shards)))
}

func (m *Mirror) worker(ctx context.Context, shard <-chan Task) {
	defer m.wg.Done()
	for t := range shard {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		m.process(ctx, t)
	}
}

func (m *Mirror) process(ctx context.Context, t Task) {
	start := time.Now()
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.cfg.MaxRetries), ctx)

	err := backoff.RetryNotify(
		func() error { return m.apply(ctx, t) },
		policy,
		func(err error, wait time.Duration) {
			t.Attempt++
			metrics.TaskRetries.Inc()
			m.log.Warn().Err(err).
				Str("type", t.Type).Str("pk", t.PK).Str("op", string(t.Op)).
				Int("attempt", t.Attempt).Dur("wait", wait).
				Msg("sync task retry")
		})

	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.log.Error().Err(err).
			Str("type", t.Type).Str("pk", t.PK).Str("op", string(t.Op)).
			Msg("sync task failed")
	}
	metrics.TasksProcessed.WithLabelValues(string(t.Op), outcome).Inc()
	metrics.IndexLatency.Observe(time.Since(start).Seconds())
}

func (m *Mirror) apply(ctx context.Context, t Task) error {
	switch t.Op {
	case OpDelete:
		return m.idx.Delete(ctx, t.Type, t.PK)
	case OpIndex:
		d, err := m.loader.Load(ctx, t.Type, t.PK)
		if errors.Is(err, document.ErrNotFound) {
			// Deleted between enqueue and apply. Make the index agree.
			return m.idx.Delete(ctx, t.Type, t.PK)
		}
		if err != nil {
			return err
		}
		payload, err := search.Payload(ctx, m.reg, d, -1, m.loader)
		if err != nil {
			return backoff.Permanent(err)
		}
		return m.idx.Index(ctx, t.Type, t.PK, payload)
	default:
		return backoff.Permanent(errors.New("unknown sync op " + string(t.Op)))
	}
}

func (m *Mirror) enqueue(ctx context.Context, op Op, docType, pk string) {
	t := newTask(op, docType, pk)
	if err := m.queue.Enqueue(ctx, t); err != nil {
		m.log.Error().Err(err).
			Str("type", docType).Str("pk", pk).Str("op", string(op)).
			Msg("enqueue sync task")
		return
	}
	metrics.TasksEnqueued.WithLabelValues(string(op)).Inc()
	metrics.QueueDepth.Inc()
}

// OnSave enqueues an index task for the saved document and reindex tasks
// for documents that embed it.
func (m *Mirror) OnSave(ctx context.Context, d *document.Document, created bool) {
	sch := d.Schema()
	if sch.Indexed && (created || d.HasChanges()) {
		m.enqueue(ctx, OpIndex, sch.Name, document.PKString(d.PK()))
	}
	m.enqueueRelated(ctx, d)
}

// OnBulkUpdate reindexes every affected document.
func (m *Mirror) OnBulkUpdate(ctx context.Context, sch *document.Schema, pks []any) {
	if !sch.Indexed {
		return
	}
	for _, pk := range pks {
		m.enqueue(ctx, OpIndex, sch.Name, document.PKString(pk))
	}
}

// OnDelete removes the document from the index.
func (m *Mirror) OnDelete(ctx context.Context, sch *document.Schema, pk any) {
	if !sch.Indexed {
		return
	}
	m.enqueue(ctx, OpDelete, sch.Name, document.PKString(pk))
}

// enqueueRelated reindexes documents that embed d through a nested
// relationship, since their indexed payload contains d's fields.
func (m *Mirror) enqueueRelated(ctx context.Context, d *document.Document) {
	for _, rel := range d.RelatedDocuments(m.reg, true) {
		target, err := m.reg.Get(rel.Schema)
		if err != nil || !target.Indexed {
			continue
		}
		for _, pk := range rel.PKs {
			m.enqueue(ctx, OpIndex, target.Name, document.PKString(pk))
		}
	}
}
