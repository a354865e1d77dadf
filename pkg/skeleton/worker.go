package skeleton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundprediction/strata/pkg/metrics"
	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/utils"
)

// DocumentSource is the document access the worker needs.
type DocumentSource interface {
	ListDocuments(ctx context.Context, tenantID string) ([]*types.Document, error)
	UpdateDocumentScores(ctx context.Context, tenantID, docID string, isSkeleton bool, pageRank, centrality float64) error
}

// Worker owns the published snapshot of every tenant and recomputes them in
// background batches. Readers load snapshots through an atomic pointer and
// never wait on a recomputation.
type Worker struct {
	cfg    Config
	docs   DocumentSource
	store  SnapshotStore
	logger *slog.Logger
	now    func() time.Time

	snaps sync.Map // tenant -> *atomic.Pointer[Snapshot]

	mu    sync.Mutex
	dirty map[string]map[string]struct{}
	// running serializes recomputations per tenant.
	running map[string]*sync.Mutex
}

// NewWorker creates a Worker. A nil store keeps snapshots in memory only.
func NewWorker(cfg Config, docs DocumentSource, store SnapshotStore, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemorySnapshotStore()
	}
	return &Worker{
		cfg:     cfg.withDefaults(),
		docs:    docs,
		store:   store,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		dirty:   make(map[string]map[string]struct{}),
		running: make(map[string]*sync.Mutex),
	}
}

// Config returns the effective configuration.
func (w *Worker) Config() Config {
	return w.cfg
}

func (w *Worker) pointer(tenantID string) *atomic.Pointer[Snapshot] {
	p, _ := w.snaps.LoadOrStore(tenantID, &atomic.Pointer[Snapshot]{})
	return p.(*atomic.Pointer[Snapshot])
}

// Snapshot returns the published snapshot of the tenant, loading the
// persisted one on first use. It returns nil when none was ever computed.
func (w *Worker) Snapshot(ctx context.Context, tenantID string) *Snapshot {
	p := w.pointer(tenantID)
	if snap := p.Load(); snap != nil {
		return snap
	}
	snap, err := w.store.Load(ctx, tenantID)
	if err != nil {
		w.logger.Warn("failed to load skeleton snapshot", "tenant_id", tenantID, "error", err)
		return nil
	}
	if snap == nil {
		return nil
	}
	if p.CompareAndSwap(nil, snap) {
		return snap
	}
	return p.Load()
}

// MarkDirty queues a document for the next batch recomputation.
func (w *Worker) MarkDirty(tenantID, docID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	set, ok := w.dirty[tenantID]
	if !ok {
		set = make(map[string]struct{})
		w.dirty[tenantID] = set
	}
	set[docID] = struct{}{}
}

// DirtyTenants returns the tenants with queued documents, sorted.
func (w *Worker) DirtyTenants() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirty))
	for tenant, set := range w.dirty {
		if len(set) > 0 {
			out = append(out, tenant)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Worker) takeDirty(tenantID string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := w.dirty[tenantID]
	delete(w.dirty, tenantID)
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ApplyWriteSignals scores doc against the published snapshot with current
// recency and curation, sets its CentralityScore and IsSkeleton, and marks
// it dirty for the next batch. It never blocks on PageRank.
func (w *Worker) ApplyWriteSignals(ctx context.Context, doc *types.Document) {
	snap := w.Snapshot(ctx, doc.TenantID)
	scorer := NewScorer(w.cfg)
	score := scorer.Score(doc, snap.Signals(doc.ID, w.now()))

	doc.CentralityScore = score
	if snap != nil {
		doc.PageRankScore = snap.PageRank[doc.ID]
	}
	switch {
	case w.cfg.IsAlwaysSkeleton(doc):
		doc.IsSkeleton = true
	case snap.InSkeleton(doc.ID):
		doc.IsSkeleton = true
	case snap == nil:
		doc.IsSkeleton = score > w.cfg.Threshold
	default:
		doc.IsSkeleton = score > math.Max(w.cfg.Threshold, snap.Cutoff)
	}
	w.MarkDirty(doc.TenantID, doc.ID)
}

// RecomputeNow runs one batch for the tenant. PageRank is recomputed over
// the weakly connected component of the dirty documents when a previous
// snapshot exists, over the whole corpus otherwise. On failure or timeout the
// previous snapshot stays published, the dirty set is re-queued and the error
// is returned alongside the previous snapshot.
func (w *Worker) RecomputeNow(ctx context.Context, tenantID string) (*Snapshot, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	lock := w.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	prev := w.Snapshot(ctx, tenantID)
	dirty := w.takeDirty(tenantID)

	snap, docs, err := w.compute(ctx, tenantID, prev, dirty)
	if err != nil {
		w.mu.Lock()
		set, ok := w.dirty[tenantID]
		if !ok {
			set = make(map[string]struct{})
			w.dirty[tenantID] = set
		}
		for _, id := range dirty {
			set[id] = struct{}{}
		}
		w.mu.Unlock()

		outcome := "failure"
		if ctx.Err() != nil || isDeadline(err) {
			outcome = "timeout"
		}
		metrics.SkeletonRuns.WithLabelValues(outcome).Inc()
		w.logger.Error("skeleton recomputation failed, keeping last snapshot",
			"tenant_id", tenantID,
			"outcome", outcome,
			"error", err)
		return prev, err
	}

	w.pointer(tenantID).Store(snap)
	metrics.SkeletonRuns.WithLabelValues("success").Inc()
	metrics.SkeletonSize.WithLabelValues(tenantID).Set(float64(len(snap.Skeleton)))

	if err := w.store.Save(ctx, snap); err != nil {
		w.logger.Warn("failed to persist skeleton snapshot", "tenant_id", tenantID, "error", err)
	}
	w.writeBack(ctx, snap, docs)

	w.logger.Info("skeleton recomputed",
		"tenant_id", tenantID,
		"documents", len(docs),
		"skeleton", len(snap.Skeleton),
		"dirty", len(dirty),
		"duration", time.Since(start))
	return snap, nil
}

func (w *Worker) tenantLock(tenantID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.running[tenantID]
	if !ok {
		l = &sync.Mutex{}
		w.running[tenantID] = l
	}
	return l
}

func (w *Worker) compute(ctx context.Context, tenantID string, prev *Snapshot, dirty []string) (*Snapshot, []*types.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.PageRankTimeout)
	defer cancel()

	docs, err := w.docs.ListDocuments(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list documents: %w", err)
	}
	graph := BuildCitationGraph(docs)

	ranks, err := w.pageRank(ctx, graph, prev, dirty)
	if err != nil {
		return nil, nil, err
	}

	now := w.now()
	snap := &Snapshot{
		TenantID:   tenantID,
		PageRank:   ranks,
		Inbound:    make(map[string]int, len(graph.Inbound)),
		Scores:     make(map[string]float64, len(docs)),
		ComputedAt: now,
	}
	for id, n := range graph.Inbound {
		snap.Inbound[id] = n
	}
	snap.recomputeMaxima()

	selector := NewSelector(w.cfg, snap)
	for _, doc := range docs {
		snap.Scores[doc.ID] = selector.Score(doc)
	}
	snap.Skeleton, snap.Cutoff = selector.selectWithCutoff(docs, w.cfg.BudgetFraction)
	return snap, docs, nil
}

// pageRank returns scores for every node of graph. Only the component of the
// dirty documents is recomputed when prev covers the rest; its scores are
// scaled by |component|/N so they stay comparable with the untouched ones.
func (w *Worker) pageRank(ctx context.Context, graph *CitationGraph, prev *Snapshot, dirty []string) (map[string]float64, error) {
	full := func() (map[string]float64, error) {
		var warm map[string]float64
		if prev != nil {
			warm = prev.PageRank
		}
		res, err := PageRank(ctx, graph, w.cfg, warm)
		if err != nil {
			return nil, err
		}
		return res.Scores, nil
	}

	if prev == nil || len(dirty) == 0 {
		return full()
	}
	component := graph.Component(dirty)
	if len(component) == 0 || len(component) == len(graph.Nodes) {
		return full()
	}
	inComponent := make(map[string]struct{}, len(component))
	for _, id := range component {
		inComponent[id] = struct{}{}
	}
	for _, id := range graph.Nodes {
		if _, ok := inComponent[id]; ok {
			continue
		}
		if _, ok := prev.PageRank[id]; !ok {
			return full()
		}
	}

	res, err := PageRank(ctx, graph.Subgraph(component), w.cfg, nil)
	if err != nil {
		return nil, err
	}
	scale := float64(len(component)) / float64(len(graph.Nodes))
	out := make(map[string]float64, len(graph.Nodes))
	for _, id := range graph.Nodes {
		if _, ok := inComponent[id]; ok {
			out[id] = res.Scores[id] * scale
		} else {
			out[id] = prev.PageRank[id]
		}
	}
	return out, nil
}

// writeBack persists changed document scores. Documents deleted since the
// listing are skipped; other failures are logged.
func (w *Worker) writeBack(ctx context.Context, snap *Snapshot, docs []*types.Document) {
	for _, doc := range docs {
		isSkeleton := w.cfg.IsAlwaysSkeleton(doc) || snap.InSkeleton(doc.ID)
		pr := snap.PageRank[doc.ID]
		score := snap.Scores[doc.ID]
		if doc.IsSkeleton == isSkeleton && doc.PageRankScore == pr && doc.CentralityScore == score {
			continue
		}
		err := w.docs.UpdateDocumentScores(ctx, doc.TenantID, doc.ID, isSkeleton, pr, score)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrDocumentNotFound):
			w.logger.Debug("document deleted before score write back",
				"tenant_id", doc.TenantID,
				"document_id", doc.ID)
		default:
			w.logger.Warn("failed to write back skeleton score",
				"tenant_id", doc.TenantID,
				"document_id", doc.ID,
				"error", err)
		}
	}
}

// Run recomputes every dirty tenant on each tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.BatchInterval)
	defer ticker.Stop()
	w.logger.Info("skeleton worker started", "interval", w.cfg.BatchInterval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("skeleton worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce recomputes every dirty tenant once. A panic in one tenant's batch
// is logged and does not stop the others.
func (w *Worker) RunOnce(ctx context.Context) {
	for _, tenant := range w.DirtyTenants() {
		func() {
			defer utils.RecoverWithCallback(func(err error) {
				metrics.SkeletonRuns.WithLabelValues("failure").Inc()
				w.logger.Error("skeleton batch panicked", "tenant_id", tenant, "error", err)
			})
			_, _ = w.RecomputeNow(ctx, tenant)
		}()
	}
}

// Close closes the snapshot store.
func (w *Worker) Close() error {
	return w.store.Close()
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
