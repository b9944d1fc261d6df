package watcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/config"
	"github.com/code-cortex/codemirror/models"
)

// RequestSink receives the analysis requests a batcher emits, typically
// the pipeline dispatcher.
type RequestSink interface {
	Submit(request *models.AnalysisRequest)
}

// Batcher coalesces raw file events for one repository into debounced
// batches and emits at most one analysis request per batch. It is the
// single writer for its repository; no two batches are ever open at once.
type Batcher struct {
	db      *gorm.DB
	cfg     config.WatcherConfig
	repoRef string
	filter  *Filter
	sink    RequestSink
	limiter *rate.Limiter

	mu       sync.Mutex
	buffer   []models.FileEvent
	debounce *time.Timer
	window   *time.Timer

	// Counters behind Stats; guarded by mu.
	EventsSeen         int64
	BatchesFlushed     int64
	RequestsEmitted    int64
	RequestsSuppressed int64
}

// Stats is a point-in-time snapshot of one repository's watch activity.
type Stats struct {
	RepoRef            string `json:"repo_ref"`
	EventsSeen         int64  `json:"events_seen"`
	BatchesFlushed     int64  `json:"batches_flushed"`
	RequestsEmitted    int64  `json:"requests_emitted"`
	RequestsSuppressed int64  `json:"requests_suppressed"`
	BufferedEvents     int    `json:"buffered_events"`
}

// Stats snapshots the counters under the batcher's lock.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		RepoRef:            b.repoRef,
		EventsSeen:         b.EventsSeen,
		BatchesFlushed:     b.BatchesFlushed,
		RequestsEmitted:    b.RequestsEmitted,
		RequestsSuppressed: b.RequestsSuppressed,
		BufferedEvents:     len(b.buffer),
	}
}

// NewBatcher creates a batcher for one repository. The cool-down limiter
// allows one request per cfg.CoolDown with a burst of one.
func NewBatcher(db *gorm.DB, cfg config.WatcherConfig, repoRef string, filter *Filter, sink RequestSink) *Batcher {
	coolDown := cfg.CoolDown
	if coolDown <= 0 {
		coolDown = time.Minute
	}
	return &Batcher{
		db:      db,
		cfg:     cfg,
		repoRef: repoRef,
		filter:  filter,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(coolDown), 1),
	}
}

// Add buffers one event. The batch closes when no event arrives within
// the debounce window, when the overall batch window elapses, or when the
// buffer reaches the size cap.
func (b *Batcher) Add(event models.FileEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.filter.Ignored(event.Path) && !b.filter.InGitDir(event.Path) {
		return
	}
	event.RepoRef = b.repoRef
	event.IsSourceFile = b.filter.IsSource(event.Path)
	b.EventsSeen++

	if len(b.buffer) == 0 {
		if b.cfg.BatchWindow > 0 {
			b.window = time.AfterFunc(b.cfg.BatchWindow, b.flushAsync)
		}
	}
	b.buffer = append(b.buffer, event)

	if b.debounce != nil {
		b.debounce.Stop()
	}
	b.debounce = time.AfterFunc(b.cfg.DebounceWindow, b.flushAsync)

	if b.cfg.MaxBatchSize > 0 && len(b.buffer) >= b.cfg.MaxBatchSize {
		b.flushLocked()
	}
}

// Flush closes any open batch immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushAsync() {
	b.Flush()
}

func (b *Batcher) flushLocked() {
	if len(b.buffer) == 0 {
		return
	}
	if b.debounce != nil {
		b.debounce.Stop()
		b.debounce = nil
	}
	if b.window != nil {
		b.window.Stop()
		b.window = nil
	}

	events := b.buffer
	b.buffer = nil
	batchID := uuid.NewString()
	b.BatchesFlushed++

	if err := b.processBatch(batchID, events); err != nil {
		logger.Errorf("failed to process batch %s for %s: %v", batchID, b.repoRef, err)
	}
}

// processBatch stamps the batch id, persists the events and emits the
// analysis request unless suppressed. Re-processing an already stamped
// batch id never yields a second request.
func (b *Batcher) processBatch(batchID string, events []models.FileEvent) error {
	for i := range events {
		events[i].BatchID = batchID
		events[i].Processed = true
	}
	if err := b.db.Create(&events).Error; err != nil {
		return fmt.Errorf("failed to persist file events: %w", err)
	}

	var existing int64
	if err := b.db.Model(&models.AnalysisRequest{}).
		Where("batch_id = ?", batchID).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check batch requests: %w", err)
	}
	if existing > 0 {
		return nil
	}

	kinds, priority := deriveRequest(b.filter, events)
	if len(kinds) == 0 {
		logger.Debugf("batch %s for %s has no analyzable changes", batchID, b.repoRef)
		return nil
	}

	if !b.limiter.Allow() {
		b.RequestsSuppressed++
		logger.Debugf("suppressed request for %s (cool-down)", b.repoRef)
		return nil
	}

	// One active request per repo; a still-pending request absorbs the batch.
	var active int64
	if err := b.db.Model(&models.AnalysisRequest{}).
		Where("repo_ref = ? AND status IN ?", b.repoRef,
			[]models.RequestStatus{models.RequestStatusPending, models.RequestStatusLinked}).
		Count(&active).Error; err != nil {
		return fmt.Errorf("failed to check active requests: %w", err)
	}
	if active > 0 {
		b.RequestsSuppressed++
		return nil
	}

	request := &models.AnalysisRequest{
		RequestID:      uuid.NewString(),
		RepoRef:        b.repoRef,
		RequestedKinds: kinds,
		Priority:       priority,
		TriggerSource:  models.TriggerFileWatch,
		Status:         models.RequestStatusPending,
		BatchID:        batchID,
	}
	if err := b.db.Create(request).Error; err != nil {
		return fmt.Errorf("failed to create analysis request: %w", err)
	}
	b.RequestsEmitted++
	logger.Infof("batch %s for %s -> request %s (%v, %s)", batchID, b.repoRef, request.RequestID, kinds, priority)

	if b.sink != nil {
		b.sink.Submit(request)
	}
	return nil
}

// deriveRequest maps batch composition onto requested analysis kinds and
// priority. Source changes ask for structural and git analysis, security
// relevant paths add a security scan, and commit activity under .git asks
// for git analysis alone.
func deriveRequest(filter *Filter, events []models.FileEvent) (models.StringArray, models.Priority) {
	var sourceCount, buildCount, securityCount, gitCount int
	for _, e := range events {
		switch {
		case filter.InGitDir(e.Path):
			gitCount++
		case filter.IsSecurityRelevant(e.Path):
			securityCount++
		case e.IsSourceFile:
			sourceCount++
			if filter.IsBuildFile(e.Path) {
				buildCount++
			}
		case filter.IsBuildFile(e.Path):
			buildCount++
		}
	}

	kindSet := map[models.AnalysisKind]bool{}
	if sourceCount > 0 {
		kindSet[models.AnalysisKindStructural] = true
		kindSet[models.AnalysisKindGit] = true
	}
	if securityCount > 0 {
		kindSet[models.AnalysisKindSecurity] = true
	}
	if gitCount > 0 {
		kindSet[models.AnalysisKindGit] = true
	}

	var kinds models.StringArray
	for _, kind := range []models.AnalysisKind{models.AnalysisKindGit, models.AnalysisKindSecurity, models.AnalysisKindStructural} {
		if kindSet[kind] {
			kinds = append(kinds, string(kind))
		}
	}

	priority := models.PriorityLow
	switch {
	case securityCount > 0:
		priority = models.PriorityHigh
	case buildCount > 0 || sourceCount+buildCount >= 20:
		priority = models.PriorityHigh
	case sourceCount >= 3:
		priority = models.PriorityMedium
	}
	return kinds, priority
}
