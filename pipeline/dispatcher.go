package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/flanksource/commons/logger"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/models"
	"github.com/code-cortex/codemirror/registry"
)

// Dispatcher consumes analysis requests and turns them into jobs. It
// implements the batcher's RequestSink; a request that cannot start
// because the repo already has an active job stays pending and is picked
// up again later.
type Dispatcher struct {
	pipeline *Pipeline
	db       *gorm.DB
	requests chan *models.AnalysisRequest
	// repoPaths maps repo_ref to the local checkout the tools run against.
	repoPaths map[string]string
}

// NewDispatcher creates a dispatcher with a buffered intake queue.
func NewDispatcher(pipeline *Pipeline, repoPaths map[string]string) *Dispatcher {
	if repoPaths == nil {
		repoPaths = map[string]string{}
	}
	return &Dispatcher{
		pipeline:  pipeline,
		db:        pipeline.db,
		requests:  make(chan *models.AnalysisRequest, 64),
		repoPaths: repoPaths,
	}
}

// Submit enqueues a request without blocking the batcher. A full queue
// leaves the request pending in the database for the sweep to retry.
func (d *Dispatcher) Submit(request *models.AnalysisRequest) {
	select {
	case d.requests <- request:
	default:
		logger.Warnf("dispatcher queue full, leaving request %s pending", request.RequestID)
	}
}

// Run consumes requests until ctx is cancelled, sweeping the database for
// stranded pending requests periodically.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case request := <-d.requests:
			d.dispatch(ctx, request)
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, request *models.AnalysisRequest) {
	kinds := make([]models.AnalysisKind, 0, len(request.RequestedKinds))
	for _, raw := range request.RequestedKinds {
		kinds = append(kinds, models.AnalysisKind(raw))
	}

	repoPath, ok := d.repoPaths[request.RepoRef]
	if !ok {
		repoPath = request.RepoRef
	}

	job, err := d.pipeline.Trigger(ctx, request.RepoRef, repoPath, kinds, request.TriggerSource, models.DepthStandard)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateActiveJob) {
			logger.Debugf("request %s waiting, active job for %s", request.RequestID, request.RepoRef)
			return
		}
		logger.Errorf("request %s dispatch failed: %v", request.RequestID, err)
		d.updateRequest(request, models.RequestStatusDiscarded, "")
		return
	}

	d.updateRequest(request, models.RequestStatusLinked, job.JobID)
}

// sweep re-dispatches pending requests whose repo slot has freed up.
func (d *Dispatcher) sweep(ctx context.Context) {
	var pending []models.AnalysisRequest
	if err := d.db.Where("status = ?", models.RequestStatusPending).
		Order("created_at").Limit(32).Find(&pending).Error; err != nil {
		logger.Errorf("dispatcher sweep failed: %v", err)
		return
	}
	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, &pending[i])
	}

	d.completeLinked()
}

// completeLinked closes requests whose job has reached a terminal state.
func (d *Dispatcher) completeLinked() {
	var linked []models.AnalysisRequest
	if err := d.db.Where("status = ?", models.RequestStatusLinked).Find(&linked).Error; err != nil {
		logger.Errorf("failed to load linked requests: %v", err)
		return
	}
	for i := range linked {
		job, err := d.pipeline.registry.Get(linked[i].LinkedJobID)
		if err != nil || !job.Status.IsTerminal() {
			continue
		}
		d.updateRequest(&linked[i], models.RequestStatusCompleted, "")
	}
}

func (d *Dispatcher) updateRequest(request *models.AnalysisRequest, status models.RequestStatus, jobID string) {
	updates := map[string]any{"status": status, "updated_at": time.Now()}
	if jobID != "" {
		updates["linked_job_id"] = jobID
	}
	if err := d.db.Model(&models.AnalysisRequest{}).
		Where("request_id = ?", request.RequestID).
		Updates(updates).Error; err != nil {
		logger.Errorf("failed to update request %s: %v", request.RequestID, err)
	}
}
