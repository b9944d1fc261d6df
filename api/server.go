package api

import (
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/models"
	"github.com/code-cortex/codemirror/pipeline"
	"github.com/code-cortex/codemirror/registry"
	"github.com/code-cortex/codemirror/syncer"
	"github.com/code-cortex/codemirror/watcher"
)

// Server exposes the pipeline over HTTP. Single-user deployment;
// authentication is handled by the surrounding platform.
type Server struct {
	db         *gorm.DB
	pipeline   *pipeline.Pipeline
	reconciler *syncer.Reconciler
	userID     string

	watchMu  sync.RWMutex
	watchers map[string]*watcher.Watcher
}

// NewServer wires the HTTP layer over the shared components.
func NewServer(db *gorm.DB, p *pipeline.Pipeline, userID string) *Server {
	return &Server{
		db:         db,
		pipeline:   p,
		reconciler: syncer.New(db),
		userID:     userID,
		watchers:   map[string]*watcher.Watcher{},
	}
}

// RegisterWatcher makes one repository's watcher visible on the watch
// status endpoint.
func (s *Server) RegisterWatcher(repoRef string, w *watcher.Watcher) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.watchers[repoRef] = w
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/codemirror")
	{
		api.POST("/analyze/:repo", s.triggerAnalysis)
		api.GET("/jobs/:id", s.getJob)
		api.DELETE("/jobs/:id", s.cancelJob)
		api.GET("/analyses/:repo", s.listAnalyses)
		api.GET("/patterns", s.listPatterns)
		api.GET("/insights/:job", s.listInsights)
		api.PUT("/insights/:id/status", s.updateInsightStatus)
		api.POST("/cli/sync", s.cliSync)
		api.GET("/cli/sync/:token", s.getSyncRecord)
		api.GET("/watch/status", s.watchStatus)
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

type triggerRequest struct {
	RepoPath string   `json:"repo_path"`
	Kinds    []string `json:"kinds"`
	Depth    string   `json:"depth"`
}

func (s *Server) triggerAnalysis(c *gin.Context) {
	repoRef := c.Param("repo")

	// An empty body means analyze with defaults.
	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	repoPath := req.RepoPath
	if repoPath == "" {
		repoPath = repoRef
	}

	kinds := make([]models.AnalysisKind, 0, len(req.Kinds))
	for _, raw := range req.Kinds {
		switch kind := models.AnalysisKind(raw); kind {
		case models.AnalysisKindGit, models.AnalysisKindSecurity, models.AnalysisKindStructural:
			kinds = append(kinds, kind)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown analysis kind: " + raw})
			return
		}
	}

	job, err := s.pipeline.Trigger(c.Request.Context(), repoRef, repoPath, kinds, models.TriggerManual, models.AnalysisDepth(req.Depth))
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateActiveJob) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.pipeline.Registry().Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.pipeline.Cancel(c.Param("id"), "cancelled by user")
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, registry.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listAnalyses(c *gin.Context) {
	jobs, err := s.pipeline.Registry().ListByRepo(c.Param("repo"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

func (s *Server) listPatterns(c *gin.Context) {
	patterns, err := s.pipeline.Aggregator().Patterns(s.userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns, "total": len(patterns)})
}

func (s *Server) listInsights(c *gin.Context) {
	insightRows, err := s.pipeline.Aggregator().InsightsForJob(c.Param("job"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insightRows, "total": len(insightRows)})
}

type insightStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) updateInsightStatus(c *gin.Context) {
	var req insightStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := models.InsightStatus(req.Status)
	switch status {
	case models.InsightAcknowledged, models.InsightApplied, models.InsightDismissed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + req.Status})
		return
	}

	insight, err := s.pipeline.Aggregator().UpdateInsightStatus(c.Param("id"), status)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, insight)
}

func (s *Server) cliSync(c *gin.Context) {
	var payload syncer.UploadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.reconciler.Upload(s.userID, payload)
	if err != nil {
		if errors.Is(err, syncer.ErrInvalidPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if record.Status == models.SyncConflict {
		status = http.StatusConflict
	}
	c.JSON(status, record)
}

func (s *Server) watchStatus(c *gin.Context) {
	s.watchMu.RLock()
	stats := make([]watcher.Stats, 0, len(s.watchers))
	for _, w := range s.watchers {
		stats = append(stats, w.Batcher().Stats())
	}
	s.watchMu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].RepoRef < stats[j].RepoRef })
	c.JSON(http.StatusOK, gin.H{"repos": stats, "total": len(stats)})
}

func (s *Server) getSyncRecord(c *gin.Context) {
	record, err := s.reconciler.Get(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}
