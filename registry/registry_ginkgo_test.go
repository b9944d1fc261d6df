package registry_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/internal/db"
	"github.com/code-cortex/codemirror/models"
	"github.com/code-cortex/codemirror/registry"
)

var _ = Describe("Registry", func() {
	var (
		gdb *gorm.DB
		reg *registry.Registry
	)

	BeforeEach(func() {
		var err error
		gdb, err = db.OpenMemory()
		Expect(err).NotTo(HaveOccurred())
		reg = registry.New(gdb, 3)
	})

	AfterEach(func() {
		sqlDB, err := gdb.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	Describe("CreateJob", func() {
		It("creates a pending job", func() {
			job, err := reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/repo", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(models.JobStatusPending))
			Expect(job.JobID).NotTo(BeEmpty())
			Expect(job.MaxRetries).To(Equal(3))
		})

		It("rejects a second job while the first is active", func() {
			first, err := reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/repo", nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = reg.Transition(first.JobID, models.JobStatusProcessing, "")
			Expect(err).NotTo(HaveOccurred())

			_, err = reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/repo", nil)
			Expect(err).To(MatchError(registry.ErrDuplicateActiveJob))
		})

		It("allows a new job once the previous one is terminal", func() {
			first, err := reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/repo", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.Transition(first.JobID, models.JobStatusProcessing, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.Transition(first.JobID, models.JobStatusCompleted, "done")
			Expect(err).NotTo(HaveOccurred())

			second, err := reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/repo", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.JobID).NotTo(Equal(first.JobID))
		})

		It("allows concurrent jobs for different repositories", func() {
			_, err := reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/one", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/two", nil)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Transition", func() {
		var job *models.Job

		BeforeEach(func() {
			var err error
			job, err = reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/repo", nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("walks pending through processing to completed", func() {
			updated, err := reg.Transition(job.JobID, models.JobStatusProcessing, "starting")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.StartedAt).NotTo(BeNil())

			updated, err = reg.Transition(job.JobID, models.JobStatusCompleted, "done")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.CompletedAt).NotTo(BeNil())
		})

		It("rejects skipping processing", func() {
			_, err := reg.Transition(job.JobID, models.JobStatusCompleted, "")
			Expect(err).To(MatchError(registry.ErrInvalidTransition))
		})

		It("never revisits pending", func() {
			_, err := reg.Transition(job.JobID, models.JobStatusProcessing, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.Transition(job.JobID, models.JobStatusPending, "")
			Expect(err).To(MatchError(registry.ErrInvalidTransition))
		})

		It("rejects leaving a terminal state", func() {
			_, err := reg.Transition(job.JobID, models.JobStatusProcessing, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.Transition(job.JobID, models.JobStatusFailed, "boom")
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.Transition(job.JobID, models.JobStatusProcessing, "")
			Expect(err).To(MatchError(registry.ErrInvalidTransition))
		})

		It("cancels from any non-terminal state", func() {
			cancelled, err := reg.Cancel(job.JobID, "user asked")
			Expect(err).NotTo(HaveOccurred())
			Expect(cancelled.Status).To(Equal(models.JobStatusCancelled))
			Expect(cancelled.Error).To(Equal("user asked"))

			_, err = reg.Cancel(job.JobID, "again")
			Expect(err).To(MatchError(registry.ErrInvalidTransition))
		})

		It("stamps started_at exactly once across retries", func() {
			started, err := reg.Transition(job.JobID, models.JobStatusProcessing, "")
			Expect(err).NotTo(HaveOccurred())
			firstStart := *started.StartedAt

			_, err = reg.Transition(job.JobID, models.JobStatusFailed, "timeout")
			Expect(err).NotTo(HaveOccurred())
			retried, err := reg.Retry(job.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(retried.StartedAt.Equal(firstStart)).To(BeTrue())
		})
	})

	Describe("RecordProgress", func() {
		var job *models.Job

		BeforeEach(func() {
			var err error
			job, err = reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/repo", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.Transition(job.JobID, models.JobStatusProcessing, "")
			Expect(err).NotTo(HaveOccurred())
		})

		It("clamps regressions instead of rejecting them", func() {
			Expect(reg.RecordProgress(job.JobID, 60, "security scan", "")).To(Succeed())
			Expect(reg.RecordProgress(job.JobID, 30, "git analysis", "")).To(Succeed())

			loaded, err := reg.Get(job.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Progress).To(Equal(60))
		})

		It("caps progress at 100", func() {
			Expect(reg.RecordProgress(job.JobID, 250, "", "")).To(Succeed())
			loaded, err := reg.Get(job.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Progress).To(Equal(100))
		})
	})

	Describe("Retry", func() {
		It("exhausts after max_retries and forces failed", func() {
			job, err := reg.CreateJob(models.JobTypeFullAnalysis, "github.com/acme/repo", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.Transition(job.JobID, models.JobStatusProcessing, "")
			Expect(err).NotTo(HaveOccurred())

			for i := 1; i <= 3; i++ {
				_, err = reg.Transition(job.JobID, models.JobStatusFailed, "timeout")
				Expect(err).NotTo(HaveOccurred())
				retried, err := reg.Retry(job.JobID)
				Expect(err).NotTo(HaveOccurred())
				Expect(retried.RetryCount).To(Equal(i))
				Expect(retried.Status).To(Equal(models.JobStatusProcessing))
			}

			_, err = reg.Transition(job.JobID, models.JobStatusFailed, "timeout")
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.Retry(job.JobID)
			Expect(err).To(MatchError(registry.ErrRetriesExhausted))

			loaded, err := reg.Get(job.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Status).To(Equal(models.JobStatusFailed))
			Expect(loaded.RetryCount).To(Equal(3))
		})
	})
})
