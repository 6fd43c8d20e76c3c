package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/deepguard/internal/models"
	"github.com/your-org/deepguard/internal/storage"
	"github.com/your-org/deepguard/pkg/dto"
)

type JobHandler struct {
	store     JobStore
	objects   ObjectStore
	queue     JobQueue
	limits    Limits
	maxFrames int
}

func NewJobHandler(store JobStore, objects ObjectStore, queue JobQueue, limits Limits, maxFrames int) *JobHandler {
	return &JobHandler{store: store, objects: objects, queue: queue, limits: limits, maxFrames: maxFrames}
}

func (h *JobHandler) available(c *gin.Context) bool {
	if h.store == nil || h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async jobs not configured"})
		return false
	}
	return true
}

// Create queues an async video analysis for an upload or a URL.
func (h *JobHandler) Create(c *gin.Context) {
	if !h.available(c) {
		return
	}
	maxFrames, err := parseMaxFrames(c, h.maxFrames)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	task := models.JobTask{JobID: uuid.New(), MaxFrames: maxFrames, CreatedAt: time.Now()}
	job := &models.Job{ID: task.JobID}

	if fh, ferr := c.FormFile("file"); ferr == nil {
		if h.objects == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "object storage not configured"})
			return
		}
		if err := checkExtension(fh.Filename, VideoExtensions); err != nil {
			respondError(c, err)
			return
		}
		if fh.Size > h.limits.MaxVideoBytes {
			respondError(c, tooLarge(h.limits.MaxVideoBytes))
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer f.Close()

		key := storage.JobMediaKey(task.JobID.String(), fh.Filename)
		if err := h.objects.PutStream(ctx, key, f, fh.Size, fh.Header.Get("Content-Type")); err != nil {
			respondError(c, err)
			return
		}
		task.MediaKey, task.Filename, job.Source = key, fh.Filename, fh.Filename
	} else {
		raw := c.PostForm("url")
		if raw == "" {
			respondError(c, badRequest("file or url is required"))
			return
		}
		if err := validURL(raw); err != nil {
			respondError(c, err)
			return
		}
		task.URL, task.Filename, job.Source = raw, raw, raw
	}

	if err := h.store.CreateJob(ctx, job); err != nil {
		respondError(c, err)
		return
	}
	if err := h.queue.PublishJob(ctx, task); err != nil {
		_ = h.store.UpdateJobStatus(ctx, job.ID, models.JobFailed, "enqueue failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.JobCreatedResponse{JobID: job.ID, Status: string(models.JobQueued)})
}

func (h *JobHandler) Get(c *gin.Context) {
	if !h.available(c) {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.JobResponse{
		ID:         job.ID,
		Status:     string(job.Status),
		Source:     job.Source,
		Progress:   job.Progress,
		Error:      job.Error,
		AnalysisID: job.AnalysisID,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  job.UpdatedAt.Format(time.RFC3339),
	}
	if job.AnalysisID != nil {
		a, err := h.store.GetAnalysis(c.Request.Context(), *job.AnalysisID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			respondError(c, err)
			return
		}
		if a != nil {
			resp.Result = a.Result
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel stops a job. Queued jobs are cancelled in place; running ones are
// signalled through the control subject.
func (h *JobHandler) Cancel(c *gin.Context) {
	if !h.available(c) {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	ctx := c.Request.Context()
	job, err := h.store.GetJob(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if job.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "job already " + string(job.Status)})
		return
	}

	if job.Status == models.JobQueued {
		if err := h.store.UpdateJobStatus(ctx, id, models.JobCancelled, "cancelled"); err != nil {
			respondError(c, err)
			return
		}
	}
	if err := h.queue.PublishControl(models.ControlCommand{Action: models.ControlCancel, JobID: id}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": "cancelling"})
}
