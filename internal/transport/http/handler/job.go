package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tkwok/triggerd/internal/domain"
	"github.com/tkwok/triggerd/internal/usecase"
)

type JobHandler struct {
	svc    *usecase.JobService
	logger *slog.Logger
}

func NewJobHandler(svc *usecase.JobService, logger *slog.Logger) *JobHandler {
	return &JobHandler{svc: svc, logger: logger.With("component", "job_handler")}
}

type createJobRequest struct {
	Name            string  `json:"name"             binding:"required,max=256"`
	ScriptPath      string  `json:"script_path"      binding:"required,max=1024"`
	ScriptArgs      *string `json:"script_args"      binding:"omitempty,max=1024"`
	IntervalSeconds int     `json:"interval_seconds" binding:"omitempty,min=0"`
	ScheduleType    string  `json:"schedule_type"    binding:"omitempty,oneof=interval hourly daily weekly monthly manual"`
	ScheduleTime    *string `json:"schedule_time"`
	ScheduleDay     *int    `json:"schedule_day"`
	IsActive        *bool   `json:"is_active"`
}

func (h *JobHandler) Create(ctx *gin.Context) {
	var req createJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	view, err := h.svc.CreateJob(ctx.Request.Context(), usecase.CreateJobInput{
		Name:            req.Name,
		ScriptPath:      req.ScriptPath,
		ScriptArgs:      req.ScriptArgs,
		IntervalSeconds: req.IntervalSeconds,
		ScheduleType:    req.ScheduleType,
		ScheduleTime:    req.ScheduleTime,
		ScheduleDay:     req.ScheduleDay,
		IsActive:        active,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSchedule):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrScriptNotFound):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errScriptNotFound})
		default:
			h.logger.Error("create job", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusCreated, view)
}

func (h *JobHandler) List(ctx *gin.Context) {
	views, err := h.svc.ListJobs(ctx.Request.Context(), ctx.Query("search"))
	if err != nil {
		h.logger.Error("list jobs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (h *JobHandler) Toggle(ctx *gin.Context) {
	id, err := jobID(ctx)
	if err != nil {
		return
	}

	view, err := h.svc.ToggleActive(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.Error("toggle job", "job_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, view)
}

func (h *JobHandler) RunNow(ctx *gin.Context) {
	id, err := jobID(ctx)
	if err != nil {
		return
	}

	err = h.svc.RunNow(ctx.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		case errors.Is(err, domain.ErrJobInactive):
			ctx.JSON(http.StatusConflict, gin.H{"error": errJobInactive})
		default:
			h.logger.Error("run job now", "job_id", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{"message": "Job queued for execution"})
}

func (h *JobHandler) Delete(ctx *gin.Context) {
	id, err := jobID(ctx)
	if err != nil {
		return
	}

	if err := h.svc.DeleteJob(ctx.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.Error("delete job", "job_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.Status(http.StatusNoContent)
}

type logItem struct {
	ID        int64     `json:"id"`
	JobID     int64     `json:"job_id"`
	RunTime   time.Time `json:"run_time"`
	Status    string    `json:"status"`
	LogOutput string    `json:"log_output"`
}

func (h *JobHandler) ListLogs(ctx *gin.Context) {
	id, err := jobID(ctx)
	if err != nil {
		return
	}
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	logs, err := h.svc.ListLogs(ctx.Request.Context(), id, limit)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.Error("list job logs", "job_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]logItem, len(logs))
	for i, l := range logs {
		items[i] = logItem{
			ID:        l.ID,
			JobID:     l.JobID,
			RunTime:   l.RunTime,
			Status:    string(l.Status),
			LogOutput: l.LogOutput,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"logs": items})
}

// jobID parses the :id path parameter; on failure it writes the 400
// response itself and returns a non-nil error so callers just return.
func jobID(ctx *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job id"})
		return 0, err
	}
	return id, nil
}
