package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tkwok/triggerd/internal/usecase"
)

type WorkerHandler struct {
	svc    *usecase.JobService
	logger *slog.Logger
}

func NewWorkerHandler(svc *usecase.JobService, logger *slog.Logger) *WorkerHandler {
	return &WorkerHandler{svc: svc, logger: logger.With("component", "worker_handler")}
}

func (h *WorkerHandler) List(ctx *gin.Context) {
	view, err := h.svc.WorkerStatus(ctx.Request.Context())
	if err != nil {
		h.logger.Error("list workers", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, view)
}
