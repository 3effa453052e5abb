package http

import (
	stderrors "errors"
	"net/http"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/internal/infrastructure/events"
	"coachroom/internal/infrastructure/middleware"
	"coachroom/pkg/errors"
	"coachroom/pkg/utils"
	"coachroom/pkg/validation"

	"github.com/gin-gonic/gin"
)

// multipartOverhead is allowed on top of the document size for the other
// form fields and boundaries.
const multipartOverhead = 64 * 1024

type UploadHandler struct {
	uploads  ports.UploadService
	streamer *events.Streamer
	maxSize  int64
}

func NewUploadHandler(uploads ports.UploadService, streamer *events.Streamer, maxSize int64) *UploadHandler {
	if maxSize <= 0 {
		maxSize = validation.MaxDocumentSize
	}
	return &UploadHandler{
		uploads:  uploads,
		streamer: streamer,
		maxSize:  maxSize,
	}
}

func (h *UploadHandler) SetupRoutes(api *gin.RouterGroup, wsLimit gin.HandlerFunc) {
	api.POST("/uploads", h.UploadCV)
	api.GET("/uploads/:id", h.GetUpload)
	api.GET("/uploads/:id/events", wsLimit, h.StreamEvents)
}

// UploadCV accepts a multipart form with the document in "cv" and an
// optional "job_description".
func (h *UploadHandler) UploadCV(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+multipartOverhead)

	fileHeader, err := c.FormFile("cv")
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			fail(c, domain.ErrFileTooLarge)
			return
		}
		fail(c, errors.NewInvalidInputError("cv file is required"))
		return
	}

	jobDescription := utils.SanitizeString(c.PostForm("job_description"))
	if err := validation.ValidateJobDescription(jobDescription); err != nil {
		fail(c, errors.NewInvalidInputError(err.Error()))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		fail(c, errors.NewInvalidInputError("cv file could not be read"))
		return
	}
	defer file.Close()

	meta := domain.UploadFile{
		Name:        fileHeader.Filename,
		Size:        fileHeader.Size,
		ContentType: fileHeader.Header.Get("Content-Type"),
	}
	task, err := h.uploads.Submit(c.Request.Context(), middleware.UserID(c), meta, file, jobDescription)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"upload": task})
}

func (h *UploadHandler) GetUpload(c *gin.Context) {
	task, err := h.uploads.Get(c.Request.Context(), middleware.UserID(c), domain.UploadID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload": task})
}

// StreamEvents streams upload_progress events until the upload finishes. A
// finished upload gets its final state and the stream closes.
func (h *UploadHandler) StreamEvents(c *gin.Context) {
	task, err := h.uploads.Get(c.Request.Context(), middleware.UserID(c), domain.UploadID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}

	initial := &domain.Event{
		Type:      domain.EventUploadProgress,
		Topic:     string(task.ID),
		Upload:    task,
		Error:     task.Error,
		Timestamp: task.CreatedAt,
	}
	h.streamer.Serve(c.Writer, c.Request, string(task.ID), initial)
}
