package http

import (
	stderrors "errors"
	"net/http"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/services"
	"coachroom/pkg/errors"
	"coachroom/pkg/validation"

	"github.com/gin-gonic/gin"
)

var mediaMessages = map[domain.MediaErrorKind]string{
	domain.MediaPermissionDenied: "Camera and microphone access was denied. Allow access in your browser and try again.",
	domain.MediaDeviceNotFound:   "No camera or microphone was found. Connect a device and try again.",
	domain.MediaDeviceInUse:      "Your camera or microphone is in use by another application.",
	domain.MediaUnknown:          "Unable to access camera and microphone. Please try again.",
}

// toAppError maps domain and service errors to their HTTP representation.
func toAppError(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}

	var mediaErr *domain.MediaError
	if stderrors.As(err, &mediaErr) {
		msg, ok := mediaMessages[mediaErr.Kind]
		if !ok {
			msg = mediaMessages[domain.MediaUnknown]
		}
		appErr := errors.NewMediaUnavailableError(string(mediaErr.Kind), msg)
		appErr.Cause = err
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrSessionNotFound), stderrors.Is(err, domain.ErrDisposed):
		return errors.NewNotFoundError("session")
	case stderrors.Is(err, domain.ErrUploadNotFound):
		return errors.NewNotFoundError("upload")
	case stderrors.Is(err, domain.ErrAlreadyActive):
		return errors.NewConflictError("a session is already in progress")
	case stderrors.Is(err, domain.ErrInvalidTransition):
		return errors.NewConflictError("the session cannot do that in its current state")
	case stderrors.Is(err, domain.ErrAcquireAbandoned):
		return errors.NewConflictError("the session start was cancelled")
	case stderrors.Is(err, domain.ErrNotPracticeFlow):
		return errors.NewConflictError("only practice sessions have a next question")
	case stderrors.Is(err, domain.ErrSessionLimit):
		return errors.NewConflictError("too many open sessions, close one first")
	case stderrors.Is(err, domain.ErrInvalidFlow):
		return errors.NewInvalidInputError("flow must be one of lobby, room, practice")
	case stderrors.Is(err, domain.ErrInvalidCredentials):
		return errors.NewUnauthorizedError("Invalid credentials")
	case stderrors.Is(err, services.ErrExpiredToken):
		return errors.NewUnauthorizedError("token expired")
	case stderrors.Is(err, services.ErrInvalidToken), stderrors.Is(err, services.ErrUnauthorized):
		return errors.NewUnauthorizedError("invalid or revoked token")
	case stderrors.Is(err, domain.ErrUnsupportedFile):
		return errors.NewUnsupportedMediaError(validation.DocumentTypeMessage)
	case stderrors.Is(err, domain.ErrFileTooLarge):
		return errors.NewPayloadTooLargeError(validation.DocumentSizeMessage)
	}

	return errors.WrapError(err, errors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
}

// fail attaches err to the context for the error middleware.
func fail(c *gin.Context, err error) {
	_ = c.Error(toAppError(err))
	c.Abort()
}
