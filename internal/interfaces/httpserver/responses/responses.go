package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "jan-server/services/research-api/internal/domain/errors"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// ErrorResponse represents an error response with platform error details
type ErrorResponse struct {
	Code          string `json:"code,omitempty"` // UUID from PlatformError
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	Kind          string `json:"kind,omitempty"`
	JobID         string `json:"job_id,omitempty"`
	ErrorInstance error  `json:"-"`
	RequestID     string `json:"request_id,omitempty"`
}

// HandleError maps domain errors to HTTP responses. message is the client-facing summary.
func HandleError(reqCtx *gin.Context, err error, message string) {
	var jobErr *domainerrors.JobError
	if errors.As(err, &jobErr) {
		reqCtx.AbortWithStatusJSON(JobErrorStatus(jobErr.Kind), ErrorResponse{
			Error:         message,
			Message:       jobErr.Message,
			Kind:          string(jobErr.Kind),
			JobID:         jobErr.JobID,
			ErrorInstance: jobErr,
		})
		return
	}

	var domainErr *platformerrors.PlatformError
	if errors.As(err, &domainErr) {
		statusCode := platformerrors.ErrorTypeToHTTPStatus(domainErr.GetErrorType())

		errResp := ErrorResponse{
			Code:          domainErr.GetUUID(),
			Error:         message,
			Message:       domainErr.Message,
			ErrorInstance: domainErr,
			RequestID:     domainErr.GetRequestID(),
		}

		reqCtx.AbortWithStatusJSON(statusCode, errResp)
		return
	}
	// Non-platform errors
	errResp := ErrorResponse{
		Error:         message,
		Message:       message,
		ErrorInstance: err,
	}
	reqCtx.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
}

// HandleNewError creates a new typed error at the route layer and handles it
func HandleNewError(reqCtx *gin.Context, errorType platformerrors.ErrorType, message string, uuid string) {
	ctx := reqCtx.Request.Context()
	err := platformerrors.NewError(ctx, platformerrors.LayerRoute, errorType, message, nil, uuid)

	statusCode := platformerrors.ErrorTypeToHTTPStatus(err.GetErrorType())

	errResp := ErrorResponse{
		Code:          err.GetUUID(),
		Error:         message,
		Message:       message,
		ErrorInstance: err,
		RequestID:     err.GetRequestID(),
	}

	reqCtx.AbortWithStatusJSON(statusCode, errResp)
}

// JobErrorStatus maps a job error kind to an HTTP status. A busy conversation is
// reported like an exhausted quota so clients back off the same way.
func JobErrorStatus(kind domainerrors.Kind) int {
	switch kind {
	case domainerrors.KindQuota, domainerrors.KindConflict:
		return http.StatusTooManyRequests
	case domainerrors.KindRecoveryFailure:
		return http.StatusServiceUnavailable
	case domainerrors.KindTimeout:
		return http.StatusGatewayTimeout
	case domainerrors.KindTransport, domainerrors.KindProtocol, domainerrors.KindExternalJob:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
