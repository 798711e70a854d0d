package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/utils"
)

func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

func Created(c *gin.Context, v any) {
	c.JSON(http.StatusCreated, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// Status maps an error of the shared taxonomy to an HTTP status.
func Status(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidPeer), errors.Is(err, apperr.ErrInvalidContent):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrRemoved):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes err with the status it maps to. Unexpected errors are logged
// and hidden from the client.
func Fail(c *gin.Context, log *logrus.Entry, err error) {
	code := Status(err)
	if code == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		Err(c, code, "internal error")
		return
	}
	if code == http.StatusServiceUnavailable {
		log.WithError(err).WithField("path", c.FullPath()).Warn("storage unavailable")
	}
	Err(c, code, err.Error())
}

// BindFailed answers a request whose body or query did not bind.
func BindFailed(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		Err(c, http.StatusBadRequest, utils.ValidationErr(verrs))
		return
	}
	Err(c, http.StatusBadRequest, err.Error())
}
