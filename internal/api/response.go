package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/pkg/types"
)

// Response is the envelope of every API response
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Application codes carried next to the HTTP status
const (
	CodeOK              = 0
	CodeBadRequest      = 40000
	CodeValidation      = 40001
	CodeInvalidArgument = 40002
	CodeNotFound        = 40400
	CodeConflict        = 40900
	CodeRateLimited     = 42901
	CodeInternal        = 50000
	CodeProvider        = 50200
	CodeUnavailable     = 50300
	CodeProviderTimeout = 50400
)

func respond(c *gin.Context, status, code int, message string, data any) {
	c.JSON(status, Response{Code: code, Message: message, Data: data})
}

func success(c *gin.Context, data any) {
	respond(c, http.StatusOK, CodeOK, "success", data)
}

func created(c *gin.Context, data any) {
	respond(c, http.StatusCreated, CodeOK, "created", data)
}

func fail(c *gin.Context, status, code int, message string) {
	respond(c, status, code, message, nil)
}

// StatusFor maps an error of the domain taxonomy to an HTTP status and
// application code
func StatusFor(err error) (int, int) {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, types.ErrInvalidArgument):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, types.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeProviderTimeout
	case errors.Is(err, types.ErrProvider):
		return http.StatusBadGateway, CodeProvider
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// failWith writes err mapped through StatusFor. Internal errors are logged
// and reported without detail.
func (h *Handler) failWith(c *gin.Context, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zapRequest(c, err)...)
		fail(c, status, code, "internal error")
		return
	}
	fail(c, status, code, err.Error())
}
