package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// statusOf maps a domain error kind to its HTTP status.
func statusOf(kind service.Kind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindStateConflict:
		return http.StatusConflict
	case service.KindWindowViolation:
		return http.StatusUnprocessableEntity
	case service.KindValidationFailure:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// failWithError writes the envelope for a service error. Dependency failures
// are logged since the client only sees a generic code.
func failWithError(c *gin.Context, log zerolog.Logger, err error) {
	kind := service.KindOf(err)
	if kind == service.KindDependencyFailure {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.FailWithKind(c, statusOf(kind), response.ErrCode(service.CodeOf(err)), string(kind))
}

// paramUUID parses a UUID path parameter, writing INVALID_ID on failure.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// paramSection parses the section number path parameter.
func paramSection(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("section_number"))
	if err != nil || n < 1 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return n, true
}
