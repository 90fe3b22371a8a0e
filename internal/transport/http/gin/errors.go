package httpgin

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/reservo/internal/domain"
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func retryAfter(c *gin.Context, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var (
		conflictErr *domain.ConflictError
		rateErr     *domain.RateLimitError
	)

	switch {
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:               "scheduling conflict",
			ConflictingEventIDs: conflictErr.EventIDs(),
		})
	case errors.Is(err, domain.ErrSchedulingConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "scheduling conflict"})
	case errors.Is(err, domain.ErrUnauthenticated):
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: rootMessage(err)})
	case errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: rootMessage(err)})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, ErrorResponse{Error: rootMessage(err)})
	case errors.As(err, &rateErr):
		retryAfter(c, rateErr.RetryAfter)
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
	case errors.Is(err, domain.ErrStorageUnavailable):
		_ = c.Error(err)
		retryAfter(c, time.Second)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// rootMessage returns the message of the typed domain error in err's chain
// without the op prefixes added on the way up.
func rootMessage(err error) string {
	var (
		windowErr *domain.WindowError
		stateErr  *domain.StateError
		notFound  *domain.NotFoundError
		amountErr *domain.AmountError
		inputErr  *domain.InputError
	)

	switch {
	case errors.As(err, &windowErr):
		return windowErr.Error()
	case errors.As(err, &stateErr):
		return stateErr.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &amountErr):
		return amountErr.Error()
	case errors.As(err, &inputErr):
		return inputErr.Error()
	}

	for _, sentinel := range []error{
		domain.ErrNotFound,
		domain.ErrInvalidWindow,
		domain.ErrInvalidAmount,
		domain.ErrInvalidInput,
		domain.ErrInvalidState,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
