package httpgin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/reservo/internal/auth"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/service"
	"github.com/kirinyoku/reservo/internal/service/facade"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const idemLockTTL = 60 * time.Second

// Idempotency stores the response of a keyed submission so a retried
// request replays it.
type Idempotency interface {
	Key(actorID, idemKey string) string
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	GetResult(ctx context.Context, key string) (string, bool, error)
	Release(ctx context.Context, key string) error
}

// NewRouter builds the REST surface over the facade. idem and resolver may
// be nil; without a resolver every request is anonymous.
func NewRouter(
	svcs *service.Services,
	resolver ActorResolver,
	idem Idempotency,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS(), AuthMiddleware(resolver))
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	f := svcs.Facade

	res := r.Group("/reservations")
	{
		res.POST("", handleSubmit(f, idem))
		res.GET("", handleList(f))
		res.GET("/mine", handleMine(f))
		res.GET("/upcoming", handleUpcoming(f))
		res.GET("/count", handleCount(f))
		res.GET("/:id", handleGetReservation(f))

		res.POST("/:id/approve", handleTransition(f.Approve))
		res.POST("/:id/deny", handleTransition(f.Deny))
		res.POST("/:id/cancel", handleTransition(f.Cancel))
		res.POST("/:id/in-person", handleTransition(f.SetInPerson))
		res.POST("/:id/paid", handleTransition(f.SetPaid))
		res.POST("/:id/reschedule", handleReschedule(f))

		res.POST("/:id/fees", handleAddFee(f))
	}

	r.DELETE("/fees/:id", handleRemoveFee(f))

	r.GET("/facilities/:id/calendar", handleCalendar(f))
	r.GET("/facilities/:id/conflicts", handleConflicts(f))

	r.POST("/admin/cache/invalidate", handleInvalidate(f))

	return r
}

func actorOf(c *gin.Context) domain.Actor {
	return auth.ActorFrom(c.Request.Context())
}

// @Summary  Submit a reservation request (idempotent)
// @Param    req  body    SubmitReservationRequest  true  "payload"
// @Param    Idempotency-Key  header  string  false  "replay key"
// @Success  201  {object}  domain.Reservation
// @Failure  400  {object}  ErrorResponse
// @Failure  401  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse  "idempotency key in progress"
// @Failure  422  {object}  ErrorResponse  "idempotency key reused with a different body"
// @Failure  429  {object}  ErrorResponse  "rate limited"
// @Router   /reservations [post]
func handleSubmit(f *facade.Facade, idem Idempotency) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		start, end, err := parseRange("starts_at", req.StartsAt, "ends_at", req.EndsAt)
		if err != nil {
			badRequest(c, err.Error())
			return
		}

		actor := actorOf(c)
		ctx := c.Request.Context()

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var storageKey, fp string
		if idem != nil && idemKey != "" && actor.Authenticated() {
			storageKey = idem.Key(actor.ID, idemKey)
			fp = fingerprint(req)

			if replayed := replayIdempotent(c, idem, storageKey, idemKey, fp); replayed {
				return
			}

			locked, err := idem.AcquireLock(ctx, storageKey, idemLockTTL)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if replayed := replayIdempotent(c, idem, storageKey, idemKey, fp); replayed {
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		out, err := f.SubmitReservation(ctx, actor, facade.SubmitInput{
			FacilityID:  req.FacilityID,
			Title:       req.Title,
			Description: req.Description,
			Location:    req.Location,
			Start:       start,
			End:         end,
		})
		if err != nil {
			if storageKey != "" {
				_ = idem.Release(context.WithoutCancel(ctx), storageKey)
			}
			respondErr(c, err)
			return
		}

		if storageKey != "" {
			if b, err := json.Marshal(out); err == nil {
				rec, _ := json.Marshal(idemRecord{Fingerprint: fp, Response: b})
				_ = idem.SaveResult(context.WithoutCancel(ctx), storageKey, string(rec))
			}
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, out)
	}
}

// idemRecord is what a keyed submission stores: the response together with
// the fingerprint of the request that produced it.
type idemRecord struct {
	Fingerprint string          `json:"fingerprint"`
	Response    json.RawMessage `json:"response"`
}

// fingerprint hashes the decoded request, so formatting and field order in
// the raw body do not matter.
func fingerprint(req SubmitReservationRequest) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// replayIdempotent answers from a stored result. A key replayed with a
// different request is rejected with 422 rather than served the old result.
func replayIdempotent(c *gin.Context, idem Idempotency, storageKey, idemKey, fp string) bool {
	payload, ok, _ := idem.GetResult(c.Request.Context(), storageKey)
	if !ok {
		return false
	}

	var rec idemRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return false
	}

	if rec.Fingerprint != fp {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "idempotency key reused with a different request body"})
		return true
	}

	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", rec.Response)

	return true
}

// @Summary  List reservations (admin)
// @Param    status       query  string  false  "pending|approved|denied|cancelled"
// @Param    facility_id  query  string  false  "facility filter"
// @Success  200  {array}   domain.Reservation
// @Failure  403  {object}  ErrorResponse
// @Router   /reservations [get]
func handleList(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := f.ListReservations(c.Request.Context(), actorOf(c), facade.ListInput{
			Status:     domain.Status(c.Query("status")),
			FacilityID: c.Query("facility_id"),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, out)
	}
}

// @Summary  List the caller's reservations
// @Success  200  {array}   domain.Reservation
// @Failure  401  {object}  ErrorResponse
// @Router   /reservations/mine [get]
func handleMine(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := f.ListMyReservations(c.Request.Context(), actorOf(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, out)
	}
}

// @Summary  Approved reservations starting soon (admin)
// @Success  200  {array}   domain.Reservation
// @Router   /reservations/upcoming [get]
func handleUpcoming(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := f.UpcomingReservations(c.Request.Context(), actorOf(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, out)
	}
}

// @Summary  Pending request count (admin)
// @Param    facility_id  query  string  false  "scope to one facility"
// @Success  200  {object}  CountResponse
// @Router   /reservations/count [get]
func handleCount(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		facilityID := c.Query("facility_id")

		n, err := f.GetRequestCount(c.Request.Context(), actorOf(c), facilityID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, CountResponse{FacilityID: facilityID, Pending: n})
	}
}

// @Summary  Reservation with event, fees and total
// @Param    id  path  string  true  "Reservation ID"
// @Success  200  {object}  domain.ReservationDetails
// @Failure  403  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /reservations/{id} [get]
func handleGetReservation(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := f.GetReservation(c.Request.Context(), actorOf(c), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, d)
	}
}

type transitionFunc func(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error)

// handleTransition serves approve, deny, cancel, in-person and paid.
//
// @Summary  Change reservation status or flags
// @Param    id  path  string  true  "Reservation ID"
// @Success  200  {object}  domain.Reservation
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse  "invalid state or scheduling conflict"
// @Router   /reservations/{id}/approve [post]
// @Router   /reservations/{id}/deny [post]
// @Router   /reservations/{id}/cancel [post]
// @Router   /reservations/{id}/in-person [post]
// @Router   /reservations/{id}/paid [post]
func handleTransition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := fn(c.Request.Context(), actorOf(c), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Move an approved reservation (admin)
// @Param    id   path  string             true  "Reservation ID"
// @Param    req  body  RescheduleRequest  true  "new window"
// @Success  200  {object}  domain.Reservation
// @Failure  409  {object}  ErrorResponse
// @Router   /reservations/{id}/reschedule [post]
func handleReschedule(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RescheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		start, end, err := parseRange("starts_at", req.StartsAt, "ends_at", req.EndsAt)
		if err != nil {
			badRequest(c, err.Error())
			return
		}

		out, err := f.Reschedule(c.Request.Context(), actorOf(c), c.Param("id"), start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Add a fee (admin)
// @Param    id   path  string         true  "Reservation ID"
// @Param    req  body  AddFeeRequest  true  "payload"
// @Success  201  {object}  domain.Fee
// @Failure  400  {object}  ErrorResponse
// @Router   /reservations/{id}/fees [post]
func handleAddFee(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AddFeeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		fee, err := f.AddFee(c.Request.Context(), actorOf(c), c.Param("id"), facade.FeeInput{
			AmountCents: req.AmountCents,
			Label:       req.Label,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, fee)
	}
}

// @Summary  Remove a fee (admin)
// @Param    id  path  string  true  "Fee ID"
// @Success  200  {object}  domain.Fee
// @Failure  404  {object}  ErrorResponse
// @Router   /fees/{id} [delete]
func handleRemoveFee(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		fee, err := f.RemoveFee(c.Request.Context(), actorOf(c), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, fee)
	}
}

// @Summary  Approved events of a facility in [from, to)
// @Param    id    path   string  true  "Facility ID"
// @Param    from  query  string  true  "RFC3339"
// @Param    to    query  string  true  "RFC3339"
// @Success  200  {array}   domain.Event
// @Router   /facilities/{id}/calendar [get]
func handleCalendar(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, to, err := parseRange("from", c.Query("from"), "to", c.Query("to"))
		if err != nil {
			badRequest(c, err.Error())
			return
		}

		out, err := f.GetFacilityCalendar(c.Request.Context(), actorOf(c), c.Param("id"), from, to)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, out)
	}
}

// @Summary  Check a window against approved events
// @Param    id     path   string  true  "Facility ID"
// @Param    start  query  string  true  "RFC3339"
// @Param    end    query  string  true  "RFC3339"
// @Success  200  {object}  ConflictCheckResponse
// @Router   /facilities/{id}/conflicts [get]
func handleConflicts(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		start, end, err := parseRange("start", c.Query("start"), "end", c.Query("end"))
		if err != nil {
			badRequest(c, err.Error())
			return
		}

		res, err := f.CheckConflict(c.Request.Context(), actorOf(c), c.Param("id"), start, end)
		if err != nil {
			respondErr(c, err)
			return
		}

		conflicts := res.Conflicts
		if conflicts == nil {
			conflicts = []domain.Event{}
		}
		c.JSON(http.StatusOK, ConflictCheckResponse{Clear: res.Clear(), Conflicts: conflicts})
	}
}

// @Summary  Invalidate cache tags (admin); no tags resets everything
// @Param    req  body  InvalidateCacheRequest  false  "tags"
// @Success  204
// @Router   /admin/cache/invalidate [post]
func handleInvalidate(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InvalidateCacheRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}

		if err := f.InvalidateTags(c.Request.Context(), actorOf(c), req.Tags); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
