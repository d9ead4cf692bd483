package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamlink/internal/http/middleware"
	"streamlink/internal/service"
)

// Pinger reports whether the link store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators RegisterRoutes wires into handlers.
type Deps struct {
	Links        service.LinkService
	Streams      service.StreamService
	Store        Pinger
	StreamPrefix string
	AdminAPIKey  string
	// Gatherer backs GET /metrics when non-nil.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	prefix := d.StreamPrefix
	if prefix == "" {
		prefix = "s"
	}

	app.Get("/", Status(d.Links))
	app.Get("/healthz", LivenessProbe())
	app.Get("/health", HealthCheck(d.Store))

	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	app.Post("/links", middleware.APIKey(d.AdminAPIKey), CreateLink(d.Links))
	app.Get("/"+prefix+"/:token", StreamLink(d.Streams))
}

// Status godoc
// @Summary Service status and link lifetime
// @Tags health
// @Produce json
// @Success 200 {object} statusResponse
// @Router / [get]
func Status(links service.LinkService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(statusResponse{
			OK:          true,
			ExpiryHours: int64(links.TTL() / time.Hour),
		})
	}
}

type statusResponse struct {
	OK          bool  `json:"ok"`
	ExpiryHours int64 `json:"expiry_hours"`
}

// LivenessProbe godoc
// @Summary Liveness probe
// @Tags health
// @Success 200
// @Router /healthz [get]
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// HealthCheck godoc
// @Summary Readiness probe; checks the link store
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(store Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if store == nil || store.Ping(ctx) != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

type createLinkRequest struct {
	ObjectRef string `json:"object_ref"`
	MIME      string `json:"mime"`
	Filename  string `json:"filename"`
	Size      *int64 `json:"size"`
	SourceID  string `json:"source_id"`
}

// CreateLink godoc
// @Summary Register an upstream object and issue a streaming link
// @Tags links
// @Accept json
// @Produce json
// @Param X-API-Key header string true "admin api key"
// @Param body body createLinkRequest true "object to expose"
// @Success 201 {object} service.Registration
// @Failure 400 {object} errorPayload
// @Failure 401 {object} errorPayload
// @Router /links [post]
func CreateLink(links service.LinkService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req createLinkRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "body must be a JSON object")
		}

		reg, err := links.Register(c.UserContext(), service.RegisterInput{
			ObjectRef: req.ObjectRef,
			SourceID:  req.SourceID,
			MIME:      req.MIME,
			Filename:  req.Filename,
			Size:      req.Size,
		})
		if err != nil {
			switch {
			case errors.Is(err, service.ErrObjectRefRequired):
				return writeError(c, fiber.StatusBadRequest, "OBJECT_REF_REQUIRED", "object_ref is required")
			case errors.Is(err, service.ErrInvalidSize):
				return writeError(c, fiber.StatusBadRequest, "INVALID_SIZE", "size must not be negative")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.Status(fiber.StatusCreated).JSON(reg)
	}
}

// StreamLink godoc
// @Summary Stream the object behind a token
// @Description Honors a single byte range. The upstream credential never appears in the response.
// @Tags stream
// @Produce octet-stream
// @Param token path string true "link token"
// @Param Range header string false "bytes=start-end"
// @Success 200 {file} binary
// @Success 206 {file} binary
// @Failure 404 {object} errorPayload
// @Failure 410 {object} errorPayload
// @Failure 416 {object} errorPayload
// @Failure 502 {object} errorPayload
// @Router /s/{token} [get]
func StreamLink(streams service.StreamService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		open := streams.Open
		if c.Method() == fiber.MethodHead {
			open = streams.Head
		}
		st, err := open(c.UserContext(), c.Params("token"), c.Get(fiber.HeaderRange))
		if err != nil {
			return writeStreamError(c, err)
		}

		c.Set(fiber.HeaderContentType, st.ContentType)
		c.Set(fiber.HeaderContentDisposition, st.Disposition)
		c.Set(fiber.HeaderAcceptRanges, "bytes")
		c.Set(fiber.HeaderCacheControl, "no-store")
		if st.ContentRange != "" {
			c.Set(fiber.HeaderContentRange, st.ContentRange)
		}
		c.Status(st.Status)

		if st.Body == nil {
			if st.ContentLength >= 0 {
				c.Response().Header.SetContentLength(int(st.ContentLength))
			}
			return nil
		}

		// fasthttp closes the body when the write finishes or the client goes away,
		// which releases the upstream connection. -1 selects chunked encoding.
		c.Context().SetBodyStream(st.Body, int(st.ContentLength))
		return nil
	}
}
