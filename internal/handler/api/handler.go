package api

import (
	"errors"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/service/ratelimit"
	"RSIndex/internal/usecase"
	xhttp "RSIndex/pkg/http"
	xlogger "RSIndex/pkg/logger"
	"RSIndex/pkg/util"

	"github.com/labstack/echo/v4"
)

// Handler serves rankings, constituents, index series and job triggers.
type Handler struct {
	logger    *xlogger.Logger
	queries   *usecase.Queries
	liquidity *usecase.LiquidityRanker
	jobs      *usecase.Jobs
	limiter   *ratelimit.Limiter
}

func NewHandler(
	logger *xlogger.Logger,
	queries *usecase.Queries,
	liquidity *usecase.LiquidityRanker,
	jobs *usecase.Jobs,
	limiter *ratelimit.Limiter,
) *Handler {
	return &Handler{logger: logger, queries: queries, liquidity: liquidity, jobs: jobs, limiter: limiter}
}

var _ xhttp.Handler = (*Handler)(nil)

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/rankings", h.Rankings)
	g.GET("/rankings/:instrument", h.InstrumentRankings)
	g.GET("/constituents/:type/:code", h.Constituents)
	g.GET("/indices/:type/:code", h.IndexSeries)
	g.GET("/liquidity", h.Liquidity)

	jobs := g.Group("/jobs")
	if h.limiter != nil {
		jobs.Use(h.limiter.Middleware())
	}
	jobs.POST("/momentum", h.RunMomentum)
	jobs.POST("/constituents", h.RunConstituents)
	jobs.POST("/indices", h.RunIndices)
}

func (h *Handler) Rankings(c echo.Context) error {
	req := &models.RankingsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.queries.Rankings(c.Request().Context(), parseOptionalDate(req.Date), req.MinRank, req.Limit)
	if err != nil {
		return h.fail(c, "rankings", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=60")
	return xhttp.ListResponse(c, rows, len(rows))
}

func (h *Handler) InstrumentRankings(c echo.Context) error {
	req := &models.InstrumentRankingsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.queries.InstrumentRankings(c.Request().Context(), req.Instrument, parseOptionalDate(req.From), parseOptionalDate(req.To))
	if err != nil {
		return h.fail(c, "instrument rankings", err)
	}
	return xhttp.ListResponse(c, rows, len(rows))
}

func (h *Handler) Constituents(c echo.Context) error {
	req := &models.ConstituentsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := models.IndexKey{IndexType: req.IndexType, IndexCode: req.IndexCode}
	rows, err := h.queries.Constituents(c.Request().Context(), key, parseOptionalDate(req.RebalanceDate))
	if err != nil {
		return h.fail(c, "constituents", err)
	}
	return xhttp.ListResponse(c, rows, len(rows))
}

func (h *Handler) IndexSeries(c echo.Context) error {
	req := &models.IndexSeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := models.IndexKey{IndexType: req.IndexType, IndexCode: req.IndexCode}
	pts, err := h.queries.IndexSeries(c.Request().Context(), key, parseOptionalDate(req.From), parseOptionalDate(req.To))
	if err != nil {
		return h.fail(c, "index series", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=60")
	return xhttp.ListResponse(c, pts, len(pts))
}

func (h *Handler) Liquidity(c echo.Context) error {
	req := &models.LiquidityRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.liquidity.Rank(c.Request().Context(), parseOptionalDate(req.Date), req.Limit)
	if err != nil {
		return h.fail(c, "liquidity", err)
	}
	return xhttp.ListResponse(c, rows, len(rows))
}

func (h *Handler) RunMomentum(c echo.Context) error {
	req := &models.MomentumJobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.jobs.Momentum(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "momentum job", err)
	}
	return jobResponse(c, res)
}

func (h *Handler) RunConstituents(c echo.Context) error {
	res, err := h.jobs.Constituents(c.Request().Context())
	if err != nil {
		return h.fail(c, "constituents job", err)
	}
	return jobResponse(c, res)
}

func (h *Handler) RunIndices(c echo.Context) error {
	req := &models.IndexJobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.jobs.Indices(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "index job", err)
	}
	return jobResponse(c, res)
}

func jobResponse(c echo.Context, res *models.JobAccepted) error {
	if res.Queued {
		return xhttp.AcceptedResponse(c, res)
	}
	return xhttp.SuccessResponse(c, res)
}

// fail maps domain errors onto API errors. Anything unrecognised is logged and hidden.
func (h *Handler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNoTradingDates):
		appErr = xhttp.NotFoundErrorf("%s: no data", op)
	case errors.Is(err, models.ErrInvalidRequest):
		appErr = xhttp.BadRequestErrorf("%v", err)
	case errors.Is(err, models.ErrIndexBusy):
		appErr = xhttp.ConflictErrorf("%s: index rebuild already running", op)
	case errors.Is(err, models.ErrUpstreamData):
		h.logger.Error(op+" failed on source data", xlogger.Error(err))
		appErr = xhttp.UpstreamErrorf("%s: malformed source data", op)
	default:
		h.logger.Error(op+" failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}

// parseOptionalDate reads an already validated YYYY-MM-DD value; empty means open.
func parseOptionalDate(s string) time.Time {
	return util.ParseDateDefault(s, time.Time{})
}
