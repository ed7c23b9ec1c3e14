package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/report"
	"github.com/use-agent/harvest/scraper"
)

// CacheHeader reports whether a payload came from the cache ("hit") or a
// fresh harvest stored for later ("miss").
const CacheHeader = "X-Harvest-Cache"

// Harvester runs one harvest invocation.
type Harvester interface {
	Fetch(ctx context.Context) (*scraper.Outcome, error)
}

// RunRecorder persists and lists harvest runs.
type RunRecorder interface {
	Record(ctx context.Context, run models.RunSummary) (models.RunSummary, error)
	Recent(ctx context.Context, limit int) ([]models.RunSummary, error)
}

// RunNotifier is told about every finished run.
type RunNotifier interface {
	Notify(run models.RunSummary)
}

// Deps are the collaborators of the harvest handlers. Only Harvester is
// required.
type Deps struct {
	Harvester Harvester
	Cache     *cache.Cache
	CacheKey  string
	Runs      RunRecorder
	Notifier  RunNotifier
	BaseURL   string
}

// harvestResult is a payload ready to serve.
type harvestResult struct {
	payload     json.RawMessage
	listings    int
	cacheStatus string // "", "hit" or "miss"
}

// RunScrape returns a handler for GET /run-scrape.
//
// Flow:
//  1. Parse max_age (ms). A positive value enables the payload cache.
//  2. Cache lookup → serve the stored payload on hit.
//  3. Harvester.Fetch with the request context (client disconnect cancels).
//  4. Record + notify the run, store the payload.
//  5. Pass the payload through unchanged.
func RunScrape(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := d.harvest(c)
		if !ok {
			return
		}
		if res.cacheStatus != "" {
			c.Header(CacheHeader, res.cacheStatus)
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", res.payload)
	}
}

// RunReport returns a handler for GET /run-report: harvest, then flatten.
func RunReport(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := d.harvest(c)
		if !ok {
			return
		}
		listings, err := report.Flatten(res.payload, report.WithBaseURL(d.BaseURL))
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "Failed to build report",
				Details: err.Error(),
				Code:    models.ErrCodeParse,
			})
			return
		}
		if res.cacheStatus != "" {
			c.Header(CacheHeader, res.cacheStatus)
		}
		c.JSON(http.StatusOK, models.ReportResponse{Count: len(listings), Listings: listings})
	}
}

// harvest serves from cache or runs the harvester. On failure it writes the
// error response and returns false.
func (d *Deps) harvest(c *gin.Context) (harvestResult, bool) {
	// ── 1. Parse max_age ────────────────────────────────────────────
	maxAge := 0
	if raw := c.Query("max_age"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "Invalid request",
				Details: "max_age must be a non-negative integer (milliseconds)",
				Code:    models.ErrCodeInvalidInput,
			})
			return harvestResult{}, false
		}
		maxAge = v
	}
	useCache := d.Cache != nil && maxAge > 0

	// ── 2. Cache lookup ─────────────────────────────────────────────
	if useCache {
		if payload, listings, hit := d.Cache.Get(d.CacheKey, maxAge); hit {
			slog.Info("serving cached payload", "listings", listings)
			return harvestResult{payload: payload, listings: listings, cacheStatus: "hit"}, true
		}
	}

	// ── 3. Harvest ──────────────────────────────────────────────────
	started := time.Now()
	outcome, err := d.Harvester.Fetch(c.Request.Context())

	// ── 4. Record + notify ──────────────────────────────────────────
	run := summarize(started, outcome, err)
	if d.Runs != nil {
		// The request context may already be canceled; the run still counts.
		recorded, recErr := d.Runs.Record(context.WithoutCancel(c.Request.Context()), run)
		if recErr != nil {
			slog.Warn("failed to record run", "error", recErr)
		} else {
			run = recorded
		}
	}
	if d.Notifier != nil {
		d.Notifier.Notify(run)
	}

	if err != nil {
		respondError(c, err)
		return harvestResult{}, false
	}

	res := harvestResult{payload: outcome.Payload, listings: outcome.Listings}
	if useCache {
		d.Cache.Set(d.CacheKey, outcome.Payload, outcome.Listings)
		res.cacheStatus = "miss"
	}
	return res, true
}

// summarize converts a Fetch result into a run history entry.
func summarize(started time.Time, outcome *scraper.Outcome, err error) models.RunSummary {
	run := models.RunSummary{
		StartedAt:  started.UTC(),
		DurationMs: time.Since(started).Milliseconds(),
		Status:     models.RunStatusSuccess,
	}
	if outcome != nil {
		run.Attempts = len(outcome.Attempts)
		run.Listings = outcome.Listings
	}
	if err != nil {
		se := models.AsScrapeError(err)
		run.Status = models.RunStatusFailed
		run.Code = se.Code
		run.Error = se.Detail()
	}
	return run
}

// Runs returns a handler for GET /runs?limit=N.
func Runs(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 || v > 500 {
				c.JSON(http.StatusBadRequest, models.ErrorResponse{
					Error:   "Invalid request",
					Details: "limit must be an integer between 1 and 500",
					Code:    models.ErrCodeInvalidInput,
				})
				return
			}
			limit = v
		}
		if d.Runs == nil {
			c.JSON(http.StatusOK, models.RunsResponse{Runs: []models.RunSummary{}})
			return
		}
		runs, err := d.Runs.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "Failed to list runs",
				Details: err.Error(),
				Code:    models.ErrCodeInternal,
			})
			return
		}
		c.JSON(http.StatusOK, models.RunsResponse{Runs: runs})
	}
}

// respondError writes the harvest failure body. Every harvest failure maps
// to 500; the code field carries the error kind.
func respondError(c *gin.Context, err error) {
	se := models.AsScrapeError(err)
	slog.Error("harvest failed", "code", se.Code, "error", se.Detail())
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "Failed to scrape data",
		Details: se.Detail(),
		Code:    se.Code,
	})
}
