package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pricewatch/internal/adapters"
	"pricewatch/internal/dispatch"
	"pricewatch/internal/jobs"
	"pricewatch/internal/reaper"
	"pricewatch/internal/validation"
)

// PriceHandlerConfig groups dependencies for the price API.
type PriceHandlerConfig struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *adapters.Registry
	Store      jobs.Store
	Reaper     *reaper.Reaper
	Retention  time.Duration
}

// RegisterPriceRoutes registers the price API under /api/v1.
func RegisterPriceRoutes(r *gin.Engine, cfg PriceHandlerConfig) {
	v := validation.New()

	api := r.Group("/api/v1")

	api.POST("/get-prices", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.PriceRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		store := strings.ToLower(strings.TrimSpace(req.Store))
		if _, err := cfg.Registry.Lookup(store); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":            "unsupported_store",
				"store":            store,
				"supported_stores": cfg.Registry.Names(),
			})
			return
		}

		requests := make([]dispatch.Request, 0, len(req.URLs))
		for _, url := range req.URLs {
			requests = append(requests, dispatch.Request{Store: store, URL: strings.TrimSpace(url)})
		}

		results := cfg.Dispatcher.Dispatch(ctx, requests)
		c.JSON(http.StatusOK, gin.H{
			"store":   store,
			"results": results,
		})
	})

	api.GET("/supported-stores", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"supported_stores": cfg.Registry.Supported(),
		})
	})

	// Debug: fetch page content for the URLs without extraction or caching,
	// for inspecting what a store serves when extraction breaks.
	api.POST("/raw-scrape", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.PriceRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		store := strings.ToLower(strings.TrimSpace(req.Store))
		adapter, err := cfg.Registry.Lookup(store)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":            "unsupported_store",
				"store":            store,
				"supported_stores": cfg.Registry.Names(),
			})
			return
		}
		raw, ok := adapter.(adapters.RawFetcher)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "raw_fetch_unsupported",
				"store": store,
			})
			return
		}

		results := make(map[string]gin.H, len(req.URLs))
		for _, url := range req.URLs {
			url = strings.TrimSpace(url)
			content, err := raw.FetchRaw(ctx, url)
			if err != nil {
				results[url] = gin.H{"error": err.Error()}
				continue
			}
			results[url] = gin.H{"content": content, "length": len(content)}
		}
		c.JSON(http.StatusOK, gin.H{
			"store":   store,
			"results": results,
		})
	})

	// Inspect the latest job record for a key, whatever its status.
	api.GET("/admin/jobs", func(c *gin.Context) {
		store := strings.ToLower(strings.TrimSpace(c.Query("store")))
		url := strings.TrimSpace(c.Query("url"))
		if store == "" || url == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store and url query parameters are required"})
			return
		}

		job, err := cfg.Store.GetLatest(c.Request.Context(), jobs.NewKey(store, url))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job_lookup_failed", "detail": err.Error()})
			return
		}
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": job})
	})

	// Manual sweep: time out abandoned jobs and prune terminal records older
	// than the retention window.
	api.POST("/admin/cleanup", func(c *gin.Context) {
		ctx := c.Request.Context()

		reaped, err := cfg.Reaper.ReapOnce(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reap_failed", "detail": err.Error()})
			return
		}

		pruned, err := cfg.Store.PruneTerminal(ctx, time.Now().Add(-cfg.Retention))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "prune_failed", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"timed_out_jobs": reaped,
			"pruned_jobs":    pruned,
		})
	})
}
