package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/mmdatafocus/retail_dashboard/models/reports"
	"github.com/mmdatafocus/retail_dashboard/snapshot"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/mmdatafocus/retail_dashboard/workflow"
	"github.com/sirupsen/logrus"
)

const (
	taskTokenHeader     = "X-Task-Token"
	snapshotCacheHeader = "X-Snapshot-Cache"
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type api struct {
	cfg       *config.SnapshotConfig
	store     *snapshot.Store
	registry  *reports.Registry
	refresher *workflow.SnapshotRefresher
	logger    *logrus.Logger
	// taskToken gates the refresh trigger. Empty disables the endpoint.
	taskToken string
	// now is swapped in tests.
	now func() time.Time
}

// PubSubMessage is the push subscription envelope.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// refreshTaskRequest is the body of a scheduler or Pub/Sub triggered refresh.
// Every field is optional and falls back to SNAPSHOT_* config.
type refreshTaskRequest struct {
	Dates        []string `json:"dates"`
	End          string   `json:"end"`
	Days         int      `json:"days"`
	Regions      []string `json:"regions"`
	Brands       []string `json:"brands"`
	Resources    []string `json:"resources"`
	Mode         string   `json:"mode"`
	SkipExisting bool     `json:"skipExisting"`
}

func (a *api) routes(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.GET("/api/reports", a.listReportsHandler())
	r.GET("/api/reports/inventory/old-season/export", a.oldSeasonExportHandler())
	r.GET("/api/reports/:section/:resource", a.reportHandler())
	r.DELETE("/api/snapshots/:region", a.invalidateHandler())
	r.DELETE("/api/snapshots/:region/:brand", a.invalidateHandler())
	r.POST("/tasks/snapshot-refresh", a.refreshTaskHandler())
}

func (a *api) today() time.Time {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	d, err := utils.ConvertToDate(now(), a.cfg.Timezone)
	if err != nil {
		return utils.DateOnly(now())
	}
	return d
}

// snapshotKey reads region, brand and date from the query string. A missing
// date means yesterday, the latest day the refresh job covers.
func (a *api) snapshotKey(c *gin.Context, section, resource string) (snapshot.Key, error) {
	region := strings.TrimSpace(c.Query("region"))
	brand := strings.TrimSpace(c.Query("brand"))
	if region == "" || brand == "" {
		return snapshot.Key{}, fmt.Errorf("%w: region and brand are required", utils.ErrInvalidKeyPart)
	}
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		date = utils.FormatDate(a.today().AddDate(0, 0, -1))
	}
	return snapshot.NewKey(section, resource, region, brand, date)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, utils.ErrInvalidKeyPart), errors.Is(err, utils.ErrClassificationInput):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrFetchFailure):
		return http.StatusBadGateway
	case errors.Is(err, utils.ErrRefreshInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) fail(c *gin.Context, funcName string, data any, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		config.LogError(a.logger, "server.go", funcName, c.Request.URL.Path, data, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (a *api) listReportsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]gin.H, 0)
		for _, res := range a.registry.All() {
			out = append(out, gin.H{"section": res.Section, "resource": res.Name})
		}
		c.JSON(http.StatusOK, gin.H{"resources": out})
	}
}

func (a *api) read(c *gin.Context, section, resource string) (any, bool, bool) {
	res, ok := a.registry.Lookup(section, resource)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown report %s/%s", section, resource)})
		return nil, false, false
	}
	key, err := a.snapshotKey(c, res.Section, res.Name)
	if err != nil {
		a.fail(c, "reportHandler", nil, err)
		return nil, false, false
	}
	env, hit, err := res.Read(c.Request.Context(), a.store, key)
	if err != nil {
		a.fail(c, "reportHandler", key.String(), err)
		return nil, false, false
	}
	if hit {
		c.Header(snapshotCacheHeader, "HIT")
	} else {
		c.Header(snapshotCacheHeader, "MISS")
	}
	return env, hit, true
}

func (a *api) reportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		env, _, ok := a.read(c, c.Param("section"), c.Param("resource"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, env)
	}
}

func (a *api) oldSeasonExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		out, _, ok := a.read(c, reports.SectionInventory, reports.ResourceOldSeason)
		if !ok {
			return
		}
		env, ok := out.(*snapshot.Envelope[reports.OldSeasonInventoryPayload])
		if !ok || env == nil {
			a.fail(c, "oldSeasonExportHandler", nil, fmt.Errorf("unexpected snapshot type %T", out))
			return
		}
		filename := fmt.Sprintf("old-season_%s_%s_%s.xlsx", env.Region, env.Brand, env.Date)
		c.Header("Content-Type", xlsxContentType)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Status(http.StatusOK)
		if err := reports.ExportOldSeasonExcel(&env.Payload.Report, c.Writer); err != nil {
			config.LogError(a.logger, "server.go", "oldSeasonExportHandler", "write xlsx", filename, err)
			_ = c.Error(err)
		}
	}
}

func (a *api) invalidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		region := strings.ToUpper(strings.TrimSpace(c.Param("region")))
		brand := strings.ToUpper(strings.TrimSpace(c.Param("brand")))
		var (
			deleted int64
			err     error
		)
		if brand == "" {
			deleted, err = a.store.InvalidateByRegion(c.Request.Context(), region)
		} else {
			deleted, err = a.store.InvalidateByRegionBrand(c.Request.Context(), region, brand)
		}
		if err != nil {
			a.fail(c, "invalidateHandler", region+"/"+brand, err)
			return
		}
		a.logger.WithFields(logrus.Fields{
			"module":  "server.go",
			"region":  region,
			"brand":   brand,
			"deleted": deleted,
		}).Info("snapshots invalidated")
		c.JSON(http.StatusOK, gin.H{"region": region, "brand": brand, "deleted": deleted})
	}
}

func (a *api) authorizedTask(c *gin.Context) bool {
	if a.taskToken == "" {
		return false
	}
	got := c.GetHeader(taskTokenHeader)
	if got == "" {
		got = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if got == "" {
		got = c.Query("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.taskToken)) == 1
}

// decodeRefreshTask accepts either a plain JSON body or a Pub/Sub push envelope
// whose data carries the same JSON. An empty body refreshes the configured window.
func decodeRefreshTask(body []byte) (refreshTaskRequest, string, error) {
	var req refreshTaskRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, "scheduler", nil
	}
	var push PubSubMessage
	if err := json.Unmarshal(body, &push); err == nil && push.Message.ID != "" {
		if len(push.Message.Data) == 0 {
			return req, "pubsub", nil
		}
		if err := json.Unmarshal(push.Message.Data, &req); err != nil {
			return req, "pubsub", fmt.Errorf("decode pubsub data: %w", err)
		}
		return req, "pubsub", nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, "scheduler", fmt.Errorf("decode refresh request: %w", err)
	}
	return req, "scheduler", nil
}

func (a *api) refreshRequest(task refreshTaskRequest, trigger string) (workflow.RefreshRequest, error) {
	req := workflow.RefreshRequest{
		Regions:      a.cfg.Regions,
		Brands:       a.cfg.Brands,
		Concurrency:  a.cfg.RefreshConcurrency,
		SkipExisting: task.SkipExisting,
		Trigger:      trigger,
	}
	var err error
	if req.Mode, err = workflow.ParseMode(firstNonEmpty(task.Mode, a.cfg.RefreshMode)); err != nil {
		return req, err
	}
	if len(task.Regions) > 0 {
		req.Regions = utils.SplitCodes(strings.Join(task.Regions, ","))
	}
	if len(task.Brands) > 0 {
		req.Brands = utils.SplitCodes(strings.Join(task.Brands, ","))
	}

	days := task.Days
	if days <= 0 {
		days = a.cfg.RefreshDays
	}
	switch {
	case len(task.Dates) > 0:
		for _, s := range task.Dates {
			d, err := utils.ParseDate(s)
			if err != nil {
				return req, fmt.Errorf("%w: %v", utils.ErrInvalidKeyPart, err)
			}
			req.Dates = append(req.Dates, d)
		}
	case task.End != "":
		end, err := utils.ParseDate(task.End)
		if err != nil {
			return req, fmt.Errorf("%w: %v", utils.ErrInvalidKeyPart, err)
		}
		req.Dates = workflow.DateRange(end, days)
	default:
		req.Dates = workflow.RefreshWindow(a.today(), days)
	}

	selected, err := a.registry.Select(task.Resources)
	if err != nil {
		return req, fmt.Errorf("%w: %v", utils.ErrInvalidKeyPart, err)
	}
	req.Resources = workflow.ReportResources(selected)
	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// refreshTaskHandler runs the refresh inside the request so the scheduler sees
// the outcome. Item failures still answer 200 with the summary.
func (a *api) refreshTaskHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authorizedTask(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		task, trigger, err := decodeRefreshTask(body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req, err := a.refreshRequest(task, trigger)
		if err != nil {
			a.fail(c, "refreshTaskHandler", task, err)
			return
		}

		// detach from the client deadline; the run holds the lock until it finishes
		ctx := context.WithoutCancel(c.Request.Context())
		summary, err := a.refresher.Run(ctx, req)
		if err != nil {
			a.fail(c, "refreshTaskHandler", task, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
