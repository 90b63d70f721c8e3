package controllers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropgate/dropgate/config"
	"github.com/dropgate/dropgate/delivery"
	"github.com/dropgate/dropgate/events"
	"github.com/dropgate/dropgate/middleware"
	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/store"
	"github.com/dropgate/dropgate/utils"
)

// FileController handles upload, delivery and status of grants.
type FileController struct {
	Engine *delivery.Engine
	Ledger store.Ledger
	Blobs  store.BlobStore
	Cache  *store.GrantCache
	Policy *delivery.Policy
	Sink   events.Sink
	Log    *zap.SugaredLogger
}

func NewFileController(engine *delivery.Engine, ledger store.Ledger, blobs store.BlobStore, cache *store.GrantCache, policy *delivery.Policy, sink events.Sink, log *zap.SugaredLogger) *FileController {
	if sink == nil {
		sink = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileController{
		Engine: engine,
		Ledger: ledger,
		Blobs:  blobs,
		Cache:  cache,
		Policy: policy,
		Sink:   sink,
		Log:    log,
	}
}

func deliveryError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, delivery.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, 40400, "file not found")
	case errors.Is(err, delivery.ErrExpired):
		utils.Error(ctx, http.StatusGone, 41001, "file expired")
	case errors.Is(err, delivery.ErrExhausted):
		utils.Error(ctx, http.StatusGone, 41002, "download limit reached")
	case errors.Is(err, delivery.ErrDeleted):
		utils.Error(ctx, http.StatusGone, 41003, "file deleted")
	case errors.Is(err, delivery.ErrRangeNotSatisfiable):
		utils.Error(ctx, http.StatusRequestedRangeNotSatisfiable, 41600, "range not satisfiable")
	default:
		utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
	}
}

// Upload accepts a multipart file and mints a grant over it. The blob is
// stored first, then the ledger row, then the cache entry; a ledger failure
// rolls the blob back so no unreachable object is left behind.
func (f *FileController) Upload(ctx *gin.Context) {
	cfg := config.Get()

	if !cfg.AllowAnonymousUpload && middleware.CallerID(ctx) == "" {
		utils.Error(ctx, http.StatusUnauthorized, 40101, "authorization required")
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "missing file field")
		return
	}
	if cfg.MaxUploadMB > 0 && file.Size > int64(cfg.MaxUploadMB)<<20 {
		utils.Error(ctx, http.StatusRequestEntityTooLarge, 41301, fmt.Sprintf("file exceeds %d MB limit", cfg.MaxUploadMB))
		return
	}

	expiresAt, err := utils.ParseLifetime(formOrQuery(ctx, "expiry"), time.Now())
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid expiry")
		return
	}

	capRaw := formOrQuery(ctx, "max_downloads")
	if formOrQuery(ctx, "unlimited") == "true" {
		capRaw = "unlimited"
	}
	dlCap, err := parseDownloadCap(capRaw, cfg.DefaultDownloadCap)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid max_downloads")
		return
	}

	mime := file.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}

	// masked upload: the uploaded filename is the decoy shown to receivers,
	// originalName carries the real name so delivery still classifies it
	displayName := file.Filename
	originalName := strings.TrimSpace(ctx.PostForm("originalName"))
	if originalName == displayName {
		originalName = ""
	}

	src, err := file.Open()
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, "unreadable upload")
		return
	}
	defer src.Close()

	g := &models.Grant{
		Token:        uuid.NewString(),
		BlobKey:      "blobs/" + uuid.NewString(),
		DisplayName:  displayName,
		OriginalName: originalName,
		Mime:         mime,
		SizeBytes:    file.Size,
		DownloadCap:  dlCap,
		Status:       models.StatusActive,
		CreatedAt:    time.Now(),
		ExpiresAt:    expiresAt,
	}
	if owner := middleware.CallerID(ctx); owner != "" {
		g.OwnerID = &owner
	}

	rctx := ctx.Request.Context()
	if err := f.Blobs.Put(rctx, g.BlobKey, src, file.Size, mime); err != nil {
		f.Log.Errorw("blob put failed", "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50000, "storage failure")
		return
	}
	if err := f.Ledger.Create(rctx, g); err != nil {
		if derr := f.Blobs.Delete(rctx, g.BlobKey); derr != nil {
			f.Log.Errorw("orphan blob cleanup failed", "key", g.BlobKey, "error", derr)
		}
		f.Log.Errorw("ledger create failed", "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50000, "storage failure")
		return
	}
	if f.Cache != nil {
		if err := f.Cache.Put(rctx, g); err != nil {
			f.Log.Warnw("cache put failed", "token", g.Token, "error", err)
		}
	}

	resp := gin.H{
		"token":               g.Token,
		"url":                 strings.TrimRight(cfg.BaseURL, "/") + "/r/" + g.Token,
		"display_name":        g.DisplayName,
		"size_bytes":          g.SizeBytes,
		"mime":                g.Mime,
		"remaining_downloads": g.Remaining(0),
	}
	if g.ExpiresAt != nil {
		resp["expires_in"] = utils.FormatDuration(time.Until(*g.ExpiresAt))
		resp["expires_at"] = g.ExpiresAt.UTC().Format(time.RFC3339)
	} else {
		resp["expires_in"] = "never"
	}
	utils.Success(ctx, resp)
}

// UploadLimits tells clients what the upload surface accepts before they
// send any bytes, so oversized files are rejected client-side instead of
// after a full transfer.
func (f *FileController) UploadLimits(ctx *gin.Context) {
	cfg := config.Get()
	utils.Success(ctx, gin.H{
		"max_upload_mb":           cfg.MaxUploadMB,
		"default_max_downloads":   cfg.DefaultDownloadCap,
		"anonymous_upload":        cfg.AllowAnonymousUpload,
		"expiry_formats":          []string{"30s", "15m", "2h", "7d", "2 hours", "never", time.RFC3339},
		"unlimited_downloads_via": "max_downloads=unlimited",
	})
}

// formOrQuery reads a parameter from the multipart form first, then the query
// string, so both upload styles work.
func formOrQuery(ctx *gin.Context, key string) string {
	if v := strings.TrimSpace(ctx.PostForm(key)); v != "" {
		return v
	}
	return strings.TrimSpace(ctx.Query(key))
}

func parseDownloadCap(raw string, fallback int) (*int64, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		if fallback <= 0 {
			return nil, nil
		}
		def := int64(fallback)
		return &def, nil
	case "unlimited", "0":
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return nil, errors.New("invalid download cap")
	}
	if n == 0 {
		return nil, nil
	}
	return &n, nil
}

// Download streams the blob behind a token. Authorization is decided before
// the blob is opened, and the quota is only spent once a handle exists, so a
// storage failure costs the holder nothing.
func (f *FileController) Download(ctx *gin.Context) {
	token := strings.TrimSpace(ctx.Param("token"))
	rctx := ctx.Request.Context()
	now := f.Engine.Now()

	g, err := f.Engine.Resolve(rctx, token)
	if err != nil {
		deliveryError(ctx, err)
		return
	}
	if err := f.Engine.Authorize(g, now); err != nil {
		f.Engine.SettleTerminal(rctx, g, err)
		deliveryError(ctx, err)
		return
	}

	rng, err := delivery.ParseRange(ctx.GetHeader("Range"), g.SizeBytes)
	if err != nil {
		ctx.Header("Content-Range", fmt.Sprintf("bytes */%d", g.SizeBytes))
		deliveryError(ctx, err)
		return
	}

	handle, err := f.Engine.Open(rctx, g, rng)
	if err != nil {
		f.Log.Errorw("blob open failed", "token", token, "error", err)
		deliveryError(ctx, err)
		return
	}
	defer handle.Body.Close()

	count, reachedCap, err := f.Engine.Consume(rctx, g)
	if err != nil {
		deliveryError(ctx, err)
		return
	}

	f.writeDeliveryHeaders(ctx, g, count, now)

	status := http.StatusOK
	length := handle.Size
	if handle.Range != nil {
		status = http.StatusPartialContent
		length = handle.Range.Length()
		ctx.Header("Content-Range", handle.Range.ContentRange())
	}
	ctx.Header("Content-Length", strconv.FormatInt(length, 10))
	ctx.Status(status)

	written, copyErr := io.Copy(ctx.Writer, handle.Body)
	if copyErr != nil {
		f.Log.Warnw("delivery interrupted", "token", token, "written", written, "error", copyErr)
	}

	f.Sink.Delivery(events.DeliveryResult{
		Token:     token,
		ClientIP:  ctx.ClientIP(),
		UserAgent: ctx.Request.UserAgent(),
		BytesSent: written,
		Ranged:    handle.Range != nil,
		Success:   copyErr == nil,
		At:        now,
	})

	if reachedCap {
		f.Engine.PurgeAsync(g, models.ReasonDownloadLimit)
	}
}

func (f *FileController) writeDeliveryHeaders(ctx *gin.Context, g *models.Grant, count int64, now time.Time) {
	prof := f.Policy.Profile(g)
	ctx.Header("Content-Type", prof.ContentType)
	if prof.Disposition != "" {
		ctx.Header("Content-Disposition", prof.Disposition)
	}
	for k, v := range prof.Extra {
		ctx.Header(k, v)
	}

	ctx.Header("X-File-Name", g.DisplayName)
	if g.OriginalName != "" {
		ctx.Header("X-Original-Name", g.OriginalName)
	}
	ctx.Header("X-File-Size", strconv.FormatInt(g.SizeBytes, 10))
	ctx.Header("X-Remaining-Downloads", g.Remaining(count))
	ctx.Header("X-Expires-In", g.ExpiresIn(now))
	ctx.Header("Accept-Ranges", "bytes")
	ctx.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	ctx.Header("Pragma", "no-cache")
	ctx.Header("Expires", "0")
}

// PublicStatus reports whether a token is currently downloadable, without
// spending quota or revealing owner details.
func (f *FileController) PublicStatus(ctx *gin.Context) {
	token := strings.TrimSpace(ctx.Param("token"))
	rctx := ctx.Request.Context()
	now := f.Engine.Now()

	g, err := f.Engine.Resolve(rctx, token)
	if err != nil {
		deliveryError(ctx, err)
		return
	}

	available := f.Engine.Authorize(g, now) == nil
	utils.Success(ctx, gin.H{
		"available":           available,
		"display_name":        g.DisplayName,
		"size_bytes":          g.SizeBytes,
		"mime":                g.Mime,
		"previewable":         f.Policy.Previewable(g),
		"remaining_downloads": g.Remaining(g.DownloadCount),
		"expires_in":          g.ExpiresIn(now),
	})
}

// Status returns the full grant record to its owner or an admin.
func (f *FileController) Status(ctx *gin.Context) {
	token := strings.TrimSpace(ctx.Param("token"))
	rctx := ctx.Request.Context()

	g, err := f.Engine.Resolve(rctx, token)
	if err != nil {
		deliveryError(ctx, err)
		return
	}
	if !canManage(ctx, g) {
		utils.Error(ctx, http.StatusForbidden, 40302, "not your file")
		return
	}

	utils.Success(ctx, grantView(g, f.Engine.Now()))
}

// MyFiles lists the caller's grants, newest first.
func (f *FileController) MyFiles(ctx *gin.Context) {
	owner := middleware.CallerID(ctx)
	if owner == "" {
		utils.Error(ctx, http.StatusUnauthorized, 40101, "authorization required")
		return
	}

	page, pageSize := 1, 20
	if v := strings.TrimSpace(ctx.Query("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := strings.TrimSpace(ctx.Query("page_size")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}

	grants, total, err := f.Ledger.ListByOwner(ctx.Request.Context(), owner, (page-1)*pageSize, pageSize)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50000, "failed to list files")
		return
	}

	now := f.Engine.Now()
	items := make([]gin.H, 0, len(grants))
	for i := range grants {
		items = append(items, grantView(&grants[i], now))
	}

	utils.Success(ctx, gin.H{
		"items": items,
		"pagination": gin.H{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	})
}

func canManage(ctx *gin.Context, g *models.Grant) bool {
	if middleware.IsAdmin(ctx) {
		return true
	}
	caller := middleware.CallerID(ctx)
	return caller != "" && g.OwnerID != nil && *g.OwnerID == caller
}

func grantView(g *models.Grant, now time.Time) gin.H {
	return gin.H{
		"token":               g.Token,
		"display_name":        g.DisplayName,
		"mime":                g.Mime,
		"size_bytes":          g.SizeBytes,
		"status":              g.Status,
		"download_count":      g.DownloadCount,
		"remaining_downloads": g.Remaining(g.DownloadCount),
		"expires_in":          g.ExpiresIn(now),
		"created_at":          g.CreatedAt,
	}
}
