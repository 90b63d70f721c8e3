package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dropgate/dropgate/delivery"
	"github.com/dropgate/dropgate/middleware"
	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/store"
	"github.com/dropgate/dropgate/sweeper"
	"github.com/dropgate/dropgate/utils"
)

// AdminController handles deletion, restoration and on-demand reconciliation.
type AdminController struct {
	Engine  *delivery.Engine
	Ledger  store.Ledger
	Cache   *store.GrantCache
	Sweeper *sweeper.Sweeper
	Log     *zap.SugaredLogger
}

func NewAdminController(engine *delivery.Engine, ledger store.Ledger, cache *store.GrantCache, sw *sweeper.Sweeper, log *zap.SugaredLogger) *AdminController {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &AdminController{Engine: engine, Ledger: ledger, Cache: cache, Sweeper: sw, Log: log}
}

// Delete soft-deletes a grant, or purges it outright with ?permanent=true.
// Soft deletion keeps the blob and ledger row for the retention window so
// the owner can change their mind.
func (a *AdminController) Delete(ctx *gin.Context) {
	token := strings.TrimSpace(ctx.Param("token"))
	rctx := ctx.Request.Context()

	g, err := a.Engine.Resolve(rctx, token)
	if err != nil {
		deliveryError(ctx, err)
		return
	}
	if !canManage(ctx, g) {
		utils.Error(ctx, http.StatusForbidden, 40302, "not your file")
		return
	}

	if ctx.Query("permanent") == "true" {
		if !middleware.IsAdmin(ctx) {
			utils.Error(ctx, http.StatusForbidden, 40303, "permanent deletion is admin only")
			return
		}
		if err := a.Engine.Purge(rctx, g, models.ReasonManualDeletion); err != nil {
			a.Log.Errorw("purge failed", "token", token, "error", err)
			utils.Error(ctx, http.StatusInternalServerError, 50000, "purge failed")
			return
		}
		utils.Success(ctx, gin.H{"token": token, "status": models.StatusPurged})
		return
	}

	if err := a.Ledger.SoftDelete(rctx, token, middleware.CallerID(ctx)); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			utils.Error(ctx, http.StatusNotFound, 40400, "file not found")
		case errors.Is(err, store.ErrConflict):
			utils.Error(ctx, http.StatusConflict, 40901, "file is not active")
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50000, "delete failed")
		}
		return
	}
	if a.Cache != nil {
		if err := a.Cache.Invalidate(rctx, token); err != nil {
			a.Log.Warnw("cache invalidate failed", "token", token, "error", err)
		}
	}
	utils.Success(ctx, gin.H{"token": token, "status": models.StatusSoftDeleted})
}

type bulkDeleteRequest struct {
	Tokens    []string `json:"tokens" binding:"required"`
	Permanent bool     `json:"permanent"`
}

const bulkDeleteMax = 100

// BulkDelete soft-deletes a batch of grants in one request. Tokens the caller
// cannot manage or that fail to delete are reported individually; the batch
// itself never fails halfway. Permanent deletion stays admin only, same as
// the single-token path.
func (a *AdminController) BulkDelete(ctx *gin.Context) {
	var req bulkDeleteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || len(req.Tokens) == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40005, "tokens list required")
		return
	}
	if len(req.Tokens) > bulkDeleteMax {
		utils.Error(ctx, http.StatusBadRequest, 40006, fmt.Sprintf("at most %d tokens per request", bulkDeleteMax))
		return
	}
	if req.Permanent && !middleware.IsAdmin(ctx) {
		utils.Error(ctx, http.StatusForbidden, 40303, "permanent deletion is admin only")
		return
	}

	rctx := ctx.Request.Context()
	deleted := make([]string, 0, len(req.Tokens))
	failed := make([]gin.H, 0)
	fail := func(token, reason string) {
		failed = append(failed, gin.H{"token": token, "reason": reason})
	}

	for _, raw := range req.Tokens {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}

		g, err := a.Engine.Resolve(rctx, token)
		if err != nil {
			fail(token, "not found")
			continue
		}
		if !canManage(ctx, g) {
			fail(token, "not your file")
			continue
		}

		if req.Permanent {
			if err := a.Engine.Purge(rctx, g, models.ReasonManualDeletion); err != nil {
				a.Log.Errorw("bulk purge failed", "token", token, "error", err)
				fail(token, "purge failed")
				continue
			}
			deleted = append(deleted, token)
			continue
		}

		if err := a.Ledger.SoftDelete(rctx, token, middleware.CallerID(ctx)); err != nil {
			switch {
			case errors.Is(err, store.ErrConflict):
				fail(token, "file is not active")
			default:
				fail(token, "delete failed")
			}
			continue
		}
		if a.Cache != nil {
			if err := a.Cache.Invalidate(rctx, token); err != nil {
				a.Log.Warnw("cache invalidate failed", "token", token, "error", err)
			}
		}
		deleted = append(deleted, token)
	}

	utils.Success(ctx, gin.H{
		"deleted": deleted,
		"failed":  failed,
	})
}

// Restore brings a soft-deleted grant back into service, provided the sweep
// has not purged it yet.
func (a *AdminController) Restore(ctx *gin.Context) {
	token := strings.TrimSpace(ctx.Param("token"))
	rctx := ctx.Request.Context()

	g, err := a.Engine.Resolve(rctx, token)
	if err != nil {
		deliveryError(ctx, err)
		return
	}
	if !canManage(ctx, g) {
		utils.Error(ctx, http.StatusForbidden, 40302, "not your file")
		return
	}

	if err := a.Ledger.Restore(rctx, token); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			utils.Error(ctx, http.StatusNotFound, 40400, "file not found")
		case errors.Is(err, store.ErrConflict):
			utils.Error(ctx, http.StatusConflict, 40902, "file is not soft-deleted")
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50000, "restore failed")
		}
		return
	}
	if a.Cache != nil {
		if err := a.Cache.Invalidate(rctx, token); err != nil {
			a.Log.Warnw("cache invalidate failed", "token", token, "error", err)
		}
	}
	utils.Success(ctx, gin.H{"token": token, "status": models.StatusActive})
}

// SweepNow triggers one reconciliation pass and reports the result. Admin only.
func (a *AdminController) SweepNow(ctx *gin.Context) {
	found, cleaned := a.Sweeper.Sweep(ctx.Request.Context(), time.Now())
	utils.Success(ctx, gin.H{"found": found, "cleaned": cleaned})
}
