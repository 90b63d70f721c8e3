package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dropgate/dropgate/delivery"
	"github.com/dropgate/dropgate/preview"
	"github.com/dropgate/dropgate/utils"
)

// PreviewController mints and redeems single-use inline preview tokens.
type PreviewController struct {
	Engine *delivery.Engine
	Broker *preview.Broker
	Policy *delivery.Policy
	Log    *zap.SugaredLogger
}

func NewPreviewController(engine *delivery.Engine, broker *preview.Broker, policy *delivery.Policy, log *zap.SugaredLogger) *PreviewController {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PreviewController{Engine: engine, Broker: broker, Policy: policy, Log: log}
}

// Mint issues a preview token for a downloadable, previewable grant. No
// quota is spent here or at redemption.
func (p *PreviewController) Mint(ctx *gin.Context) {
	token := strings.TrimSpace(ctx.Param("token"))
	rctx := ctx.Request.Context()

	g, err := p.Engine.Resolve(rctx, token)
	if err != nil {
		deliveryError(ctx, err)
		return
	}
	if err := p.Engine.Authorize(g, p.Engine.Now()); err != nil {
		deliveryError(ctx, err)
		return
	}
	if !p.Policy.Previewable(g) {
		utils.Error(ctx, http.StatusUnprocessableEntity, 42201, "file type cannot be previewed")
		return
	}

	pg, err := p.Broker.Issue(rctx, token)
	if err != nil {
		p.Log.Errorw("preview issue failed", "token", token, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50000, "preview unavailable")
		return
	}

	utils.Success(ctx, gin.H{
		"preview_token": pg.PreviewToken,
		"expires_in":    pg.TTLSeconds,
		"max_uses":      pg.MaxUses,
	})
}

// Redeem streams the blob inline against a preview token. The parent grant's
// download count is untouched, but the parent must still be downloadable.
func (p *PreviewController) Redeem(ctx *gin.Context) {
	token := strings.TrimSpace(ctx.Param("token"))
	previewToken := strings.TrimSpace(ctx.Param("previewToken"))
	rctx := ctx.Request.Context()

	g, err := p.Engine.Resolve(rctx, token)
	if err != nil {
		deliveryError(ctx, err)
		return
	}
	if err := p.Engine.Authorize(g, p.Engine.Now()); err != nil {
		deliveryError(ctx, err)
		return
	}

	if err := p.Broker.Redeem(rctx, token, previewToken); err != nil {
		switch {
		case errors.Is(err, preview.ErrInvalidToken):
			utils.Error(ctx, http.StatusForbidden, 40300, "invalid preview token")
		case errors.Is(err, preview.ErrSpent):
			utils.Error(ctx, http.StatusGone, 41004, "preview token expired or used")
		default:
			p.Log.Errorw("preview redeem failed", "token", token, "error", err)
			utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
		}
		return
	}

	handle, err := p.Engine.Open(rctx, g, nil)
	if err != nil {
		p.Log.Errorw("blob open failed", "token", token, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
		return
	}
	defer handle.Body.Close()

	prof := p.Policy.InlineProfile(g)
	ctx.Header("Content-Type", prof.ContentType)
	ctx.Header("Content-Disposition", prof.Disposition)
	ctx.Header("Content-Length", strconv.FormatInt(handle.Size, 10))
	ctx.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	ctx.Status(http.StatusOK)

	if _, err := io.Copy(ctx.Writer, handle.Body); err != nil {
		p.Log.Warnw("preview delivery interrupted", "token", token, "error", err)
	}
}
