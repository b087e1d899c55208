// Package api 定价服务的 HTTP/WebSocket 接口。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/heatmap"
	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/response"
	"github.com/wyfcoding/bspricer/server"
	"github.com/wyfcoding/bspricer/service"
	"github.com/wyfcoding/bspricer/session"
	"github.com/wyfcoding/bspricer/xerrors"
)

// SessionTopic 会话快照的推送主题。
const SessionTopic = "session"

// PricingService 处理器依赖的服务能力。
type PricingService interface {
	Defaults() pricing.Params
	BoundsRule() heatmap.BoundsRule
	SizeLimits() (size, minSize, maxSize int)
	Price(ctx context.Context, p pricing.Params) (pricing.Result, pricing.Clamp)
	Quote(r pricing.Result) pricing.Quote
	Heatmap(ctx context.Context, q service.HeatmapQuery) (*heatmap.Grid, error)
	Session() session.Snapshot
	OnSessionChange(fn session.Listener) func()
	UpdateSession(ctx context.Context, u session.Update) (session.Snapshot, error)
	RecomputeSession(ctx context.Context) (session.Snapshot, error)
	ResetSession(ctx context.Context) (session.Snapshot, error)
}

// Handler HTTP 处理器。
type Handler struct {
	svc PricingService
	ws  *server.WSManager
}

// NewHandler ws 为 nil 时不提供推送接口。
func NewHandler(svc PricingService, ws *server.WSManager) *Handler {
	return &Handler{svc: svc, ws: ws}
}

// RegisterRoutes 注册路由。
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/defaults", h.GetDefaults)
		api.POST("/price", h.Price)
		api.POST("/heatmap", h.Heatmap)

		api.GET("/session", h.GetSession)
		api.PATCH("/session", h.UpdateSession)
		api.POST("/session/recompute", h.RecomputeSession)
		api.POST("/session/reset", h.ResetSession)
		if h.ws != nil {
			api.GET("/session/ws", h.SessionStream)
		}
	}
}

// PublishSessionChanges 将每次会话重算推送到 SessionTopic，返回取消函数。
func (h *Handler) PublishSessionChanges() func() {
	if h.ws == nil {
		return func() {}
	}
	return h.svc.OnSessionChange(func(s session.Snapshot) {
		h.ws.Broadcast(SessionTopic, newSessionView(s))
	})
}

// bindJSON 空请求体视为全部缺省。
func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, xerrors.ErrBadRequest.WithDetail("%v", err))
		return false
	}
	return true
}

// GetDefaults 默认参数、边界表达式与尺寸限制。
func (h *Handler) GetDefaults(c *gin.Context) {
	size, lo, hi := h.svc.SizeLimits()
	response.Success(c, DefaultsResponse{
		Params:  h.svc.Defaults(),
		Bounds:  h.svc.BoundsRule(),
		Size:    size,
		MinSize: lo,
		MaxSize: hi,
	})
}

// Price 单点定价。
func (h *Handler) Price(c *gin.Context) {
	var req PriceRequest
	if !bindJSON(c, &req) {
		return
	}

	p := req.Params(h.svc.Defaults())
	res, clamp := h.svc.Price(c.Request.Context(), p)
	response.Success(c, NewPriceResponse(p, res, h.svc.Quote(res), clamp))
}

// Heatmap 无状态热力图。
func (h *Handler) Heatmap(c *gin.Context) {
	var req HeatmapRequest
	if !bindJSON(c, &req) {
		return
	}

	p := req.Params(h.svc.Defaults())
	grid, err := h.svc.Heatmap(c.Request.Context(), service.HeatmapQuery{
		Params: p,
		Spot:   req.SpotRange,
		Vol:    req.VolRange,
		Size:   req.Size,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, NewHeatmapResponse(p, grid))
}

// GetSession 当前会话快照。
func (h *Handler) GetSession(c *gin.Context) {
	response.Success(c, newSessionView(h.svc.Session()))
}

// UpdateSession 局部更新会话。
func (h *Handler) UpdateSession(c *gin.Context) {
	var u session.Update
	if !bindJSON(c, &u) {
		return
	}

	snap, err := h.svc.UpdateSession(c.Request.Context(), u)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newSessionView(snap))
}

// RecomputeSession 显式重算。
func (h *Handler) RecomputeSession(c *gin.Context) {
	snap, err := h.svc.RecomputeSession(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newSessionView(snap))
}

// ResetSession 恢复默认。
func (h *Handler) ResetSession(c *gin.Context) {
	snap, err := h.svc.ResetSession(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newSessionView(snap))
}

// SessionStream 升级为 WebSocket，首条消息为注册后的当前快照，之后推送每次重算。
func (h *Handler) SessionStream(c *gin.Context) {
	h.ws.Serve(c.Writer, c.Request, SessionTopic, func() ([]byte, error) {
		return json.Marshal(newSessionView(h.svc.Session()))
	})
}
