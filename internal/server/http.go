package server

import (
	"context"
	"strings"

	"ToolSync/internal/conf"
	"ToolSync/internal/server/middleware"
	"ToolSync/internal/service"
	pkglog "ToolSync/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, admin *conf.Admin, syncService *service.SyncService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.AdminAuth(admin, logHelper), // 管理端点令牌校验
			middleware.Logging(logHelper),          // 请求日志：方法、路径、耗时
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerSyncRoutes(srv, syncService)

	return srv
}

// registerSyncRoutes mounts the sync subsystem's HTTP surface.
func registerSyncRoutes(srv *http.Server, svc *service.SyncService) {
	r := srv.Route("/")
	r.GET("/v1/sync/health", handleGetHealth(svc))
	r.GET("/v1/sync/status", handleGetStatus(svc))
	r.POST("/v1/sync/resync", handleTriggerResync(svc))
	r.GET("/v1/tools", handleListTools(svc))
	r.GET("/v1/tools/{name}", handleGetTool(svc))
}

func handleGetHealth(svc *service.SyncService) http.HandlerFunc {
	return func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetHealth(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func handleGetStatus(svc *service.SyncService) http.HandlerFunc {
	return func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetStatus(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func handleTriggerResync(svc *service.SyncService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var req service.ResyncRequest
		// The body is optional; only decode when a JSON body is present
		if r := ctx.Request(); r.ContentLength > 0 && strings.Contains(r.Header.Get("Content-Type"), "json") {
			if err := ctx.Bind(&req); err != nil {
				return err
			}
		}
		if req.Reason == "" {
			req.Reason = ctx.Query().Get("reason")
		}

		h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
			return svc.TriggerResync(c, in.(*service.ResyncRequest))
		})
		out, err := h(ctx, &req)
		if err != nil {
			return err
		}
		// The resync runs asynchronously on the consumer worker
		return ctx.Result(202, out)
	}
}

func handleListTools(svc *service.SyncService) http.HandlerFunc {
	return func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.ListTools(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func handleGetTool(svc *service.SyncService) http.HandlerFunc {
	return func(ctx http.Context) error {
		name := ctx.Vars().Get("name")

		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetTool(c, name)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
