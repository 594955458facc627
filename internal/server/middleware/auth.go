// Package middleware provides HTTP middleware for authentication, logging, and request processing.
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"ToolSync/internal/conf"
	pkglog "ToolSync/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// AdminAuth 返回一个管理端点认证中间件
// 只读端点直接放行，变更类端点要求携带管理员令牌
//
// 日志输出示例:
//
//	📋 Admin request authorized (tsk-3f2a***) on /v1/sync/resync
//	🔒 Rejected admin request with bad token | {"type":"security","path":"/v1/sync/resync"}
//
// 未配置令牌时（admin.token 为空），所有管理端点返回 403
func AdminAuth(admin *conf.Admin, logger *pkglog.LogHelper) middleware.Middleware {
	var token string
	if admin != nil {
		token = strings.TrimSpace(admin.Token)
	}

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			tr, ok := transport.FromServerContext(ctx)
			if !ok {
				return handler(ctx, req)
			}
			ht, ok := tr.(http.Transporter)
			if !ok {
				return handler(ctx, req)
			}

			httpReq := ht.Request()
			if !isAdminRoute(httpReq.Method, httpReq.URL.Path) {
				return handler(ctx, req)
			}

			if token == "" {
				logger.Security("Admin endpoint hit but no admin token is configured",
					"path", httpReq.URL.Path)
				return nil, kerrors.New(403, "ADMIN_DISABLED", "admin endpoints are disabled: no admin token configured")
			}

			supplied := extractAdminToken(httpReq)
			if supplied == "" {
				logger.Security("Rejected admin request without token",
					"path", httpReq.URL.Path)
				return nil, kerrors.New(401, "UNAUTHORIZED", "missing admin token")
			}

			if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
				logger.Security("Rejected admin request with bad token",
					"path", httpReq.URL.Path,
					"token_masked", maskToken(supplied))
				return nil, kerrors.New(401, "UNAUTHORIZED", "invalid admin token")
			}

			logger.Audit(
				fmt.Sprintf("Admin request authorized (%s) on %s", maskToken(supplied), httpReq.URL.Path),
				"path", httpReq.URL.Path,
				"token_masked", maskToken(supplied),
			)

			return handler(ctx, req)
		}
	}
}

// isAdminRoute 判断请求是否命中管理端点
// 同步子系统下所有非只读请求都需要管理员令牌
func isAdminRoute(method, path string) bool {
	if method == "GET" || method == "HEAD" {
		return false
	}
	return strings.HasPrefix(path, "/v1/sync/")
}

// extractAdminToken 提取管理员令牌
// 支持 "Authorization: Bearer {token}" 和 "X-Admin-Token" 两种方式
func extractAdminToken(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if authHeader != "" {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(req.Header.Get("X-Admin-Token"))
}

// maskToken 脱敏令牌，仅显示前 8 位
// 示例: "tsk-1234567890abcdef" -> "tsk-1234***"
func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "***"
}
