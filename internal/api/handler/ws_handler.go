package handler

import (
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/pkg/response"
	"Murmur/internal/pkg/security"
	"Murmur/internal/repository"
	"Murmur/internal/service"
	"Murmur/internal/ws"
	log "log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WsHandler struct {
	hub       *ws.Hub
	imService service.IMService
	userRepo  repository.UserRepo
}

func NewWsHandler(hub *ws.Hub, im service.IMService, userRepo repository.UserRepo) *WsHandler {
	return &WsHandler{hub: hub, imService: im, userRepo: userRepo}
}

// Connect Websocket 入口：升级前完成鉴权，失败时仍走统一响应封装
func (s *WsHandler) Connect(c *gin.Context) {
	// 浏览器 Websocket 不带请求头，优先 query 传递令牌
	token := c.Query("token")
	if token == "" {
		auth := c.GetHeader("Authorization")
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		response.Error(c, service.ErrNoToken)
		return
	}

	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("WS 鉴权失败", "err", err)
		response.Error(c, service.ErrInvalidToken)
		return
	}

	// 令牌合法但主体已不存在（或已注销）的账号不允许建连
	user, err := s.userRepo.GetUserById(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, service.UnExpectedError)
		return
	}
	if user == nil || user.IsDelete {
		log.Warn("WS 鉴权主体不存在", "userID", claims.UserID)
		response.Error(c, service.ErrUserNotFound)
		return
	}

	// 已登出的令牌不允许建连
	if sig, err := security.ExtractSignature(token); err == nil {
		if revoked, err := redis.GetValue(c.Request.Context(), consts.TokenRevokedKey+sig); err == nil && revoked != "" {
			response.Error(c, service.ErrInvalidToken)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}

	client := ws.NewClient(s.hub, conn, s.imService, claims.UserID, claims.Username)
	s.hub.Register(client)

	log.Info("用户 WS 连接已建立", "userID", claims.UserID)
	client.Serve()
}
