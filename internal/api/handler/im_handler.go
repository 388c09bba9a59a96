package handler

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/api/middleware"
	"Murmur/internal/pkg/response"
	"Murmur/internal/service"
	log "log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
)

type IMHandler struct {
	imSvc service.IMService
}

func NewIMHandler(imSvc service.IMService) *IMHandler {
	return &IMHandler{imSvc: imSvc}
}

// GetConversationList 获取当前用户的会话列表
func (s *IMHandler) GetConversationList(c *gin.Context) {
	userID := middleware.GetUserID(c)
	list, err := s.imSvc.GetConversationList(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// GetChatHistory 拉取历史消息，同时把该会话标记为已读
func (s *IMHandler) GetChatHistory(c *gin.Context) {
	userID := middleware.GetUserID(c)
	convID, err := strconv.ParseUint(c.Param("conversation_id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	beforeID := c.Query("before_id")
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "0"))

	list, err := s.imSvc.GetChatHistory(c.Request.Context(), userID, convID, beforeID, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	// 轮询客户端靠这个接口消费消息，顺带清掉未读
	if err := s.imSvc.MarkRead(c.Request.Context(), userID, convID); err != nil {
		log.WarnContext(c.Request.Context(), "mark read on history fetch failed", "conversationID", convID, "err", err)
	}

	response.Success(c, list)
}

// SendMessage HTTP 发送消息，与 WS send_message 事件共用服务逻辑
func (s *IMHandler) SendMessage(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req dto.SendMessageReq
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, err)
		return
	}

	msg, err := s.imSvc.SendMessage(c.Request.Context(), userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}

// StartConversation 发起 (或复用) 与目标用户的会话
func (s *IMHandler) StartConversation(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req dto.StartConversationReq
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, err)
		return
	}

	convID, err := s.imSvc.StartConversation(c.Request.Context(), userID, req.TargetUserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"conversation_id": convID})
}

// MarkRead 显式标记会话已读
func (s *IMHandler) MarkRead(c *gin.Context) {
	userID := middleware.GetUserID(c)
	convID, err := strconv.ParseUint(c.Param("conversation_id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	if err := s.imSvc.MarkRead(c.Request.Context(), userID, convID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetOnlineUsers 在线用户快照
func (s *IMHandler) GetOnlineUsers(c *gin.Context) {
	res, err := s.imSvc.GetOnlineUsers(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
