// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dalo-chat-go/internal/config"
	"dalo-chat-go/internal/service"
	"dalo-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责处理会话管理与流式应答的 API 请求。
type ChatHandler struct {
	chatService   service.ChatService
	streamService service.StreamService
	// 本系统没有认证，所有请求都归属启动时写入的默认用户
	userID string
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, streamService service.StreamService, userID string) *ChatHandler {
	return &ChatHandler{
		chatService:   chatService,
		streamService: streamService,
		userID:        userID,
	}
}

// GetChats 返回当前用户的活跃会话列表，各附带最近一条消息。
func (h *ChatHandler) GetChats(c *gin.Context) {
	summaries, err := h.chatService.ListChats(h.userID)
	if err != nil {
		log.Errorf("获取会话列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取会话列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": summaries})
}

// createChatRequest 是创建会话的请求体，标题可选。
type createChatRequest struct {
	Title string `json:"title"`
}

// CreateChat 创建一个新会话。活跃会话数达到上限时返回 400。
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req createChatRequest
	// 请求体可以为空，标题缺省由服务层填充
	_ = c.ShouldBindJSON(&req)

	chat, err := h.chatService.CreateChat(h.userID, req.Title)
	if err == service.ErrChatLimitReached {
		msg := fmt.Sprintf("活跃会话数量已达上限（最多 %d 个）", config.Conf.Chat.MaxActiveChats)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": msg, "data": nil})
		return
	}
	if err != nil {
		log.Errorf("创建会话失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建会话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": chat})
}

// DeleteChat 软删除一个会话：活跃标志清除，记录保留。
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID := strings.TrimSpace(c.Param("id"))
	chat, err := h.chatService.DeleteChat(chatID)
	if err == service.ErrChatNotFound {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}
	if err != nil {
		log.Errorf("删除会话失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除会话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": chat})
}

// GetMessages 分页返回会话的消息历史：最新页在前，页内按时间升序。
func (h *ChatHandler) GetMessages(c *gin.Context) {
	chatID := strings.TrimSpace(c.Param("id"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(config.Conf.Chat.DefaultPageSize)))

	result, err := h.chatService.GetMessagePage(chatID, page, limit)
	if err == service.ErrChatNotFound {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}
	if err != nil {
		log.Errorf("获取消息历史失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取消息历史失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// HealthCheck 报告模型服务的可达性。
func (h *ChatHandler) HealthCheck(c *gin.Context) {
	status := "disconnected"
	if h.chatService.CheckModelHealth(c.Request.Context()) {
		status = "connected"
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"status":    "ok",
			"ollama":    status,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// streamMessageRequest 是发起流式应答的请求体。
type streamMessageRequest struct {
	Message string `json:"message"`
}

// StreamMessage 打开 SSE 流式应答。响应头发出之前的失败以 JSON 错误
// 返回；之后的失败只能降级为流内 error 事件。
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	chatID := strings.TrimSpace(c.Param("id"))
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "会话 ID 不能为空", "data": nil})
		return
	}

	var req streamMessageRequest
	_ = c.ShouldBindJSON(&req)
	userText := strings.TrimSpace(req.Message)
	if userText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "消息内容不能为空", "data": nil})
		return
	}

	// 模型服务不可达时在产生任何副作用之前返回 503
	if !h.chatService.CheckModelHealth(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "AI 服务不可用，请确认模型服务已启动", "data": nil})
		return
	}

	ex, err := h.streamService.PrepareStream(c.Request.Context(), chatID, userText)
	if err != nil {
		h.writePrepareError(c, err)
		return
	}

	// SSE 响应头在第一个事件之前发出并冲刷，客户端可以立即开始监听
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("Access-Control-Allow-Origin", "*")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	if err := ex.Run(c.Request.Context(), &flushWriter{w: c.Writer}); err != nil {
		log.Errorf("会话 %s 的流式应答异常结束: %v", chatID, err)
	}
}

// writePrepareError 把流式应答的前置失败映射为对应的 HTTP 状态码。
func (h *ChatHandler) writePrepareError(c *gin.Context, err error) {
	switch {
	case err == service.ErrChatNotFound:
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
	case err == service.ErrStreamBusy:
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "该会话已有正在进行的回复", "data": nil})
	case errors.Is(err, service.ErrUpstreamUnavailable):
		log.Errorf("模型服务调用失败: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "AI 服务不可用，请确认模型服务已启动", "data": nil})
	default:
		log.Errorf("流式应答初始化失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "处理消息失败", "data": nil})
	}
}

// flushWriter 把 gin 的 ResponseWriter 适配为 service.EventWriter，
// 每写入一帧立即冲刷。
type flushWriter struct {
	w gin.ResponseWriter
}

// WriteFrame 满足 service.EventWriter 接口。
func (f *flushWriter) WriteFrame(frame []byte) error {
	if _, err := f.w.Write(frame); err != nil {
		return err
	}
	f.w.Flush()
	return nil
}
