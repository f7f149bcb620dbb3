// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 业务错误哨兵，由 handler 映射为对应的 HTTP 状态码。
var (
	// ErrChatNotFound 会话不存在或已被软删除。
	ErrChatNotFound = errors.New("chat not found")
	// ErrChatLimitReached 用户的活跃会话数量已达上限。
	ErrChatLimitReached = errors.New("maximum chat limit reached")
	// ErrStreamBusy 该会话已有一次在途的流式应答。
	ErrStreamBusy = errors.New("a stream is already in flight for this chat")
	// ErrUpstreamUnavailable 模型服务不可达或拒绝了请求。
	ErrUpstreamUnavailable = errors.New("model server unavailable")
)
