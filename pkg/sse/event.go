// Package sse 定义了聊天流在服务端与客户端之间传输的 SSE 事件：
// 封闭的事件类型 (connected | content | error | done | skip)、
// 帧编码，以及一个永不失败的负载解析函数。
package sse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// doneSentinel 是流结束的字面量负载，整条为 "data: [DONE]"。
const doneSentinel = "[DONE]"

// EventType 标识一个流事件的种类。
type EventType int

const (
	// EventSkip 表示无法识别的负载，调用方应记录并跳过。
	EventSkip EventType = iota
	// EventConnected 表示流已建立的握手事件。
	EventConnected
	// EventContent 携带一段增量文本。
	EventContent
	// EventError 携带服务端下发的错误描述。
	EventError
	// EventDone 是流的终止标记。
	EventDone
)

// Event 是一条已解码的流事件。Data 仅在 content/error 时有意义：
// content 事件存放文本片段，error 事件存放错误信息。
type Event struct {
	Type EventType
	Data string
}

// contentPayload 对应 content 事件在线上的 JSON 形态。
type contentPayload struct {
	Content string `json:"content"`
}

// errorPayload 对应 error 事件在线上的 JSON 形态。
type errorPayload struct {
	Error string `json:"error"`
}

// ConnectedFrame 返回握手事件的完整 SSE 帧。
func ConnectedFrame() []byte {
	return []byte("data: {\"type\":\"connected\"}\n\n")
}

// ContentFrame 将一段增量文本编码为 SSE 帧。
func ContentFrame(fragment string) []byte {
	b, _ := json.Marshal(contentPayload{Content: fragment})
	return []byte(fmt.Sprintf("data: %s\n\n", b))
}

// ErrorFrame 将一条错误信息编码为 SSE 帧。
func ErrorFrame(message string) []byte {
	b, _ := json.Marshal(errorPayload{Error: message})
	return []byte(fmt.Sprintf("data: %s\n\n", b))
}

// DoneFrame 返回终止标记帧，负载为字面量 [DONE]。
func DoneFrame() []byte {
	return []byte("data: [DONE]\n\n")
}

// ParseData 将一条 data 行的负载解析为事件。该函数是全函数：
// 任何无法识别的输入都映射为 EventSkip，绝不返回错误。
func ParseData(data string) Event {
	data = strings.TrimSpace(data)
	if data == "" {
		return Event{Type: EventSkip}
	}
	if data == doneSentinel {
		return Event{Type: EventDone}
	}

	var payload struct {
		Type    string  `json:"type"`
		Content *string `json:"content"`
		Error   *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return Event{Type: EventSkip, Data: data}
	}

	switch {
	case payload.Error != nil:
		return Event{Type: EventError, Data: *payload.Error}
	case payload.Type == "connected":
		return Event{Type: EventConnected}
	case payload.Content != nil && *payload.Content != "":
		return Event{Type: EventContent, Data: *payload.Content}
	default:
		return Event{Type: EventSkip, Data: data}
	}
}
