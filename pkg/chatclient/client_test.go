package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dalo-chat-go/pkg/sse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseHandler 逐帧下发并在帧间冲刷，迫使客户端跨分块解析。
func sseHandler(t *testing.T, frames ...[]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["message"])

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			w.Write(frame)
			flusher.Flush()
		}
	}
}

func TestSendAndStream(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		sse.ConnectedFrame(),
		sse.ContentFrame("He"),
		sse.ContentFrame("llo"),
		sse.DoneFrame(),
	))
	defer server.Close()

	var fragments []string
	client := New(server.URL, WithContentCallback(func(f string) {
		fragments = append(fragments, f)
	}))

	require.NoError(t, client.SendAndStream(context.Background(), "c1", "打个招呼"))

	// 乐观插入的用户消息和占位消息都在，占位消息已被完整回复覆盖
	msgs := client.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "打个招呼", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.False(t, msgs[1].Failed)

	assert.Equal(t, []string{"He", "llo"}, fragments)
	assert.False(t, client.Sending())
}

func TestSendAndStreamRejectsBlankInput(t *testing.T) {
	client := New("http://127.0.0.1:0")

	assert.ErrorIs(t, client.SendAndStream(context.Background(), "c1", "   "), ErrSendRejected)
	assert.ErrorIs(t, client.SendAndStream(context.Background(), "", "你好"), ErrSendRejected)
	// 被拒绝的发送不产生乐观插入
	assert.Empty(t, client.Messages())
}

func TestSendAndStreamRejectsConcurrentSend(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write(sse.ConnectedFrame())
		w.(http.Flusher).Flush()
		close(started)
		<-release
		w.Write(sse.DoneFrame())
	}))
	defer server.Close()

	client := New(server.URL)
	done := make(chan error, 1)
	go func() {
		done <- client.SendAndStream(context.Background(), "c1", "第一条")
	}()

	<-started
	// 第一次发送仍在途，第二次必须被拒绝
	assert.ErrorIs(t, client.SendAndStream(context.Background(), "c1", "第二条"), ErrSendRejected)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, client.Sending())
}

func TestSendAndStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"code":409,"message":"该会话已有正在进行的回复","data":null}`)
	}))
	defer server.Close()

	client := New(server.URL)
	err := client.SendAndStream(context.Background(), "c1", "你好")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409")

	// 占位消息被改写为错误说明并打上失败标记
	msgs := client.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Failed)
	assert.Contains(t, msgs[1].Content, "回复失败")
	assert.False(t, client.Sending())
}

func TestSendAndStreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		sse.ConnectedFrame(),
		sse.ContentFrame("partial"),
		sse.ErrorFrame("AI服务暂时不可用，请稍后重试"),
		sse.DoneFrame(),
	))
	defer server.Close()

	client := New(server.URL)
	err := client.SendAndStream(context.Background(), "c1", "你好")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI服务暂时不可用")

	msgs := client.Messages()
	assert.True(t, msgs[1].Failed)
}

func TestSendAndStreamEOFWithoutDone(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		sse.ConnectedFrame(),
		sse.ContentFrame("未收尾的回复"),
	))
	defer server.Close()

	client := New(server.URL)
	// 流未以 [DONE] 收尾，已有内容视为完整回复
	require.NoError(t, client.SendAndStream(context.Background(), "c1", "你好"))

	msgs := client.Messages()
	assert.Equal(t, "未收尾的回复", msgs[1].Content)
	assert.False(t, msgs[1].Failed)
}

func TestSendAndStreamSurvivesReloadDuringStream(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, pageJSON(nil, 0, 1, false))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write(sse.ConnectedFrame())
		flusher.Flush()
		close(started)
		<-release
		w.Write(sse.ContentFrame("重载后的内容"))
		w.Write(sse.DoneFrame())
	}))
	defer server.Close()

	client := New(server.URL)
	done := make(chan error, 1)
	go func() {
		done <- client.SendAndStream(context.Background(), "c1", "你好")
	}()

	<-started
	// 流进行期间重载消息列表：乐观插入的消息被服务端的空页整体替换
	require.NoError(t, client.LoadMessages(context.Background(), "c1"))
	close(release)
	require.NoError(t, <-done)

	// 占位消息已不在列表中，增量内容静默丢弃；Messages/Sending
	// 都要过锁，能返回就说明锁没有被卡死
	assert.Empty(t, client.Messages())
	assert.False(t, client.Sending())
}

func TestSendAndStreamSurvivesPrependDuringStream(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, pageJSON([]Message{
				{ID: "m0", Role: "user", Content: "更早的消息"},
			}, 1, 1, false))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write(sse.ConnectedFrame())
		flusher.Flush()
		close(started)
		<-release
		w.Write(sse.ContentFrame("Hi"))
		w.Write(sse.DoneFrame())
	}))
	defer server.Close()

	client := New(server.URL)
	done := make(chan error, 1)
	go func() {
		done <- client.SendAndStream(context.Background(), "c1", "你好")
	}()

	<-started
	// 更早的一页在流进行期间拼接到前面，占位消息的位置随之后移
	require.NoError(t, client.LoadMoreMessages(context.Background(), "c1"))
	close(release)
	require.NoError(t, <-done)

	// 增量内容仍然落在占位消息上，而不是被搬移到其位置的历史消息
	msgs := client.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "更早的消息", msgs[0].Content)
	assert.Equal(t, "你好", msgs[1].Content)
	assert.Equal(t, "Hi", msgs[2].Content)
	assert.False(t, msgs[2].Failed)
}

func pageJSON(messages []Message, total int64, page int, hasMore bool) string {
	data, _ := json.Marshal(map[string]any{
		"code": 200, "message": "success",
		"data": messagePage{Messages: messages, Total: total, Page: page, Limit: 20, HasMore: hasMore},
	})
	return string(data)
}

func TestLoadMessagesAndLoadMore(t *testing.T) {
	now := time.Now()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/c1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, pageJSON([]Message{
				{ID: "m2", Content: "第二条", CreatedAt: now},
				{ID: "m3", Content: "第三条", CreatedAt: now},
			}, 3, 1, true))
		case "2":
			fmt.Fprint(w, pageJSON([]Message{
				{ID: "m1", Content: "第一条", CreatedAt: now},
			}, 3, 2, false))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL)
	require.NoError(t, client.LoadMessages(context.Background(), "c1"))
	assert.True(t, client.HasMore())

	msgs := client.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)

	// 更早的一页拼接在现有消息之前，整体保持时间升序
	require.NoError(t, client.LoadMoreMessages(context.Background(), "c1"))
	assert.False(t, client.HasMore())

	msgs = client.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestChatManagement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/chat":
			fmt.Fprint(w, `{"code":200,"message":"success","data":[{"id":"c1","title":"第一个","isActive":true}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/chat":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			fmt.Fprintf(w, `{"code":200,"message":"success","data":{"id":"c2","title":%q,"isActive":true}}`, body["title"])
		case r.Method == http.MethodDelete && r.URL.Path == "/chat/c1":
			fmt.Fprint(w, `{"code":200,"message":"success","data":{"id":"c1","isActive":false}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL)

	chats, err := client.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "c1", chats[0].ID)

	chat, err := client.CreateChat(context.Background(), "新会话")
	require.NoError(t, err)
	assert.Equal(t, "新会话", chat.Title)

	require.NoError(t, client.DeleteChat(context.Background(), "c1"))
}

func TestRequestSurfacesEnvelopeMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":400,"message":"活跃会话数量已达上限（最多 5 个）","data":null}`)
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.CreateChat(context.Background(), "第六个")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "已达上限")
}
