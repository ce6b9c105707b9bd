// internal/websocket/client.go
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Client 表示一个已连接的布线画布前端
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient 创建新的客户端。Send 缓冲按高频预览流设置：光标移动
// 期间每条活跃线路都会持续推送 preview:changed。
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, 512),
	}
}

// SendMessage 序列化并投递一条消息。已关闭的客户端静默丢弃：
// 布线会话状态在服务端，重连后通过 GetSessionState/GetPreview 重绘。
func (c *Client) SendMessage(msg *WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	select {
	case c.Send <- data:
		return nil
	default:
		// 缓冲满时丢弃预览事件是安全的：每个事件都是完整快照，
		// 下一个事件会覆盖它
		return ErrClientBufferFull
	}
}

// SendEvent 推送一条状态事件（preview:changed、session:changed 等）
func (c *Client) SendEvent(eventType string, payload interface{}) error {
	return c.SendMessage(&WSMessage{
		Kind: "event",
		Event: &WSEvent{
			Type:    eventType,
			Payload: payload,
		},
	})
}

// SendResponse 返回 RPC 调用结果。布线拒绝（跨网络点击、过孔被拒）
// 通过 Error 字段原样传给前端提示
func (c *Client) SendResponse(id string, result interface{}, errMsg string) error {
	resp := &RPCResponse{ID: id}
	if errMsg != "" {
		resp.Error = errMsg
	} else {
		resp.Result = result
	}
	return c.SendMessage(&WSMessage{
		Kind:     "rpc_response",
		Response: resp,
	})
}

// WritePump 将 Send 通道中的消息写入 WebSocket
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// Close 关闭客户端。重复关闭安全：断线清理和服务器退出可能并发
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// 错误定义
var ErrClientBufferFull = &ClientError{Message: "client send buffer full"}

type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return e.Message
}
