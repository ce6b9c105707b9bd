package eventhub

import (
	"context"
)

// Broadcaster 事件广播接口
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub 统一事件分发中心
type EventHub struct {
	ctx         context.Context
	broadcaster Broadcaster
}

// New 创建新的 EventHub
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster 设置 WebSocket 广播器
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

// emit 统一的事件发送方法
func (h *EventHub) emit(eventName string, payload interface{}) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastEvent(eventName, payload)
	}
}

// Emit 通用事件发送方法（用于 eventEmitter）
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// 会话相关事件
type SessionChangedEvent struct {
	Mode    string `json:"mode"` // "idle", "session", "companion"
	RouteID string `json:"routeId,omitempty"`
	NetID   string `json:"netId,omitempty"`
	Layer   string `json:"layer,omitempty"`
}

func (h *EventHub) EmitSessionChanged(event SessionChangedEvent) {
	h.emit("session:changed", event)
}

// 预览相关事件
type PreviewChangedEvent struct {
	LineID string      `json:"lineId"` // "session" 或 "companion:<net>"
	Path   interface{} `json:"path"`   // nil 表示预览被清除
	OK     bool        `json:"ok"`
	Reason string      `json:"reason,omitempty"`
}

func (h *EventHub) EmitPreviewChanged(event PreviewChangedEvent) {
	h.emit("preview:changed", event)
}

// 线段提交事件
func (h *EventHub) EmitSegmentCommitted(routeID string, segmentIndex int) {
	h.emit("segment:committed", map[string]interface{}{
		"routeId":      routeID,
		"segmentIndex": segmentIndex,
	})
}

// 过孔事件
func (h *EventHub) EmitViaAdded(routeID string, segmentIndex int, x, y float64) {
	h.emit("via:added", map[string]interface{}{
		"routeId":      routeID,
		"segmentIndex": segmentIndex,
		"x":            x,
		"y":            y,
	})
}

// 布线错误事件
func (h *EventHub) EmitRoutingError(lineID string, reason string) {
	h.emit("routing:error", map[string]interface{}{
		"lineId": lineID,
		"reason": reason,
	})
}

// 选择变化事件
type SelectionChangedEvent struct {
	Selection interface{} `json:"selection"`
}

func (h *EventHub) EmitSelectionChanged(event SelectionChangedEvent) {
	h.emit("selection:changed", event)
}

// 路由存储变化事件（提交、删除、导入快照后）
func (h *EventHub) EmitRoutesChanged() {
	h.emit("routes:changed", nil)
}

// 网表重载事件
func (h *EventHub) EmitBoardReloaded(pointCount int) {
	h.emit("board:reloaded", map[string]interface{}{
		"points": pointCount,
	})
}
