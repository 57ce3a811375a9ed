package voice

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-journal/backend/internal/service/realtime"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Bridge runs one relay session on an accepted connection.
type Bridge interface {
	Serve(ctx context.Context, client realtime.Conn) error
}

// Handler 语音 WebSocket 处理器
type Handler struct {
	bridge   Bridge
	upgrader websocket.Upgrader
}

// New 创建语音处理器
func New(bridge Bridge) *Handler {
	return &Handler{
		bridge: bridge,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册语音路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/voice", h.handleVoice)
}

// handleVoice 升级连接并交给 bridge 处理，直到任一端关闭
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[voice] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go pingLoop(ctx, conn)

	err = h.bridge.Serve(ctx, conn)
	switch realtime.KindOf(err) {
	case 0:
		if err != nil {
			log.Printf("[voice] session ended with error: %v", err)
		}
	case realtime.KindSetup:
		log.Printf("[voice] session setup failed: %v", err)
	default:
		log.Printf("[voice] session ended: %v", err)
	}
}

// pingLoop 定期发送 ping；WriteControl 可与数据帧写入并发调用
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
