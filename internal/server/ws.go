package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/John-Robertt/epicfree/internal/countdown"
	"github.com/John-Robertt/epicfree/internal/feed"
	"github.com/John-Robertt/epicfree/internal/render"
)

const writeWait = 10 * time.Second

// 服务端 -> 浏览器。
type wsMessage struct {
	Type    string             `json:"type"` // hello / tick / feed
	Session string             `json:"session,omitempty"`
	Seq     uint64             `json:"seq,omitempty"`
	Updates []countdown.Update `json:"updates,omitempty"`
}

// 浏览器 -> 服务端：页面可见性变化。
type clientMessage struct {
	Visibility string `json:"visibility"` // hidden / visible
}

// handleCountdown 为每个连接维护一个 Ticker：
// - 页面不可见时暂停，重新可见时立即刷新一次
// - feed 重新加载后用新网格重建 Ticker 并通知页面
// - 连接关闭即停止
func (s *Server) handleCountdown(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Debug().Err(err).Msg("websocket 升级失败")
		return
	}
	defer conn.Close()

	session := uuid.NewString()
	log := s.Log.With().Str("session", session).Logger()
	q := s.Query(r)

	boardCh, unsubscribe := s.Board.Subscribe()
	defer unsubscribe()

	tk, err := s.newTicker(s.Board.State(), q)
	if err != nil {
		log.Error().Err(err).Msg("创建倒计时失败")
		return
	}
	defer func() { tk.Stop() }()
	tk.Start()

	if err := s.writeJSON(conn, wsMessage{Type: "hello", Session: session}); err != nil {
		return
	}
	log.Debug().Msg("倒计时连接已建立")

	vis := make(chan string, 4)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			var m clientMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			v := strings.ToLower(strings.TrimSpace(m.Visibility))
			if v != "hidden" && v != "visible" {
				continue
			}
			select {
			case vis <- v:
			case <-r.Context().Done():
				return
			}
		}
	}()

	hidden := false
	for {
		select {
		case <-readerDone:
			log.Debug().Msg("倒计时连接已关闭")
			return
		case <-r.Context().Done():
			return
		case v := <-vis:
			if v == "hidden" && !hidden {
				hidden = true
				tk.Pause()
			} else if v == "visible" && hidden {
				hidden = false
				tk.Resume()
			}
		case batch, ok := <-tk.Updates():
			if !ok {
				return
			}
			if err := s.writeJSON(conn, wsMessage{Type: "tick", Updates: batch}); err != nil {
				return
			}
		case st := <-boardCh:
			tk.Stop()
			next, err := s.newTicker(st, q)
			if err != nil {
				log.Error().Err(err).Msg("重建倒计时失败")
				return
			}
			tk = next
			tk.Start()
			if hidden {
				tk.Pause()
			}
			if err := s.writeJSON(conn, wsMessage{Type: "feed", Seq: st.Seq}); err != nil {
				return
			}
		}
	}
}

func (s *Server) newTicker(st feed.State, q feed.Query) (*countdown.Ticker, error) {
	grid := render.Grid(s.view(st, q), render.Options{Now: s.Clock.Now(), Sources: s.Sources})
	return countdown.New(grid.HTML, s.Clock, s.TickPeriod)
}

func (s *Server) writeJSON(conn *websocket.Conn, m wsMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
