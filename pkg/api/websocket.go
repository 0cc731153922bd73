package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polyforensic/pipeline/pkg/forensics/alertbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket upgrades the connection, registers a Subscriber on the
// Alert Bus, and starts its read/write pumps — the teacher's Hub/Client
// register/unregister lifecycle, generalized to the bus's per-kind bounded
// queues.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	sub := s.bus.Register(conn.RemoteAddr().String())

	go s.writePump(conn, sub)
	go s.readPump(conn, sub)
}

// readPump handles client->server commands: ping, get_stats,
// get_recent_trades, get_recent_alerts.
func (s *Server) readPump(conn *websocket.Conn, sub *alertbus.Subscriber) {
	defer func() {
		s.bus.Unregister(sub)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debugw("ws_read_error", "err", err)
			}
			return
		}

		var cmd WSCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			s.log.Debugw("ws_invalid_command", "err", err)
			continue
		}

		switch cmd.Cmd {
		case "ping":
			s.bus.Publish(string(alertbus.KindPong), map[string]string{"pong": "ok"})
		case "get_stats":
			s.bus.Publish(string(alertbus.KindStats), s.statsInfo())
		case "get_recent_trades":
			trades := s.store.QueryTrades(defaultTradeFilter())
			s.bus.Publish(string(alertbus.KindNewTrade), tradeInfos(trades))
		case "get_recent_alerts":
			alerts := s.store.RecentAlerts(50)
			s.bus.Publish(string(alertbus.KindNewAlert), alertInfos(alerts))
		default:
			s.log.Debugw("ws_unknown_command", "cmd", cmd.Cmd)
		}
	}
}

// writePump drains the subscriber's fanned-in Out channel, wrapping each
// Message in the {type, data, timestamp} envelope.
func (s *Server) writePump(conn *websocket.Conn, sub *alertbus.Subscriber) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Out:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			env := WSEnvelope{Type: string(msg.Kind), Data: msg.Data, Timestamp: time.Now().Unix()}
			if msg.Resync {
				env.Type = string(msg.Kind) + "_resync"
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
