package relay

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"unitsync/internal/auth"
	"unitsync/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewWebsocketHandler admits endpoints through the lobby and hands them to
// a. A valid session token resumes the identity it names.
func NewWebsocketHandler(a *Arbitrator, lobby *auth.Lobby) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lobby != nil {
			if err := lobby.Admit(r.URL.Query().Get("password")); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		playerID, resume := "p_"+uuid.NewString(), false
		if tok := auth.FromRequest(r); tok != "" && a.tokens != nil {
			if id, err := a.tokens.Parse(tok); err != nil {
				a.log.Printf("ignoring session token: %v", err)
			} else {
				playerID, resume = id, true
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.log.Println(err)
			return
		}

		p := NewPlayer(playerID, conn)
		p.Resume = resume
		if !a.register(p) {
			conn.Close()
			return
		}
		go writePump(p)
		go readPump(p, a)
	}
}

func readPump(p *Player, a *Arbitrator) {
	defer func() {
		a.unregister(p)
		p.Conn.Close()
	}()

	p.Conn.SetReadLimit(maxMessage)
	_ = p.Conn.SetReadDeadline(time.Now().Add(pongWait))
	p.Conn.SetPongHandler(func(string) error {
		return p.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.log.Printf("read %s: %v", p.ID, err)
			}
			return
		}
		env, err := protocol.Decode(message)
		if err != nil {
			a.log.Printf("player %s: %v", p.ID, err)
			continue
		}
		if err := a.Handle(p, env); err != nil {
			a.log.Printf("player %s %s rejected: %v", p.ID, env.Type, err)
		}
	}
}

func writePump(p *Player) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-p.Send:
			_ = p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
