package relay

import "github.com/gorilla/websocket"

// Player is one connected endpoint. Several connections may carry the same
// ID over time; only the latest one owns the player's units.
type Player struct {
	ID   string
	Team int
	Conn *websocket.Conn
	Send chan []byte

	// Resume asks Join to take over a live identity instead of spawning.
	Resume bool

	closed bool
}

func NewPlayer(id string, conn *websocket.Conn) *Player {
	return &Player{ID: id, Conn: conn, Send: make(chan []byte, 256)}
}
