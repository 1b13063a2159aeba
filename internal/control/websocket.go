package control

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader accepts any origin: the control surface is meant for
// same-host or trusted-network operators, not browser clients.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes an Adapter over a websocket connection: each inbound
// text frame carries one line of the protocol, each outbound text frame
// carries its single-line JSON response.
type Server struct {
	adapter *Adapter
	log     *zap.Logger
}

func NewServer(adapter *Adapter, log *zap.Logger) *Server {
	return &Server{adapter: adapter, log: log}
}

// ServeHTTP upgrades the connection and serves commands until the client
// disconnects or the connection errors.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("control: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		resp := s.adapter.HandleLine(ctx, string(data))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
			return
		}
	}
}
