package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 16
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub garde les connexions websocket ouvertes par utilisateur et leur pousse les événements.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[*wsClient]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub n'accepte que les origines listées, comme le CORS du routeur.
// Liste vide : toutes les origines (développement).
func NewHub(log *zap.Logger, allowedOrigins ...string) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{conns: make(map[string]map[*wsClient]struct{}), log: log}
	h.upgrader.CheckOrigin = originChecker(allowedOrigins, log)
	return h
}

func originChecker(allowed []string, log *zap.Logger) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Client hors navigateur.
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		log.Warn("⚠️ Origine websocket refusée", zap.String("origin", origin))
		return false
	}
}

func (h *Hub) Name() string { return "websocket" }

// Serve passe la requête en websocket et bloque jusqu'à la fermeture.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	cl := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(userID, cl)
	defer h.unregister(userID, cl)

	_ = conn.WriteJSON(map[string]any{
		"type":    "connected",
		"message": "Notifications de commande activées",
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-done:
			return nil
		case msg := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn("❌ Erreur envoi WebSocket", zap.String("user_id", userID), zap.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

// Send pousse l'événement à l'acheteur et aux vendeurs connectés.
// Un client trop lent perd le message plutôt que de bloquer la diffusion.
func (h *Hub) Send(_ context.Context, ev Event) error {
	payload, err := json.Marshal(map[string]any{"type": "order_update", "event": ev})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range ev.Recipients() {
		for cl := range h.conns[userID] {
			select {
			case cl.send <- payload:
			default:
				h.log.Warn("⚠️ Client WebSocket saturé, message ignoré", zap.String("user_id", userID))
			}
		}
	}
	return nil
}

// Connected retourne le nombre de connexions ouvertes pour un utilisateur.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func (h *Hub) register(userID string, cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*wsClient]struct{})
	}
	h.conns[userID][cl] = struct{}{}
}

func (h *Hub) unregister(userID string, cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], cl)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}
