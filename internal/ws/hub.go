package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/swap-arbiter/internal/goroutine"
	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/models"
)

// Hub управляет WebSocket клиентами и доставляет им события.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	ctx        context.Context
}

// message с пустым списком получателей уходит всем подключённым клиентам.
type message struct {
	recipients []string
	payload    []byte
}

// NewHub создаёт новый хаб.
func NewHub(ctx context.Context) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 256),
		ctx:        ctx,
	}
}

// Run запускает главный цикл хаба до отмены контекста.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg)
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Publish ставит событие в очередь доставки. При переполнении событие теряется с записью в лог.
func (h *Hub) Publish(event models.Event) {
	// Контракт WebSocket API: "type" - имя события, "data" - полезная нагрузка.
	raw, err := json.Marshal(map[string]any{
		"type": event.Type,
		"data": event,
	})
	if err != nil {
		logger.Log.WithError(err).WithField("event", event.Type).Error("ws: не удалось сериализовать событие")
		return
	}

	recipients := make([]string, 0, len(event.Recipients))
	for _, r := range event.Recipients {
		if r = models.NormalizeAddress(r); r != "" {
			recipients = append(recipients, r)
		}
	}

	select {
	case h.broadcast <- message{recipients: recipients, payload: raw}:
	default:
		logger.Log.WithFields(logrus.Fields{
			"event":    event.Type,
			"order_id": event.OrderID,
		}).Warn("ws: очередь событий переполнена, событие отброшено")
	}
}

// Connected возвращает число подключённых клиентов адреса.
func (h *Hub) Connected(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[models.NormalizeAddress(address)])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.address]; !ok {
		h.clients[client.address] = make(map[*Client]struct{})
	}
	h.clients[client.address][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.address]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.address)
		}
	}
}

func (h *Hub) send(msg message) {
	h.mu.RLock()
	var targets []*Client
	if len(msg.recipients) == 0 {
		for _, set := range h.clients {
			for c := range set {
				targets = append(targets, c)
			}
		}
	} else {
		seen := make(map[string]struct{}, len(msg.recipients))
		for _, addr := range msg.recipients {
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			for c := range h.clients[addr] {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- msg.payload:
		default:
			// Медленный клиент отключается, чтобы не тормозить остальных.
			c := client
			goroutine.SafeGo(c.Close)
		}
	}
}
