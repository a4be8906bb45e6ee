package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/muffinhead3/screen-share-app/internal/protocol"
)

// FrameHandler consumes what the hub reads from connections. It is
// called from the hub's Run goroutine only, one call at a time.
type FrameHandler interface {
	HandleFrame(conn string, data []byte)
	Disconnect(conn string)
}

// Hub manages all WebSocket client connections and the rooms they have
// joined. Registration, unregistration and inbound frames are processed
// in order by Run; the room methods may be called from any goroutine.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	handler    FrameHandler
	logger     *slog.Logger
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. A nil logger discards output.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame),
		logger:     logger.With("component", "hub"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// SetHandler installs the consumer of inbound frames and disconnects.
// It must be called before Run.
func (h *Hub) SetHandler(handler FrameHandler) {
	h.handler = handler
}

// Register hands c to the hub, which starts its pumps. It reports false
// if the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// submit queues a frame for Run. It reports false once the hub stops.
func (h *Hub) submit(f inboundFrame) bool {
	select {
	case h.inbound <- f:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of rooms with at least one connection.
func (h *Hub) RoomCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client.id]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop. This method should be called in
// a separate goroutine; it returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case frame := <-h.inbound:
			h.handleInbound(frame)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.logger.Warn("received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	client.logger.Info("client registered", "clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// handleUnregister lets the handler announce the departure while the
// connection is still in its room, then drops it.
func (h *Hub) handleUnregister(client *Client) {
	h.mutex.RLock()
	_, ok := h.clients[client.id]
	h.mutex.RUnlock()
	if !ok {
		return
	}

	if h.handler != nil {
		h.handler.Disconnect(client.id)
	}

	h.mutex.Lock()
	delete(h.clients, client.id)
	h.removeFromRooms(client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	client.logger.Info("client unregistered", "clients", clientCount)
}

func (h *Hub) handleInbound(frame inboundFrame) {
	h.mutex.RLock()
	_, ok := h.clients[frame.client.id]
	h.mutex.RUnlock()
	if !ok || h.handler == nil {
		return
	}
	h.handler.HandleFrame(frame.client.id, frame.data)
}

// removeFromRooms must be called with the write lock held.
func (h *Hub) removeFromRooms(conn string) {
	for sessionID, members := range h.rooms {
		if _, ok := members[conn]; ok {
			delete(members, conn)
			if len(members) == 0 {
				delete(h.rooms, sessionID)
			}
		}
	}
}

// Join adds conn to the room for sessionID. Unknown connections are ignored.
func (h *Hub) Join(sessionID, conn string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[conn]
	if !ok {
		return
	}
	members := h.rooms[sessionID]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[sessionID] = members
	}
	members[conn] = client
}

// Leave removes conn from the room for sessionID.
func (h *Hub) Leave(sessionID, conn string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	members := h.rooms[sessionID]
	delete(members, conn)
	if len(members) == 0 {
		delete(h.rooms, sessionID)
	}
}

// Broadcast sends msg to every connection in the room except the one
// named by except.
func (h *Hub) Broadcast(sessionID, except string, msg protocol.Message) {
	payload, err := msg.Encode()
	if err != nil {
		h.logger.Error("failed to encode message", "type", msg.Type, "error", err)
		return
	}

	recipients := h.getRoomSnapshot(sessionID)
	var failed []*Client
	for _, client := range recipients {
		if client.id == except {
			continue
		}
		if !h.safeSend(client, payload) {
			failed = append(failed, client)
		}
	}
	h.dropSlowClients(failed)
}

// BroadcastAll sends msg to every connection in the room.
func (h *Hub) BroadcastAll(sessionID string, msg protocol.Message) {
	h.Broadcast(sessionID, "", msg)
}

// Send delivers msg to a single connection.
func (h *Hub) Send(conn string, msg protocol.Message) {
	payload, err := msg.Encode()
	if err != nil {
		h.logger.Error("failed to encode message", "type", msg.Type, "error", err)
		return
	}

	h.mutex.RLock()
	client, ok := h.clients[conn]
	h.mutex.RUnlock()
	if !ok {
		return
	}
	if !h.safeSend(client, payload) {
		h.dropSlowClients([]*Client{client})
	}
}

// getRoomSnapshot returns a thread-safe snapshot of a room's members
func (h *Hub) getRoomSnapshot(sessionID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	members := h.rooms[sessionID]
	clients := make([]*Client, 0, len(members))
	for _, client := range members {
		clients = append(clients, client)
	}
	return clients
}

// dropSlowClients disconnects clients whose send buffer is full. They
// are not removed here: closing the connection ends the read pump,
// which unregisters the client and lets the handler announce it.
func (h *Hub) dropSlowClients(clients []*Client) {
	for _, client := range clients {
		h.mutex.RLock()
		_, registered := h.clients[client.id]
		h.mutex.RUnlock()
		if !registered {
			continue
		}
		client.logger.Warn("closing client with full send buffer")
		client.kick()
	}
}

// shutdownClients closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		client.closed = true
		delete(h.clients, id)
	}
	h.rooms = make(map[string]map[string]*Client)
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		client.kick()
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()

	// Wait for Run() to complete
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
