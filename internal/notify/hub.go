package notify

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"lostmatch/internal/models"

	"github.com/gorilla/websocket"
)

/*
LEARNING: WEBSOCKET EVENT HUB

The hub fans server-side events out to browsers watching a case while its
photos are being fingerprinted and matched.

Key Concepts:
1. **sync.RWMutex**: Read-write lock for concurrent safe room access
2. **Connection Rooms**: One room per case ID
3. **Broadcast Pattern**: Send an event to every subscriber of a case
4. **Backpressure**: Slow subscribers get dropped, never block the hub
*/

// Event types pushed over the wire
const (
	EventFingerprintCompleted = "fingerprint.completed"
	EventFingerprintFailed    = "fingerprint.failed"
	EventMatchFound           = "match.found"
)

// Event is the JSON envelope every subscriber receives
type Event struct {
	Type    string      `json:"type"`
	CaseID  string      `json:"case_id"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

// Subscriber is one WebSocket connection watching a case
type Subscriber struct {
	CaseID string
	Conn   *websocket.Conn
	Send   chan []byte

	hub        *Hub
	lastActive time.Time
	activeMu   sync.Mutex
}

// Hub routes case events to their subscribers
type Hub struct {
	rooms      map[string]map[*Subscriber]bool // caseID -> set of subscribers
	register   chan *Subscriber
	unregister chan *Subscriber
	events     chan *Event
	mu         sync.RWMutex

	done    chan struct{}
	stopped chan struct{} // closed when the event loop has exited
}

// NewHub creates the event hub
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Subscriber]bool),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		events:     make(chan *Event, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start begins the hub event loop
func (h *Hub) Start() {
	log.Println("🔄 Starting case event hub...")

	go func() {
		defer close(h.stopped)
		for {
			select {
			case <-h.done:
				log.Println("Event hub shutting down...")
				return

			case sub := <-h.register:
				h.handleRegister(sub)

			case sub := <-h.unregister:
				h.handleUnregister(sub)

			case event := <-h.events:
				h.handleEvent(event)
			}
		}
	}()

	go h.cleanupLoop()

	log.Println("✓ Case event hub started")
}

// Subscribe attaches a connection to a case room and starts its pumps
func (h *Hub) Subscribe(caseID string, conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		CaseID:     caseID,
		Conn:       conn,
		Send:       make(chan []byte, 64),
		hub:        h,
		lastActive: time.Now(),
	}

	h.register <- sub

	go sub.writePump()
	go sub.readPump()

	return sub
}

// FingerprintCompleted pushes a completed fingerprint to the case room
func (h *Hub) FingerprintCompleted(caseID string, fp *models.VisualFingerprint) {
	h.publish(&Event{
		Type:   EventFingerprintCompleted,
		CaseID: caseID,
		Payload: map[string]interface{}{
			"fingerprint_id":    fp.ID,
			"photo_id":          fp.PhotoID,
			"human_readable_id": fp.HumanReadableID,
			"quality_tier":      fp.QualityTier,
			"status":            fp.ProcessingStatus,
		},
	})
}

// FingerprintFailed pushes a build failure to the case room
func (h *Hub) FingerprintFailed(caseID, fingerprintID, reason string) {
	h.publish(&Event{
		Type:   EventFingerprintFailed,
		CaseID: caseID,
		Payload: map[string]interface{}{
			"fingerprint_id": fingerprintID,
			"reason":         reason,
		},
	})
}

// MatchFound pushes a new or improved match to the case room
func (h *Hub) MatchFound(caseID string, match *models.PhotoMatch) {
	h.publish(&Event{
		Type:    EventMatchFound,
		CaseID:  caseID,
		Payload: match,
	})
}

func (h *Hub) publish(event *Event) {
	event.SentAt = time.Now().UTC()

	select {
	case h.events <- event:
	case <-h.done:
	default:
		// Event queue full. Notifications are best-effort, clients can
		// always poll the REST API for the same state.
		log.Printf("⚠️  Event hub queue full, dropping %s for case %s", event.Type, event.CaseID)
	}
}

func (h *Hub) handleRegister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[sub.CaseID] == nil {
		h.rooms[sub.CaseID] = make(map[*Subscriber]bool)
	}
	h.rooms[sub.CaseID][sub] = true

	log.Printf("  Subscriber joined case %s (total: %d watchers)",
		sub.CaseID, len(h.rooms[sub.CaseID]))
}

func (h *Hub) handleUnregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.rooms[sub.CaseID]; ok {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			close(sub.Send)

			if len(subs) == 0 {
				delete(h.rooms, sub.CaseID)
			}

			log.Printf("  Subscriber left case %s (remaining: %d watchers)",
				sub.CaseID, len(subs))
		}
	}
}

func (h *Hub) handleEvent(event *Event) {
	h.mu.RLock()
	subs := h.rooms[event.CaseID]
	h.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️  Failed to encode %s event: %v", event.Type, err)
		return
	}

	for sub := range subs {
		select {
		case sub.Send <- data:
			// Queued successfully
		default:
			// Buffer full - connection is slow/dead. Unregister directly:
			// this runs on the event loop goroutine, which is also the only
			// receiver of h.unregister, so a channel send here would never
			// be picked up.
			log.Printf("⚠️  Subscriber on case %s buffer full, closing connection", sub.CaseID)
			h.handleUnregister(sub)
		}
	}
}

// cleanupLoop periodically removes inactive subscribers
func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.cleanup()
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.RLock()
	var stale []*Subscriber
	for _, subs := range h.rooms {
		for sub := range subs {
			if time.Since(sub.touched()) > 5*time.Minute {
				stale = append(stale, sub)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range stale {
		log.Printf("  Cleaning up inactive subscriber on case %s", sub.CaseID)
		select {
		case h.unregister <- sub:
		case <-h.done:
			return
		}
	}
}

// Shutdown gracefully closes all connections. Requires Start to have been
// called: it waits for the event loop to exit so no send can race the
// channel closes below.
func (h *Hub) Shutdown() {
	log.Println("🛑 Shutting down event hub...")

	close(h.done)
	<-h.stopped

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.rooms {
		for sub := range subs {
			close(sub.Send)
			sub.Conn.Close()
		}
	}

	h.rooms = make(map[string]map[*Subscriber]bool)
	log.Println("✓ Event hub shutdown complete")
}

// Subscriber pumps

func (s *Subscriber) touch() {
	s.activeMu.Lock()
	s.lastActive = time.Now()
	s.activeMu.Unlock()
}

func (s *Subscriber) touched() time.Time {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.lastActive
}

// drop detaches the subscriber from its room. After hub shutdown there is
// no receiver on the unregister channel, so the send must not block.
func (s *Subscriber) drop() {
	select {
	case s.hub.unregister <- s:
	case <-s.hub.done:
	}
}

// readPump drains the connection. Subscribers are listen-only, inbound
// frames exist just to keep the connection alive and detect closes.
func (s *Subscriber) readPump() {
	defer func() {
		s.drop()
		s.Conn.Close()
	}()

	s.Conn.SetReadLimit(512)
	s.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		s.touch()
		return nil
	})

	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		s.touch()
	}
}

// writePump sends queued events, batching when the client lags
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(54 * time.Second) // Ping interval
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch additional queued events
			n := len(s.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-s.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
