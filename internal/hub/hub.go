package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/manpreetbhatti/docworld/internal/autosave"
	"github.com/manpreetbhatti/docworld/internal/presence"
	"github.com/manpreetbhatti/docworld/internal/protocol"
	"github.com/manpreetbhatti/docworld/internal/room"
	"github.com/manpreetbhatti/docworld/internal/store"
)

var (
	ErrInvalidJoinRequest = errors.New("invalid room or display name")
	ErrRoomNotFound       = errors.New("room is invalid or not created yet")
	ErrNotJoined          = errors.New("connection has not joined this room")
	ErrBusy               = errors.New("join already in progress")
)

// CreatorVerifier checks a server-issued room creation token.
type CreatorVerifier interface {
	Verify(token, roomID string) error
}

type Options struct {
	Store    store.Store
	Presence *presence.Registry
	Rooms    *room.Manager
	Autosave *autosave.Scheduler
	Tokens   CreatorVerifier

	// Trust the client's isCreated flag as permission to create a room
	AllowClientCreate bool
}

// Hub runs the join, bootstrap, relay and leave protocol for every
// connection. Messages from one connection are handled one at a time by its
// reader; different connections and rooms proceed independently.
type Hub struct {
	store             store.Store
	presence          *presence.Registry
	rooms             *room.Manager
	autosave          *autosave.Scheduler
	tokens            CreatorVerifier
	allowClientCreate bool

	connsMu sync.Mutex
	conns   map[string]*Conn
}

// How often Shutdown checks whether every connection has left
const shutdownPoll = 20 * time.Millisecond

func New(opts Options) *Hub {
	h := &Hub{
		store:             opts.Store,
		presence:          opts.Presence,
		rooms:             opts.Rooms,
		autosave:          opts.Autosave,
		tokens:            opts.Tokens,
		allowClientCreate: opts.AllowClientCreate,
		conns:             make(map[string]*Conn),
	}
	if h.presence == nil {
		h.presence = presence.NewRegistry()
	}
	if h.rooms == nil {
		h.rooms = room.NewManager()
	}
	if h.autosave == nil {
		h.autosave = autosave.New(opts.Store, autosave.DefaultConfig())
	}
	return h
}

// Connect registers a new transport and returns its connection.
func (h *Hub) Connect(t Transport) *Conn {
	c := newConn(t)
	h.connsMu.Lock()
	h.conns[c.id] = c
	h.connsMu.Unlock()
	return c
}

// Handle dispatches one client message.
func (h *Hub) Handle(ctx context.Context, c *Conn, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoin:
		var req protocol.JoinRequest
		if err := env.DecodeData(&req); err != nil {
			h.sendError(c, protocol.EventJoinError, joinMessage(ErrInvalidJoinRequest))
			return
		}
		if err := h.Join(ctx, c, req); err != nil {
			if errors.Is(err, ErrBusy) {
				return
			}
			glog.V(1).Infof("Join rejected for %s: %v", c.id, err)
			h.sendError(c, protocol.EventJoinError, joinMessage(err))
		}

	case protocol.EventGetDocument:
		var req protocol.DocumentRequest
		if err := env.DecodeData(&req); err != nil {
			h.sendError(c, protocol.EventDocumentError, documentMessage(ErrNotJoined))
			return
		}
		if err := h.Bootstrap(ctx, c, req.RoomID); err != nil {
			h.sendError(c, protocol.EventDocumentError, documentMessage(err))
		}

	case protocol.EventSendChanges:
		if err := h.Relay(c, env.Data); err != nil {
			glog.V(1).Infof("Dropped change from %s: %v", c.id, err)
		}

	case protocol.EventSaveDocument:
		if err := h.Save(ctx, c, env.Data, env.Flush); err != nil {
			glog.V(1).Infof("Save from %s not applied: %v", c.id, err)
		}

	default:
		glog.V(1).Infof("Ignoring %q from %s", env.Event, c.id)
	}
}

// Join admits c to a room and announces the new membership to every member.
func (h *Hub) Join(ctx context.Context, c *Conn, req protocol.JoinRequest) error {
	state, prevRoom, _ := c.snapshot()
	if !state.accepts(protocol.EventJoin) {
		return ErrBusy
	}

	roomID := strings.TrimSpace(req.RoomID)
	name := req.Name()
	if roomID == "" || name == "" {
		return ErrInvalidJoinRequest
	}

	c.setState(StateJoining)
	if err := h.admit(ctx, roomID, req); err != nil {
		c.setState(state)
		return err
	}

	next := StateJoined
	if prevRoom == roomID {
		// Rejoining the same room only renames and re-announces
		next = state
	} else if prevRoom != "" {
		h.leave(ctx, c)
	}

	h.presence.Register(c.id, name)
	sess := h.rooms.Join(roomID, c, name)
	c.set(next, roomID, name)

	dropped, err := sess.AnnounceJoin(c.id)
	h.drop(dropped)
	return err
}

func (h *Hub) admit(ctx context.Context, roomID string, req protocol.JoinRequest) error {
	if h.isCreator(roomID, req) {
		return nil
	}
	if h.rooms.IsLive(roomID) {
		return nil
	}
	_, err := h.store.Get(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRoomNotFound
	}
	return err
}

func (h *Hub) isCreator(roomID string, req protocol.JoinRequest) bool {
	if req.CreationToken != "" && h.tokens != nil {
		err := h.tokens.Verify(req.CreationToken, roomID)
		if err == nil {
			return true
		}
		glog.V(1).Infof("Creation token rejected for room %s: %v", roomID, err)
	}
	return req.IsCreated && h.allowClientCreate
}

// Bootstrap loads (or creates) the room's document and sends it to c only.
// Only after delivery does c send and receive changes.
func (h *Hub) Bootstrap(ctx context.Context, c *Conn, roomID string) error {
	state, joined, _ := c.snapshot()
	if !state.accepts(protocol.EventGetDocument) {
		return ErrNotJoined
	}
	if roomID = strings.TrimSpace(roomID); roomID != joined {
		return fmt.Errorf("%w: %q", ErrNotJoined, roomID)
	}

	doc, err := h.store.FindOrCreate(ctx, joined)
	if err != nil {
		glog.Errorf("Failed to load document for room %s: %v", joined, err)
		return err
	}

	frame, err := protocol.EncodeRaw(protocol.EventLoadDocument, doc.Content)
	if err != nil {
		return err
	}

	sess := h.rooms.Get(joined)
	if sess == nil {
		return ErrNotJoined
	}
	if err := sess.Bootstrap(c.id, frame); err != nil {
		if errors.Is(err, room.ErrNotMember) {
			return ErrNotJoined
		}
		c.transport.Close()
		return err
	}
	c.setState(StateBootstrapped)
	return nil
}

// Relay forwards op to every other bootstrapped member of c's room.
func (h *Hub) Relay(c *Conn, op json.RawMessage) error {
	state, roomID, _ := c.snapshot()
	if !state.accepts(protocol.EventSendChanges) {
		return room.ErrNotSynced
	}
	if len(op) == 0 {
		return nil
	}

	sess := h.rooms.Get(roomID)
	if sess == nil {
		return room.ErrNotSynced
	}
	dropped, err := sess.Relay(c.id, op)
	h.drop(dropped)
	return err
}

// Save proposes content as the room's latest snapshot. flush writes it
// immediately; otherwise the next autosave tick does. Storage errors are
// returned for logging only and are never sent to the client.
func (h *Hub) Save(ctx context.Context, c *Conn, content json.RawMessage, flush bool) error {
	state, roomID, _ := c.snapshot()
	if !state.accepts(protocol.EventSaveDocument) {
		return room.ErrNotSynced
	}
	if len(content) == 0 {
		return nil
	}

	h.autosave.Propose(roomID, content)
	if flush {
		return h.autosave.Flush(ctx, roomID)
	}
	return nil
}

// Disconnect cleans up after a closed connection. Safe in any state.
func (h *Hub) Disconnect(ctx context.Context, c *Conn) {
	h.leave(ctx, c)
	h.connsMu.Lock()
	delete(h.conns, c.id)
	h.connsMu.Unlock()
}

// Shutdown closes every live transport and waits until each connection has
// disconnected. Rooms left empty flush their pending autosave on the way out.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.connsMu.Lock()
	live := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		live = append(live, c)
	}
	h.connsMu.Unlock()

	glog.Infof("Closing %d connections", len(live))
	for _, c := range live {
		c.transport.Close()
	}

	ticker := time.NewTicker(shutdownPoll)
	defer ticker.Stop()
	for h.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d connections still open: %w", h.ConnectionCount(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// ConnectionCount counts live transports, joined or not.
func (h *Hub) ConnectionCount() int {
	h.connsMu.Lock()
	defer h.connsMu.Unlock()
	return len(h.conns)
}

func (h *Hub) leave(ctx context.Context, c *Conn) {
	_, roomID, name := c.snapshot()
	c.set(StateDisconnected, "", "")

	lastName, registered := h.presence.Unregister(c.id)
	if !registered {
		lastName = name
	}
	if roomID == "" {
		return
	}

	sess, _, ok, closed := h.rooms.Leave(roomID, c.id)
	if !ok {
		return
	}
	if closed {
		if err := h.autosave.Flush(ctx, roomID); err != nil {
			glog.Warningf("Failed to flush room %s on close: %v", roomID, err)
		}
		return
	}

	dropped, err := sess.AnnounceDeparture(c.id, lastName)
	if err != nil {
		glog.Errorf("Failed to announce departure of %s: %v", c.id, err)
	}
	h.drop(dropped)
}

// Closes members whose send queue overflowed. Their transport then
// disconnects them through the normal leave path.
func (h *Hub) drop(members []room.Member) {
	for _, m := range members {
		if c, ok := m.(*Conn); ok {
			c.transport.Close()
		}
	}
}

func (h *Hub) sendError(c *Conn, event protocol.Event, message string) {
	frame, err := protocol.Encode(event, message)
	if err != nil {
		glog.Errorf("Failed to encode %s: %v", event, err)
		return
	}
	c.Send(frame)
}

func joinMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidJoinRequest):
		return "Invalid room or username"
	case errors.Is(err, ErrRoomNotFound):
		return "Room is invalid or not created yet."
	default:
		return "Server error while joining"
	}
}

func documentMessage(err error) string {
	if errors.Is(err, ErrNotJoined) {
		return "Invalid Space ID"
	}
	return "Failed to load document"
}

// Presence returns the registry of live participants.
func (h *Hub) Presence() *presence.Registry {
	return h.presence
}

func (h *Hub) RoomCount() int {
	return h.rooms.RoomCount()
}

func (h *Hub) ClientCount() int {
	return h.rooms.ClientCount()
}

func (h *Hub) ActiveRooms() map[string]int {
	return h.rooms.ActiveRooms()
}
