// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/loom-foundation/loom/lib/roomauth"
	"github.com/loom-foundation/loom/protocol"
)

// Config holds the relay server parameters.
type Config struct {
	// Addr is the TCP listen address, e.g. ":7897". Use ":0" for a
	// random port.
	Addr string

	// Store enables durable persistence. Nil runs the relay in
	// forward-only mode: rooms can still be joined and envelopes
	// relayed live, but enable_persistence is refused.
	Store *Store

	// Logger receives operational messages. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

// room tracks one room's live membership and persistence flag. Rooms
// are never deleted for the daemon's lifetime: the persisted flag and
// the registered auth token must survive everyone disconnecting.
type room struct {
	members   map[*serverConn]struct{}
	persisted bool
}

// serverConn is the relay's per-connection state.
type serverConn struct {
	netConn net.Conn

	// writeMu serializes frame writes: the serve goroutine answers
	// requests while peers' serve goroutines broadcast into the same
	// connection.
	writeMu sync.Mutex

	joined map[string]bool
}

func (c *serverConn) writeFrame(frameType byte, body any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.netConn, frameType, body)
}

// Server is the relay daemon.
type Server struct {
	logger   *slog.Logger
	store    *Store
	registry *roomauth.Registry

	mu       sync.Mutex
	rooms    map[string]*room
	listener net.Listener
	closed   bool
}

// NewServer creates a relay server. Call Listen then Serve, or drive
// connections directly with ServeConn (tests use net.Pipe).
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		store:    cfg.Store,
		registry: roomauth.NewRegistry(),
		rooms:    make(map[string]*room),
	}
}

// Listen binds the TCP listener.
func (s *Server) Listen(cfg Config) error {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("relay listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address. Empty before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Each connection is served on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("relay: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			return fmt.Errorf("relay: accept: %w", err)
		}
		go s.ServeConn(ctx, netConn)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the listener. In-flight connections drain on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// ServeConn runs the frame loop for one connection until it closes or a
// policy violation terminates it.
func (s *Server) ServeConn(ctx context.Context, netConn net.Conn) {
	conn := &serverConn{
		netConn: netConn,
		joined:  make(map[string]bool),
	}
	defer s.disconnect(conn)

	for {
		frame, err := protocol.ReadFrame(netConn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection read failed", "error", err)
			}
			return
		}
		if !s.handleFrame(ctx, conn, frame) {
			return
		}
	}
}

// handleFrame dispatches one frame. Returns false when the connection
// must terminate.
func (s *Server) handleFrame(ctx context.Context, conn *serverConn, frame protocol.Frame) bool {
	switch frame.Type {
	case protocol.FrameTypeJoin:
		var join protocol.Join
		if err := frame.Decode(&join); err != nil {
			s.protocolError(conn, "bad_frame", err.Error())
			return true
		}
		return s.handleJoin(conn, join)

	case protocol.FrameTypeEnablePersistence:
		var enable protocol.EnablePersistence
		if err := frame.Decode(&enable); err != nil {
			s.protocolError(conn, "bad_frame", err.Error())
			return true
		}
		s.handleEnablePersistence(conn, enable)
		return true

	case protocol.FrameTypeStore:
		var store protocol.Store
		if err := frame.Decode(&store); err != nil {
			s.protocolError(conn, "bad_frame", err.Error())
			return true
		}
		s.handleStore(ctx, conn, store)
		return true

	case protocol.FrameTypeSyncRequest:
		var request protocol.SyncRequest
		if err := frame.Decode(&request); err != nil {
			s.protocolError(conn, "bad_frame", err.Error())
			return true
		}
		s.handleSyncRequest(ctx, conn, request)
		return true

	case protocol.FrameTypeClose:
		return false

	default:
		s.protocolError(conn, "unknown_frame", fmt.Sprintf("frame type 0x%02x", frame.Type))
		return true
	}
}

func (s *Server) handleJoin(conn *serverConn, join protocol.Join) bool {
	if err := s.registry.Admit(join.RoomID, join.AuthToken); err != nil {
		reason := roomauth.ReasonTokenMismatch
		if errors.Is(err, roomauth.ErrTokenRequired) {
			reason = roomauth.ReasonTokenRequired
		}
		s.logger.Info("join refused",
			"room_id", join.RoomID,
			"reason", reason,
		)
		conn.writeFrame(protocol.FrameTypeClose, protocol.Close{
			Code:   protocol.CloseCodePolicyViolation,
			Reason: reason,
		})
		return false
	}

	s.mu.Lock()
	rm, ok := s.rooms[join.RoomID]
	if !ok {
		rm = &room{members: make(map[*serverConn]struct{})}
		s.rooms[join.RoomID] = rm
	}
	peers := len(rm.members)
	rm.members[conn] = struct{}{}
	conn.joined[join.RoomID] = true
	persisted := rm.persisted
	s.mu.Unlock()

	s.logger.Debug("member joined",
		"room_id", join.RoomID,
		"profile_name", join.Profile.Name,
		"peers", peers,
	)
	conn.writeFrame(protocol.FrameTypeJoined, protocol.Joined{
		RoomID:    join.RoomID,
		Peers:     peers,
		Persisted: persisted,
	})
	return true
}

func (s *Server) handleEnablePersistence(conn *serverConn, enable protocol.EnablePersistence) {
	if !conn.joined[enable.RoomID] {
		s.protocolError(conn, "not_joined", enable.RoomID)
		return
	}
	if s.store == nil {
		s.protocolError(conn, "persistence_unavailable", "relay has no durable store")
		return
	}

	s.mu.Lock()
	s.rooms[enable.RoomID].persisted = true
	s.mu.Unlock()

	conn.writeFrame(protocol.FrameTypePersistenceEnabled, protocol.PersistenceEnabled{
		RoomID: enable.RoomID,
	})
}

func (s *Server) handleStore(ctx context.Context, conn *serverConn, store protocol.Store) {
	if !conn.joined[store.RoomID] {
		s.protocolError(conn, "not_joined", store.RoomID)
		return
	}
	hasState := len(store.EncryptedState) > 0
	hasUpdate := len(store.EncryptedUpdate) > 0
	if hasState == hasUpdate {
		s.protocolError(conn, "bad_store", "exactly one of encryptedState and encryptedUpdate required")
		return
	}

	s.broadcast(conn, store.RoomID, protocol.FrameTypeStore, store)

	s.mu.Lock()
	persisted := s.rooms[store.RoomID].persisted
	s.mu.Unlock()
	if !persisted || s.store == nil {
		return
	}

	var err error
	if hasState {
		err = s.store.PutState(ctx, store.RoomID, store.DocID, store.EncryptedState)
	} else {
		err = s.store.AppendUpdate(ctx, store.RoomID, store.DocID, store.EncryptedUpdate)
	}
	if err != nil {
		s.logger.Error("store write failed",
			"room_id", store.RoomID,
			"doc_id", store.DocID,
			"error", err,
		)
		s.protocolError(conn, "store_failed", store.DocID)
	}
}

func (s *Server) handleSyncRequest(ctx context.Context, conn *serverConn, request protocol.SyncRequest) {
	response := protocol.SyncResponse{
		RoomID:    request.RoomID,
		DocID:     request.DocID,
		RequestID: request.RequestID,
	}
	if !conn.joined[request.RoomID] {
		s.protocolError(conn, "not_joined", request.RoomID)
		return
	}

	// The response is sent unconditionally, empty when nothing is
	// held, so a reachable relay never leaves a sync request pending.
	if s.store != nil {
		state, updates, err := s.store.Load(ctx, request.RoomID, request.DocID)
		if err != nil {
			s.logger.Error("store read failed",
				"room_id", request.RoomID,
				"doc_id", request.DocID,
				"error", err,
			)
		} else {
			response.EncryptedState = state
			response.EncryptedUpdates = updates
		}
	}
	conn.writeFrame(protocol.FrameTypeSyncResponse, response)
}

// broadcast forwards a frame to every other member of the room.
func (s *Server) broadcast(from *serverConn, roomID string, frameType byte, body any) {
	s.mu.Lock()
	rm := s.rooms[roomID]
	peers := make([]*serverConn, 0, len(rm.members))
	for member := range rm.members {
		if member != from {
			peers = append(peers, member)
		}
	}
	s.mu.Unlock()

	for _, peer := range peers {
		if err := peer.writeFrame(frameType, body); err != nil {
			s.logger.Debug("broadcast write failed", "room_id", roomID, "error", err)
		}
	}
}

func (s *Server) protocolError(conn *serverConn, code, message string) {
	conn.writeFrame(protocol.FrameTypeError, protocol.ErrorInfo{
		Code:    code,
		Message: message,
	})
}

// disconnect removes the connection from every room it joined and
// closes the socket. Room entries outlive their members.
func (s *Server) disconnect(conn *serverConn) {
	s.mu.Lock()
	for roomID := range conn.joined {
		if rm, ok := s.rooms[roomID]; ok {
			delete(rm.members, conn)
		}
	}
	s.mu.Unlock()
	conn.netConn.Close()
}
