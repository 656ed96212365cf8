// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loom-foundation/loom/lib/clock"
	"github.com/loom-foundation/loom/lib/envelope"
	"github.com/loom-foundation/loom/lib/roomauth"
	"github.com/loom-foundation/loom/lib/scopekey"
	"github.com/loom-foundation/loom/protocol"
)

// syncTimeout bounds how long RequestSync waits for the relay's
// response before resolving to nil.
const syncTimeout = 5 * time.Second

var (
	// ErrAuthRejected: the relay refused a room join with a policy
	// violation. Terminal for the session — retrying the same token
	// produces the same refusal, so the session never reconnects on
	// its own.
	ErrAuthRejected = errors.New("session: relay rejected room auth token")

	// ErrEphemeral: the session has no workspace secret, so it cannot
	// seal, unseal, or authenticate anything.
	ErrEphemeral = errors.New("session: no workspace secret, persistence unavailable")

	// ErrClosed: the session has been closed.
	ErrClosed = errors.New("session: closed")
)

// DecryptionFailedError reports that a stored envelope for a document
// could not be opened — wrong secret, or corrupted/tampered data. The
// document is left untouched: no partially decrypted sync is ever
// applied.
type DecryptionFailedError struct {
	DocID string
	Err   error
}

func (e *DecryptionFailedError) Error() string {
	return fmt.Sprintf("session: decrypting sync for document %q: %v", e.DocID, e.Err)
}

func (e *DecryptionFailedError) Unwrap() error { return e.Err }

// Config holds the session parameters. Addr and WorkspaceID are
// required.
type Config struct {
	// Addr is the relay's TCP address.
	Addr string

	// WorkspaceID identifies the workspace; it names the workspace
	// room and salts key derivation.
	WorkspaceID string

	// Secret is the workspace secret. Nil puts the session in
	// ephemeral mode.
	Secret *scopekey.Material

	// Profile is this member's display identity, relayed to peers.
	Profile protocol.Profile

	// Clock drives the sync timeout. If nil, the real clock is used.
	Clock clock.Clock

	// Logger receives operational messages. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// DialContext overrides the transport dial. If nil, a plain TCP
	// dial is used. Tests inject net.Pipe here.
	DialContext func(ctx context.Context, addr string) (net.Conn, error)

	// OnRemoteUpdate receives decrypted document payloads broadcast by
	// peers, in arrival order, on the session's read goroutine. May be
	// nil. Undecryptable broadcasts are logged and dropped.
	OnRemoteUpdate func(docID string, plaintext []byte)
}

// Joined reports the outcome of a room join.
type Joined struct {
	// Peers is the number of other connections already in the room.
	Peers int

	// Persisted reports whether the room already has durable storage
	// enabled.
	Persisted bool
}

// SyncResult carries everything the relay holds for one document, still
// sealed.
type SyncResult struct {
	EncryptedState   []byte
	EncryptedUpdates [][]byte
}

// Session is one client connection to a relay. Safe for concurrent use.
type Session struct {
	addr           string
	workspaceID    string
	secret         *scopekey.Material
	profile        protocol.Profile
	clk            clock.Clock
	logger         *slog.Logger
	onRemoteUpdate func(docID string, plaintext []byte)

	conn      net.Conn
	deriver   *scopekey.Deriver
	ephemeral bool

	// writeMu serializes frame writes across caller goroutines.
	writeMu sync.Mutex

	// openMu serializes first-time document room joins.
	openMu sync.Mutex

	mu          sync.Mutex
	joins       map[string]chan protocol.Joined
	persistAcks map[string]chan error
	syncs       map[string]chan protocol.SyncResponse
	docRooms    map[string]bool
	persistent  bool
	closed      bool
	closeReason error

	done chan struct{}
}

// Connect dials the relay and joins the workspace room. With a secret,
// the join presents the workspace room's auth token; without one
// ([scopekey.ErrNoSecret] territory) the session enters ephemeral mode
// and joins with no token, which only an unregistered room admits.
func Connect(ctx context.Context, cfg Config) (*Session, Joined, error) {
	if cfg.Addr == "" || cfg.WorkspaceID == "" {
		return nil, Joined{}, errors.New("session: Addr and WorkspaceID are required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dial := cfg.DialContext
	if dial == nil {
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		}
	}

	s := &Session{
		addr:           cfg.Addr,
		workspaceID:    cfg.WorkspaceID,
		secret:         cfg.Secret,
		profile:        cfg.Profile,
		clk:            clk,
		logger:         logger,
		onRemoteUpdate: cfg.OnRemoteUpdate,
		deriver:        scopekey.NewDeriver(),
		joins:          make(map[string]chan protocol.Joined),
		persistAcks:    make(map[string]chan error),
		syncs:          make(map[string]chan protocol.SyncResponse),
		docRooms:       make(map[string]bool),
		done:           make(chan struct{}),
	}

	workspaceRoom := s.workspaceRoomID()
	token := ""
	key, err := s.deriver.Derive(ctx, s.secret, scopekey.WorkspaceScope(s.workspaceID))
	switch {
	case err == nil:
		token = roomauth.ComputeToken(key, workspaceRoom)
	case errors.Is(err, scopekey.ErrNoSecret):
		s.ephemeral = true
		logger.Info("no workspace secret, session is ephemeral",
			"workspace_id", s.workspaceID,
		)
	default:
		s.deriver.Close()
		return nil, Joined{}, err
	}

	conn, err := dial(ctx, cfg.Addr)
	if err != nil {
		s.deriver.Close()
		return nil, Joined{}, fmt.Errorf("session: dial %s: %w", cfg.Addr, err)
	}
	s.conn = conn
	go s.readLoop()

	joined, err := s.joinRoom(ctx, workspaceRoom, token)
	if err != nil {
		s.Close()
		return nil, Joined{}, err
	}
	return s, joined, nil
}

// Ephemeral reports whether the session runs without a workspace
// secret.
func (s *Session) Ephemeral() bool { return s.ephemeral }

func (s *Session) workspaceRoomID() string {
	return "workspace:" + s.workspaceID
}

func (s *Session) docRoomID(docID string) string {
	return "doc:" + s.workspaceID + ":" + docID
}

// OpenDocument joins the per-document room for docID, deriving that
// document's auth token from its scope key. Opening an already-open
// document is a no-op. If persistence has been enabled on the session,
// the new room is opted in as well.
func (s *Session) OpenDocument(ctx context.Context, docID string) error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	open := s.docRooms[docID]
	s.mu.Unlock()
	if open {
		return nil
	}

	roomID := s.docRoomID(docID)
	token := ""
	if !s.ephemeral {
		key, err := s.deriver.Derive(ctx, s.secret, scopekey.DocumentScope(docID))
		if err != nil {
			return err
		}
		token = roomauth.ComputeToken(key, roomID)
	}
	if _, err := s.joinRoom(ctx, roomID, token); err != nil {
		return err
	}

	s.mu.Lock()
	s.docRooms[docID] = true
	persistent := s.persistent
	s.mu.Unlock()

	if persistent {
		return s.enableRoomPersistence(ctx, roomID)
	}
	return nil
}

// EnablePersistence opts the workspace room and every open document
// room into durable storage, and marks the session so documents opened
// later are opted in too. Requires a secret: an ephemeral session has
// nothing it could safely persist.
func (s *Session) EnablePersistence(ctx context.Context) error {
	if s.ephemeral {
		return ErrEphemeral
	}

	s.mu.Lock()
	s.persistent = true
	rooms := []string{s.workspaceRoomID()}
	for docID := range s.docRooms {
		rooms = append(rooms, s.docRoomID(docID))
	}
	s.mu.Unlock()

	for _, roomID := range rooms {
		if err := s.enableRoomPersistence(ctx, roomID); err != nil {
			return err
		}
	}
	return nil
}

// StoreState seals plaintext under the document's scope key and stores
// it as the document's state snapshot, replacing any previous snapshot.
func (s *Session) StoreState(ctx context.Context, docID string, plaintext []byte) error {
	return s.store(ctx, docID, plaintext, true)
}

// StoreUpdate seals plaintext under the document's scope key and
// appends it to the document's update log.
func (s *Session) StoreUpdate(ctx context.Context, docID string, plaintext []byte) error {
	return s.store(ctx, docID, plaintext, false)
}

func (s *Session) store(ctx context.Context, docID string, plaintext []byte, isState bool) error {
	if s.ephemeral {
		return ErrEphemeral
	}
	if err := s.OpenDocument(ctx, docID); err != nil {
		return err
	}

	key, err := s.deriver.Derive(ctx, s.secret, scopekey.DocumentScope(docID))
	if err != nil {
		return err
	}
	sealed, err := envelope.Seal(key, plaintext)
	if err != nil {
		return err
	}

	frame := protocol.Store{RoomID: s.docRoomID(docID), DocID: docID}
	if isState {
		frame.EncryptedState = sealed
	} else {
		frame.EncryptedUpdate = sealed
	}
	return s.writeFrame(protocol.FrameTypeStore, frame)
}

// RequestSync asks the relay for everything it holds for docID and
// waits for the correlated response. Resolves to nil — not an error —
// when the relay does not answer within the timeout or the session
// closes first, so callers waiting on startup sync never hang on a dead
// relay. Responses arriving after the timeout are dropped.
func (s *Session) RequestSync(ctx context.Context, docID string) (*SyncResult, error) {
	if s.ephemeral {
		return nil, ErrEphemeral
	}
	if err := s.OpenDocument(ctx, docID); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	ch := make(chan protocol.SyncResponse, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil
	}
	s.syncs[requestID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.syncs, requestID)
		s.mu.Unlock()
	}()

	err := s.writeFrame(protocol.FrameTypeSyncRequest, protocol.SyncRequest{
		RoomID:    s.docRoomID(docID),
		DocID:     docID,
		RequestID: requestID,
	})
	if err != nil {
		return nil, err
	}

	select {
	case response := <-ch:
		return &SyncResult{
			EncryptedState:   response.EncryptedState,
			EncryptedUpdates: response.EncryptedUpdates,
		}, nil
	case <-s.clk.After(syncTimeout):
		s.logger.Debug("sync request timed out",
			"doc_id", docID,
			"request_id", requestID,
		)
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, nil
	}
}

// SyncFromServer requests the document's stored envelopes, decrypts
// them all, and applies them in order: state snapshot first, then each
// update. Nothing is applied unless every envelope decrypts — a
// [DecryptionFailedError] aborts with the document untouched. Returns
// whether anything was applied.
func (s *Session) SyncFromServer(ctx context.Context, docID string, apply func(plaintext []byte) error) (bool, error) {
	result, err := s.RequestSync(ctx, docID)
	if err != nil || result == nil {
		return false, err
	}
	if result.EncryptedState == nil && len(result.EncryptedUpdates) == 0 {
		return false, nil
	}

	key, err := s.deriver.Derive(ctx, s.secret, scopekey.DocumentScope(docID))
	if err != nil {
		return false, err
	}

	var plaintexts [][]byte
	if result.EncryptedState != nil {
		state, err := envelope.Open(key, result.EncryptedState)
		if err != nil {
			return false, &DecryptionFailedError{DocID: docID, Err: err}
		}
		plaintexts = append(plaintexts, state)
	}
	for _, sealed := range result.EncryptedUpdates {
		update, err := envelope.Open(key, sealed)
		if err != nil {
			return false, &DecryptionFailedError{DocID: docID, Err: err}
		}
		plaintexts = append(plaintexts, update)
	}

	for _, plaintext := range plaintexts {
		if err := apply(plaintext); err != nil {
			return false, fmt.Errorf("session: applying sync for document %q: %w", docID, err)
		}
	}
	return true, nil
}

// Close tears the session down: the connection closes, every pending
// sync request resolves to nil, and derived keys are dropped. Safe to
// call more than once.
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}

// joinRoom sends a join frame and waits for the relay's answer.
func (s *Session) joinRoom(ctx context.Context, roomID, token string) (Joined, error) {
	ch := make(chan protocol.Joined, 1)
	s.mu.Lock()
	if s.closed {
		reason := s.closeReasonLocked()
		s.mu.Unlock()
		return Joined{}, reason
	}
	s.joins[roomID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.joins, roomID)
		s.mu.Unlock()
	}()

	err := s.writeFrame(protocol.FrameTypeJoin, protocol.Join{
		RoomID:    roomID,
		Profile:   s.profile,
		AuthToken: token,
	})
	if err != nil {
		return Joined{}, err
	}

	select {
	case joined := <-ch:
		return Joined{Peers: joined.Peers, Persisted: joined.Persisted}, nil
	case <-ctx.Done():
		return Joined{}, ctx.Err()
	case <-s.done:
		return Joined{}, s.closeError()
	}
}

// enableRoomPersistence sends enable_persistence and waits for the ack.
func (s *Session) enableRoomPersistence(ctx context.Context, roomID string) error {
	ch := make(chan error, 1)
	s.mu.Lock()
	if s.closed {
		reason := s.closeReasonLocked()
		s.mu.Unlock()
		return reason
	}
	s.persistAcks[roomID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.persistAcks, roomID)
		s.mu.Unlock()
	}()

	err := s.writeFrame(protocol.FrameTypeEnablePersistence, protocol.EnablePersistence{
		RoomID: roomID,
	})
	if err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.closeError()
	}
}

func (s *Session) writeFrame(frameType byte, body any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteFrame(s.conn, frameType, body)
}

// readLoop is the sole reader of the connection, dispatching frames to
// their waiters until the connection drops or the relay closes us.
func (s *Session) readLoop() {
	for {
		frame, err := protocol.ReadFrame(s.conn)
		if err != nil {
			s.shutdown(nil)
			return
		}

		switch frame.Type {
		case protocol.FrameTypeJoined:
			var joined protocol.Joined
			if err := frame.Decode(&joined); err != nil {
				s.logger.Warn("malformed joined frame", "error", err)
				continue
			}
			s.mu.Lock()
			ch := s.joins[joined.RoomID]
			s.mu.Unlock()
			if ch != nil {
				ch <- joined
			}

		case protocol.FrameTypePersistenceEnabled:
			var enabled protocol.PersistenceEnabled
			if err := frame.Decode(&enabled); err != nil {
				s.logger.Warn("malformed persistence_enabled frame", "error", err)
				continue
			}
			s.mu.Lock()
			ch := s.persistAcks[enabled.RoomID]
			s.mu.Unlock()
			if ch != nil {
				ch <- nil
			}

		case protocol.FrameTypeSyncResponse:
			var response protocol.SyncResponse
			if err := frame.Decode(&response); err != nil {
				s.logger.Warn("malformed sync_response frame", "error", err)
				continue
			}
			s.mu.Lock()
			ch, ok := s.syncs[response.RequestID]
			delete(s.syncs, response.RequestID)
			s.mu.Unlock()
			if !ok {
				// Late answer to a request that already timed out.
				s.logger.Debug("dropping sync response with unknown request id",
					"request_id", response.RequestID,
				)
				continue
			}
			ch <- response

		case protocol.FrameTypeStore:
			s.handleRemoteStore(frame)

		case protocol.FrameTypeError:
			var errorInfo protocol.ErrorInfo
			if err := frame.Decode(&errorInfo); err != nil {
				s.logger.Warn("malformed error frame", "error", err)
				continue
			}
			if errorInfo.Code == "persistence_unavailable" {
				err := fmt.Errorf("session: %s: %s", errorInfo.Code, errorInfo.Message)
				s.mu.Lock()
				for roomID, ch := range s.persistAcks {
					delete(s.persistAcks, roomID)
					ch <- err
				}
				s.mu.Unlock()
				continue
			}
			s.logger.Warn("relay reported error",
				"code", errorInfo.Code,
				"message", errorInfo.Message,
			)

		case protocol.FrameTypeClose:
			var closeBody protocol.Close
			if err := frame.Decode(&closeBody); err == nil &&
				closeBody.Code == protocol.CloseCodePolicyViolation {
				s.logger.Warn("relay rejected room auth",
					"reason", closeBody.Reason,
				)
				s.shutdown(ErrAuthRejected)
				return
			}
			s.shutdown(nil)
			return

		default:
			s.logger.Debug("dropping unexpected frame", "type", frame.Type)
		}
	}
}

// handleRemoteStore decrypts a peer's broadcast payload and hands it to
// the update callback. Undecryptable payloads are dropped: a peer with
// a different secret cannot inject data into the document.
func (s *Session) handleRemoteStore(frame protocol.Frame) {
	if s.onRemoteUpdate == nil || s.ephemeral {
		return
	}
	var store protocol.Store
	if err := frame.Decode(&store); err != nil {
		s.logger.Warn("malformed store frame", "error", err)
		return
	}
	sealed := store.EncryptedUpdate
	if sealed == nil {
		sealed = store.EncryptedState
	}
	if sealed == nil {
		return
	}

	key, err := s.deriver.Derive(context.Background(), s.secret, scopekey.DocumentScope(store.DocID))
	if err != nil {
		s.logger.Warn("deriving key for broadcast", "doc_id", store.DocID, "error", err)
		return
	}
	plaintext, err := envelope.Open(key, sealed)
	if err != nil {
		s.logger.Warn("dropping undecryptable broadcast", "doc_id", store.DocID)
		return
	}
	s.onRemoteUpdate(store.DocID, plaintext)
}

func (s *Session) closeReasonLocked() error {
	if s.closeReason != nil {
		return s.closeReason
	}
	return ErrClosed
}

func (s *Session) closeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReasonLocked()
}

func (s *Session) shutdown(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeReason = reason
	close(s.done)
	s.mu.Unlock()

	s.conn.Close()
	s.deriver.Close()
}
