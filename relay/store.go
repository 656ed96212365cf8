// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/loom-foundation/loom/lib/clock"
	"github.com/loom-foundation/loom/lib/sqlitepool"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS document_state (
	room_id   TEXT NOT NULL,
	doc_id    TEXT NOT NULL,
	envelope  BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, doc_id)
);

CREATE TABLE IF NOT EXISTS document_updates (
	sequence  INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id   TEXT NOT NULL,
	doc_id    TEXT NOT NULL,
	envelope  BLOB NOT NULL,
	stored_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS document_updates_by_doc
	ON document_updates (room_id, doc_id, sequence);
`

// StoreConfig holds the parameters for opening a durable store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string

	// Logger receives operational messages. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// Clock stamps stored envelopes. If nil, the real clock is used.
	Clock clock.Clock
}

// Store is the relay's durable envelope store. Per (room, document) it
// keeps one state snapshot — replaced on every write, superseding the
// update log — and an append-only log of updates since that snapshot.
// Envelopes are opaque ciphertext to the store and are zstd-compressed
// at rest.
//
// Store is safe for concurrent use.
type Store struct {
	pool    *sqlitepool.Pool
	logger  *slog.Logger
	clock   clock.Clock
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenStore opens (creating if necessary) the store at cfg.Path.
func OpenStore(cfg StoreConfig) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("relay: open store: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("relay: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("relay: zstd decoder: %w", err)
	}

	return &Store{
		pool:    pool,
		logger:  logger,
		clock:   clk,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// PutState replaces the state snapshot for (roomID, docID) and clears
// the document's update log in the same transaction: a snapshot
// supersedes every update that preceded it, so keeping them would only
// grow sync responses with envelopes the snapshot already contains.
func (s *Store) PutState(ctx context.Context, roomID, docID string, envelope []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("relay: begin put-state: %w", err)
	}
	defer endTx(&err)

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO document_state (room_id, doc_id, envelope, stored_at)
		 VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{roomID, docID, s.compress(envelope), s.clock.Now().UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("relay: put state: %w", err)
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM document_updates WHERE room_id = ? AND doc_id = ?`,
		&sqlitex.ExecOptions{Args: []any{roomID, docID}})
	if err != nil {
		return fmt.Errorf("relay: clear superseded updates: %w", err)
	}
	return nil
}

// AppendUpdate appends one update envelope to the document's log.
func (s *Store) AppendUpdate(ctx context.Context, roomID, docID string, envelope []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO document_updates (room_id, doc_id, envelope, stored_at)
		 VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{roomID, docID, s.compress(envelope), s.clock.Now().UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("relay: append update: %w", err)
	}
	return nil
}

// Load returns the stored snapshot (nil if none) and the updates logged
// since it, in append order.
func (s *Store) Load(ctx context.Context, roomID, docID string) (state []byte, updates [][]byte, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`SELECT envelope FROM document_state WHERE room_id = ? AND doc_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{roomID, docID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				compressed := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, compressed)
				state, err = s.decompress(compressed)
				return err
			},
		})
	if err != nil {
		return nil, nil, fmt.Errorf("relay: load state: %w", err)
	}

	err = sqlitex.Execute(conn,
		`SELECT envelope FROM document_updates
		 WHERE room_id = ? AND doc_id = ? ORDER BY sequence`,
		&sqlitex.ExecOptions{
			Args: []any{roomID, docID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				compressed := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, compressed)
				update, decompressErr := s.decompress(compressed)
				if decompressErr != nil {
					return decompressErr
				}
				updates = append(updates, update)
				return nil
			},
		})
	if err != nil {
		return nil, nil, fmt.Errorf("relay: load updates: %w", err)
	}
	return state, updates, nil
}

// Close releases the store's connections and compressors.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.pool.Close()
}

func (s *Store) compress(envelope []byte) []byte {
	return s.encoder.EncodeAll(envelope, nil)
}

func (s *Store) decompress(compressed []byte) ([]byte, error) {
	envelope, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: decompress stored envelope: %w", err)
	}
	return envelope, nil
}
