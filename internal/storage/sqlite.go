package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tsutsumi/internal/models"
)

// SQLiteStorage implements Storage using SQLite. The full envelope is stored
// as JSON in the envelopes table; anchors and entities are additionally
// broken out into their own tables for fast lookups without deserializing
// the whole envelope.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if missing.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS envelopes (
		envelope_id TEXT PRIMARY KEY,
		source_uri TEXT NOT NULL,
		source_type TEXT,
		created_at TEXT NOT NULL,
		token_count INTEGER,
		noise_score REAL,
		narrative_hash TEXT,
		envelope_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS anchors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		envelope_id TEXT NOT NULL,
		anchor_id TEXT NOT NULL,
		anchor_type TEXT,
		title TEXT,
		line_start INTEGER,
		line_end INTEGER,
		content TEXT,
		FOREIGN KEY (envelope_id) REFERENCES envelopes(envelope_id),
		UNIQUE(envelope_id, anchor_id)
	);

	CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		envelope_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		anchor_ref TEXT,
		properties_json TEXT NOT NULL,
		source_text TEXT,
		binding_confidence REAL,
		FOREIGN KEY (envelope_id) REFERENCES envelopes(envelope_id)
	);

	CREATE INDEX IF NOT EXISTS idx_anchors_envelope ON anchors(envelope_id);
	CREATE INDEX IF NOT EXISTS idx_anchors_anchor_id ON anchors(anchor_id);
	CREATE INDEX IF NOT EXISTS idx_entities_envelope ON entities(envelope_id);
	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
	CREATE INDEX IF NOT EXISTS idx_entities_anchor ON entities(anchor_ref);
	CREATE INDEX IF NOT EXISTS idx_envelopes_source ON envelopes(source_uri);
	`
	_, err := db.Exec(schema)
	return err
}

// StoreEnvelope upserts the envelope and rewrites its anchor and entity rows
// in a single transaction.
func (s *SQLiteStorage) StoreEnvelope(ctx context.Context, env *models.Envelope) error {
	envJSON, err := env.MarshalWire()
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO envelopes
		 (envelope_id, source_uri, source_type, created_at,
		  token_count, noise_score, narrative_hash, envelope_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ID, env.Source.URI, env.Source.Type,
		time.Now().UTC().Format(time.RFC3339),
		env.Narrative.TokenCount, env.Narrative.NoiseScore,
		env.Integrity.NarrativeHash, string(envJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store envelope: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM anchors WHERE envelope_id = ?`, env.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE envelope_id = ?`, env.ID); err != nil {
		return err
	}

	anchorStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO anchors
		 (envelope_id, anchor_id, anchor_type, title, line_start, line_end, content)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer anchorStmt.Close()

	lines := strings.Split(env.Narrative.Content, "\n")
	for anchorID, a := range env.Anchors {
		content := anchorLines(lines, a.LineStart, a.LineEnd)
		if _, err := anchorStmt.ExecContext(ctx,
			env.ID, anchorID, string(a.Type), a.Title, a.LineStart, a.LineEnd, content,
		); err != nil {
			return fmt.Errorf("failed to store anchor %s: %w", anchorID, err)
		}
	}

	entityStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entities
		 (envelope_id, entity_type, anchor_ref, properties_json, source_text, binding_confidence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer entityStmt.Close()

	for _, ent := range env.Entities {
		propsJSON, err := json.Marshal(ent.Properties)
		if err != nil {
			return fmt.Errorf("failed to marshal entity properties: %w", err)
		}
		if _, err := entityStmt.ExecContext(ctx,
			env.ID, ent.Type, ent.AnchorRef, string(propsJSON),
			ent.SourceText, ent.BindingConfidence,
		); err != nil {
			return fmt.Errorf("failed to store entity: %w", err)
		}
	}

	return tx.Commit()
}

func anchorLines(lines []string, start, end int) string {
	if start >= len(lines) {
		return ""
	}
	if end >= len(lines) {
		end = len(lines) - 1
	}
	return strings.Join(lines[start:end+1], "\n")
}

// GetEnvelope returns the full envelope by ID, or nil when absent.
func (s *SQLiteStorage) GetEnvelope(ctx context.Context, envelopeID string) (*models.Envelope, error) {
	var envJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT envelope_json FROM envelopes WHERE envelope_id = ?`, envelopeID,
	).Scan(&envJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	env, err := models.UnmarshalWire([]byte(envJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope %s: %w", envelopeID, err)
	}
	return env, nil
}

// DeleteEnvelope removes the envelope and its anchor and entity rows.
// Returns false when no envelope with that ID existed.
func (s *SQLiteStorage) DeleteEnvelope(ctx context.Context, envelopeID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE envelope_id = ?`, envelopeID); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM anchors WHERE envelope_id = ?`, envelopeID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM envelopes WHERE envelope_id = ?`, envelopeID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, tx.Commit()
}

// ListEnvelopeIDs returns envelope IDs ordered by creation time, newest first.
func (s *SQLiteStorage) ListEnvelopeIDs(ctx context.Context, offset, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT envelope_id FROM envelopes ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindBySourceURI returns IDs of envelopes built from the given source URI.
// Envelope IDs are content-derived, so this is how a file path maps back to
// its envelope after the file is gone.
func (s *SQLiteStorage) FindBySourceURI(ctx context.Context, sourceURI string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT envelope_id FROM envelopes WHERE source_uri = ?`, sourceURI,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetAnchorContent returns the narrative text spanned by the anchor. The
// second return is false when the anchor does not exist. A leading '#' on
// anchorID is tolerated.
func (s *SQLiteStorage) GetAnchorContent(ctx context.Context, envelopeID, anchorID string) (string, bool, error) {
	anchorID = strings.TrimPrefix(anchorID, "#")

	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM anchors WHERE envelope_id = ? AND anchor_id = ?`,
		envelopeID, anchorID,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

// GetAnchor returns the anchor metadata and its content, or nil when absent.
func (s *SQLiteStorage) GetAnchor(ctx context.Context, envelopeID, anchorID string) (*models.Anchor, string, error) {
	anchorID = strings.TrimPrefix(anchorID, "#")

	var (
		a       models.Anchor
		aType   string
		content string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT anchor_id, anchor_type, title, line_start, line_end, content
		 FROM anchors WHERE envelope_id = ? AND anchor_id = ?`,
		envelopeID, anchorID,
	).Scan(&a.ID, &aType, &a.Title, &a.LineStart, &a.LineEnd, &content)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	a.Type = models.AnchorType(aType)
	return &a, content, nil
}

// GetEntitiesByType queries entities by type across all envelopes.
func (s *SQLiteStorage) GetEntitiesByType(ctx context.Context, entityType string, limit int) ([]EntityRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT envelope_id, entity_type, anchor_ref, properties_json, binding_confidence
		 FROM entities WHERE entity_type = ? LIMIT ?`,
		entityType, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntityRecords(rows)
}

// GetEntitiesByAnchor returns all entities bound to the anchor. The anchor_ref
// column stores '#'-prefixed refs, so a bare anchorID is prefixed before lookup.
func (s *SQLiteStorage) GetEntitiesByAnchor(ctx context.Context, envelopeID, anchorID string) ([]models.Entity, error) {
	ref := anchorID
	if !strings.HasPrefix(ref, "#") {
		ref = "#" + ref
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, anchor_ref, properties_json, source_text, binding_confidence
		 FROM entities WHERE envelope_id = ? AND anchor_ref = ?`,
		envelopeID, ref,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		var (
			ent       models.Entity
			propsJSON string
		)
		if err := rows.Scan(&ent.Type, &ent.AnchorRef, &propsJSON, &ent.SourceText, &ent.BindingConfidence); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(propsJSON), &ent.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity properties: %w", err)
		}
		entities = append(entities, ent)
	}
	return entities, rows.Err()
}

// SearchEntities searches entity properties by substring, optionally filtered
// by type.
func (s *SQLiteStorage) SearchEntities(ctx context.Context, query, entityType string, limit int) ([]EntityRecord, error) {
	pattern := "%" + query + "%"

	var (
		rows *sql.Rows
		err  error
	)
	if entityType != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT envelope_id, entity_type, anchor_ref, properties_json, binding_confidence
			 FROM entities WHERE entity_type = ? AND properties_json LIKE ? LIMIT ?`,
			entityType, pattern, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT envelope_id, entity_type, anchor_ref, properties_json, binding_confidence
			 FROM entities WHERE properties_json LIKE ? LIMIT ?`,
			pattern, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntityRecords(rows)
}

func scanEntityRecords(rows *sql.Rows) ([]EntityRecord, error) {
	var records []EntityRecord
	for rows.Next() {
		var (
			rec       EntityRecord
			propsJSON string
		)
		if err := rows.Scan(&rec.EnvelopeID, &rec.Type, &rec.AnchorRef, &propsJSON, &rec.BindingConfidence); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(propsJSON), &rec.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity properties: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStats returns corpus-wide counts and aggregates.
func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{EntityTypes: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM envelopes`).Scan(&stats.Envelopes); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM anchors`).Scan(&stats.Anchors); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&stats.Entities); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(noise_score), 0), COALESCE(SUM(token_count), 0) FROM envelopes`,
	).Scan(&stats.AvgNoiseScore, &stats.TotalTokens); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, COUNT(*) FROM entities GROUP BY entity_type`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ   string
			count int64
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		stats.EntityTypes[typ] = count
	}
	return stats, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
