package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Mastinoo/Invictusmessages/internal/mapping"
	_ "modernc.org/sqlite"
)

// Compile-time assertion: *SQLiteStore satisfies mapping.Store.
var _ mapping.Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS forward_mappings (
	guild_id       TEXT    NOT NULL,
	position       INTEGER NOT NULL,
	source_channel TEXT    NOT NULL,
	target_channel TEXT    NOT NULL,
	target_guild   TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (guild_id, position)
)`

// SQLiteStore keeps one row per mapping; position preserves insertion order
// within a guild.
type SQLiteStore struct {
	sqlDB  *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, logger: logger}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load reads every row ordered by guild and position.
func (s *SQLiteStore) Load(ctx context.Context) mapping.Table {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT guild_id, source_channel, target_channel, target_guild
		FROM forward_mappings
		ORDER BY guild_id, position`)
	if err != nil {
		s.logger.Warn("mappings unreadable, starting empty", "backend", "sqlite", "error", err)
		return mapping.Table{}
	}
	defer rows.Close()

	t := mapping.Table{}
	for rows.Next() {
		var guildID string
		var m mapping.Mapping
		if err := rows.Scan(&guildID, &m.Source, &m.Target, &m.TargetGuild); err != nil {
			s.logger.Warn("mappings malformed, starting empty", "backend", "sqlite", "error", err)
			return mapping.Table{}
		}
		if m.Source == "" || m.Target == "" {
			continue
		}
		if m.TargetGuild == guildID {
			m.TargetGuild = ""
		}
		t[guildID] = append(t[guildID], m)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("mappings unreadable, starting empty", "backend", "sqlite", "error", err)
		return mapping.Table{}
	}
	return t
}

// Save replaces all rows inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, t mapping.Table) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM forward_mappings`); err != nil {
		return fmt.Errorf("clear mappings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO forward_mappings (guild_id, position, source_channel, target_channel, target_guild)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, guildID := range t.GuildIDs() {
		for pos, m := range t[guildID] {
			if _, err := stmt.ExecContext(ctx, guildID, pos, m.Source, m.Target, m.TargetGuild); err != nil {
				return fmt.Errorf("insert mapping: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mappings: %w", err)
	}
	return nil
}
