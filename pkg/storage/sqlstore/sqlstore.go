// Package sqlstore implements storage.Store over database/sql. It is
// dialect-agnostic and is embedded by the sqlite and postgres drivers.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/turn"
)

// Dialect selects placeholder style and schema details.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store provides storage operations over a *sql.DB. It is embedded by the
// specific drivers in pkg/storage/sqlite and pkg/storage/postgres.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// timeFormat is a fixed-width UTC layout so lexical ordering matches
// chronological ordering in TEXT columns.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		turn_count INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active
		ON sessions(user_id) WHERE ended_at IS NULL;

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		user_id TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		user_text TEXT NOT NULL,
		assistant_text TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		token_count_user INTEGER NOT NULL DEFAULT 0,
		token_count_assistant INTEGER NOT NULL DEFAULT 0,
		tier TEXT NOT NULL,
		tier_changed_at TEXT NOT NULL,
		criticality INTEGER NOT NULL DEFAULT 0,
		UNIQUE(session_id, sequence_number)
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_user ON turns(user_id);
	CREATE INDEX IF NOT EXISTS idx_turns_tier ON turns(session_id, tier);

	CREATE TABLE IF NOT EXISTS tier_transitions (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL REFERENCES turns(id),
		from_tier TEXT NOT NULL,
		to_tier TEXT NOT NULL,
		transitioned_at TEXT NOT NULL,
		reason TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_turn ON tier_transitions(turn_id);
	`

	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $n for the postgres dialect.
func (s *Store) rebind(query string) string {
	if s.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) CreateSession(ctx context.Context, userID string) (*turn.Session, error) {
	sess := &turn.Session{
		ID:        turn.NewID(),
		UserID:    userID,
		StartedAt: time.Now().UTC(),
	}

	// Check first for a friendly error; the partial unique index backstops
	// the race.
	var existing string
	err := s.DB.QueryRowContext(ctx,
		s.rebind(`SELECT id FROM sessions WHERE user_id = ? AND ended_at IS NULL LIMIT 1`),
		userID,
	).Scan(&existing)
	if err == nil {
		return nil, storage.ErrActiveSessionExists
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("checking active session: %w", err)
	}

	_, err = s.DB.ExecContext(ctx,
		s.rebind(`INSERT INTO sessions (id, user_id, started_at) VALUES (?, ?, ?)`),
		sess.ID, sess.UserID, formatTime(sess.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*turn.Session, error) {
	return s.scanSession(s.DB.QueryRowContext(ctx,
		s.rebind(`SELECT id, user_id, started_at, ended_at, turn_count, total_tokens
			FROM sessions WHERE id = ?`),
		sessionID,
	), sessionID)
}

func (s *Store) ActiveSession(ctx context.Context, userID string) (*turn.Session, error) {
	return s.scanSession(s.DB.QueryRowContext(ctx,
		s.rebind(`SELECT id, user_id, started_at, ended_at, turn_count, total_tokens
			FROM sessions WHERE user_id = ? AND ended_at IS NULL LIMIT 1`),
		userID,
	), "")
}

func (s *Store) scanSession(row *sql.Row, id string) (*turn.Session, error) {
	var sess turn.Session
	var started string
	var ended sql.NullString

	err := row.Scan(&sess.ID, &sess.UserID, &started, &ended, &sess.TurnCount, &sess.TotalTokens)
	if err == sql.ErrNoRows {
		return nil, storage.NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.StartedAt = parseTime(started)
	if ended.Valid {
		sess.EndedAt = parseTime(ended.String)
	}
	return &sess, nil
}

// EndSession marks the session ended. The guard on ended_at lets only one
// of several racing ends write; everyone reads back the timestamp that
// actually landed.
func (s *Store) EndSession(ctx context.Context, sessionID string) (*turn.Session, error) {
	_, err := s.DB.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`),
		formatTime(time.Now().UTC()), sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("ending session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) AppendTurn(ctx context.Context, sessionID, userText string) (*turn.Turn, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback()

	var ended sql.NullString
	var userID string
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT user_id, ended_at FROM sessions WHERE id = ?`),
		sessionID,
	).Scan(&userID, &ended)
	if err == sql.ErrNoRows {
		return nil, storage.NotFoundError{Kind: "session", ID: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if ended.Valid {
		return nil, storage.ErrSessionEnded
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM turns WHERE session_id = ?`),
		sessionID,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("computing sequence number: %w", err)
	}

	now := time.Now().UTC()
	t := &turn.Turn{
		ID:             turn.NewID(),
		SessionID:      sessionID,
		UserID:         userID,
		SequenceNumber: seq,
		UserText:       userText,
		CreatedAt:      now,
		TokenCountUser: turn.EstimateTokens(userText),
		Tier:           turn.TierHot,
		TierChangedAt:  now,
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO turns
			(id, session_id, user_id, sequence_number, user_text, created_at,
			 token_count_user, tier, tier_changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.SessionID, t.UserID, t.SequenceNumber, t.UserText,
		formatTime(t.CreatedAt), t.TokenCountUser, string(t.Tier), formatTime(t.TierChangedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting turn: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET turn_count = turn_count + 1,
			total_tokens = total_tokens + ? WHERE id = ?`),
		t.TokenCountUser, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating session counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}
	return t, nil
}

func (s *Store) CompleteTurn(ctx context.Context, turnID, assistantText string, userTokens, assistantTokens int) (*turn.Turn, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning complete: %w", err)
	}
	defer tx.Rollback()

	t, err := s.getTurnTx(ctx, tx, turnID)
	if err != nil {
		return nil, err
	}

	if userTokens <= 0 {
		userTokens = t.TokenCountUser
	}
	if assistantTokens <= 0 {
		assistantTokens = turn.EstimateTokens(assistantText)
	}
	delta := int64(userTokens-t.TokenCountUser) + int64(assistantTokens-t.TokenCountAssistant)

	t.AssistantText = assistantText
	t.Completed = true
	t.TokenCountUser = userTokens
	t.TokenCountAssistant = assistantTokens

	_, err = tx.ExecContext(ctx,
		s.rebind(`UPDATE turns SET assistant_text = ?, completed = 1,
			token_count_user = ?, token_count_assistant = ? WHERE id = ?`),
		t.AssistantText, t.TokenCountUser, t.TokenCountAssistant, t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("completing turn: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET total_tokens = total_tokens + ? WHERE id = ?`),
		delta, t.SessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating session tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing complete: %w", err)
	}
	return t, nil
}

const turnColumns = `id, session_id, user_id, sequence_number, user_text,
	assistant_text, completed, created_at, token_count_user,
	token_count_assistant, tier, tier_changed_at, criticality`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*turn.Turn, error) {
	var t turn.Turn
	var created, tierChanged, tier string
	var completed, criticality int64

	err := row.Scan(&t.ID, &t.SessionID, &t.UserID, &t.SequenceNumber,
		&t.UserText, &t.AssistantText, &completed, &created,
		&t.TokenCountUser, &t.TokenCountAssistant, &tier, &tierChanged, &criticality)
	if err != nil {
		return nil, err
	}

	t.Completed = completed != 0
	t.Criticality = criticality != 0
	t.CreatedAt = parseTime(created)
	t.TierChangedAt = parseTime(tierChanged)
	t.Tier = turn.Tier(tier)
	return &t, nil
}

func (s *Store) getTurnTx(ctx context.Context, tx *sql.Tx, turnID string) (*turn.Turn, error) {
	t, err := scanTurn(tx.QueryRowContext(ctx,
		s.rebind(`SELECT `+turnColumns+` FROM turns WHERE id = ?`), turnID))
	if err == sql.ErrNoRows {
		return nil, storage.NotFoundError{Kind: "turn", ID: turnID}
	}
	if err != nil {
		return nil, fmt.Errorf("scanning turn: %w", err)
	}
	return t, nil
}

func (s *Store) GetTurn(ctx context.Context, turnID string) (*turn.Turn, error) {
	t, err := scanTurn(s.DB.QueryRowContext(ctx,
		s.rebind(`SELECT `+turnColumns+` FROM turns WHERE id = ?`), turnID))
	if err == sql.ErrNoRows {
		return nil, storage.NotFoundError{Kind: "turn", ID: turnID}
	}
	if err != nil {
		return nil, fmt.Errorf("scanning turn: %w", err)
	}
	return t, nil
}

func (s *Store) GetTurns(ctx context.Context, sessionID string, offset, limit int) ([]*turn.Turn, error) {
	if limit <= 0 {
		limit = storage.MaxUserTurns
	}
	rows, err := s.DB.QueryContext(ctx,
		s.rebind(`SELECT `+turnColumns+` FROM turns WHERE session_id = ?
			ORDER BY sequence_number LIMIT ? OFFSET ?`),
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (s *Store) GetTurnsForUser(ctx context.Context, userID string, limit int) ([]*turn.Turn, error) {
	if limit <= 0 || limit > storage.MaxUserTurns {
		limit = storage.MaxUserTurns
	}

	// Newest turns win the cap; re-sort ascending afterwards.
	rows, err := s.DB.QueryContext(ctx,
		s.rebind(`SELECT `+turnColumns+` FROM (
			SELECT t.*, s.started_at AS session_started
			FROM turns t JOIN sessions s ON s.id = t.session_id
			WHERE t.user_id = ?
			ORDER BY s.started_at DESC, t.sequence_number DESC
			LIMIT ?
		) AS u ORDER BY u.session_started, u.sequence_number`),
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying user turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (s *Store) GetTurnsByTier(ctx context.Context, sessionID string, tier turn.Tier) ([]*turn.Turn, error) {
	rows, err := s.DB.QueryContext(ctx,
		s.rebind(`SELECT `+turnColumns+` FROM turns
			WHERE session_id = ? AND tier = ? ORDER BY sequence_number`),
		sessionID, string(tier),
	)
	if err != nil {
		return nil, fmt.Errorf("querying tier turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (s *Store) ListTurns(ctx context.Context, offset, limit int) ([]*turn.Turn, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.QueryContext(ctx,
		s.rebind(`SELECT `+turnColumns+` FROM turns ORDER BY id LIMIT ? OFFSET ?`),
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

func collectTurns(rows *sql.Rows) ([]*turn.Turn, error) {
	var out []*turn.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return out, nil
}

func (s *Store) TransitionTier(ctx context.Context, turnID string, to turn.Tier, reason string, override bool) (*turn.Transition, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transition: %w", err)
	}
	defer tx.Rollback()

	tr, err := s.transitionTx(ctx, tx, turnID, to, reason, override)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}
	return tr, nil
}

// transitionTx writes the transition-log entry and the tier mutation inside
// one transaction so neither is visible without the other.
func (s *Store) transitionTx(ctx context.Context, tx *sql.Tx, turnID string, to turn.Tier, reason string, override bool) (*turn.Transition, error) {
	t, err := s.getTurnTx(ctx, tx, turnID)
	if err != nil {
		return nil, err
	}
	if !override && !t.Tier.CanAdvanceTo(to) {
		return nil, storage.ErrTierRegression
	}

	now := time.Now().UTC()
	tr := &turn.Transition{
		TurnID:         turnID,
		FromTier:       t.Tier,
		ToTier:         to,
		TransitionedAt: now,
		Reason:         reason,
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO tier_transitions (id, turn_id, from_tier, to_tier, transitioned_at, reason)
			VALUES (?, ?, ?, ?, ?, ?)`),
		turn.NewID(), tr.TurnID, string(tr.FromTier), string(tr.ToTier),
		formatTime(tr.TransitionedAt), tr.Reason,
	)
	if err != nil {
		return nil, fmt.Errorf("logging transition: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`UPDATE turns SET tier = ?, tier_changed_at = ? WHERE id = ?`),
		string(to), formatTime(now), turnID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating tier: %w", err)
	}
	return tr, nil
}

func (s *Store) TransitionSessionTurns(ctx context.Context, sessionID string, from, to turn.Tier, reason string) ([]*turn.Transition, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning bulk transition: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		s.rebind(`SELECT id FROM turns WHERE session_id = ? AND tier = ? ORDER BY sequence_number`),
		sessionID, string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("selecting turns for bulk transition: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning turn id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn ids: %w", err)
	}

	var out []*turn.Transition
	for _, id := range ids {
		tr, err := s.transitionTx(ctx, tx, id, to, reason, false)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing bulk transition: %w", err)
	}
	return out, nil
}

func (s *Store) GetTransitions(ctx context.Context, turnID string) ([]*turn.Transition, error) {
	rows, err := s.DB.QueryContext(ctx,
		s.rebind(`SELECT turn_id, from_tier, to_tier, transitioned_at, reason
			FROM tier_transitions WHERE turn_id = ? ORDER BY id`),
		turnID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var out []*turn.Transition
	for rows.Next() {
		var tr turn.Transition
		var from, to, at string
		if err := rows.Scan(&tr.TurnID, &from, &to, &at, &tr.Reason); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		tr.FromTier = turn.Tier(from)
		tr.ToTier = turn.Tier(to)
		tr.TransitionedAt = parseTime(at)
		out = append(out, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return out, nil
}

func (s *Store) SetCriticality(ctx context.Context, turnID string, critical bool) error {
	v := 0
	if critical {
		v = 1
	}
	res, err := s.DB.ExecContext(ctx,
		s.rebind(`UPDATE turns SET criticality = ? WHERE id = ?`), v, turnID)
	if err != nil {
		return fmt.Errorf("setting criticality: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.NotFoundError{Kind: "turn", ID: turnID}
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, sessionID string) (*storage.SessionStats, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stats := &storage.SessionStats{
		SessionID:   sessionID,
		TurnCount:   sess.TurnCount,
		TotalTokens: sess.TotalTokens,
	}

	rows, err := s.DB.QueryContext(ctx,
		s.rebind(`SELECT tier, COUNT(*) FROM turns WHERE session_id = ? GROUP BY tier`),
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tier counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tier string
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("scanning tier count: %w", err)
		}
		switch turn.Tier(tier) {
		case turn.TierHot:
			stats.HotTurns = count
		case turn.TierWarm:
			stats.WarmTurns = count
		case turn.TierCold:
			stats.ColdTurns = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tier counts: %w", err)
	}
	return stats, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

var _ storage.Store = (*Store)(nil)
