package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/ids"
)

// SQLiteStore is a single-file Store for small deployments and local runs.
// It owns its *sql.DB. Writes use immediate transactions so AppendMessage is atomic.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("conversation: empty sqlite path")
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conversation: sqlite init: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_a TEXT NOT NULL,
			user_b TEXT NOT NULL,
			last_message_id TEXT NULL,
			last_message_at TEXT NULL,
			unread_a INTEGER NOT NULL DEFAULT 0 CHECK (unread_a >= 0),
			unread_b INTEGER NOT NULL DEFAULT 0 CHECK (unread_b >= 0),
			next_seq INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			CHECK (user_a < user_b),
			UNIQUE(user_a, user_b)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			sender_id TEXT NOT NULL,
			body TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			client_msg_id TEXT NULL,
			sent_at TEXT NOT NULL,
			edited INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			edited_at TEXT NULL,
			deleted_at TEXT NULL,
			UNIQUE(conversation_id, seq),
			UNIQUE(conversation_id, client_msg_id)
		)`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			reader_id TEXT NOT NULL,
			read_at TEXT NOT NULL,
			PRIMARY KEY (message_id, reader_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages(conversation_id, seq DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_a ON conversations(user_a)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_b ON conversations(user_b)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return s.ensureMessageColumns("edited_at", "deleted_at")
}

// ensureMessageColumns adds nullable TEXT columns missing from files created by older builds.
func (s *SQLiteStore) ensureMessageColumns(names ...string) error {
	rows, err := s.db.Query(`PRAGMA table_info(messages)`)
	if err != nil {
		return err
	}
	have := make(map[string]bool, 16)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			_ = rows.Close()
			return err
		}
		have[name] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, name := range names {
		if have[name] {
			continue
		}
		if _, err := s.db.Exec(`ALTER TABLE messages ADD COLUMN ` + name + ` TEXT NULL`); err != nil {
			return fmt.Errorf("add column %s: %w", name, err)
		}
	}
	return nil
}

const sqliteConversationCols = `id, user_a, user_b, last_message_id, last_message_at, unread_a, unread_b, created_at`

const sqliteMessageCols = `id, conversation_id, seq, sender_id, body, type, COALESCE(client_msg_id, ''), sent_at, edited, deleted, edited_at, deleted_at`

func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (Conversation, error) {
	const op = "conversation.FindOrCreate"
	a, b, err := CanonicalPair(userA, userB)
	if err != nil {
		return Conversation{}, OpError{Op: op, Kind: err}
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_a, user_b, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_a, user_b) DO NOTHING`,
		id, a, b, formatTS(now),
	); err != nil {
		return Conversation{}, fmt.Errorf("%s: insert: %w", op, err)
	}

	c, err := scanSQLiteConversation(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteConversationCols+` FROM conversations WHERE user_a = ? AND user_b = ?`, a, b))
	if err != nil {
		return Conversation{}, fmt.Errorf("%s: select: %w", op, err)
	}
	return c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	const op = "conversation.Get"
	id = strings.TrimSpace(id)
	if id == "" {
		return Conversation{}, opErr(op, ErrInvalidInput, "missing id")
	}

	c, err := scanSQLiteConversation(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteConversationCols+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, opErr(op, ErrNotFound, id)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return false, nil
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ? AND (user_a = ? OR user_b = ?)`,
		conversationID, userID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conversation.IsParticipant: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	const op = "conversation.AppendMessage"
	if err := validateAppend(op, &in); err != nil {
		return AppendMessageResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		conv Conversation
		seq  int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT user_a, user_b, next_seq FROM conversations WHERE id = ?`, in.ConversationID,
	).Scan(&conv.UserA, &conv.UserB, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return AppendMessageResult{}, opErr(op, ErrNotFound, in.ConversationID)
	}
	if err != nil {
		return AppendMessageResult{}, fmt.Errorf("%s: load conversation: %w", op, err)
	}
	if !conv.Has(in.SenderID) {
		return AppendMessageResult{}, opErr(op, ErrNotParticipant, "")
	}
	recipient := conv.Peer(in.SenderID)

	if in.ClientMsgID != "" {
		existing, err := scanSQLiteMessage(tx.QueryRowContext(ctx,
			`SELECT `+sqliteMessageCols+` FROM messages WHERE conversation_id = ? AND client_msg_id = ?`,
			in.ConversationID, in.ClientMsgID))
		if err == nil {
			return AppendMessageResult{Message: existing, RecipientID: recipient, Duplicated: true}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return AppendMessageResult{}, fmt.Errorf("%s: dedupe: %w", op, err)
		}
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return AppendMessageResult{}, err
	}
	sentAt := formatTS(in.Now)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, sender_id, body, type, client_msg_id, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)`,
		id, in.ConversationID, seq, in.SenderID, in.Body, string(in.Type), in.ClientMsgID, sentAt,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations
		    SET next_seq = next_seq + 1,
		        last_message_id = ?,
		        last_message_at = ?,
		        unread_a = unread_a + CASE WHEN user_a = ? THEN 1 ELSE 0 END,
		        unread_b = unread_b + CASE WHEN user_b = ? THEN 1 ELSE 0 END
		  WHERE id = ?`,
		id, sentAt, recipient, recipient, in.ConversationID,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AppendMessageResult{}, err
	}

	return AppendMessageResult{
		Message: Message{
			ID:             id,
			ConversationID: in.ConversationID,
			Seq:            seq,
			SenderID:       in.SenderID,
			Body:           in.Body,
			Type:           in.Type,
			ClientMsgID:    in.ClientMsgID,
			SentAt:         in.Now.UTC(),
		},
		RecipientID: recipient,
	}, nil
}

func (s *SQLiteStore) IncrementUnread(ctx context.Context, conversationID, recipientID string) error {
	return s.execUnread(ctx, "conversation.IncrementUnread", conversationID, recipientID,
		`UPDATE conversations
		    SET unread_a = unread_a + CASE WHEN user_a = ?1 THEN 1 ELSE 0 END,
		        unread_b = unread_b + CASE WHEN user_b = ?1 THEN 1 ELSE 0 END
		  WHERE id = ?2 AND (user_a = ?1 OR user_b = ?1)`)
}

func (s *SQLiteStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	return s.execUnread(ctx, "conversation.ResetUnread", conversationID, userID,
		`UPDATE conversations
		    SET unread_a = CASE WHEN user_a = ?1 THEN 0 ELSE unread_a END,
		        unread_b = CASE WHEN user_b = ?1 THEN 0 ELSE unread_b END
		  WHERE id = ?2 AND (user_a = ?1 OR user_b = ?1)`)
}

func (s *SQLiteStore) execUnread(ctx context.Context, op, conversationID, userID, query string) error {
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return opErr(op, ErrInvalidInput, "conversation_id and user_id are required")
	}

	res, err := s.db.ExecContext(ctx, query, userID, conversationID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetConversation(ctx, conversationID); err != nil {
			return err
		}
		return opErr(op, ErrNotParticipant, "")
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) (MessagePage, error) {
	const op = "conversation.ListMessages"
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return MessagePage{}, opErr(op, ErrInvalidInput, "missing conversation_id")
	}
	limit = ClampLimit(limit)
	offset = clampOffset(offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMessageCols+` FROM messages
		  WHERE conversation_id = ? AND deleted = 0
		  ORDER BY seq DESC
		  LIMIT ? OFFSET ?`,
		conversationID, limit+1, offset,
	)
	if err != nil {
		return MessagePage{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit+1)
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return MessagePage{}, fmt.Errorf("%s: scan: %w", op, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return MessagePage{}, fmt.Errorf("%s: %w", op, err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return MessagePage{Messages: msgs, HasMore: hasMore}, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const op = "conversation.ListConversations"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, opErr(op, ErrInvalidInput, "missing user_id")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteConversationCols+` FROM conversations
		  WHERE user_a = ? OR user_b = ?
		  ORDER BY COALESCE(last_message_at, created_at) DESC, id DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, 8)
	for rows.Next() {
		c, err := scanSQLiteConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (Message, error) {
	const op = "conversation.GetMessage"
	id = strings.TrimSpace(id)
	if id == "" {
		return Message{}, opErr(op, ErrInvalidInput, "missing id")
	}

	m, err := scanSQLiteMessage(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMessageCols+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, opErr(op, ErrNotFound, id)
	}
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func (s *SQLiteStore) EditMessage(ctx context.Context, in EditMessageInput) (Message, error) {
	const op = "conversation.EditMessage"
	if err := validateEdit(op, &in); err != nil {
		return Message{}, err
	}

	m, err := scanSQLiteMessage(s.db.QueryRowContext(ctx,
		`UPDATE messages
		    SET body = ?, edited = 1, edited_at = ?
		  WHERE id = ? AND sender_id = ? AND deleted = 0
		RETURNING `+sqliteMessageCols,
		in.Body, formatTS(in.Now), in.MessageID, in.EditorID))
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := s.GetMessage(ctx, in.MessageID)
		if err != nil {
			return Message{}, err
		}
		if err := checkMutable(op, existing, in.EditorID); err != nil {
			return Message{}, err
		}
		return Message{}, opErr(op, ErrMessageDeleted, "")
	}
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, messageID, userID string, at time.Time) (Message, error) {
	const op = "conversation.DeleteMessage"
	messageID = strings.TrimSpace(messageID)
	userID = strings.TrimSpace(userID)
	if messageID == "" || userID == "" {
		return Message{}, opErr(op, ErrInvalidInput, "message_id and user_id are required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	m, err := scanSQLiteMessage(s.db.QueryRowContext(ctx,
		`UPDATE messages
		    SET deleted = 1, deleted_at = ?
		  WHERE id = ? AND sender_id = ? AND deleted = 0
		RETURNING `+sqliteMessageCols,
		formatTS(at), messageID, userID))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}

	existing, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if existing.SenderID != userID {
		return Message{}, opErr(op, ErrNotSender, "")
	}
	return existing, nil
}

func (s *SQLiteStore) SearchMessages(ctx context.Context, userID, term string, limit int) ([]Message, error) {
	const op = "conversation.SearchMessages"
	userID = strings.TrimSpace(userID)
	term = strings.TrimSpace(term)
	if userID == "" || term == "" {
		return nil, opErr(op, ErrInvalidInput, "user_id and term are required")
	}
	limit = ClampSearchLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMessageCols+` FROM messages
		  WHERE conversation_id IN (SELECT id FROM conversations WHERE user_a = ?1 OR user_b = ?1)
		    AND deleted = 0
		    AND lower(body) LIKE ?2 ESCAPE '\'
		  ORDER BY sent_at DESC, id DESC
		  LIMIT ?3`,
		userID, likePattern(term), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, r ReadReceipt) error {
	const op = "conversation.MarkRead"
	r.MessageID = strings.TrimSpace(r.MessageID)
	r.ReaderID = strings.TrimSpace(r.ReaderID)
	if r.MessageID == "" || r.ReaderID == "" {
		return opErr(op, ErrInvalidInput, "message_id and reader_id are required")
	}
	if r.ReadAt.IsZero() {
		r.ReadAt = time.Now().UTC()
	}

	m, err := s.GetMessage(ctx, r.MessageID)
	if err != nil {
		return err
	}
	ok, err := s.IsParticipant(ctx, m.ConversationID, r.ReaderID)
	if err != nil {
		return err
	}
	if !ok {
		return opErr(op, ErrNotParticipant, "")
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO read_receipts (message_id, reader_id, read_at) VALUES (?, ?, ?)
		 ON CONFLICT (message_id, reader_id) DO UPDATE SET read_at = excluded.read_at`,
		r.MessageID, r.ReaderID, formatTS(r.ReadAt),
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	const op = "conversation.MarkConversationRead"
	conversationID = strings.TrimSpace(conversationID)
	readerID = strings.TrimSpace(readerID)
	if conversationID == "" || readerID == "" {
		return 0, opErr(op, ErrInvalidInput, "conversation_id and reader_id are required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	c, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !c.Has(readerID) {
		return 0, opErr(op, ErrNotParticipant, "")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO read_receipts (message_id, reader_id, read_at)
		 SELECT id, ?, ? FROM messages WHERE conversation_id = ? AND sender_id <> ?
		 ON CONFLICT (message_id, reader_id) DO NOTHING`,
		readerID, formatTS(at), conversationID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReadAt returns when readerID read messageID.
func (s *SQLiteStore) ReadAt(ctx context.Context, messageID, readerID string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT read_at FROM read_receipts WHERE message_id = ? AND reader_id = ?`, messageID, readerID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := parseTS(raw)
	return at, err == nil, err
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteConversation(row sqliteScanner) (Conversation, error) {
	var (
		c         Conversation
		lastID    sql.NullString
		lastAt    sql.NullString
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.UserA, &c.UserB, &lastID, &lastAt, &c.UnreadA, &c.UnreadB, &createdAt); err != nil {
		return Conversation{}, err
	}
	if lastID.Valid {
		v := lastID.String
		c.LastMessageID = &v
	}
	if lastAt.Valid {
		t, err := parseTS(lastAt.String)
		if err != nil {
			return Conversation{}, err
		}
		c.LastMessageAt = &t
	}
	t, err := parseTS(createdAt)
	if err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = t
	return c, nil
}

func scanSQLiteMessage(row sqliteScanner) (Message, error) {
	var (
		m         Message
		typ       string
		sentAt    string
		editedAt  sql.NullString
		deletedAt sql.NullString
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.Body, &typ, &m.ClientMsgID, &sentAt, &m.Edited, &m.Deleted, &editedAt, &deletedAt); err != nil {
		return Message{}, err
	}
	m.Type = MessageType(typ)
	t, err := parseTS(sentAt)
	if err != nil {
		return Message{}, err
	}
	m.SentAt = t
	if m.EditedAt, err = parseNullTS(editedAt); err != nil {
		return Message{}, err
	}
	if m.DeletedAt, err = parseNullTS(deletedAt); err != nil {
		return Message{}, err
	}
	return m, nil
}

func parseNullTS(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTS(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Timestamps are stored as fixed-width RFC3339 text so ORDER BY on the column is chronological.
const sqliteTSLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTS(t time.Time) string {
	return t.UTC().Format(sqliteTSLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTSLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}
