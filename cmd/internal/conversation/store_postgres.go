package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/ids"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - AppendMessage takes a per-conversation transactional advisory lock, so seq allocation,
//     the last-message pointer and the unread increment commit together in order.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "chat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("conversation: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("conversation: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "chat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("conversation: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate creates the schema objects the store needs. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	conversations := s.table("conversations")
	cursors := s.table("conversation_cursors")
	messages := s.table("messages")
	receipts := s.table("read_receipts")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id              TEXT PRIMARY KEY,
  user_a          TEXT NOT NULL,
  user_b          TEXT NOT NULL,
  last_message_id TEXT NULL,
  last_message_at TIMESTAMPTZ NULL,
  unread_a        INTEGER NOT NULL DEFAULT 0 CHECK (unread_a >= 0),
  unread_b        INTEGER NOT NULL DEFAULT 0 CHECK (unread_b >= 0),
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_conversations_pair_order CHECK (user_a < user_b),
  CONSTRAINT uq_conversations_pair UNIQUE (user_a, user_b)
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id TEXT PRIMARY KEY REFERENCES %s(id) ON DELETE CASCADE,
  next_seq        BIGINT NOT NULL DEFAULT 1,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  id              TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  seq             BIGINT NOT NULL,
  sender_id       TEXT NOT NULL,
  body            TEXT NOT NULL,
  type            TEXT NOT NULL DEFAULT 'text' CHECK (type IN ('text', 'image', 'file', 'audio')),
  client_msg_id   TEXT NULL,
  sent_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
  edited          BOOLEAN NOT NULL DEFAULT false,
  deleted         BOOLEAN NOT NULL DEFAULT false,
  edited_at       TIMESTAMPTZ NULL,
  deleted_at      TIMESTAMPTZ NULL,

  CONSTRAINT uq_messages_conversation_seq UNIQUE (conversation_id, seq),
  CONSTRAINT uq_messages_conversation_client_msg UNIQUE (conversation_id, client_msg_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq_desc
  ON %s (conversation_id, seq DESC);

CREATE TABLE IF NOT EXISTS %s (
  message_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  reader_id  TEXT NOT NULL,
  read_at    TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (message_id, reader_id)
);
`,
		pgx.Identifier{s.schema}.Sanitize(),
		conversations,
		cursors, conversations,
		messages, conversations,
		messages,
		receipts, messages,
	)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("conversation: migrate: %w", err)
	}

	// Tables created before edit and delete timestamps existed.
	alter := fmt.Sprintf(`
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS edited_at TIMESTAMPTZ NULL;
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS deleted_at TIMESTAMPTZ NULL;
`, messages)
	if _, err := s.pool.Exec(ctx, alter); err != nil {
		return fmt.Errorf("conversation: migrate columns: %w", err)
	}
	return nil
}

// ErrSchemaMissing is returned by CheckSchema when a table or column the store needs is absent.
var ErrSchemaMissing = errors.New("conversation: schema not migrated")

// CheckSchema verifies that every table Migrate creates exists, including the newest message
// columns. It does not modify anything.
func (s *PostgresStore) CheckSchema(ctx context.Context) error {
	for _, name := range []string{"conversations", "conversation_cursors", "messages", "read_receipts"} {
		var found *string
		if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, s.table(name)).Scan(&found); err != nil {
			return fmt.Errorf("conversation: check schema: %w", err)
		}
		if found == nil {
			return fmt.Errorf("%w: table %s.%s", ErrSchemaMissing, s.schema, name)
		}
	}

	var cols int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM information_schema.columns
		  WHERE table_schema = $1 AND table_name = 'messages' AND column_name IN ('edited_at', 'deleted_at')`,
		s.schema,
	).Scan(&cols); err != nil {
		return fmt.Errorf("conversation: check schema: %w", err)
	}
	if cols != 2 {
		return fmt.Errorf("%w: messages.edited_at/deleted_at", ErrSchemaMissing)
	}
	return nil
}

const pgConversationCols = `id, user_a, user_b, last_message_id, last_message_at, unread_a, unread_b, created_at`

const pgMessageCols = `id, conversation_id, seq, sender_id, body, type, COALESCE(client_msg_id, ''), sent_at, edited, deleted, edited_at, deleted_at`

func (s *PostgresStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (Conversation, error) {
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

	conversations := s.table("conversations")

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+conversations+` (id, user_a, user_b, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_a, user_b) DO NOTHING`,
		id, a, b, now,
	); err != nil {
		return Conversation{}, fmt.Errorf("%s: insert: %w", op, err)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+pgConversationCols+` FROM `+conversations+` WHERE user_a = $1 AND user_b = $2`,
		a, b,
	)
	c, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("%s: select: %w", op, err)
	}
	return c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	const op = "conversation.Get"
	id = strings.TrimSpace(id)
	if id == "" {
		return Conversation{}, opErr(op, ErrInvalidInput, "missing id")
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+pgConversationCols+` FROM `+s.table("conversations")+` WHERE id = $1`,
		id,
	)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, opErr(op, ErrNotFound, id)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return false, nil
	}

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+s.table("conversations")+` WHERE id = $1 AND (user_a = $2 OR user_b = $2)`,
		conversationID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conversation.IsParticipant: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	const op = "conversation.AppendMessage"
	if err := validateAppend(op, &in); err != nil {
		return AppendMessageResult{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := s.table("conversations")
	cursors := s.table("conversation_cursors")
	messages := s.table("messages")

	// hashtextextended reduces collision risk vs hashtext (still a hash, but better).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
		return AppendMessageResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	var userA, userB string
	err = tx.QueryRow(ctx,
		`SELECT user_a, user_b FROM `+conversations+` WHERE id = $1 FOR UPDATE`,
		in.ConversationID,
	).Scan(&userA, &userB)
	if errors.Is(err, pgx.ErrNoRows) {
		return AppendMessageResult{}, opErr(op, ErrNotFound, in.ConversationID)
	}
	if err != nil {
		return AppendMessageResult{}, fmt.Errorf("%s: load conversation: %w", op, err)
	}
	conv := Conversation{UserA: userA, UserB: userB}
	if !conv.Has(in.SenderID) {
		return AppendMessageResult{}, opErr(op, ErrNotParticipant, "")
	}
	recipient := conv.Peer(in.SenderID)

	if in.ClientMsgID != "" {
		row := tx.QueryRow(ctx,
			`SELECT `+pgMessageCols+` FROM `+messages+` WHERE conversation_id = $1 AND client_msg_id = $2`,
			in.ConversationID, in.ClientMsgID,
		)
		existing, err := scanMessage(row)
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return AppendMessageResult{}, err
			}
			return AppendMessageResult{Message: existing, RecipientID: recipient, Duplicated: true}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return AppendMessageResult{}, fmt.Errorf("%s: dedupe: %w", op, err)
		}
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (conversation_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return AppendMessageResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE conversation_id = $1
		RETURNING (next_seq - 1)`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return AppendMessageResult{}, err
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, conversation_id, seq, sender_id, body, type, client_msg_id, sent_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		id, in.ConversationID, seq, in.SenderID, in.Body, string(in.Type), in.ClientMsgID, in.Now,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+conversations+`
		    SET last_message_id = $2,
		        last_message_at = $3,
		        unread_a = unread_a + CASE WHEN user_a = $4 THEN 1 ELSE 0 END,
		        unread_b = unread_b + CASE WHEN user_b = $4 THEN 1 ELSE 0 END
		  WHERE id = $1`,
		in.ConversationID, id, in.Now, recipient,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("update conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
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
			SentAt:         in.Now,
		},
		RecipientID: recipient,
	}, nil
}

func (s *PostgresStore) IncrementUnread(ctx context.Context, conversationID, recipientID string) error {
	return s.execUnread(ctx, "conversation.IncrementUnread", conversationID, recipientID,
		`UPDATE `+s.table("conversations")+`
		    SET unread_a = unread_a + CASE WHEN user_a = $2 THEN 1 ELSE 0 END,
		        unread_b = unread_b + CASE WHEN user_b = $2 THEN 1 ELSE 0 END
		  WHERE id = $1 AND (user_a = $2 OR user_b = $2)`)
}

func (s *PostgresStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	return s.execUnread(ctx, "conversation.ResetUnread", conversationID, userID,
		`UPDATE `+s.table("conversations")+`
		    SET unread_a = CASE WHEN user_a = $2 THEN 0 ELSE unread_a END,
		        unread_b = CASE WHEN user_b = $2 THEN 0 ELSE unread_b END
		  WHERE id = $1 AND (user_a = $2 OR user_b = $2)`)
}

func (s *PostgresStore) execUnread(ctx context.Context, op, conversationID, userID, query string) error {
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return opErr(op, ErrInvalidInput, "conversation_id and user_id are required")
	}

	tag, err := s.pool.Exec(ctx, query, conversationID, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrForbidden(ctx, op, conversationID)
	}
	return nil
}

func (s *PostgresStore) missingOrForbidden(ctx context.Context, op, conversationID string) error {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		if IsNotFound(err) {
			return opErr(op, ErrNotFound, conversationID)
		}
		return err
	}
	return opErr(op, ErrNotParticipant, "")
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) (MessagePage, error) {
	const op = "conversation.ListMessages"
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return MessagePage{}, opErr(op, ErrInvalidInput, "missing conversation_id")
	}
	limit = ClampLimit(limit)
	offset = clampOffset(offset)

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMessageCols+`
		   FROM `+s.table("messages")+`
		  WHERE conversation_id = $1 AND NOT deleted
		  ORDER BY seq DESC
		  LIMIT $2 OFFSET $3`,
		conversationID, limit+1, offset,
	)
	if err != nil {
		return MessagePage{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit+1)
	for rows.Next() {
		m, err := scanMessage(rows)
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

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const op = "conversation.ListConversations"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, opErr(op, ErrInvalidInput, "missing user_id")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgConversationCols+`
		   FROM `+s.table("conversations")+`
		  WHERE user_a = $1 OR user_b = $1
		  ORDER BY COALESCE(last_message_at, created_at) DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, 8)
	for rows.Next() {
		c, err := scanConversation(rows)
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

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (Message, error) {
	const op = "conversation.GetMessage"
	id = strings.TrimSpace(id)
	if id == "" {
		return Message{}, opErr(op, ErrInvalidInput, "missing id")
	}

	row := s.pool.QueryRow(ctx, `SELECT `+pgMessageCols+` FROM `+s.table("messages")+` WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, opErr(op, ErrNotFound, id)
	}
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func (s *PostgresStore) EditMessage(ctx context.Context, in EditMessageInput) (Message, error) {
	const op = "conversation.EditMessage"
	if err := validateEdit(op, &in); err != nil {
		return Message{}, err
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table("messages")+`
		    SET body = $3, edited = true, edited_at = $4
		  WHERE id = $1 AND sender_id = $2 AND NOT deleted
		RETURNING `+pgMessageCols,
		in.MessageID, in.EditorID, in.Body, in.Now,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, s.whyImmutable(ctx, op, in.MessageID, in.EditorID)
	}
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID, userID string, at time.Time) (Message, error) {
	const op = "conversation.DeleteMessage"
	messageID = strings.TrimSpace(messageID)
	userID = strings.TrimSpace(userID)
	if messageID == "" || userID == "" {
		return Message{}, opErr(op, ErrInvalidInput, "message_id and user_id are required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table("messages")+`
		    SET deleted = true, deleted_at = $3
		  WHERE id = $1 AND sender_id = $2 AND NOT deleted
		RETURNING `+pgMessageCols,
		messageID, userID, at,
	)
	m, err := scanMessage(row)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}

	// Already deleted by the sender: return the stored row unchanged.
	existing, err := s.GetMessage(ctx, messageID)
	if err != nil {
		if IsNotFound(err) {
			return Message{}, opErr(op, ErrNotFound, messageID)
		}
		return Message{}, err
	}
	if existing.SenderID != userID {
		return Message{}, opErr(op, ErrNotSender, "")
	}
	return existing, nil
}

// whyImmutable explains a conditional update that matched no row.
func (s *PostgresStore) whyImmutable(ctx context.Context, op, messageID, userID string) error {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		if IsNotFound(err) {
			return opErr(op, ErrNotFound, messageID)
		}
		return err
	}
	if err := checkMutable(op, m, userID); err != nil {
		return err
	}
	// Changed between the update and the lookup.
	return opErr(op, ErrMessageDeleted, "")
}

func (s *PostgresStore) SearchMessages(ctx context.Context, userID, term string, limit int) ([]Message, error) {
	const op = "conversation.SearchMessages"
	userID = strings.TrimSpace(userID)
	term = strings.TrimSpace(term)
	if userID == "" || term == "" {
		return nil, opErr(op, ErrInvalidInput, "user_id and term are required")
	}
	limit = ClampSearchLimit(limit)

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMessageCols+`
		   FROM `+s.table("messages")+`
		  WHERE conversation_id IN (
		          SELECT id FROM `+s.table("conversations")+` WHERE user_a = $1 OR user_b = $1)
		    AND NOT deleted
		    AND lower(body) LIKE $2 ESCAPE '\'
		  ORDER BY sent_at DESC, id DESC
		  LIMIT $3`,
		userID, likePattern(term), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
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

func (s *PostgresStore) MarkRead(ctx context.Context, r ReadReceipt) error {
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

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("read_receipts")+` (message_id, reader_id, read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, reader_id) DO UPDATE SET read_at = EXCLUDED.read_at`,
		r.MessageID, r.ReaderID, r.ReadAt,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	const op = "conversation.MarkConversationRead"
	conversationID = strings.TrimSpace(conversationID)
	readerID = strings.TrimSpace(readerID)
	if conversationID == "" || readerID == "" {
		return 0, opErr(op, ErrInvalidInput, "conversation_id and reader_id are required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	ok, err := s.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, s.missingOrForbidden(ctx, op, conversationID)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("read_receipts")+` (message_id, reader_id, read_at)
		 SELECT m.id, $2::text, $3::timestamptz
		   FROM `+s.table("messages")+` m
		  WHERE m.conversation_id = $1 AND m.sender_id <> $2
		 ON CONFLICT (message_id, reader_id) DO NOTHING`,
		conversationID, readerID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) table(name string) string {
	return pgIdent(s.schema, name)
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.UserA, &c.UserB, &c.LastMessageID, &c.LastMessageAt, &c.UnreadA, &c.UnreadB, &c.CreatedAt)
	return c, err
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m   Message
		typ string
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.Body, &typ, &m.ClientMsgID, &m.SentAt, &m.Edited, &m.Deleted, &m.EditedAt, &m.DeletedAt)
	m.Type = MessageType(typ)
	return m, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
