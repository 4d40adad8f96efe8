package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arqady01/chatllm/core/db"
	"github.com/arqady01/chatllm/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_conversations (
	id            BIGINT PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	context_limit INTEGER,
	temperature   DOUBLE PRECISION,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id                   BIGINT PRIMARY KEY,
	conversation_id      BIGINT NOT NULL,
	kind                 TEXT NOT NULL,
	role                 TEXT NOT NULL,
	content              TEXT NOT NULL DEFAULT '',
	image_ref            TEXT NOT NULL DEFAULT '',
	image_data           TEXT,
	image_mime_type      TEXT,
	exclude_from_context BOOLEAN NOT NULL DEFAULT FALSE,
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS chat_messages_conversation_idx ON chat_messages (conversation_id, id);

CREATE TABLE IF NOT EXISTS chat_config (
	id       SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	api_key  TEXT NOT NULL,
	base_url TEXT NOT NULL,
	model    TEXT NOT NULL
);
`

var (
	conversationColumns = []string{"id", "name", "description", "context_limit", "temperature", "created_at", "updated_at"}
	messageColumns      = []string{
		"id", "conversation_id", "kind", "role", "content", "image_ref",
		"image_data", "image_mime_type", "exclude_from_context", "created_at",
	}
)

// PostgresBackend stores chat data in three tables.
type PostgresBackend struct {
	db *db.DB
}

// NewPostgresBackend creates the tables if needed.
func NewPostgresBackend(ctx context.Context, database *db.DB) (*PostgresBackend, error) {
	if _, err := database.Pool().Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating chat schema: %w", err)
	}
	return &PostgresBackend{db: database}, nil
}

func (b *PostgresBackend) LoadMessages(ctx context.Context) ([]model.Message, error) {
	rows, err := b.db.Pool().Query(ctx, `
		SELECT id, conversation_id, kind, role, content, image_ref,
		       image_data, image_mime_type, exclude_from_context, created_at
		FROM chat_messages
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		var (
			m         model.Message
			kind      string
			role      string
			imageData *string
			imageMIME *string
		)
		err := row.Scan(&m.ID, &m.ConversationID, &kind, &role, &m.Content, &m.ImageRef,
			&imageData, &imageMIME, &m.ExcludeFromContext, &m.Timestamp)
		if err != nil {
			return model.Message{}, err
		}
		m.Kind = model.Kind(kind)
		m.Role = model.Role(role)
		if imageData != nil && *imageData != "" {
			m.Image = &model.ImagePayload{Data: *imageData}
			if imageMIME != nil {
				m.Image.MimeType = *imageMIME
			}
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning messages: %w", err)
	}
	return msgs, nil
}

func (b *PostgresBackend) SaveMessages(ctx context.Context, msgs []model.Message) error {
	return b.db.WithTx(ctx, func(q db.Querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM chat_messages`); err != nil {
			return fmt.Errorf("clearing messages: %w", err)
		}

		rows := make([][]any, len(msgs))
		for i, m := range msgs {
			var imageData, imageMIME *string
			if m.Image != nil {
				imageData = &m.Image.Data
				imageMIME = &m.Image.MimeType
			}
			rows[i] = []any{
				m.ID, m.ConversationID, string(m.Kind), string(m.Role), m.Content, m.ImageRef,
				imageData, imageMIME, m.ExcludeFromContext, m.Timestamp,
			}
		}

		if _, err := q.CopyFrom(ctx, pgx.Identifier{"chat_messages"}, messageColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copying messages: %w", err)
		}
		return nil
	})
}

func (b *PostgresBackend) LoadConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := b.db.Pool().Query(ctx, `
		SELECT id, name, description, context_limit, temperature, created_at, updated_at
		FROM chat_conversations
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	convs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Conversation, error) {
		var (
			c     model.Conversation
			limit *int32
		)
		if err := row.Scan(&c.ID, &c.Name, &c.Description, &limit, &c.Temperature, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return model.Conversation{}, err
		}
		if limit != nil {
			n := int(*limit)
			c.ContextLimit = &n
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning conversations: %w", err)
	}
	return convs, nil
}

func (b *PostgresBackend) SaveConversations(ctx context.Context, convs []model.Conversation) error {
	return b.db.WithTx(ctx, func(q db.Querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM chat_conversations`); err != nil {
			return fmt.Errorf("clearing conversations: %w", err)
		}

		rows := make([][]any, len(convs))
		for i, c := range convs {
			var limit *int32
			if c.ContextLimit != nil {
				n := int32(*c.ContextLimit)
				limit = &n
			}
			rows[i] = []any{c.ID, c.Name, c.Description, limit, c.Temperature, c.CreatedAt, c.UpdatedAt}
		}

		if _, err := q.CopyFrom(ctx, pgx.Identifier{"chat_conversations"}, conversationColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copying conversations: %w", err)
		}
		return nil
	})
}

func (b *PostgresBackend) LoadConfig(ctx context.Context) (*model.ChatConfig, error) {
	var cfg model.ChatConfig
	err := b.db.Pool().QueryRow(ctx, `SELECT api_key, base_url, model FROM chat_config WHERE id = 1`).
		Scan(&cfg.APIKey, &cfg.BaseURL, &cfg.Model)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying config: %w", err)
	}
	return &cfg, nil
}

func (b *PostgresBackend) SaveConfig(ctx context.Context, cfg model.ChatConfig) error {
	_, err := b.db.Pool().Exec(ctx, `
		INSERT INTO chat_config (id, api_key, base_url, model)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET api_key = EXCLUDED.api_key, base_url = EXCLUDED.base_url, model = EXCLUDED.model`,
		cfg.APIKey, cfg.BaseURL, cfg.Model)
	if err != nil {
		return fmt.Errorf("upserting config: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Clear(ctx context.Context) error {
	return b.db.WithTx(ctx, func(q db.Querier) error {
		_, err := q.Exec(ctx, `TRUNCATE chat_messages, chat_conversations, chat_config`)
		return err
	})
}

func (b *PostgresBackend) Close() error {
	b.db.Close()
	return nil
}
