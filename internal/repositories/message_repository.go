package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkRoomRead(ctx context.Context, roomID, readerID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID             string    `db:"id"`
	RoomID         string    `db:"room_id"`
	SenderID       string    `db:"sender_id"`
	SenderName     string    `db:"sender_name"`
	Content        string    `db:"content"`
	Type           string    `db:"type"`
	AttachmentURL  string    `db:"attachment_url"`
	AttachmentName string    `db:"attachment_name"`
	AttachmentSize int64     `db:"attachment_size"`
	AttachmentKind string    `db:"attachment_kind"`
	Read           bool      `db:"read"`
	Deleted        bool      `db:"deleted"`
	CreatedAt      time.Time `db:"created_at"`
}

func (row messageRow) toModel() models.Message {
	msg := models.Message{
		ID:         row.ID,
		RoomID:     row.RoomID,
		SenderID:   row.SenderID,
		SenderName: row.SenderName,
		Content:    row.Content,
		Type:       models.MessageType(row.Type),
		Status:     models.StatusSent,
		Read:       row.Read,
		Deleted:    row.Deleted,
		CreatedAt:  row.CreatedAt,
	}
	if row.Read {
		msg.Status = models.StatusRead
	}
	if row.AttachmentURL != "" {
		msg.Attachment = &models.Attachment{
			URL:  row.AttachmentURL,
			Name: row.AttachmentName,
			Size: row.AttachmentSize,
			Kind: models.MessageType(row.AttachmentKind),
		}
	}
	return msg
}

const messageColumns = `m.id, m.room_id, m.sender_id, u.name AS sender_name, m.content, m.type,
    m.attachment_url, m.attachment_name, m.attachment_size, m.attachment_kind,
    m.read, m.deleted, m.created_at`

// CreateMessage stores a message, assigning its id and timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	id := uuid.NewString()

	var attachmentURL, attachmentName, attachmentKind string
	var attachmentSize int64
	if msg.Attachment != nil {
		attachmentURL = msg.Attachment.URL
		attachmentName = msg.Attachment.Name
		attachmentSize = msg.Attachment.Size
		attachmentKind = string(msg.Attachment.Kind)
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO messages
        (id, room_id, sender_id, content, type, attachment_url, attachment_name, attachment_size, attachment_kind)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, msg.RoomID, msg.SenderID, msg.Content, string(msg.Type),
		attachmentURL, attachmentName, attachmentSize, attachmentKind)
	if err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, id)
}

// ListRoomMessages returns the room history in chronological order.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var rows []messageRow
	query := `SELECT ` + messageColumns + `
        FROM messages m INNER JOIN users u ON u.id = m.sender_id
        WHERE m.room_id=$1 AND m.deleted = FALSE
        ORDER BY m.created_at ASC`
	if err := r.db.SelectContext(ctx, &rows, query, roomID); err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	query := `SELECT ` + messageColumns + `
        FROM messages m INNER JOIN users u ON u.id = m.sender_id WHERE m.id=$1`
	err := r.db.GetContext(ctx, &row, query, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// MarkRoomRead flags every message in the room not authored by the reader as
// read, returning how many were flipped.
func (r *MessageRepo) MarkRoomRead(ctx context.Context, roomID, readerID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE
        WHERE room_id=$1 AND sender_id<>$2 AND read = FALSE`, roomID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
