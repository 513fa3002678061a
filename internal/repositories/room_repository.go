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

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("user is not a room member")
)

// RoomRepository abstracts room and membership persistence.
type RoomRepository interface {
	ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	GetRoom(ctx context.Context, roomID, viewerID string) (models.Room, error)
	CreateOrGetPersonalRoom(ctx context.Context, userID, otherID string) (models.Room, error)
	CreateGroup(ctx context.Context, ownerID, name, description string, memberIDs []string) (models.Room, error)
	AddMembers(ctx context.Context, roomID string, memberIDs []string) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	DeleteRoom(ctx context.Context, roomID string) error
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error)
	MemberIDs(ctx context.Context, roomID string) ([]string, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

type roomRow struct {
	ID          string    `db:"id"`
	Kind        string    `db:"kind"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	AvatarURL   string    `db:"avatar_url"`
	CreatedAt   time.Time `db:"created_at"`
}

type memberRow struct {
	UserID  string `db:"user_id"`
	Name    string `db:"name"`
	IsAdmin bool   `db:"is_admin"`
}

// ListRoomsForUser returns the user's rooms ordered by latest activity, each
// annotated with members, the last-message preview, and the unread count.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	var rows []roomRow
	query := `SELECT ro.id, ro.kind, ro.name, ro.description, ro.avatar_url, ro.created_at
        FROM rooms ro
        INNER JOIN room_members rm ON rm.room_id = ro.id
        WHERE rm.user_id = $1
        ORDER BY COALESCE((SELECT MAX(m.created_at) FROM messages m WHERE m.room_id = ro.id), ro.created_at) DESC`
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	rooms := make([]models.Room, 0, len(rows))
	for _, row := range rows {
		room, err := r.hydrate(ctx, row, userID)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// GetRoom fetches one room with membership, resolving the peer for personal
// rooms from the viewer's perspective.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID, viewerID string) (models.Room, error) {
	var row roomRow
	err := r.db.GetContext(ctx, &row, `SELECT id, kind, name, description, avatar_url, created_at FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, err
	}
	return r.hydrate(ctx, row, viewerID)
}

func (r *RoomRepo) hydrate(ctx context.Context, row roomRow, viewerID string) (models.Room, error) {
	room := models.Room{
		ID:          row.ID,
		Kind:        models.RoomKind(row.Kind),
		Name:        row.Name,
		Description: row.Description,
		AvatarURL:   row.AvatarURL,
		Active:      true,
		CreatedAt:   row.CreatedAt,
	}

	var members []memberRow
	err := r.db.SelectContext(ctx, &members, `SELECT rm.user_id, u.name, rm.is_admin
        FROM room_members rm INNER JOIN users u ON u.id = rm.user_id
        WHERE rm.room_id=$1 ORDER BY u.name ASC`, row.ID)
	if err != nil {
		return models.Room{}, err
	}

	for _, m := range members {
		if room.Kind == models.RoomPersonal {
			if m.UserID != viewerID {
				peer := models.UserRef{ID: m.UserID, Name: m.Name}
				room.Peer = &peer
			}
			continue
		}
		room.Members = append(room.Members, models.UserRef{ID: m.UserID, Name: m.Name})
		if m.IsAdmin {
			room.AdminIDs = append(room.AdminIDs, m.UserID)
		}
	}

	var preview struct {
		Content   string    `db:"content"`
		SenderID  string    `db:"sender_id"`
		Type      string    `db:"type"`
		CreatedAt time.Time `db:"created_at"`
	}
	err = r.db.GetContext(ctx, &preview, `SELECT content, sender_id, type, created_at
        FROM messages WHERE room_id=$1 AND deleted = FALSE
        ORDER BY created_at DESC LIMIT 1`, row.ID)
	if err == nil {
		room.LastMessage = &models.MessagePreview{
			Content:   preview.Content,
			SenderID:  preview.SenderID,
			Type:      models.MessageType(preview.Type),
			CreatedAt: preview.CreatedAt,
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, err
	}

	err = r.db.GetContext(ctx, &room.Unread, `SELECT COUNT(*) FROM messages
        WHERE room_id=$1 AND sender_id<>$2 AND read = FALSE AND deleted = FALSE`, row.ID, viewerID)
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// CreateOrGetPersonalRoom returns the existing one-to-one room between two
// users or creates it.
func (r *RoomRepo) CreateOrGetPersonalRoom(ctx context.Context, userID, otherID string) (models.Room, error) {
	if userID == otherID {
		return models.Room{}, errors.New("cannot create chat with self")
	}

	var roomID string
	query := `SELECT ro.id FROM rooms ro
        INNER JOIN room_members a ON a.room_id = ro.id AND a.user_id = $1
        INNER JOIN room_members b ON b.room_id = ro.id AND b.user_id = $2
        WHERE ro.kind = 'personal' LIMIT 1`
	err := r.db.GetContext(ctx, &roomID, query, userID, otherID)
	if err == nil {
		return r.GetRoom(ctx, roomID, userID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	roomID = uuid.NewString()
	if _, err = tx.ExecContext(ctx, `INSERT INTO rooms (id, kind) VALUES ($1, 'personal')`, roomID); err != nil {
		return models.Room{}, err
	}
	for _, id := range []string{userID, otherID} {
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, roomID, id); err != nil {
			return models.Room{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return r.GetRoom(ctx, roomID, userID)
}

// CreateGroup creates a group room and its members atomically. The owner is
// always a member and the initial admin.
func (r *RoomRepo) CreateGroup(ctx context.Context, ownerID, name, description string, memberIDs []string) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	roomID := uuid.NewString()
	if _, err = tx.ExecContext(ctx, `INSERT INTO rooms (id, kind, name, description) VALUES ($1, 'group', $2, $3)`, roomID, name, description); err != nil {
		return models.Room{}, err
	}

	memberSet := map[string]struct{}{ownerID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	for id := range memberSet {
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id, is_admin) VALUES ($1, $2, $3)`, roomID, id, id == ownerID); err != nil {
			return models.Room{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return r.GetRoom(ctx, roomID, ownerID)
}

// AddMembers inserts users into a group, ignoring ones already present.
func (r *RoomRepo) AddMembers(ctx context.Context, roomID string, memberIDs []string) error {
	for _, id := range memberIDs {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)
            ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveMember drops one membership row.
func (r *RoomRepo) RemoveMember(ctx context.Context, roomID, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM room_members WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotMember
	}
	return nil
}

// DeleteRoom removes a room; memberships and messages cascade.
func (r *RoomRepo) DeleteRoom(ctx context.Context, roomID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rooms WHERE id=$1`, roomID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// IsMember checks whether a user belongs to the room.
func (r *RoomRepo) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// IsRoomAdmin checks whether a user is in the room's admin set.
func (r *RoomRepo) IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2 AND is_admin = TRUE)`, roomID, userID)
	return exists, err
}

// MemberIDs returns the ids of all room participants.
func (r *RoomRepo) MemberIDs(ctx context.Context, roomID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM room_members WHERE room_id=$1`, roomID)
	return ids, err
}
