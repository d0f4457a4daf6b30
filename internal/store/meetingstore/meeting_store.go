package meetingstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChatMessage is one durable transcript entry. Past messages are append-only
// and never rewritten by this service.
type ChatMessage struct {
	SenderID string    `json:"sender_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// DisplayInfo is the public identity shown next to presence and chat events.
type DisplayInfo struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

const redisUserKeyPrefix = "usr:"

var (
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrUserNotFound    = errors.New("user not found")
)

type IMeetingStore interface {
	IsMeetingActive(ctx context.Context, meetingID string) (bool, error)
	GetMeetingAdmin(ctx context.Context, meetingID string) (string, error)
	IsAuthorizedParticipant(ctx context.Context, userID, meetingID string) (bool, error)
	AppendChatMessage(ctx context.Context, meetingID string, msg ChatMessage) error
	SetMeetingInactive(ctx context.Context, meetingID string) error
	ResolveUserDisplayInfo(ctx context.Context, userID string) (*DisplayInfo, error)
	AddMeetingParticipant(ctx context.Context, meetingID, userID string) error
	RemoveMeetingParticipant(ctx context.Context, meetingID, userID string) error
}

type meetingStore struct {
	rdc      *redis.Client
	db       *sql.DB
	cacheTTL time.Duration
}

func NewMeetingStore(rdc *redis.Client, db *sql.DB, cacheTTL time.Duration) IMeetingStore {
	return &meetingStore{
		rdc:      rdc,
		db:       db,
		cacheTTL: cacheTTL,
	}
}

func (st *meetingStore) IsMeetingActive(ctx context.Context, meetingID string) (bool, error) {
	var active bool
	err := st.db.QueryRowContext(ctx,
		`SELECT is_active FROM meetings WHERE id = $1`, meetingID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrMeetingNotFound
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

func (st *meetingStore) GetMeetingAdmin(ctx context.Context, meetingID string) (string, error) {
	var admin string
	err := st.db.QueryRowContext(ctx,
		`SELECT admin_id FROM meetings WHERE id = $1`, meetingID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMeetingNotFound
	}
	if err != nil {
		return "", err
	}
	return admin, nil
}

// IsAuthorizedParticipant reports whether the user belongs to the community
// that owns the meeting.
func (st *meetingStore) IsAuthorizedParticipant(ctx context.Context, userID, meetingID string) (bool, error) {
	const q = `
	  SELECT EXISTS (
	    SELECT 1
	      FROM meetings m
	      JOIN community_members cm ON cm.community_id = m.community_id
	     WHERE m.id = $1 AND cm.user_id = $2
	  )`
	var ok bool
	if err := st.db.QueryRowContext(ctx, q, meetingID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (st *meetingStore) AppendChatMessage(ctx context.Context, meetingID string, msg ChatMessage) error {
	const ins = `
	  INSERT INTO meeting_chat (meeting_id, sender_id, text, sent_at)
	       VALUES ($1, $2, $3, $4)`
	_, err := st.db.ExecContext(ctx, ins, meetingID, msg.SenderID, msg.Text, msg.SentAt)
	return err
}

// SetMeetingInactive flips the meeting record and detaches it from its
// community in one transaction, so a half-ended meeting is never visible.
func (st *meetingStore) SetMeetingInactive(ctx context.Context, meetingID string) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
	  UPDATE meetings
	     SET is_active = FALSE, ended_at = now()
	   WHERE id = $1 AND is_active`, meetingID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMeetingNotFound
	}

	if _, err := tx.ExecContext(ctx, `
	  UPDATE communities
	     SET active_meeting = NULL
	   WHERE active_meeting = $1`, meetingID); err != nil {
		return err
	}

	return tx.Commit()
}

func (st *meetingStore) ResolveUserDisplayInfo(ctx context.Context, userID string) (*DisplayInfo, error) {
	// 1. Fast-path - serve directly from Redis
	if snap, _ := st.rdc.HGetAll(ctx, redisUserKeyPrefix+userID).Result(); len(snap) != 0 {
		return &DisplayInfo{
			UserID:    userID,
			Username:  snap["un"],
			FullName:  snap["fn"],
			AvatarURL: snap["av"],
		}, nil
	}

	// 2. Otherwise go to Postgres
	const q = `SELECT username, coalesce(full_name,''), coalesce(profile_picture,'')
	             FROM users WHERE id = $1`
	info := &DisplayInfo{UserID: userID}
	err := st.db.QueryRowContext(ctx, q, userID).
		Scan(&info.Username, &info.FullName, &info.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	// Refill the cache; display info going briefly stale is acceptable.
	key := redisUserKeyPrefix + userID
	if err := st.rdc.HSet(ctx, key,
		"un", info.Username,
		"fn", info.FullName,
		"av", info.AvatarURL,
	).Err(); err != nil {
		zap.L().Warn("meetingstore.cache_fill", zap.Error(err))
	} else {
		_ = st.rdc.Expire(ctx, key, st.cacheTTL).Err()
	}

	return info, nil
}

func (st *meetingStore) AddMeetingParticipant(ctx context.Context, meetingID, userID string) error {
	const ins = `
	  INSERT INTO meeting_participants (meeting_id, user_id)
	       VALUES ($1, $2)
	  ON CONFLICT DO NOTHING`
	_, err := st.db.ExecContext(ctx, ins, meetingID, userID)
	return err
}

func (st *meetingStore) RemoveMeetingParticipant(ctx context.Context, meetingID, userID string) error {
	_, err := st.db.ExecContext(ctx,
		`DELETE FROM meeting_participants WHERE meeting_id = $1 AND user_id = $2`,
		meetingID, userID)
	return err
}
