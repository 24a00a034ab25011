package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo is the durable store for sessions and messages. All methods run
// with the caller's context so deadlines propagate into the engine.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return storageErr("create session", err)
	}
	return nil
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get session", err)
	}
	return &s, nil
}

// InsertMessage appends a message, assigning message_index = MAX+1 and
// bumping the session's updated_at inside one transaction. Concurrent
// writers to the same session can never assign a duplicate index; the
// composite unique index backstops the invariant.
func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int
		if err := tx.Model(&Message{}).
			Where("session_id = ?", m.SessionID).
			Select("COALESCE(MAX(message_index)+1, 0)").
			Scan(&next).Error; err != nil {
			return err
		}
		m.MessageIndex = next
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&Session{}).
			Where("session_id = ?", m.SessionID).
			Update("updated_at", m.Timestamp).Error
	})
	if err != nil {
		return storageErr("insert message", err)
	}
	return nil
}

// ListMessages returns up to limit messages in index order. limit <= 0
// means no bound.
func (r *Repo) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("message_index ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, storageErr("list messages", err)
	}
	return msgs, nil
}

// ListRecentMessages returns the newest messages in index order. The
// worker uses it to build the responder's context window.
func (r *Repo) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("message_index DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, storageErr("list recent messages", err)
	}
	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListSessions returns the owner's sessions, most recently updated first.
func (r *Repo) ListSessions(ctx context.Context, owner string) ([]Session, error) {
	var sessions []Session
	err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("updated_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	return sessions, nil
}

func (r *Repo) RenameSession(ctx context.Context, sessionID, owner, newName string) (*Session, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND owner = ?", sessionID, owner).
		Update("display_name", newName)
	if res.Error != nil {
		return nil, storageErr("rename session", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetSession(ctx, sessionID)
}

// DeleteSession removes the session and its messages in one transaction.
// Returns false when the session did not exist.
func (r *Repo) DeleteSession(ctx context.Context, sessionID, owner string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("session_id = ? AND owner = ?", sessionID, owner).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		if !deleted {
			return nil
		}
		return tx.Where("session_id = ?", sessionID).Delete(&Message{}).Error
	})
	if err != nil {
		return false, storageErr("delete session", err)
	}
	return deleted, nil
}

func (r *Repo) DeleteAllForOwner(ctx context.Context, owner string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner = ?", owner).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("owner = ?", owner).Delete(&Session{}).Error
	})
	if err != nil {
		return storageErr("delete all for owner", err)
	}
	return nil
}

// IncrSearches bumps the owner's search counter, inserting the row on
// first use.
func (r *Repo) IncrSearches(ctx context.Context, owner string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}},
		DoUpdates: clause.Assignments(map[string]any{"searches": gorm.Expr("searches + 1")}),
	}).Create(&SearchStat{Owner: owner, Searches: 1}).Error
	if err != nil {
		return storageErr("incr searches", err)
	}
	return nil
}

func (r *Repo) Searches(ctx context.Context, owner string) (int64, error) {
	var stat SearchStat
	err := r.db.WithContext(ctx).Where("owner = ?", owner).First(&stat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, storageErr("get searches", err)
	}
	return stat.Searches, nil
}

// Reply job CRUD

func (r *Repo) CreateReplyJob(ctx context.Context, job *ReplyJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return storageErr("create reply job", err)
	}
	return nil
}

func (r *Repo) GetReplyJob(ctx context.Context, id string) (*ReplyJob, error) {
	var j ReplyJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get reply job", err)
	}
	return &j, nil
}

// MarkReplyJobRunning claims a queued job. It returns false without
// error when the job is no longer queued, so a redelivered message for
// an already claimed or resolved job is not reprocessed.
func (r *Repo) MarkReplyJobRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ReplyJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning)
	if res.Error != nil {
		return false, storageErr("mark reply job running", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) MarkReplyJobSucceeded(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&ReplyJob{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": JobSucceeded, "error": nil}).Error
	if err != nil {
		return storageErr("mark reply job succeeded", err)
	}
	return nil
}

func (r *Repo) MarkReplyJobFailed(ctx context.Context, id string, errMsg string) error {
	err := r.db.WithContext(ctx).Model(&ReplyJob{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": JobFailed, "error": errMsg}).Error
	if err != nil {
		return storageErr("mark reply job failed", err)
	}
	return nil
}
