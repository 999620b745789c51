package repository

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-session"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileDraftRecord is the Bun model of a saved profile draft. There is at
// most one draft per user; its ID is derived from the user ID.
type ProfileDraftRecord struct {
	bun.BaseModel `bun:"table:profile_drafts"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	UserID    string    `bun:"user_id,notnull,unique"`
	Name      string    `bun:"name"`
	Avatar    string    `bun:"avatar"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// DraftRepository implements session.DraftStore.
type DraftRepository struct {
	repository.Repository[*ProfileDraftRecord]
	db *bun.DB
}

var _ session.DraftStore = (*DraftRepository)(nil)

func NewDraftRepository(db *bun.DB) *DraftRepository {
	repo := repository.NewRepository[*ProfileDraftRecord](db, repository.ModelHandlers[*ProfileDraftRecord]{
		NewRecord: func() *ProfileDraftRecord { return &ProfileDraftRecord{} },
		GetID: func(r *ProfileDraftRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *ProfileDraftRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "user_id"
		},
	})

	return &DraftRepository{Repository: repo, db: db}
}

// SaveDraft implements session.DraftStore.
func (r *DraftRepository) SaveDraft(ctx context.Context, draft session.ProfileDraft) error {
	id, err := draftID(draft.UserID)
	if err != nil {
		return err
	}

	record := &ProfileDraftRecord{
		ID:        id,
		UserID:    draft.UserID,
		Name:      draft.Name,
		Avatar:    draft.Avatar,
		UpdatedAt: draft.UpdatedAt,
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	_, err = r.Repository.GetByID(ctx, id.String())
	switch {
	case repository.IsRecordNotFound(err):
		_, err = r.Repository.Create(ctx, record)
	case err == nil:
		_, err = r.Repository.Update(ctx, record, repository.UpdateByID(id.String()))
	}
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save profile draft")
	}
	return nil
}

// LoadDraft implements session.DraftStore.
func (r *DraftRepository) LoadDraft(ctx context.Context, userID string) (*session.ProfileDraft, error) {
	id, err := draftID(userID)
	if err != nil {
		return nil, err
	}

	record, err := r.Repository.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load profile draft")
	}

	return &session.ProfileDraft{
		UserID:    record.UserID,
		Name:      record.Name,
		Avatar:    record.Avatar,
		UpdatedAt: record.UpdatedAt,
	}, nil
}

// ClearDraft implements session.DraftStore.
func (r *DraftRepository) ClearDraft(ctx context.Context, userID string) error {
	_, err := r.db.NewDelete().
		Model((*ProfileDraftRecord)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func draftID(userID string) (uuid.UUID, error) {
	if userID == "" {
		return uuid.Nil, session.ErrNotAuthenticated
	}
	id, err := hashid.NewUUID(userID)
	if err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive draft id")
	}
	return id, nil
}
