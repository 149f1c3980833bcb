package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Verifications stores single-use verification records. Row deletion is the
// consumption primitive: rows-affected counts make exactly-once decisions.
type Verifications interface {
	repository.Repository[*VerificationRecord]

	GetActive(ctx context.Context, userID uuid.UUID, kind VerificationKind) (*VerificationRecord, error)
	GetActiveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, kind VerificationKind) (*VerificationRecord, error)

	GetBySecret(ctx context.Context, kind VerificationKind, secret string) (*VerificationRecord, error)
	GetBySecretTx(ctx context.Context, tx bun.IDB, kind VerificationKind, secret string) (*VerificationRecord, error)

	DeleteForUser(ctx context.Context, userID uuid.UUID, kind VerificationKind) (int64, error)
	DeleteForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, kind VerificationKind) (int64, error)

	DeleteRecord(ctx context.Context, id uuid.UUID) (int64, error)
	DeleteRecordTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (int64, error)

	PurgeExpired(ctx context.Context, kind VerificationKind, now time.Time) (int64, error)
	PurgeExpiredTx(ctx context.Context, tx bun.IDB, kind VerificationKind, now time.Time) (int64, error)
}

type verifications struct {
	repository.Repository[*VerificationRecord]
	db *bun.DB
}

var (
	_ Verifications                              = (*verifications)(nil)
	_ repository.Repository[*VerificationRecord] = (*verifications)(nil)
)

func NewVerificationsRepository(db *bun.DB) Verifications {
	repo := repository.NewRepository[*VerificationRecord](db, repository.ModelHandlers[*VerificationRecord]{
		NewRecord: func() *VerificationRecord { return &VerificationRecord{} },
		GetID: func(r *VerificationRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *VerificationRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "secret"
		},
	})

	return &verifications{
		Repository: repo,
		db:         db,
	}
}

func (a *verifications) CreateTx(ctx context.Context, tx bun.IDB, record *VerificationRecord, criteria ...repository.InsertCriteria) (*VerificationRecord, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *verifications) GetActive(ctx context.Context, userID uuid.UUID, kind VerificationKind) (*VerificationRecord, error) {
	return a.GetActiveTx(ctx, a.db, userID, kind)
}

func (a *verifications) GetActiveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, kind VerificationKind) (*VerificationRecord, error) {
	record := &VerificationRecord{}

	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.kind = ?", kind).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if isNoRows(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id": userID.String(),
					"kind":    string(kind),
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *verifications) GetBySecret(ctx context.Context, kind VerificationKind, secret string) (*VerificationRecord, error) {
	return a.GetBySecretTx(ctx, a.db, kind, secret)
}

func (a *verifications) GetBySecretTx(ctx context.Context, tx bun.IDB, kind VerificationKind, secret string) (*VerificationRecord, error) {
	record := &VerificationRecord{}

	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.kind = ?", kind).
		Where("?TableAlias.secret = ?", secret).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if isNoRows(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"kind": string(kind),
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *verifications) DeleteForUser(ctx context.Context, userID uuid.UUID, kind VerificationKind) (int64, error) {
	return a.DeleteForUserTx(ctx, a.db, userID, kind)
}

func (a *verifications) DeleteForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, kind VerificationKind) (int64, error) {
	res, err := tx.NewDelete().
		Model((*VerificationRecord)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.kind = ?", kind).
		Exec(ctx)

	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (a *verifications) DeleteRecord(ctx context.Context, id uuid.UUID) (int64, error) {
	return a.DeleteRecordTx(ctx, a.db, id)
}

func (a *verifications) DeleteRecordTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (int64, error) {
	res, err := tx.NewDelete().
		Model((*VerificationRecord)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)

	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (a *verifications) PurgeExpired(ctx context.Context, kind VerificationKind, now time.Time) (int64, error) {
	return a.PurgeExpiredTx(ctx, a.db, kind, now)
}

func (a *verifications) PurgeExpiredTx(ctx context.Context, tx bun.IDB, kind VerificationKind, now time.Time) (int64, error) {
	res, err := tx.NewDelete().
		Model((*VerificationRecord)(nil)).
		Where("?TableAlias.kind = ?", kind).
		Where("?TableAlias.expires_at IS NOT NULL").
		Where("?TableAlias.expires_at <= ?", now).
		Exec(ctx)

	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	if repository.IsRecordNotFound(err) {
		return true
	}
	return strings.Contains(err.Error(), "no rows in result set")
}
