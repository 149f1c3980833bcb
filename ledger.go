package auth

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationLedger issues and consumes single-use verification secrets.
// Each (user, kind) pair holds at most one active record; issuing retires
// any predecessor, and a successful Verify deletes the row so a second
// presentation of the same secret fails.
type VerificationLedger interface {
	Issue(ctx context.Context, userID uuid.UUID, kind VerificationKind) (*VerificationRecord, error)
	Verify(ctx context.Context, userID uuid.UUID, kind VerificationKind, secret string) (*VerificationRecord, error)
	VerifyBySecret(ctx context.Context, kind VerificationKind, secret string) (*VerificationRecord, error)
	Peek(ctx context.Context, kind VerificationKind, secret string) (*VerificationRecord, error)
}

type ledger struct {
	repo   RepositoryManager
	logger Logger
	now    func() time.Time
}

var _ VerificationLedger = (*ledger)(nil)

// LedgerOption configures the verification ledger.
type LedgerOption func(*ledger)

// WithLedgerLogger sets the ledger logger.
func WithLedgerLogger(l Logger) LedgerOption {
	return func(s *ledger) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLedgerClock overrides the time source, mostly for tests.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(s *ledger) {
		if now != nil {
			s.now = now
		}
	}
}

// NewVerificationLedger creates a ledger backed by the given repositories.
func NewVerificationLedger(repo RepositoryManager, opts ...LedgerOption) VerificationLedger {
	s := &ledger{
		repo:   repo,
		logger: defLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Issue mints a new secret for the (user, kind) pair. Any previous record
// for the pair is retired in the same transaction, so issuing is also the
// invalidation point for stale secrets.
func (s *ledger) Issue(ctx context.Context, userID uuid.UUID, kind VerificationKind) (*VerificationRecord, error) {
	if userID == uuid.Nil {
		return nil, ErrNoEmptyString
	}

	if !kind.IsValid() {
		return nil, ErrVerificationMismatch
	}

	record := &VerificationRecord{
		ID:     uuid.New(),
		UserID: userID,
		Kind:   kind,
		Secret: newSecret(kind),
	}

	if ttl := kind.TTL(); ttl > 0 {
		expiresAt := s.now().Add(ttl)
		record.ExpiresAt = &expiresAt
	}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.Verifications().DeleteForUserTx(ctx, tx, userID, kind); err != nil {
			return err
		}

		_, err := s.repo.Verifications().CreateTx(ctx, tx, record)
		return err
	})

	if err != nil {
		return nil, err
	}

	s.logger.Debug("verification ledger issued record", "kind", kind, "user_id", userID.String())

	return record, nil
}

// Verify consumes the active record for the (user, kind) pair when the
// presented secret matches. Expired records are purged before the secret is
// even compared, and consumption is a delete guarded by rows affected so
// only one caller can ever win.
func (s *ledger) Verify(ctx context.Context, userID uuid.UUID, kind VerificationKind, secret string) (*VerificationRecord, error) {
	if secret == "" {
		return nil, ErrNoEmptyString
	}

	var record *VerificationRecord
	var stale *VerificationRecord

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := s.repo.Verifications().GetActiveTx(ctx, tx, userID, kind)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrVerificationNotFound
			}
			return err
		}

		if found.Expired(s.now()) {
			stale = found
			return ErrVerificationExpired
		}

		if found.Secret != secret {
			return ErrVerificationMismatch
		}

		deleted, err := s.repo.Verifications().DeleteRecordTx(ctx, tx, found.ID)
		if err != nil {
			return err
		}

		if deleted == 0 {
			// someone consumed it between our read and delete
			return ErrVerificationNotFound
		}

		record = found
		return nil
	})

	if err != nil {
		// the error return rolls the transaction back, so the purge has
		// to happen outside it
		if stale != nil {
			s.purgeExpired(ctx, stale)
		}
		return nil, err
	}

	return record, nil
}

// VerifyBySecret consumes a record addressed by its secret alone, for flows
// where the caller is identified by the secret, e.g. URL reset tokens.
func (s *ledger) VerifyBySecret(ctx context.Context, kind VerificationKind, secret string) (*VerificationRecord, error) {
	if secret == "" {
		return nil, ErrNoEmptyString
	}

	var record *VerificationRecord
	var stale *VerificationRecord

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := s.repo.Verifications().GetBySecretTx(ctx, tx, kind, secret)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrVerificationNotFound
			}
			return err
		}

		if found.Expired(s.now()) {
			stale = found
			return ErrVerificationExpired
		}

		deleted, err := s.repo.Verifications().DeleteRecordTx(ctx, tx, found.ID)
		if err != nil {
			return err
		}

		if deleted == 0 {
			return ErrVerificationNotFound
		}

		record = found
		return nil
	})

	if err != nil {
		if stale != nil {
			s.purgeExpired(ctx, stale)
		}
		return nil, err
	}

	return record, nil
}

// Peek checks a secret without consuming it. Expired records are still
// purged eagerly so a later Verify observes the same state.
func (s *ledger) Peek(ctx context.Context, kind VerificationKind, secret string) (*VerificationRecord, error) {
	if secret == "" {
		return nil, ErrNoEmptyString
	}

	record, err := s.repo.Verifications().GetBySecret(ctx, kind, secret)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrVerificationNotFound
		}
		return nil, err
	}

	if record.Expired(s.now()) {
		s.purgeExpired(ctx, record)
		return nil, ErrVerificationExpired
	}

	return record, nil
}

func (s *ledger) purgeExpired(ctx context.Context, record *VerificationRecord) {
	if _, err := s.repo.Verifications().DeleteRecord(ctx, record.ID); err != nil {
		s.logger.Warn("verification ledger failed to purge expired record", "error", err)
	}
}

const mfaCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const mfaCodeLength = 8

// newSecret picks the secret shape by kind: MFA codes are short and typed
// by a human, everything else travels inside a URL.
func newSecret(kind VerificationKind) string {
	if kind == VerificationMFA {
		return randomCode(mfaCodeLength)
	}
	return uuid.NewString()
}

func randomCode(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken
		panic(err)
	}

	for i, b := range buf {
		buf[i] = mfaCodeAlphabet[int(b)%len(mfaCodeAlphabet)]
	}

	return string(buf)
}
