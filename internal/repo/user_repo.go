// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions accept the caller's *gorm.DB handle, which is normally an
// open transaction owned by a single unit of work.
//
// Lookup-or-create:
//   - Registered users are keyed by tg_id (unique index ux_users_tg_id).
//   - Stub users (tg_id IS NULL) are keyed by lower-cased username (partial
//     unique index ux_users_stub_username).
//   - A registered user taking a handle that has a stub absorbs the stub:
//     its tasks are reassigned and the stub row is removed.
//   - Inserts run inside a nested transaction (SAVEPOINT). When a concurrent
//     writer wins the race, the unique violation is rolled back to the
//     savepoint and the winner's row is read instead.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/deadline-master/internal/domain"
)

// ErrEmptyHandle is returned when a handle normalizes to "".
var ErrEmptyHandle = errors.New("empty handle")

// UserProfile is the identity and mutable profile reported by the chat
// platform for a participant.
type UserProfile struct {
	TgID      int64
	Username  *string
	FirstName *string
	LastName  *string
}

var handleFolder = cases.Fold()

// NormalizeHandle strips the '@' prefix and surrounding space and case-folds
// the remainder. It returns "" for an empty handle.
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(h, "@")
	return handleFolder.String(strings.TrimSpace(h))
}

// UpsertUserByTgID resolves the user with the given external identity and
// refreshes its profile fields. On a miss it claims a stub user carrying the
// same handle, or inserts a new row.
func UpsertUserByTgID(ctx context.Context, db *gorm.DB, p UserProfile) (*domain.User, error) {
	db = db.WithContext(ctx)

	u, err := findUserByTgID(db, p.TgID)
	switch {
	case err == nil:
		return u, refreshProfile(db, u, p)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	if u, err := claimStub(db, p); err != nil || u != nil {
		return u, err
	}

	created := &domain.User{
		TgID:      &p.TgID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		CreatedAt: time.Now().UTC(),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(created).Error
	})
	if err == nil {
		return created, nil
	}
	if !IsDuplicate(err) {
		return nil, err
	}
	u, err = findUserByTgID(db, p.TgID)
	if err != nil {
		return nil, err
	}
	return u, refreshProfile(db, u, p)
}

// GetOrStubUserByUsername resolves handle case-insensitively. A registered
// user wins over a stub with the same handle. On a miss a stub user with no
// external identity is created.
func GetOrStubUserByUsername(ctx context.Context, db *gorm.DB, handle string) (*domain.User, error) {
	h := NormalizeHandle(handle)
	if h == "" {
		return nil, ErrEmptyHandle
	}
	db = db.WithContext(ctx)

	u, err := FindUserByUsername(ctx, db, h)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	stub := &domain.User{Username: &h, CreatedAt: time.Now().UTC()}
	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(stub).Error
	})
	if err == nil {
		return stub, nil
	}
	if !IsDuplicate(err) {
		return nil, err
	}
	return FindUserByUsername(ctx, db, h)
}

// FindUserByUsername returns the user whose handle matches case-insensitively,
// preferring a registered user over a stub. Returns ErrNotFound on a miss.
func FindUserByUsername(ctx context.Context, db *gorm.DB, handle string) (*domain.User, error) {
	h := NormalizeHandle(handle)
	if h == "" {
		return nil, ErrEmptyHandle
	}
	var u domain.User
	err := db.WithContext(ctx).
		Where("LOWER(username) = ?", h).
		Order("CASE WHEN tg_id IS NULL THEN 1 ELSE 0 END, id ASC").
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByTgID fetches a user by external identity or returns ErrNotFound.
func GetUserByTgID(ctx context.Context, db *gorm.DB, tgID int64) (*domain.User, error) {
	return findUserByTgID(db.WithContext(ctx), tgID)
}

// GetUser fetches a user by primary key or returns ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func findUserByTgID(db *gorm.DB, tgID int64) (*domain.User, error) {
	var u domain.User
	if err := db.Where("tg_id = ?", tgID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// claimStub attaches the external identity to an unclaimed stub with the
// same handle. It returns (nil, nil) when there is nothing to claim.
func claimStub(db *gorm.DB, p UserProfile) (*domain.User, error) {
	if p.Username == nil {
		return nil, nil
	}
	h := NormalizeHandle(*p.Username)
	if h == "" {
		return nil, nil
	}
	var stub domain.User
	err := db.Where("tg_id IS NULL AND LOWER(username) = ?", h).Order("id ASC").First(&stub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var claimed bool
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).
			Where("id = ? AND tg_id IS NULL", stub.ID).
			Updates(map[string]any{
				"tg_id":      p.TgID,
				"username":   *p.Username,
				"first_name": p.FirstName,
				"last_name":  p.LastName,
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		if IsDuplicate(err) {
			// Another writer registered this identity first.
			return findUserByTgID(db, p.TgID)
		}
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	stub.TgID = &p.TgID
	stub.Username = p.Username
	stub.FirstName = p.FirstName
	stub.LastName = p.LastName
	return &stub, nil
}

// refreshProfile writes changed profile fields back to u. A nil field in p
// means "not reported" and leaves the stored value alone.
func refreshProfile(db *gorm.DB, u *domain.User, p UserProfile) error {
	changes := map[string]any{}
	if p.Username != nil && !sameString(u.Username, p.Username) {
		changes["username"] = *p.Username
		u.Username = p.Username
	}
	if p.FirstName != nil && !sameString(u.FirstName, p.FirstName) {
		changes["first_name"] = *p.FirstName
		u.FirstName = p.FirstName
	}
	if p.LastName != nil && !sameString(u.LastName, p.LastName) {
		changes["last_name"] = *p.LastName
		u.LastName = p.LastName
	}
	if len(changes) == 0 {
		return nil
	}
	if err := db.Model(&domain.User{}).Where("id = ?", u.ID).Updates(changes).Error; err != nil {
		return err
	}
	if _, renamed := changes["username"]; renamed {
		return mergeStub(db, u.ID, *p.Username)
	}
	return nil
}

// mergeStub moves the tasks of the stub carrying handle onto userID and
// deletes the stub. It is a no-op when no such stub exists.
func mergeStub(db *gorm.DB, userID int64, handle string) error {
	h := NormalizeHandle(handle)
	if h == "" {
		return nil
	}
	var stub domain.User
	err := db.Where("tg_id IS NULL AND LOWER(username) = ?", h).First(&stub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Task{}).Where("assignee_id = ?", stub.ID).
			Update("assignee_id", userID).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Task{}).Where("creator_id = ?", stub.ID).
			Update("creator_id", userID).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.User{}, "id = ? AND tg_id IS NULL", stub.ID).Error
	})
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
