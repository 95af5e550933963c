// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model.
//
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// Functions:
//
//   - UpsertChatByTgID(ctx, db, profile) -> *domain.Chat, error
//     Resolves a chat by external identity, refreshing title and type.
//
//   - GetChatByTgID(ctx, db, tgChatID) -> *domain.Chat, error
//     Fetches a chat by external identity, or ErrNotFound.
//
//   - GetChatsByIDs(ctx, db, ids) -> map[int64]domain.Chat, error
//     Batched lookup keyed by primary key. Missing ids are simply absent.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/deadline-master/internal/domain"
)

// ChatProfile is the identity and mutable metadata reported for a chat.
type ChatProfile struct {
	TgChatID int64
	Title    *string
	Type     domain.ChatType
}

// UpsertChatByTgID resolves the chat with the given external identity and
// refreshes its title and type, or inserts it on a miss.
func UpsertChatByTgID(ctx context.Context, db *gorm.DB, p ChatProfile) (*domain.Chat, error) {
	db = db.WithContext(ctx)

	c, err := findChatByTgID(db, p.TgChatID)
	switch {
	case err == nil:
		return c, refreshChat(db, c, p)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	created := &domain.Chat{
		TgChatID:  p.TgChatID,
		Title:     p.Title,
		Type:      p.Type,
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
	c, err = findChatByTgID(db, p.TgChatID)
	if err != nil {
		return nil, err
	}
	return c, refreshChat(db, c, p)
}

// GetChatByTgID fetches a chat by external identity or returns ErrNotFound.
func GetChatByTgID(ctx context.Context, db *gorm.DB, tgChatID int64) (*domain.Chat, error) {
	return findChatByTgID(db.WithContext(ctx), tgChatID)
}

// GetChatsByIDs loads the chats with the given primary keys in one query.
func GetChatsByIDs(ctx context.Context, db *gorm.DB, ids []int64) (map[int64]domain.Chat, error) {
	out := make(map[int64]domain.Chat, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Chat
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, c := range rows {
		out[c.ID] = c
	}
	return out, nil
}

func findChatByTgID(db *gorm.DB, tgChatID int64) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.Where("tg_chat_id = ?", tgChatID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func refreshChat(db *gorm.DB, c *domain.Chat, p ChatProfile) error {
	changes := map[string]any{}
	if p.Title != nil && !sameString(c.Title, p.Title) {
		changes["title"] = *p.Title
		c.Title = p.Title
	}
	if p.Type != "" && p.Type != c.Type {
		changes["type"] = string(p.Type)
		c.Type = p.Type
	}
	if len(changes) == 0 {
		return nil
	}
	return db.Model(&domain.Chat{}).Where("id = ?", c.ID).Updates(changes).Error
}
