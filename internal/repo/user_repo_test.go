package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/deadline-master/internal/domain"
)

func TestNormalizeHandle(t *testing.T) {
	cases := map[string]string{
		"@Bob":      "bob",
		"  Alice_1": "alice_1",
		"@":         "",
		"":          "",
		" @ X ":     "x",
	}
	for in, want := range cases {
		if got := NormalizeHandle(in); got != want {
			t.Fatalf("NormalizeHandle(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestUpsertUserByTgID_CreateThenRefresh(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	u, err := UpsertUserByTgID(ctx, db, UserProfile{TgID: 100, Username: strp("Alice"), FirstName: strp("Al")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == 0 || u.TgID == nil || *u.TgID != 100 || u.Handle() != "Alice" {
		t.Fatalf("unexpected user: %+v", u)
	}

	again, err := UpsertUserByTgID(ctx, db, UserProfile{TgID: 100, Username: strp("alice2"), FirstName: strp("Al")})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if again.ID != u.ID || again.Handle() != "alice2" {
		t.Fatalf("expected same row with new handle, got %+v", again)
	}

	stored, err := GetUserByTgID(ctx, db, 100)
	if err != nil || stored.Handle() != "alice2" || *stored.FirstName != "Al" {
		t.Fatalf("stored=%+v err=%v", stored, err)
	}

	var n int64
	db.Model(&domain.User{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 user row, got %d", n)
	}
}

func TestUpsertUserByTgID_NilFieldsKeepStoredValues(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if _, err := UpsertUserByTgID(ctx, db, UserProfile{TgID: 1, Username: strp("u"), LastName: strp("L")}); err != nil {
		t.Fatalf("create: %v", err)
	}
	u, err := UpsertUserByTgID(ctx, db, UserProfile{TgID: 1})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if u.Handle() != "u" || u.LastName == nil || *u.LastName != "L" {
		t.Fatalf("profile lost: %+v", u)
	}
}

func TestGetOrStubUserByUsername_CreatesStubOnce(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	s1, err := GetOrStubUserByUsername(ctx, db, "@Bob")
	if err != nil {
		t.Fatalf("stub: %v", err)
	}
	if !s1.IsStub() || s1.Handle() != "bob" {
		t.Fatalf("expected lower-cased stub, got %+v", s1)
	}
	s2, err := GetOrStubUserByUsername(ctx, db, "BOB")
	if err != nil || s2.ID != s1.ID {
		t.Fatalf("expected same stub, got %+v err=%v", s2, err)
	}

	if _, err := GetOrStubUserByUsername(ctx, db, "@"); !errors.Is(err, ErrEmptyHandle) {
		t.Fatalf("expected ErrEmptyHandle, got %v", err)
	}
}

func TestGetOrStubUserByUsername_PrefersRegistered(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	reg, err := UpsertUserByTgID(ctx, db, UserProfile{TgID: 7, Username: strp("Carol")})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := GetOrStubUserByUsername(ctx, db, "carol")
	if err != nil || got.ID != reg.ID {
		t.Fatalf("expected registered user %d, got %+v err=%v", reg.ID, got, err)
	}
}

func TestUpsertUserByTgID_ClaimsStub(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	stub, err := GetOrStubUserByUsername(ctx, db, "dave")
	if err != nil {
		t.Fatalf("stub: %v", err)
	}
	task := seedTaskFor(t, db, stub.ID, mustDate(t, "2025-05-05"))

	u, err := UpsertUserByTgID(ctx, db, UserProfile{TgID: 42, Username: strp("Dave"), FirstName: strp("D")})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if u.ID != stub.ID || u.IsStub() || *u.TgID != 42 {
		t.Fatalf("expected stub %d to be claimed, got %+v", stub.ID, u)
	}

	// Tasks assigned to the stub now belong to the registered user.
	list, err := ListOpenTasks(ctx, db, u.ID)
	if err != nil || len(list) != 1 || list[0].ID != task.ID {
		t.Fatalf("expected claimed task, got %+v err=%v", list, err)
	}

	// A later reference by handle resolves to the claimed user, not a new stub.
	again, err := GetOrStubUserByUsername(ctx, db, "@dave")
	if err != nil || again.ID != u.ID {
		t.Fatalf("expected claimed user, got %+v err=%v", again, err)
	}
}

func TestUpsertUserByTgID_RenameAbsorbsStub(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	reg, err := UpsertUserByTgID(ctx, db, UserProfile{TgID: 7, Username: strp("erin")})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	stub, err := GetOrStubUserByUsername(ctx, db, "erin_new")
	if err != nil || !stub.IsStub() {
		t.Fatalf("stub: %+v err=%v", stub, err)
	}
	task := seedTaskFor(t, db, stub.ID, mustDate(t, "2025-05-05"))

	u, err := UpsertUserByTgID(ctx, db, UserProfile{TgID: 7, Username: strp("Erin_New")})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if u.ID != reg.ID || *u.Username != "Erin_New" {
		t.Fatalf("renamed user: %+v", u)
	}

	list, err := ListOpenTasks(ctx, db, reg.ID)
	if err != nil || len(list) != 1 || list[0].ID != task.ID || list[0].CreatorID != reg.ID {
		t.Fatalf("expected stub task on registered user, got %+v err=%v", list, err)
	}
	if _, err := GetUser(ctx, db, stub.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("stub should be gone, err=%v", err)
	}

	// An unrelated profile refresh leaves everything in place.
	if _, err := UpsertUserByTgID(ctx, db, UserProfile{TgID: 7, FirstName: strp("E")}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if list, _ := ListOpenTasks(ctx, db, reg.ID); len(list) != 1 {
		t.Fatalf("tasks after refresh: %d", len(list))
	}
}

func TestGetUser_NotFound(t *testing.T) {
	db := newRepoDB(t)
	if _, err := GetUser(context.Background(), db, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := FindUserByUsername(context.Background(), db, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
