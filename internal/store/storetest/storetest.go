// Package storetest opens throwaway tenant stores for tests.
package storetest

import (
	"context"
	"testing"

	"channelkeys/internal/domain"
	"channelkeys/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated store backed by its own in-memory sqlite database,
// so tests in one process behave like isolated tenants.
func Open(t testing.TB) *store.Store {
	t.Helper()

	name := uuid.NewString()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	st := store.NewForTenant(name, db)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return st
}

// Channel inserts a channel fixture.
func Channel(t testing.TB, st *store.Store, id string, public bool, owner string) *domain.Channel {
	t.Helper()
	ch := &domain.Channel{ID: id, Name: id, Public: public}
	if owner != "" {
		ch.OwnerIdentity = &owner
	}
	if err := st.Channels().Create(context.Background(), ch); err != nil {
		t.Fatalf("create channel %s: %v", id, err)
	}
	return ch
}

// Roster adds identities to the team roster.
func Roster(t testing.TB, st *store.Store, identities ...string) {
	t.Helper()
	for _, id := range identities {
		if err := st.Members().Add(context.Background(), id, ""); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
}

// Group creates a group, links it to the channels and adds the members.
func Group(t testing.TB, st *store.Store, groupID string, channels []string, members ...string) {
	t.Helper()
	ctx := context.Background()
	if err := st.Groups().Create(ctx, groupID, groupID); err != nil {
		t.Fatalf("create group: %v", err)
	}
	for _, ch := range channels {
		if err := st.Groups().LinkChannel(ctx, ch, groupID); err != nil {
			t.Fatalf("link channel: %v", err)
		}
	}
	for _, m := range members {
		if err := st.Groups().AddMember(ctx, groupID, m); err != nil {
			t.Fatalf("add group member: %v", err)
		}
	}
}
