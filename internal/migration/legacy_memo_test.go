package migration

import (
	"context"
	"testing"
	"time"

	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Run(db))
	return db
}

func seedMemos(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.AutoMigrate(&domain.G5Memo{}))
	sent := time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC) // KST wall time
	memos := []domain.G5Memo{
		{ID: 1, Type: "recv", SendMemberID: "alice", RecvMemberID: "bob", Memo: " 안녕 ", SendDatetime: sent, ReadDatetime: "2024-03-01 22:00:00"},
		{ID: 2, Type: "send", SendMemberID: "alice", RecvMemberID: "bob", Memo: "안녕", SendDatetime: sent},
		{ID: 3, Type: "recv", SendMemberID: "bob", RecvMemberID: "alice", Memo: "반가워", SendDatetime: sent.Add(time.Minute), ReadDatetime: legacyZeroTime},
		{ID: 4, Type: "recv", SendMemberID: "carol", RecvMemberID: "carol", Memo: "self", SendDatetime: sent},
		{ID: 5, Type: "recv", SendMemberID: "dave", RecvMemberID: "bob", Memo: "   ", SendDatetime: sent},
	}
	require.NoError(t, db.Create(&memos).Error)
}

func TestImportLegacyMemos(t *testing.T) {
	db := newDB(t)
	seedMemos(t, db)
	ctx := context.Background()

	result, err := ImportLegacyMemos(ctx, db, ImportOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Scanned: 4, Imported: 2, Skipped: 2}, result)

	var msgs []domain.Message
	require.NoError(t, db.Order("id").Find(&msgs).Error)
	require.Len(t, msgs, 2)

	first := msgs[0]
	assert.Equal(t, "안녕", first.Content)
	assert.Equal(t, domain.NewConversationKey("alice", "bob"), first.ConversationKey)
	assert.True(t, first.CreatedAt.Equal(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)), "KST wall time is stored as UTC")
	assert.True(t, first.IsRead)
	require.NotNil(t, first.ReadAt)
	assert.True(t, first.ReadAt.Equal(time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)))

	assert.False(t, msgs[1].IsRead, "zero datetime means unread")
	assert.Nil(t, msgs[1].ReadAt)
}

func TestImportLegacyMemos_RerunOnlyAddsNewRows(t *testing.T) {
	db := newDB(t)
	seedMemos(t, db)
	ctx := context.Background()

	_, err := ImportLegacyMemos(ctx, db, ImportOptions{})
	require.NoError(t, err)

	require.NoError(t, db.Create(&domain.G5Memo{ID: 6, Type: "recv", SendMemberID: "bob", RecvMemberID: "alice", Memo: "new", SendDatetime: time.Now()}).Error)

	result, err := ImportLegacyMemos(ctx, db, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 2, result.Existing)

	var count int64
	db.Model(&domain.Message{}).Count(&count)
	assert.Equal(t, int64(3), count)
}

func TestImportLegacyMemos_DryRunWritesNothing(t *testing.T) {
	db := newDB(t)
	seedMemos(t, db)

	result, err := ImportLegacyMemos(context.Background(), db, ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)

	var count int64
	db.Model(&domain.Message{}).Count(&count)
	assert.Zero(t, count)
}

func TestImportLegacyMemos_NoLegacyTable(t *testing.T) {
	result, err := ImportLegacyMemos(context.Background(), newDB(t), ImportOptions{})
	require.NoError(t, err)
	assert.Zero(t, result)
}

func TestParseLegacyTime(t *testing.T) {
	_, ok := parseLegacyTime("")
	assert.False(t, ok)
	_, ok = parseLegacyTime(legacyZeroTime)
	assert.False(t, ok)
	_, ok = parseLegacyTime("not a time")
	assert.False(t, ok)

	got, ok := parseLegacyTime("2024-01-01 09:00:00")
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}
