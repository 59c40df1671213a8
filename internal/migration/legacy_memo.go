package migration

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/pkg/logger"
	"gorm.io/gorm"
)

const (
	legacyTimeLayout = "2006-01-02 15:04:05"
	legacyZeroTime   = "0000-00-00 00:00:00"
)

// legacyLocation is the zone gnuboard wrote its datetimes in
var legacyLocation = time.FixedZone("KST", 9*60*60)

// ImportOptions controls ImportLegacyMemos
type ImportOptions struct {
	BatchSize int
	DryRun    bool
}

// ImportResult counts what an import did
type ImportResult struct {
	Scanned  int
	Imported int
	Skipped  int // invalid rows (self-addressed, empty, missing ids)
	Existing int // imported by an earlier run
}

// ImportLegacyMemos copies received g5_memo rows into dm_messages. Each memo
// is recorded in dm_legacy_imports, so running it again only picks up new rows.
// Only the 'recv' copy is read; the 'send' copy is the same memo.
func ImportLegacyMemos(ctx context.Context, db *gorm.DB, opts ImportOptions) (ImportResult, error) {
	log := logger.WithComponent("legacy-import")
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}

	var result ImportResult
	if !db.Migrator().HasTable(&domain.G5Memo{}) {
		log.Info().Msg("g5_memo table not found, skipping")
		return result, nil
	}

	var batch []domain.G5Memo
	err := db.WithContext(ctx).
		Where("me_type = ?", "recv").
		FindInBatches(&batch, opts.BatchSize, func(tx *gorm.DB, n int) error {
			done, err := importBatch(ctx, db, batch, opts.DryRun, &result)
			if err != nil {
				return err
			}
			log.Info().
				Int("batch", n).
				Int("imported", done).
				Int("total_imported", result.Imported).
				Bool("dry_run", opts.DryRun).
				Msg("batch processed")
			return nil
		}).Error
	return result, err
}

func importBatch(ctx context.Context, db *gorm.DB, batch []domain.G5Memo, dryRun bool, result *ImportResult) (int, error) {
	ids := make([]int, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}

	var existing []int
	if err := db.WithContext(ctx).Model(&domain.LegacyImport{}).
		Where("me_id IN ?", ids).
		Pluck("me_id", &existing).Error; err != nil {
		return 0, err
	}
	seen := make(map[int]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}

	var rows []*domain.Message
	var memoIDs []int
	for _, memo := range batch {
		result.Scanned++
		if _, ok := seen[memo.ID]; ok {
			result.Existing++
			continue
		}
		msg, ok := convertMemo(memo)
		if !ok {
			result.Skipped++
			continue
		}
		rows = append(rows, msg)
		memoIDs = append(memoIDs, memo.ID)
	}

	if dryRun || len(rows) == 0 {
		result.Imported += len(rows)
		return len(rows), nil
	}

	now := time.Now().UTC()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		links := make([]domain.LegacyImport, len(rows))
		for i, msg := range rows {
			links[i] = domain.LegacyImport{MemoID: memoIDs[i], MessageID: msg.ID, ImportedAt: now}
		}
		return tx.Create(&links).Error
	})
	if err != nil {
		return 0, err
	}
	result.Imported += len(rows)
	return len(rows), nil
}

// convertMemo maps a memo onto a message. Legacy content is not subject to
// the current length limit.
func convertMemo(memo domain.G5Memo) (*domain.Message, bool) {
	sender := strings.TrimSpace(memo.SendMemberID)
	receiver := strings.TrimSpace(memo.RecvMemberID)
	content, err := common.ValidateMessage(sender, receiver, memo.Memo, math.MaxInt)
	if err != nil {
		return nil, false
	}

	msg := &domain.Message{
		ConversationKey: domain.NewConversationKey(sender, receiver),
		SenderID:        sender,
		ReceiverID:      receiver,
		Content:         content,
		CreatedAt:       asLegacyTime(memo.SendDatetime).UTC().Truncate(time.Millisecond),
	}
	if readAt, ok := parseLegacyTime(memo.ReadDatetime); ok {
		msg.IsRead = true
		msg.ReadAt = &readAt
	}
	return msg, true
}

// asLegacyTime reinterprets a zone-less DATETIME as KST
func asLegacyTime(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), legacyLocation)
}

func parseLegacyTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == legacyZeroTime {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(legacyTimeLayout, s, legacyLocation)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
