package migration

import (
	"github.com/damoang/angple-messenger/internal/domain"
	"gorm.io/gorm"
)

// Run executes AutoMigrate for the messenger tables.
// 테이블 없으면 생성, 있으면 누락된 컬럼/인덱스만 추가
func Run(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Message{}, &domain.LegacyImport{})
}
