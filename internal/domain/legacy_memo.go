package domain

import "time"

// G5Memo represents a legacy message (쪽지) in the g5_memo table.
// Every memo is stored twice, once per mailbox ('recv' and 'send').
type G5Memo struct {
	SendDatetime time.Time `gorm:"column:me_send_datetime"`
	RecvMemberID string    `gorm:"column:me_recv_mb_id;size:20;index"`
	SendMemberID string    `gorm:"column:me_send_mb_id;size:20;index"`
	ReadDatetime string    `gorm:"column:me_read_datetime;size:19"`
	Memo         string    `gorm:"column:me_memo;type:text"`
	Type         string    `gorm:"column:me_type;size:10"`
	SendIP       string    `gorm:"column:me_send_ip;size:100"`
	ID           int       `gorm:"column:me_id;primaryKey;autoIncrement"`
	SendID       int       `gorm:"column:me_send_id"` // 원본 쪽지 ID (발신함)
}

// TableName returns the table name for G5Memo
func (G5Memo) TableName() string {
	return "g5_memo"
}

// LegacyImport maps an imported g5_memo row to its dm_messages row
type LegacyImport struct {
	ImportedAt time.Time `gorm:"column:imported_at;not null"`
	MemoID     int       `gorm:"column:me_id;primaryKey;autoIncrement:false"`
	MessageID  uint64    `gorm:"column:message_id;not null"`
}

// TableName returns the table name
func (LegacyImport) TableName() string {
	return "dm_legacy_imports"
}
