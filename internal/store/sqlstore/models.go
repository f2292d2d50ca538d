package sqlstore

import "time"

// keyRow holds a scalar value, or the ttl of a list whose items live in
// entryRow. A nil ExpiresAt never expires.
type keyRow struct {
	Key       string     `gorm:"primaryKey;size:255"`
	Value     []byte
	IsList    bool       `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
}

func (keyRow) TableName() string {
	return "relay_keys"
}

type entryRow struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Key   string `gorm:"index;size:255;not null"`
	Value []byte `gorm:"not null"`
}

func (entryRow) TableName() string {
	return "relay_list_entries"
}
