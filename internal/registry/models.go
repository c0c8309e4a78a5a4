package registry

import "time"

// clientRow is the GORM model backing the clients table (SQLite backend).
// Column names are chosen to match the raw-SQL Postgres backend's schema so
// the two stores are interchangeable behind the Registry interface.
type clientRow struct {
	ID         []byte `gorm:"column:id;primaryKey"`
	Name       string `gorm:"column:name;uniqueIndex"`
	PublicKey  []byte `gorm:"column:public_key"`
	SessionKey []byte `gorm:"column:session_key"`
	LastSeen   time.Time `gorm:"column:last_seen"`
}

func (clientRow) TableName() string { return "clients" }

// fileRow is the GORM model backing the files table (SQLite backend).
type fileRow struct {
	ClientID    []byte `gorm:"column:client_id;primaryKey"`
	Filename    string `gorm:"column:filename;primaryKey"`
	StoragePath string `gorm:"column:storage_path"`
	Verified    bool   `gorm:"column:verified"`
}

func (fileRow) TableName() string { return "files" }

// allModels lists every GORM model for AutoMigrate.
func allModels() []interface{} {
	return []interface{}{&clientRow{}, &fileRow{}}
}
