package models

// MetadataModel 键值元数据, 包含单例 schema_version 行
type MetadataModel struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt int64  `gorm:"not null"` // ms since epoch
}

// TableName 指定表名
func (MetadataModel) TableName() string {
	return "metadata"
}
