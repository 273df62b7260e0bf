package persistence

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/qwengate/qwengate/internal/infrastructure/persistence/models"
)

const schemaVersionKey = "schema_version"

// migration 一个编号迁移: Up/Down 各在单个事务内执行
type migration struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB) error
	Down    func(tx *gorm.DB) error
}

// migrations 按编号升序注册; 新迁移追加到末尾
var migrations = []migration{
	{
		Version: 1,
		Name:    "create_core_tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.SessionModel{},
				&models.RequestModel{},
				&models.ResponseModel{},
			)
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&models.ResponseModel{},
				&models.RequestModel{},
				&models.SessionModel{},
			)
		},
	},
}

// RunMigrations 依次执行所有待执行迁移, 每个迁移一个事务;
// 任一迁移失败则回滚并中止启动。
func RunMigrations(db *gorm.DB) error {
	// metadata 表先于一切存在, 版本号存在其中
	if err := db.AutoMigrate(&models.MetadataModel{}); err != nil {
		return fmt.Errorf("create metadata table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
			return setVersion(tx, m.Version)
		}); err != nil {
			return err
		}
	}

	return nil
}

// currentVersion 读取当前 schema 版本, 无记录视为 0
func currentVersion(db *gorm.DB) (int, error) {
	var row models.MetadataModel
	err := db.First(&row, "key = ?", schemaVersionKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	v, err := strconv.Atoi(row.Value)
	if err != nil {
		return 0, fmt.Errorf("malformed schema version %q: %w", row.Value, err)
	}
	return v, nil
}

// setVersion 更新 schema_version 单例行
func setVersion(tx *gorm.DB, version int) error {
	row := models.MetadataModel{
		Key:       schemaVersionKey,
		Value:     strconv.Itoa(version),
		UpdatedAt: time.Now().UnixMilli(),
	}
	return tx.Save(&row).Error
}
