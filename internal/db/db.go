package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	// DriverSQLite 使用嵌入式 SQLite 文件（默认）。
	DriverSQLite = "sqlite"
	// DriverPostgres 使用外部 PostgreSQL 实例。
	DriverPostgres = "postgres"
)

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

// Models 返回核心引擎需要迁移的全部模型，测试中也复用该列表。
func Models() []interface{} {
	return []interface{}{
		&Profile{},
		&CheckIn{},
		&StreakState{},
		&QuotaCounter{},
		&Notification{},
		&FriendRelationship{},
		&InvitationCode{},
		&InvitationRedemption{},
	}
}

// Init 初始化全局数据库连接并执行自动迁移。
// driver 为空时回退到 sqlite；sqlite 下 dsn 为文件路径，为空时使用 streakline.db。
func Init(driver, dsn string) error {
	gdb, err := Open(driver, dsn, &gorm.Config{})
	if err != nil {
		return err
	}
	DB = gdb
	return nil
}

// Open 建立连接并迁移表结构，但不修改全局 DB。
func Open(driver, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		path := strings.TrimSpace(dsn)
		if path == "" {
			path = "streakline.db"
		}
		if err := ensureParentDir(path); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(path)
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("postgres driver requires a dsn")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// 自动迁移模式，为核心模型创建表
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return gdb, nil
}

func ensureParentDir(path string) error {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
