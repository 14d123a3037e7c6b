// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Status はスキーマの適用状態。
type Status struct {
	Version uint
	Dirty   bool
}

// Migrator は埋め込みのSQLファイルをPostgreSQLへ適用する。
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator は埋め込みマイグレーションを使うMigratorを生成する。使用後はCloseすること。
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = migrateLogger{}

	return &Migrator{m: m}, nil
}

// Up は未適用のマイグレーションをすべて適用する。最新なら何もしない。
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Down はstepsの数だけマイグレーションを戻す。stepsは1以上であること。
func (mg *Migrator) Down(steps int) error {
	if steps < 1 {
		return fmt.Errorf("rollback steps must be positive: %d", steps)
	}
	if err := mg.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// Status は現在のスキーマバージョンを返す。未適用ならゼロ値。
func (mg *Migrator) Status() (Status, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	return Status{Version: version, Dirty: dirty}, nil
}

// Close はソースとデータベースの接続を閉じる。
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Migrate はdown=0なら全適用、down>0ならその数だけ戻し、適用後の状態を返す。
func Migrate(databaseURL string, down int) (Status, error) {
	mg, err := NewMigrator(databaseURL)
	if err != nil {
		return Status{}, err
	}
	defer mg.Close()

	if down > 0 {
		err = mg.Down(down)
	} else {
		err = mg.Up()
	}
	if err != nil {
		return Status{}, err
	}
	return mg.Status()
}

// migrateLogger はgolang-migrateのログをslogへ流す。
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	slog.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (migrateLogger) Verbose() bool { return false }
