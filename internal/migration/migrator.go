package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	_ "github.com/glebarez/go-sqlite" // 纯 Go sqlite 驱动，注册为 "sqlite"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/BaSui01/reportflow/config"
)

//go:embed migrations
var migrationsFS embed.FS

// versionTable golang-migrate 的版本表
const versionTable = "schema_migrations"

// Tables 迁移创建的全部表。Verify 与服务启动检查都以此为准。
var Tables = []string{"workflow_checkpoints", "workflow_approvals", "report_records"}

// Dialect 数据库方言
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

type dialectSpec struct {
	sqlDriver   string
	tableExists string
	instance    func(db *sql.DB) (database.Driver, error)
}

var dialects = map[Dialect]dialectSpec{
	Postgres: {
		sqlDriver:   "postgres",
		tableExists: "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1",
		instance: func(db *sql.DB) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: versionTable})
		},
	},
	MySQL: {
		sqlDriver:   "mysql",
		tableExists: "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
		instance: func(db *sql.DB) (database.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: versionTable})
		},
	},
	SQLite: {
		sqlDriver:   "sqlite",
		tableExists: "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		instance: func(db *sql.DB) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: versionTable})
		},
	},
}

// ParseDialect 解析 config.DatabaseConfig.Driver 或 --db-type
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// Verify 返回 db 中尚不存在的 Tables。不依赖 golang-migrate，
// 可直接用在已打开的连接池上。
func Verify(ctx context.Context, db *sql.DB, d Dialect) ([]string, error) {
	spec, ok := dialects[d]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", d)
	}
	var missing []string
	for _, table := range Tables {
		var n int
		if err := db.QueryRowContext(ctx, spec.tableExists, table).Scan(&n); err != nil {
			return nil, fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

// Step 一个内嵌的迁移文件
type Step struct {
	Version uint
	Name    string
}

// Status 当前 schema 状态
type Status struct {
	Dialect Dialect
	Version uint
	Dirty   bool
	Applied []Step
	Pending []Step
	// Missing Tables 中不存在的表；版本与表不一致说明有人 force 过版本
	Missing []string
}

// Migrator 在一个数据库上执行内嵌的 workflow schema 迁移
type Migrator struct {
	dialect Dialect
	db      *sql.DB
	mig     *migrate.Migrate
	steps   []Step
}

// Open 按方言与 DSN 打开迁移器
func Open(d Dialect, dsn string) (*Migrator, error) {
	spec, ok := dialects[d]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", d)
	}
	if dsn == "" {
		return nil, errors.New("database URL is required")
	}

	steps, err := embeddedSteps(d)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(spec.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	driver, err := spec.instance(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, path.Join("migrations", string(d)))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration source: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", source, string(d), driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate instance: %w", err)
	}

	return &Migrator{dialect: d, db: db, mig: mig, steps: steps}, nil
}

// OpenConfig 用应用的数据库配置打开迁移器
func OpenConfig(cfg config.DatabaseConfig) (*Migrator, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	cfg.Driver = string(d)
	dsn := cfg.DSN()
	if d == MySQL {
		// 迁移文件一个文件里有多条语句
		dsn += "&multiStatements=true"
	}
	return Open(d, dsn)
}

// Dialect 返回迁移器的方言
func (m *Migrator) Dialect() Dialect { return m.dialect }

// Up 应用全部未执行的迁移，然后确认 Tables 都已存在
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.run(ctx, "up", m.mig.Up); err != nil {
		return err
	}
	missing, err := m.Verify(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("migrate up: tables still missing after migration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Down 回滚一个迁移，all 为 true 时回滚全部
func (m *Migrator) Down(ctx context.Context, all bool) error {
	if all {
		return m.run(ctx, "down", m.mig.Down)
	}
	return m.run(ctx, "down", func() error { return m.mig.Steps(-1) })
}

// Steps n > 0 前进 n 步，n < 0 回滚 |n| 步
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return errors.New("step count must not be zero")
	}
	return m.run(ctx, "steps", func() error { return m.mig.Steps(n) })
}

// Goto 迁移到指定版本
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	if !m.known(version) {
		return fmt.Errorf("unknown migration version %d", version)
	}
	return m.run(ctx, "goto", func() error { return m.mig.Migrate(version) })
}

// Force 只改版本号不执行 SQL，用于修复 dirty 状态
func (m *Migrator) Force(version int) error {
	if err := m.mig.Force(version); err != nil {
		return fmt.Errorf("migrate force: %w", err)
	}
	return nil
}

// Version 当前版本，尚未迁移时为 0
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.mig.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrate version: %w", err)
	}
	return version, dirty, nil
}

// Verify 返回缺失的表
func (m *Migrator) Verify(ctx context.Context) ([]string, error) {
	return Verify(ctx, m.db, m.dialect)
}

// Status 汇总版本、已执行/待执行的迁移与缺失的表
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	missing, err := m.Verify(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{Dialect: m.dialect, Version: version, Dirty: dirty, Missing: missing}
	for _, s := range m.steps {
		if s.Version <= version {
			st.Applied = append(st.Applied, s)
		} else {
			st.Pending = append(st.Pending, s)
		}
	}
	return st, nil
}

// Close 关闭迁移源与数据库连接
func (m *Migrator) Close() error {
	srcErr, dbErr := m.mig.Close()
	return errors.Join(srcErr, dbErr)
}

// run 执行一个 golang-migrate 操作；ctx 取消时在当前迁移结束后停止
func (m *Migrator) run(ctx context.Context, op string, fn func() error) error {
	stop := context.AfterFunc(ctx, func() {
		select {
		case m.mig.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	return ctx.Err()
}

func (m *Migrator) known(version uint) bool {
	for _, s := range m.steps {
		if s.Version == version {
			return true
		}
	}
	return false
}

// embeddedSteps 列出方言目录下的 *.up.sql，按版本排序
func embeddedSteps(d Dialect) ([]Step, error) {
	entries, err := fs.ReadDir(migrationsFS, path.Join("migrations", string(d)))
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var steps []Step
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if !ok {
			continue
		}
		num, title, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", e.Name(), err)
		}
		steps = append(steps, Step{Version: uint(v), Name: title})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}
