package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// CLI 把 Migrator 的结果格式化输出到终端
type CLI struct {
	m   *Migrator
	out io.Writer
}

// NewCLI 创建 CLI，默认输出到 stdout
func NewCLI(m *Migrator) *CLI {
	return &CLI{m: m, out: os.Stdout}
}

// SetOutput 替换输出目标
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// Up 执行全部迁移
func (c *CLI) Up(ctx context.Context) error {
	if err := c.m.Up(ctx); err != nil {
		return err
	}
	return c.printVersion("Schema up to date")
}

// Down 回滚一个或全部迁移
func (c *CLI) Down(ctx context.Context, all bool) error {
	if err := c.m.Down(ctx, all); err != nil {
		return err
	}
	return c.printVersion("Rolled back")
}

// Steps 前进或回滚 n 步
func (c *CLI) Steps(ctx context.Context, n int) error {
	if err := c.m.Steps(ctx, n); err != nil {
		return err
	}
	return c.printVersion(fmt.Sprintf("Moved %+d step(s)", n))
}

// Goto 迁移到指定版本
func (c *CLI) Goto(ctx context.Context, version uint) error {
	if err := c.m.Goto(ctx, version); err != nil {
		return err
	}
	return c.printVersion("Migrated")
}

// Force 强制设置版本号
func (c *CLI) Force(version int) error {
	if err := c.m.Force(version); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Version forced to %d\n", version)
	return nil
}

// Version 打印当前版本
func (c *CLI) Version() error {
	return c.printVersion("Current")
}

// Status 打印每个迁移的状态和缺失的表
func (c *CLI) Status(ctx context.Context) error {
	st, err := c.m.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range st.Applied {
		state := "applied"
		if st.Dirty && s.Version == st.Version {
			state = "dirty"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	for _, s := range st.Pending {
		fmt.Fprintf(w, "%06d\t%s\tpending\n", s.Version, s.Name)
	}
	w.Flush()

	fmt.Fprintf(c.out, "\n%s: version %d, %d applied, %d pending\n",
		st.Dialect, st.Version, len(st.Applied), len(st.Pending))
	if len(st.Missing) > 0 {
		fmt.Fprintf(c.out, "Missing tables: %s\n", strings.Join(st.Missing, ", "))
	}
	return nil
}

// Verify 所有表存在时输出 Schema OK，否则返回错误
func (c *CLI) Verify(ctx context.Context) error {
	missing, err := c.m.Verify(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		fmt.Fprintf(c.out, "Missing tables: %s\n", strings.Join(missing, ", "))
		return fmt.Errorf("schema incomplete: %d table(s) missing, run `reportflow migrate up`", len(missing))
	}
	fmt.Fprintln(c.out, "Schema OK")
	return nil
}

func (c *CLI) printVersion(prefix string) error {
	version, dirty, err := c.m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintf(c.out, "%s: no migrations applied\n", prefix)
		return nil
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(c.out, "%s: version %d%s\n", prefix, version, suffix)
	return nil
}
