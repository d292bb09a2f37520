// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证服务器默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.False(t, cfg.Server.JWT.Enabled())

	// 验证编排器默认值
	assert.Equal(t, 5, cfg.Workflow.MaxEditIterations)
	assert.Equal(t, 2*time.Minute, cfg.Workflow.StageTimeout)
	assert.Equal(t, 3, cfg.Workflow.Retry.MaxRetries)
	assert.True(t, cfg.Workflow.RecoverOnStart)

	// 验证存储默认值
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "memory", cfg.Retrieval.VectorStore)

	// 验证 Redis 默认值
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	// 验证 Database 默认值
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  cors_allowed_origins: ["https://app.example.com"]
  jwt:
    secret: "s3cret"
    issuer: "reportflow"

workflow:
  max_edit_iterations: 3
  approval_ttl: 24h
  retry:
    max_retries: 1
    initial_delay: 50ms

store:
  type: "redis"
  key_prefix: "rf:"

router:
  min_confidence: 0.75
  use_llm: false

report:
  require_plan_approval: true

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSAllowedOrigins)
	assert.True(t, cfg.Server.JWT.Enabled())
	assert.Equal(t, "reportflow", cfg.Server.JWT.Issuer)

	assert.Equal(t, 3, cfg.Workflow.MaxEditIterations)
	assert.Equal(t, 24*time.Hour, cfg.Workflow.ApprovalTTL)
	assert.Equal(t, 1, cfg.Workflow.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Workflow.Retry.InitialDelay)
	// 未在 YAML 中出现的字段保留默认值
	assert.Equal(t, 5*time.Second, cfg.Workflow.Retry.MaxDelay)

	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "rf:", cfg.Store.KeyPrefix)
	assert.InDelta(t, 0.75, cfg.Router.MinConfidence, 0.001)
	assert.False(t, cfg.Router.UseLLM)
	assert.True(t, cfg.Report.RequirePlanApproval)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	// 设置环境变量
	envVars := map[string]string{
		"REPORTFLOW_SERVER_HTTP_PORT":             "7777",
		"REPORTFLOW_SERVER_API_KEYS":              "k1, k2",
		"REPORTFLOW_WORKFLOW_STAGE_TIMEOUT":       "45s",
		"REPORTFLOW_WORKFLOW_RETRY_MAX_RETRIES":   "6",
		"REPORTFLOW_LLM_MODEL":                    "deepseek-chat",
		"REPORTFLOW_LLM_TEMPERATURE":              "0.9",
		"REPORTFLOW_REPORT_REQUIRE_PLAN_APPROVAL": "true",
		"REPORTFLOW_RETRIEVAL_VECTOR_STORE":       "qdrant",
		"REPORTFLOW_REDIS_ADDR":                   "env-redis:6379",
		"REPORTFLOW_LOG_LEVEL":                    "warn",
	}

	// 设置环境变量
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	// 加载配置
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	// 验证环境变量覆盖了默认值
	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, 45*time.Second, cfg.Workflow.StageTimeout)
	assert.Equal(t, 6, cfg.Workflow.Retry.MaxRetries)
	assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
	assert.Equal(t, 0.9, cfg.LLM.Temperature)
	assert.True(t, cfg.Report.RequirePlanApproval)
	assert.Equal(t, "qdrant", cfg.Retrieval.VectorStore)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("REPORTFLOW_WORKFLOW_APPROVAL_TTL", "three days")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPORTFLOW_WORKFLOW_APPROVAL_TTL")
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
llm:
  provider: "qwen"
  model: "qwen-plus"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 设置环境变量（应该覆盖 YAML）
	t.Setenv("REPORTFLOW_SERVER_HTTP_PORT", "9999")
	t.Setenv("REPORTFLOW_LLM_MODEL", "qwen-max")

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 环境变量应该覆盖 YAML
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "qwen-max", cfg.LLM.Model)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, "qwen", cfg.LLM.Provider)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	// 设置自定义前缀的环境变量
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_STORE_TYPE", "file")

	// 使用自定义前缀加载
	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "file", cfg.Store.Type)
}

func TestLoader_WithValidator(t *testing.T) {
	// 内置校验作为验证器
	t.Setenv("REPORTFLOW_WORKFLOW_MAX_EDIT_ITERATIONS", "0")

	// 加载应该失败
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_edit_iterations")
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// 应该返回默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	// 创建无效的 YAML 文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	// 加载应该失败
	_, err = NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "invalid HTTP port (negative)", modify: func(c *Config) { c.Server.HTTPPort = -1 }, wantErr: "HTTP port"},
		{name: "invalid HTTP port (too large)", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "HTTP port"},
		{name: "tls cert without key", modify: func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, wantErr: "tls_cert_file"},
		{name: "zero edit iterations", modify: func(c *Config) { c.Workflow.MaxEditIterations = 0 }, wantErr: "max_edit_iterations"},
		{name: "zero stage timeout", modify: func(c *Config) { c.Workflow.StageTimeout = 0 }, wantErr: "stage_timeout"},
		{name: "zero event queue", modify: func(c *Config) { c.Workflow.EventQueueSize = 0 }, wantErr: "event_queue_size"},
		{name: "negative retries", modify: func(c *Config) { c.Workflow.Retry.MaxRetries = -1 }, wantErr: "max_retries"},
		{name: "unknown store", modify: func(c *Config) { c.Store.Type = "mongo" }, wantErr: "store type"},
		{name: "sql store with unknown driver", modify: func(c *Config) {
			c.Store.Type = "sql"
			c.Database.Driver = "oracle"
		}, wantErr: "database driver"},
		{name: "sql store with sqlite", modify: func(c *Config) {
			c.Store.Type = "sql"
			c.Database.Driver = "sqlite"
			c.Database.Name = "runs.db"
		}},
		{name: "file store without dir", modify: func(c *Config) {
			c.Store.Type = "file"
			c.Store.BaseDir = ""
		}, wantErr: "base_dir"},
		{name: "unknown vector store", modify: func(c *Config) { c.Retrieval.VectorStore = "milvus" }, wantErr: "vector store"},
		{name: "invalid temperature (negative)", modify: func(c *Config) { c.LLM.Temperature = -0.5 }, wantErr: "temperature"},
		{name: "invalid temperature (too high)", modify: func(c *Config) { c.LLM.Temperature = 3.0 }, wantErr: "temperature"},
		{name: "confidence above one", modify: func(c *Config) { c.Router.MinConfidence = 1.5 }, wantErr: "min_confidence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "sqlite DSN",
			config: DatabaseConfig{
				Driver: "sqlite",
				Name:   "/path/to/db.sqlite",
			},
			expected: "/path/to/db.sqlite",
		},
		{
			name: "unknown driver",
			config: DatabaseConfig{
				Driver: "unknown",
			},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	// 创建有效配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8080
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 不应该 panic
	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	// 创建无效配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	// 应该 panic
	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("REPORTFLOW_STORE_TYPE", "sql")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "sql", cfg.Store.Type)
}
