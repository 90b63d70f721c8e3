package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via config files or the environment.
type AppConfig struct {
	AppPort        string
	BaseURL        string
	JWTSecret      string
	AllowedOrigins []string
	AdminUsernames []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for the access cache and preview records
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// S3-compatible blob store
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
	// Delivery behaviour
	AllowAnonymousUpload bool
	MaxUploadMB          int
	DefaultDownloadCap   int
	CacheTTLSeconds      int
	PreviewTTLSeconds    int
	PreviewSecret        string
	PreviewMimePrefixes  []string
	SensitiveExtensions  []string
	SweepIntervalSeconds int
	RetentionHours       int
	RateLimitPerMinute   int
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
// Precedence: config/config.json -> defaults -> environment variable overrides.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	_ = loadJSONConfig(filepath.Join("config", "config.json"), &cfg)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}
	if cfg.PreviewSecret == "" {
		// Preview tokens only need a keyed-hash secret; sharing the JWT
		// secret is acceptable when none is configured.
		cfg.PreviewSecret = cfg.JWTSecret
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// SetForTesting replaces the cached configuration. Test helper only.
func SetForTesting(c AppConfig) {
	cfg = c
	loaded = true
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into cfg if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	dec := json.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			case json.Number:
				i, _ := t.Int64()
				return int(i)
			}
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return false
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]string, 0, len(arr))
				for _, it := range arr {
					if s, ok := it.(string); ok {
						res = append(res, s)
					}
				}
				return res
			}
		}
		return nil
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.BaseURL = getString(app, "BaseURL")
		out.JWTSecret = getString(app, "JWTSecret")
		if v := getInt(app, "RateLimitPerMinute"); v != 0 {
			out.RateLimitPerMinute = v
		}
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		if list := getStringSlice(app, "AdminUsernames"); len(list) > 0 {
			out.AdminUsernames = list
		}
	}

	if g, ok := raw["gin"].(map[string]any); ok {
		if v := getString(g, "Mode"); v != "" {
			out.GinMode = v
		}
		if v := getString(g, "LogPath"); v != "" {
			out.GinPath = v
		}
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		if v := getInt(rds, "RedisPort"); v != 0 {
			out.RedisPort = v
		}
		if v := getInt(rds, "RedisDB"); v != 0 {
			out.RedisDB = v
		}
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if s3s, ok := raw["s3"].(map[string]any); ok {
		out.S3Endpoint = getString(s3s, "Endpoint")
		out.S3Region = getString(s3s, "Region")
		out.S3Bucket = getString(s3s, "Bucket")
		out.S3AccessKey = getString(s3s, "AccessKey")
		out.S3SecretKey = getString(s3s, "SecretKey")
		out.S3PathStyle = getBool(s3s, "PathStyle")
	}

	if dl, ok := raw["delivery"].(map[string]any); ok {
		out.AllowAnonymousUpload = getBool(dl, "AllowAnonymousUpload")
		if v := getInt(dl, "MaxUploadMB"); v != 0 {
			out.MaxUploadMB = v
		}
		if v := getInt(dl, "DefaultDownloadCap"); v != 0 {
			out.DefaultDownloadCap = v
		}
		if v := getInt(dl, "CacheTTLSeconds"); v != 0 {
			out.CacheTTLSeconds = v
		}
		if v := getInt(dl, "PreviewTTLSeconds"); v != 0 {
			out.PreviewTTLSeconds = v
		}
		if v := getString(dl, "PreviewSecret"); v != "" {
			out.PreviewSecret = v
		}
		if list := getStringSlice(dl, "PreviewMimePrefixes"); len(list) > 0 {
			out.PreviewMimePrefixes = list
		}
		if list := getStringSlice(dl, "SensitiveExtensions"); len(list) > 0 {
			out.SensitiveExtensions = list
		}
		if v := getInt(dl, "SweepIntervalSeconds"); v != 0 {
			out.SweepIntervalSeconds = v
		}
		if v := getInt(dl, "RetentionHours"); v != 0 {
			out.RetentionHours = v
		}
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		if v := getString(lg, "Level"); v != "" {
			out.LogLevel = v
		}
		if v := getString(lg, "Path"); v != "" {
			out.LogPath = v
		}
		if v := getString(lg, "GinMode"); v != "" {
			out.GinMode = v
		}
		if v := getString(lg, "GinPath"); v != "" {
			out.GinPath = v
		}
		if v := getInt(lg, "MaxSizeMB"); v != 0 {
			out.LogMaxSizeMB = v
		}
		if v := getInt(lg, "MaxBackups"); v != 0 {
			out.LogMaxBackups = v
		}
		if v := getInt(lg, "MaxAgeDays"); v != 0 {
			out.LogMaxAgeDays = v
		}
		out.LogCompress = getBool(lg, "Compress")
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:" + c.AppPort
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "dropgate"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.S3Region == "" {
		c.S3Region = "us-east-1"
	}
	if c.S3Bucket == "" {
		c.S3Bucket = "dropgate"
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 50
	}
	if c.DefaultDownloadCap == 0 {
		c.DefaultDownloadCap = 5
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 3600
	}
	if c.PreviewTTLSeconds == 0 {
		c.PreviewTTLSeconds = 300
	}
	if len(c.PreviewMimePrefixes) == 0 {
		c.PreviewMimePrefixes = []string{"image/", "video/", "audio/", "text/", "application/pdf"}
	}
	if len(c.SensitiveExtensions) == 0 {
		c.SensitiveExtensions = []string{".exe", ".msi", ".dmg", ".pkg", ".deb", ".rpm", ".app"}
	}
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = 300
	}
	if c.RetentionHours == 0 {
		c.RetentionHours = 72
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("BASE_URL", ""); v != "" {
		c.BaseURL = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("ADMIN_USERNAMES", ""); v != "" {
		c.AdminUsernames = splitAndTrim(v)
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("S3_ENDPOINT", ""); v != "" {
		c.S3Endpoint = v
	}
	if v := getEnv("S3_REGION", ""); v != "" {
		c.S3Region = v
	}
	if v := getEnv("S3_BUCKET", ""); v != "" {
		c.S3Bucket = v
	}
	if v := getEnv("S3_ACCESS_KEY", ""); v != "" {
		c.S3AccessKey = v
	}
	if v := getEnv("S3_SECRET_KEY", ""); v != "" {
		c.S3SecretKey = v
	}
	if v := getEnv("S3_PATH_STYLE", ""); v != "" {
		c.S3PathStyle = v == "true"
	}
	if v := getEnv("ALLOW_ANONYMOUS_UPLOAD", ""); v != "" {
		c.AllowAnonymousUpload = v == "true"
	}
	if v := getEnv("MAX_UPLOAD_MB", ""); v != "" {
		c.MaxUploadMB = mustParseInt(v)
	}
	if v := getEnv("DEFAULT_DOWNLOAD_CAP", ""); v != "" {
		c.DefaultDownloadCap = mustParseInt(v)
	}
	if v := getEnv("CACHE_TTL_SECONDS", ""); v != "" {
		c.CacheTTLSeconds = mustParseInt(v)
	}
	if v := getEnv("PREVIEW_TTL_SECONDS", ""); v != "" {
		c.PreviewTTLSeconds = mustParseInt(v)
	}
	if v := getEnv("PREVIEW_SECRET", ""); v != "" {
		c.PreviewSecret = v
	}
	if v := getEnv("PREVIEW_MIME_PREFIXES", ""); v != "" {
		c.PreviewMimePrefixes = splitAndTrim(v)
	}
	if v := getEnv("SENSITIVE_EXTENSIONS", ""); v != "" {
		c.SensitiveExtensions = splitAndTrim(v)
	}
	if v := getEnv("SWEEP_INTERVAL_SECONDS", ""); v != "" {
		c.SweepIntervalSeconds = mustParseInt(v)
	}
	if v := getEnv("RETENTION_HOURS", ""); v != "" {
		c.RetentionHours = mustParseInt(v)
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
