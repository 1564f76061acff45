package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// DataDir holds the embedded store files when no database is configured.
	DataDir string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Provider settings.
	APIKey            string
	GenAIBaseURL      string
	StaticModels      []string
	SystemInstruction string
	GenAITimeout      time.Duration

	// VersionSalt is mixed into auto-login tokens. Changing it invalidates
	// every token minted under the old value.
	VersionSalt string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("LOOM_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("LOOM_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("LOOM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LOOM_HTTP_READ_TIMEOUT", 30*time.Second),
		IdleTimeout:       EnvDuration("LOOM_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("LOOM_HTTP_MAX_HEADER_BYTES", 1<<20),

		DataDir: EnvString("LOOM_DATA_DIR", "data"),

		DatabaseURL: EnvString("LOOM_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("LOOM_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("LOOM_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("LOOM_READINESS_REQUIRE_DB", false),

		APIKey:            EnvString("GOOGLE_API_KEY", ""),
		GenAIBaseURL:      EnvString("LOOM_GENAI_BASE_URL", ""),
		StaticModels:      EnvCSV("LOOM_MODELS", "gemini-2.0-flash,gemini-2.0-flash-thinking-exp-01-21,gemini-2.0-pro-exp-02-05"),
		SystemInstruction: EnvString("LOOM_SYSTEM_INSTRUCTION", ""),
		GenAITimeout:      EnvDuration("LOOM_GENAI_TIMEOUT", 30*time.Second),

		VersionSalt: EnvString("LOOM_VERSION", "1"),
	}
}
