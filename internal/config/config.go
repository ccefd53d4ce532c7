package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joho/godotenv"
)

// StoreBackend selects the ticket store implementation.
type StoreBackend string

const (
	BackendSQLite   StoreBackend = "sqlite"
	BackendMySQL    StoreBackend = "mysql"
	BackendPostgres StoreBackend = "postgres"
	BackendMongoDB  StoreBackend = "mongodb"
	BackendRedis    StoreBackend = "redis"
)

// Backends lists every accepted DB_TYPE value.
var Backends = []StoreBackend{BackendSQLite, BackendMySQL, BackendPostgres, BackendMongoDB, BackendRedis}

// Config aggregates runtime configuration for the bot.
type Config struct {
	App     AppConfig
	Discord DiscordConfig
	Store   StoreConfig
	Logger  LoggerConfig
	Ops     OpsConfig
	Events  EventsConfig
	Sweep   SweepConfig
}

// AppConfig carries process identity.
type AppConfig struct {
	Name    string
	Env     string
	Version string
}

// DiscordConfig holds the gateway credentials and the guild the bot serves.
type DiscordConfig struct {
	Token            string
	GuildID          snowflake.ID
	SupportRoleID    snowflake.ID
	RegisterCommands bool
}

// StoreConfig picks and configures the ticket store backend.
type StoreConfig struct {
	Backend  StoreBackend
	SQLite   SQLiteConfig
	MySQL    MySQLConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Mongo    MongoConfig
}

// SQLiteConfig points at the embedded database file.
type SQLiteConfig struct {
	Path string
}

// MySQLConfig holds MySQL connection values.
type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// MongoConfig holds MongoDB connection values.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	File  string
}

// OpsConfig controls the operator HTTP surface.
type OpsConfig struct {
	Enabled               bool
	Host                  string
	Port                  string
	JWTSecret             string
	TokenTTLMinutes       int
	AdminUser             string
	AdminPasswordHash     string
	RequestTimeoutSeconds int
}

// EventsConfig configures the optional lifecycle event feed.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

// MinOrphanAge is the youngest an unbound ticket row may be before a sweep
// treats it as orphaned. Anything younger may still be mid-Open.
const MinOrphanAge = time.Minute

// SweepConfig configures orphaned-ticket reconciliation.
type SweepConfig struct {
	Enabled   bool
	Interval  time.Duration
	OrphanAge time.Duration
	Purge     bool
}

// ValidationError lists every invalid or missing setting.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads configuration from the given .env files (or ./.env) and the
// environment, then validates it.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	var problems []string

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		problems = append(problems, fmt.Sprintf("REDIS_DB: %v", err))
	}

	guildID, err := getEnvAsSnowflake("GUILD_ID")
	if err != nil {
		problems = append(problems, err.Error())
	}
	supportRoleID, err := getEnvAsSnowflake("SUPPORT_ROLE_ID")
	if err != nil {
		problems = append(problems, err.Error())
	}

	level := getEnv("LOG_LEVEL", "info")
	if os.Getenv("DEBUG") == "1" {
		level = "debug"
	}

	cfg := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "ticketbot"),
			Env:     getEnv("APP_ENV", "development"),
			Version: getEnv("APP_VERSION", "dev"),
		},
		Discord: DiscordConfig{
			Token:            strings.TrimSpace(os.Getenv("BOT_TOKEN")),
			GuildID:          guildID,
			SupportRoleID:    supportRoleID,
			RegisterCommands: getEnvAsBool("DISCORD_REGISTER_COMMANDS", true),
		},
		Store: StoreConfig{
			Backend: StoreBackend(strings.ToLower(strings.TrimSpace(os.Getenv("DB_TYPE")))),
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "ticketbotdatabase.db"),
			},
			MySQL: MySQLConfig{
				Host:     getEnv("MYSQL_HOST", "localhost"),
				Port:     getEnvAsInt("MYSQL_PORT", 3306),
				User:     getEnv("MYSQL_USER", "root"),
				Password: os.Getenv("MYSQL_PASSWORD"),
				Database: getEnv("MYSQL_DATABASE", "ticket_bot"),
			},
			Postgres: PostgresConfig{
				DSN:            os.Getenv("POSTGRES_DSN"),
				MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 4)),
				MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 1)),
				RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
				ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
				ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
			},
			Redis: RedisConfig{
				Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
				Password:  os.Getenv("REDIS_PASSWORD"),
				DB:        redisDB,
				KeyPrefix: getEnv("REDIS_KEY_PREFIX", "ticketbot"),
			},
			Mongo: MongoConfig{
				URI:        os.Getenv("MONGO_URI"),
				Database:   os.Getenv("MONGO_DB_NAME"),
				Collection: getEnv("MONGO_COLLECTION", "tickets"),
			},
		},
		Logger: LoggerConfig{
			Level: level,
			File:  os.Getenv("LOG_FILE"),
		},
		Ops: OpsConfig{
			Enabled:               getEnvAsBool("OPS_ENABLED", false),
			Host:                  getEnv("OPS_HOST", "127.0.0.1"),
			Port:                  getEnv("OPS_PORT", "8080"),
			JWTSecret:             os.Getenv("OPS_JWT_SECRET"),
			TokenTTLMinutes:       getEnvAsInt("OPS_TOKEN_TTL_MINUTES", 60),
			AdminUser:             getEnv("OPS_ADMIN_USER", "admin"),
			AdminPasswordHash:     os.Getenv("OPS_ADMIN_PASSWORD_HASH"),
			RequestTimeoutSeconds: getEnvAsInt("OPS_REQUEST_TIMEOUT_SECONDS", 15),
		},
		Events: EventsConfig{
			AMQPURL:  os.Getenv("AMQP_URL"),
			Exchange: getEnv("AMQP_EXCHANGE", "ticket.events"),
		},
		Sweep: SweepConfig{
			Enabled:   getEnvAsBool("SWEEP_ENABLED", false),
			Interval:  getEnvAsDuration("SWEEP_INTERVAL", 15*time.Minute),
			OrphanAge: getEnvAsDuration("SWEEP_ORPHAN_AGE", time.Hour),
			Purge:     getEnvAsBool("SWEEP_PURGE", false),
		},
	}

	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var problems []string
	if c.Discord.Token == "" {
		problems = append(problems, "BOT_TOKEN is required")
	}

	switch c.Store.Backend {
	case "":
		problems = append(problems, "DB_TYPE is required")
	case BackendSQLite:
		if strings.TrimSpace(c.Store.SQLite.Path) == "" {
			problems = append(problems, "SQLITE_PATH must not be empty")
		}
	case BackendMySQL:
		if c.Store.MySQL.Database == "" {
			problems = append(problems, "MYSQL_DATABASE must not be empty")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			problems = append(problems, "POSTGRES_DSN is required when DB_TYPE=postgres")
		}
	case BackendMongoDB:
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			problems = append(problems, "MONGO_URI and MONGO_DB_NAME are required when DB_TYPE=mongodb")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			problems = append(problems, "REDIS_ADDR must not be empty")
		}
	default:
		problems = append(problems, fmt.Sprintf("DB_TYPE %q is not one of %v", c.Store.Backend, Backends))
	}

	if c.Ops.Enabled && c.Ops.AdminPasswordHash != "" && c.Ops.JWTSecret == "" {
		problems = append(problems, "OPS_JWT_SECRET is required when OPS_ADMIN_PASSWORD_HASH is set")
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		problems = append(problems, "SWEEP_INTERVAL must be positive")
	}
	if c.Sweep.OrphanAge < MinOrphanAge {
		problems = append(problems, fmt.Sprintf("SWEEP_ORPHAN_AGE must be at least %s", MinOrphanAge))
	}
	return problems
}

// Addr returns the ops HTTP bind address.
func (o OpsConfig) Addr() string {
	return fmt.Sprintf("%s:%s", o.Host, o.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (o OpsConfig) RequestTimeout() time.Duration {
	if o.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(o.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsSnowflake(key string) (snowflake.ID, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	id, err := snowflake.ParseString(val)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer id", key)
	}
	return id, nil
}
