package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`

	BotToken          string `env:"BOT_TOKEN,required"`
	AdminIDs          []int64 `env:"ADMIN_IDS" envSeparator:","`
	OutputChannelID   int64  `env:"OUTPUT_CHANNEL_ID,required"`
	OutputChannelName string `env:"OUTPUT_CHANNEL_NAME"`
	SourceFolderName  string `env:"SOURCE_FOLDER_NAME" envDefault:"News"`

	TGAPIID       int    `env:"TG_API_ID,required"`
	TGAPIHash     string `env:"TG_API_HASH,required"`
	TGPhone       string `env:"TG_PHONE"`
	TG2FAPassword string `env:"TG_2FA_PASSWORD"`
	TGSessionPath string `env:"TG_SESSION_PATH" envDefault:"./tg.session"`

	LLMAPIKey      string `env:"LLM_API_KEY,required"`
	LLMModel       string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	RateLimitRPS   int    `env:"RATE_LIMIT_RPS" envDefault:"1"`

	DedupWindowDays      int      `env:"DEDUP_WINDOW_DAYS" envDefault:"4"`
	EngagementWindowDays int      `env:"ENGAGEMENT_WINDOW_DAYS" envDefault:"10"`
	RequiredHashtags     []string `env:"REQUIRED_HASHTAGS" envSeparator:"," envDefault:"#news"`
	SimilarityThreshold  float64  `env:"SIMILARITY_THRESHOLD" envDefault:"0.01"`
	SummarizeBatchLimit  int      `env:"SUMMARIZE_BATCH_LIMIT" envDefault:"1000"`
	MinSummaryLength     int      `env:"MIN_SUMMARY_LENGTH" envDefault:"50"`
	MinRawLength         int      `env:"MIN_RAW_LENGTH" envDefault:"100"`

	ScorerMinSamples        int     `env:"SCORER_MIN_SAMPLES" envDefault:"30"`
	ScorerPosThreshold      float64 `env:"SCORER_POS_THRESHOLD" envDefault:"0.6"`
	ScorerNegThreshold      float64 `env:"SCORER_NEG_THRESHOLD" envDefault:"0.25"`
	LowScoreSendProbability float64 `env:"LOW_SCORE_SEND_PROBABILITY" envDefault:"0.3"`

	SendConcurrency int           `env:"SEND_CONCURRENCY" envDefault:"5"`
	ProcessInterval time.Duration `env:"PROCESS_INTERVAL" envDefault:"10m"`
	MaxWindow       time.Duration `env:"MAX_WINDOW" envDefault:"48h"`
	DefaultStartDate string       `env:"DEFAULT_START_DATE" envDefault:""`

	DigestTopN     int    `env:"DIGEST_TOP_N" envDefault:"10"`
	DigestTimezone string `env:"DIGEST_TIMEZONE" envDefault:"UTC"`

	HealthPort int  `env:"HEALTH_PORT" envDefault:"8080"`
	MockMode   bool `env:"IS_MOCK" envDefault:"false"`

	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"8"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"1"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`

	// Resolved from the raw string fields after parsing.
	StartDate time.Time      `env:"-"`
	Location  *time.Location `env:"-"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	if err := resolveDerived(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func resolveDerived(cfg *Config) error {
	loc, err := time.LoadLocation(cfg.DigestTimezone)
	if err != nil {
		return fmt.Errorf("parsing DIGEST_TIMEZONE: %w", err)
	}

	cfg.Location = loc

	if raw := strings.TrimSpace(cfg.DefaultStartDate); raw != "" {
		start, err := dateparse.ParseIn(raw, loc)
		if err != nil {
			return fmt.Errorf("parsing DEFAULT_START_DATE: %w", err)
		}

		cfg.StartDate = start
	}

	normalizeRequiredTags(cfg)

	return nil
}

// normalizeRequiredTags drops empty entries left by trailing separators.
func normalizeRequiredTags(cfg *Config) {
	tags := cfg.RequiredHashtags[:0]

	for _, t := range cfg.RequiredHashtags {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}

	cfg.RequiredHashtags = tags
}
