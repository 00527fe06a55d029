package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/RepLog/internal/api"
	"github.com/BTreeMap/RepLog/internal/genai"
	"github.com/BTreeMap/RepLog/internal/lockfile"
	"github.com/BTreeMap/RepLog/internal/store"
	"github.com/BTreeMap/RepLog/internal/twiliowhatsapp"
	"github.com/BTreeMap/RepLog/internal/util"
	"github.com/BTreeMap/RepLog/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for RepLog state data
	DefaultStateDir = "/var/lib/replog"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "replog.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	config := loadEnvironmentConfig()

	flags, err := parseFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	initializeLogger(*flags.logLevel)

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "state_dir", *flags.stateDir, "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	waOpts := buildWhatsAppOptions(flags)
	twOpts := buildTwilioOptions(config)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags, config)

	slog.Info("Bootstrapping RepLog", "state_dir", *flags.stateDir, "twilio", *flags.useTwilio, "api_addr", *flags.apiAddr)
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "twilio", len(twOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	if err := api.Run(waOpts, twOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("RepLog failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("RepLog exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir                string
	DatabaseURL             string
	WhatsAppDSN             string
	APIKey                  string
	ModelBaseURL            string
	ModelName               string
	ModelTimeout            time.Duration
	APIAddr                 string
	UseTwilio               bool
	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioFromNumber        string
	TwilioValidateSignature bool
	TwilioWebhookURL        string
	RedisURL                string
	SystemPromptFile        string
	ReminderCron            string
	LogLevel                string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput         *string
	numeric          *bool
	stateDir         *string
	dbDSN            *string
	waDSN            *string
	apiKey           *string
	modelBaseURL     *string
	model            *string
	modelTimeout     *time.Duration
	apiAddr          *string
	useTwilio        *bool
	redisURL         *string
	systemPromptFile *string
	reminderCron     *string
	logLevel         *string
}

// initializeLogger sets up structured text logging at the given level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:                util.FirstEnv("REPLOG_STATE_DIR"),
		DatabaseURL:             util.FirstEnv("DATABASE_URL"),
		WhatsAppDSN:             util.FirstEnv("WHATSAPP_DB_DSN"),
		APIKey:                  util.FirstEnv("GROQ_API_KEY", "OPENAI_API_KEY"),
		ModelBaseURL:            util.FirstEnv("MODEL_BASE_URL"),
		ModelName:               util.FirstEnv("MODEL_NAME"),
		ModelTimeout:            util.ParseDurationEnv("MODEL_TIMEOUT", 0),
		APIAddr:                 util.FirstEnv("API_ADDR"),
		UseTwilio:               util.ParseBoolEnv("USE_TWILIO", false),
		TwilioAccountSID:        util.FirstEnv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:         util.FirstEnv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:        util.FirstEnv("TWILIO_FROM_NUMBER", "TWILIO_WHATSAPP_NUMBER"),
		TwilioValidateSignature: util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", false),
		TwilioWebhookURL:        util.FirstEnv("TWILIO_WEBHOOK_URL"),
		RedisURL:                util.FirstEnv("REDIS_URL"),
		SystemPromptFile:        util.FirstEnv("SYSTEM_PROMPT_FILE"),
		ReminderCron:            util.FirstEnv("REMINDER_CRON"),
		LogLevel:                util.FirstEnv("LOG_LEVEL"),
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if port := util.FirstEnv("PORT"); config.APIAddr == "" && port != "" {
		config.APIAddr = ":" + port
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultServerAddress
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	return config
}

// parseFlags defines the command line flags on fs with environment defaults
// and parses args.
func parseFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		qrOutput:         fs.String("qr-output", "", "path to write login QR code"),
		numeric:          fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:         fs.String("state-dir", config.StateDir, "state directory for RepLog data (overrides $REPLOG_STATE_DIR)"),
		dbDSN:            fs.String("db-dsn", config.DatabaseURL, "PostgreSQL DSN or SQLite path (overrides $DATABASE_URL; default <state-dir>/"+DefaultDBFileName+")"),
		waDSN:            fs.String("wa-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		apiKey:           fs.String("api-key", config.APIKey, "model API key (overrides $GROQ_API_KEY or $OPENAI_API_KEY)"),
		modelBaseURL:     fs.String("model-base-url", config.ModelBaseURL, "OpenAI-compatible endpoint (overrides $MODEL_BASE_URL)"),
		model:            fs.String("model", config.ModelName, "model name (overrides $MODEL_NAME)"),
		modelTimeout:     fs.Duration("model-timeout", config.ModelTimeout, "per-request model timeout (overrides $MODEL_TIMEOUT)"),
		apiAddr:          fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR or $PORT)"),
		useTwilio:        fs.Bool("twilio", config.UseTwilio, "use Twilio instead of whatsmeow (overrides $USE_TWILIO)"),
		redisURL:         fs.String("redis-url", config.RedisURL, "Redis URL for the dedup cache (overrides $REDIS_URL)"),
		systemPromptFile: fs.String("system-prompt-file", config.SystemPromptFile, "conversation system prompt file (overrides $SYSTEM_PROMPT_FILE)"),
		reminderCron:     fs.String("reminder-cron", config.ReminderCron, "cron schedule for routine reminders, empty disables (overrides $REMINDER_CRON)"),
		logLevel:         fs.String("log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if *flags.stateDir == "" {
		return Flags{}, errors.New("state directory must not be empty")
	}

	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	if *flags.waDSN == "" {
		*flags.waDSN = defaultWhatsAppDSN(*flags.stateDir, *flags.dbDSN)
	}
	return flags, nil
}

// defaultWhatsAppDSN shares a PostgreSQL database with the store; SQLite
// sessions get their own file in the state directory.
func defaultWhatsAppDSN(stateDir, dbDSN string) string {
	if store.DetectDSNType(dbDSN) == "postgres" {
		return dbDSN
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(stateDir, DefaultWhatsAppDBFileName))
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var twOpts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFromNumber != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
	}
	return twOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	dsn := *flags.dbDSN
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(dsn)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

// buildGenAIOptions constructs model gateway options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.apiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.apiKey))
	}
	if *flags.modelBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.modelBaseURL))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}
	if *flags.modelTimeout > 0 {
		genaiOpts = append(genaiOpts, genai.WithTimeout(*flags.modelTimeout))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	apiOpts := []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithTwilio(*flags.useTwilio),
	}
	if *flags.redisURL != "" {
		apiOpts = append(apiOpts, api.WithRedisURL(*flags.redisURL))
	}
	if *flags.systemPromptFile != "" {
		apiOpts = append(apiOpts, api.WithSystemPromptFile(*flags.systemPromptFile))
	}
	if *flags.reminderCron != "" {
		apiOpts = append(apiOpts, api.WithReminderCron(*flags.reminderCron))
	}
	if config.TwilioValidateSignature {
		if config.TwilioWebhookURL == "" {
			slog.Warn("TWILIO_VALIDATE_SIGNATURE is set without TWILIO_WEBHOOK_URL; signatures will not be checked")
		} else {
			apiOpts = append(apiOpts, api.WithTwilioSignatureValidation(config.TwilioWebhookURL))
		}
	}
	return apiOpts
}
