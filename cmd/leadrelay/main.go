package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/leadrelay/leadrelay/internal/api"
	"github.com/leadrelay/leadrelay/internal/genai"
	"github.com/leadrelay/leadrelay/internal/messaging"
	"github.com/leadrelay/leadrelay/internal/store"
	"github.com/leadrelay/leadrelay/internal/util"
	"github.com/leadrelay/leadrelay/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadRelay state data
	DefaultStateDir = "/var/lib/leadrelay"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadrelay.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	msgService, err := buildMessagingService(flags)
	if err != nil {
		slog.Error("Failed to create messaging service", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LeadRelay with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	if err := api.Run(ctx, storeOpts, genaiOpts, msgService, apiOpts...); err != nil {
		slog.Error("LeadRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	StateDir          string
	OpenAIKey         string
	APIAddr           string
	MessagingProvider string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioSMSFrom     string
	TwilioWAFrom      string
	StatusCallback    string
	WhatsAppDSN       string
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	openaiKey      *string
	apiAddr        *string
	provider       *string
	twilioSID      *string
	twilioToken    *string
	twilioSMSFrom  *string
	twilioWAFrom   *string
	statusCallback *string
	waDSN          *string
	qrOutput       *string
	numeric        *bool
}

// initializeLogger sets up structured logging. LEADRELAY_DEBUG=false drops
// the level to info.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LEADRELAY_DEBUG", true) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          os.Getenv("LEADRELAY_STATE_DIR"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		APIAddr:           os.Getenv("API_ADDR"),
		MessagingProvider: os.Getenv("MESSAGING_PROVIDER"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioSMSFrom:     os.Getenv("TWILIO_SMS_FROM"),
		TwilioWAFrom:      os.Getenv("TWILIO_WHATSAPP_FROM"),
		StatusCallback:    os.Getenv("TWILIO_STATUS_CALLBACK"),
		WhatsAppDSN:       os.Getenv("WHATSAPP_DB_DSN"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADRELAY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}

	if config.MessagingProvider == "" {
		config.MessagingProvider = "twilio"
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADRELAY_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_PROVIDER", config.MessagingProvider,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for LeadRelay data (overrides $LEADRELAY_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for the contact store (overrides $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		provider:       flag.String("messaging-provider", config.MessagingProvider, "messaging provider: twilio or whatsapp (overrides $MESSAGING_PROVIDER)"),
		twilioSID:      flag.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:    flag.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioSMSFrom:  flag.String("twilio-sms-from", config.TwilioSMSFrom, "Twilio SMS sender number (overrides $TWILIO_SMS_FROM)"),
		twilioWAFrom:   flag.String("twilio-whatsapp-from", config.TwilioWAFrom, "Twilio WhatsApp Business sender number (overrides $TWILIO_WHATSAPP_FROM)"),
		statusCallback: flag.String("twilio-status-callback", config.StatusCallback, "Twilio delivery status callback URL (overrides $TWILIO_STATUS_CALLBACK)"),
		waDSN:          flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:       flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:        flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"provider", *flags.provider)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if perSecond := util.ParseIntEnv("GENAI_RATE_LIMIT", 0); perSecond > 0 {
		genaiOpts = append(genaiOpts, genai.WithRateLimit(float64(perSecond), 2*perSecond))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// buildMessagingService constructs the configured messaging provider.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch *flags.provider {
	case "whatsapp":
		var waOpts []whatsapp.Option
		if *flags.waDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		twilioOpts := []messaging.TwilioOption{
			messaging.WithTwilioCredentials(*flags.twilioSID, *flags.twilioToken),
		}
		if *flags.twilioSMSFrom != "" {
			twilioOpts = append(twilioOpts, messaging.WithSMSFrom(*flags.twilioSMSFrom))
		}
		if *flags.twilioWAFrom != "" {
			twilioOpts = append(twilioOpts, messaging.WithWhatsAppFrom(*flags.twilioWAFrom))
		}
		if *flags.statusCallback != "" {
			twilioOpts = append(twilioOpts, messaging.WithStatusCallback(*flags.statusCallback))
		}
		return messaging.NewTwilioService(twilioOpts...)
	}
}
