package app

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/mirrorsync"
	"github.com/agentstation/mirrorsync/internal/notion"
	"github.com/agentstation/mirrorsync/pkg/errors"
)

// Config holds the application configuration loaded from flags, the
// environment, .env files and an optional config file.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Workspace
	NotionToken    string `env:"NOTION_TOKEN" validate:"required"`
	ProjectsDB     string `env:"PROJECTS_DB" validate:"required"`
	ManagersDB     string `env:"MANAGERS_DB" validate:"required"`
	TemplatePageID string `env:"TEMPLATE_PAGE_ID" validate:"required"`

	// Notion API
	NotionBaseURL string  `env:"NOTION_BASE_URL" validate:"omitempty,url"`
	NotionVersion string  `env:"NOTION_VERSION"`
	RateLimit     float64 `env:"NOTION_RATE_LIMIT"`
	AuthHeader    string  `env:"NOTION_AUTH_HEADER"`

	// Engine
	Policy       string        `env:"SYNC_POLICY" validate:"oneof=tagged overwrite"`
	Workers      int           `env:"SYNC_WORKERS" validate:"gte=1"`
	Timeout      time.Duration `env:"SYNC_TIMEOUT" validate:"gte=0"`
	CopyTemplate bool          `env:"COPY_TEMPLATE"`
	SubTables    bool          `env:"SUB_TABLES"`
	RedisURL     string        `env:"REDIS_URL"`

	// Property names
	NameProperty         string `env:"NAME_PROPERTY" validate:"required"`
	StatusProperty       string `env:"STATUS_PROPERTY"`
	RemainingProperty    string `env:"REMAINING_PROPERTY"`
	OwnersProperty       string `env:"OWNERS_PROPERTY" validate:"required"`
	RegistryNameProperty string `env:"REGISTRY_NAME_PROPERTY" validate:"required"`
	MirrorTitle          string `env:"MIRROR_TITLE" validate:"required"`
	TagProperty          string `env:"TAG_PROPERTY" validate:"required"`
	SystemLabel          string `env:"SYSTEM_LABEL" validate:"required"`
	OwnerLabel           string `env:"OWNER_LABEL" validate:"required,nefield=SystemLabel"`

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables
// 3. .env files
// 4. Config file (./.mirrorsync.yaml or ~/.mirrorsync.yaml)
// 5. Defaults
//
// LoadConfig does not require the workspace settings; Validate does.
func LoadConfig(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigurationError("config", "read "+configFile, err)
		}
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".mirrorsync")
		// a missing config file is fine
		_ = v.ReadInConfig()
	}

	return &Config{
		Verbose: v.GetBool("verbose"),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no_color"),
		Format:  v.GetString("format"),

		ConfigFile: v.ConfigFileUsed(),

		NotionToken:    v.GetString("notion_token"),
		ProjectsDB:     v.GetString("projects_db"),
		ManagersDB:     v.GetString("managers_db"),
		TemplatePageID: v.GetString("template_page_id"),

		NotionBaseURL: v.GetString("notion_base_url"),
		NotionVersion: v.GetString("notion_version"),
		RateLimit:     v.GetFloat64("notion_rate_limit"),
		AuthHeader:    v.GetString("notion_auth_header"),

		Policy:       v.GetString("sync_policy"),
		Workers:      v.GetInt("sync_workers"),
		Timeout:      v.GetDuration("sync_timeout"),
		CopyTemplate: v.GetBool("copy_template"),
		SubTables:    v.GetBool("sub_tables"),
		RedisURL:     v.GetString("redis_url"),

		NameProperty:         v.GetString("name_property"),
		StatusProperty:       v.GetString("status_property"),
		RemainingProperty:    v.GetString("remaining_property"),
		OwnersProperty:       v.GetString("owners_property"),
		RegistryNameProperty: v.GetString("registry_name_property"),
		MirrorTitle:          v.GetString("mirror_title"),
		TagProperty:          v.GetString("tag_property"),
		SystemLabel:          v.GetString("system_label"),
		OwnerLabel:           v.GetString("owner_label"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		LogOutput: v.GetString("log_output"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("notion_base_url", notion.DefaultBaseURL)
	v.SetDefault("notion_version", notion.DefaultVersion)
	v.SetDefault("notion_rate_limit", notion.DefaultRateLimit)

	v.SetDefault("sync_policy", string(mirrorsync.PolicyTagged))
	v.SetDefault("sync_workers", 1)
	v.SetDefault("copy_template", true)
	v.SetDefault("sub_tables", true)

	v.SetDefault("name_property", mirrorsync.DefaultNameProperty)
	v.SetDefault("status_property", mirrorsync.DefaultStatusProperty)
	v.SetDefault("remaining_property", mirrorsync.DefaultRemainingProperty)
	v.SetDefault("owners_property", mirrorsync.DefaultOwnersProperty)
	v.SetDefault("registry_name_property", mirrorsync.DefaultRegistryNameProperty)
	v.SetDefault("mirror_title", mirrorsync.DefaultMirrorTitle)
	v.SetDefault("tag_property", mirrorsync.DefaultTagProperty)
	v.SetDefault("system_label", mirrorsync.DefaultSystemLabel)
	v.SetDefault("owner_label", mirrorsync.DefaultOwnerLabel)

	v.SetDefault("log_format", "auto")
	v.SetDefault("log_output", "stderr")
}

// Validate checks the settings a pass needs. Missing settings are reported
// together by their environment variable names.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})

	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.NewConfigurationError("config", err.Error(), err)
	}

	cfgErr := &errors.ConfigurationError{Component: "config", Err: err}
	var invalid []string
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			cfgErr.Missing = append(cfgErr.Missing, fe.Field())
			continue
		}
		invalid = append(invalid, fe.Field()+" fails "+fe.Tag())
	}
	if len(invalid) > 0 {
		cfgErr.Message = "invalid settings: " + strings.Join(invalid, ", ")
	}
	return cfgErr
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// Mapping returns the engine's property mapping.
func (c *Config) Mapping() mirrorsync.Mapping {
	return mirrorsync.Mapping{
		Name:      c.NameProperty,
		Status:    c.StatusProperty,
		Remaining: c.RemainingProperty,
		Owners:    c.OwnersProperty,
	}
}

// loadEnvFiles loads environment variables from .env files. godotenv never
// overrides variables already set, so .env.local is loaded first to win
// over .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}
