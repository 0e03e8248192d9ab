package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/rpattn/revisionable/internal/db"
	"github.com/rpattn/revisionable/internal/domain"
)

const (
	envPrefix  = "REVISIONABLE"
	configName = "revisionable"

	defaultTable = "revisions"
	defaultLimit = 100
)

// Options is the revisioning configuration read from revisionable.yaml and the
// environment.
type Options struct {
	Table        string `validate:"required"`
	UserModel    string
	UserProvider string `validate:"oneof=session guard"`
	UserField    string
	Revisions    RevisionOptions
	Rollback     RollbackOptions
	Database     db.Config
	SQLitePath   string
	JWTSecret    string
	// Types holds the per-record-type revision settings, keyed by type tag.
	Types map[string]TypeOptions
}

// TypeOptions configures one record type. Unset fields inherit the global defaults.
type TypeOptions struct {
	Table  string
	Config domain.RevisionConfig
}

type RevisionOptions struct {
	Limit        int `validate:"gte=0"`
	LimitCleanup bool
}

type RollbackOptions struct {
	Cleanup bool
	// Log records the save performed by a rollback as a new revision.
	Log bool
}

// Defaults converts the options into the engine's global defaults.
func (o Options) Defaults() domain.Defaults {
	return domain.Defaults{
		Limit:           o.Revisions.Limit,
		LimitCleanup:    o.Revisions.LimitCleanup,
		RollbackCleanup: o.Rollback.Cleanup,
		LogRollback:     o.Rollback.Log,
	}
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Table:        defaultTable,
		UserProvider: "guard",
		Revisions:    RevisionOptions{Limit: defaultLimit},
		Rollback:     RollbackOptions{Log: true},
		Database:     db.DefaultConfig(),
		SQLitePath:   "revisions.db",
		Types: map[string]TypeOptions{
			"post": {Table: "posts"},
		},
	}
}

// Loader reads Options with viper.
type Loader struct {
	mu       sync.Mutex
	v        *viper.Viper
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLoader creates a loader looking for revisionable.yaml in configPath.
func NewLoader(configPath string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys are only visible to AutomaticEnv once viper knows them.
	for _, key := range []string{
		"table", "user_model", "user_provider", "user_field",
		"revisions.limit", "revisions.limitcleanup",
		"rollback.cleanup", "rollback.log",
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode", "database.max_conns",
		"sqlite.path", "auth.jwt_secret",
	} {
		_ = v.BindEnv(key)
	}

	return &Loader{
		v:        v,
		logger:   logger,
		validate: validator.New(),
	}
}

// Load reads the config file (if any) and the environment.
func Load(configPath string, logger *slog.Logger) (Options, error) {
	return NewLoader(configPath, logger).Load()
}

// Load reads the config file (if any) and the environment. Malformed numeric and
// boolean values fall back to their defaults with a warning.
func (l *Loader) Load() (Options, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Options{}, fmt.Errorf("failed to read config: %w", err)
		}
		l.logger.Info("no revisionable.yaml found, using defaults and env vars")
	} else {
		l.logger.Info("loaded config", "file", l.v.ConfigFileUsed())
	}

	return l.decode()
}

// Watch re-reads the config file whenever it changes and passes the new options to
// onChange. Invalid reloads are logged and skipped.
func (l *Loader) Watch(onChange func(Options)) {
	l.v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		opts, err := l.decode()
		l.mu.Unlock()
		if err != nil {
			l.logger.Warn("ignoring invalid config reload", "file", event.Name, "error", err)
			return
		}
		l.logger.Info("config reloaded", "file", event.Name)
		onChange(opts)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (Options, error) {
	opts := DefaultOptions()

	opts.Table = l.stringOption("table", opts.Table)
	opts.UserModel = l.stringOption("user_model", opts.UserModel)
	opts.UserProvider = strings.ToLower(l.stringOption("user_provider", opts.UserProvider))
	opts.UserField = l.stringOption("user_field", opts.UserField)

	opts.Revisions.Limit = l.intOption("revisions.limit", opts.Revisions.Limit)
	opts.Revisions.LimitCleanup = l.boolOption("revisions.limitcleanup", opts.Revisions.LimitCleanup)
	opts.Rollback.Cleanup = l.boolOption("rollback.cleanup", opts.Rollback.Cleanup)
	opts.Rollback.Log = l.boolOption("rollback.log", opts.Rollback.Log)

	opts.Database.Host = l.stringOption("database.host", opts.Database.Host)
	opts.Database.Port = l.intOption("database.port", opts.Database.Port)
	opts.Database.User = l.stringOption("database.user", opts.Database.User)
	opts.Database.Password = l.stringOption("database.password", opts.Database.Password)
	opts.Database.DBName = l.stringOption("database.dbname", opts.Database.DBName)
	opts.Database.SSLMode = l.stringOption("database.sslmode", opts.Database.SSLMode)
	opts.Database.MaxConns = int32(l.intOption("database.max_conns", int(opts.Database.MaxConns)))

	opts.SQLitePath = l.stringOption("sqlite.path", opts.SQLitePath)
	opts.JWTSecret = l.stringOption("auth.jwt_secret", opts.JWTSecret)
	if types := l.decodeTypes(); len(types) > 0 {
		opts.Types = types
	}

	if err := l.validate.Struct(opts); err != nil {
		return Options{}, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}
	return opts, nil
}

// decodeTypes reads the types.<name>.* blocks. Malformed values are dropped so the
// type inherits the default; negative limits are kept for the registry to reject.
func (l *Loader) decodeTypes() map[string]TypeOptions {
	names := l.v.GetStringMap("types")
	if len(names) == 0 {
		return nil
	}

	types := make(map[string]TypeOptions, len(names))
	for name := range names {
		prefix := "types." + name + "."
		opts := TypeOptions{Table: l.stringOption(prefix+"table", name)}
		opts.Config.Enabled = l.optionalBool(prefix + "enabled")
		opts.Config.LimitCleanup = l.optionalBool(prefix + "limitcleanup")
		opts.Config.RollbackCleanup = l.optionalBool(prefix + "rollbackcleanup")
		if l.v.IsSet(prefix + "limit") {
			raw := l.v.Get(prefix + "limit")
			if limit, err := cast.ToIntE(raw); err != nil {
				l.invalid(prefix+"limit", raw, err)
			} else {
				opts.Config.Limit = &limit
			}
		}
		if l.v.IsSet(prefix + "revisionable") {
			opts.Config.Revisionable = l.v.GetStringSlice(prefix + "revisionable")
		}
		if l.v.IsSet(prefix + "nonrevisionable") {
			opts.Config.NonRevisionable = l.v.GetStringSlice(prefix + "nonrevisionable")
		}
		types[name] = opts
	}
	return types
}

func (l *Loader) optionalBool(key string) *bool {
	if !l.v.IsSet(key) {
		return nil
	}
	raw := l.v.Get(key)
	value, err := cast.ToBoolE(raw)
	if err != nil {
		l.invalid(key, raw, err)
		return nil
	}
	return &value
}

func (l *Loader) stringOption(key, fallback string) string {
	if !l.v.IsSet(key) {
		return fallback
	}
	value := strings.TrimSpace(l.v.GetString(key))
	if value == "" {
		return fallback
	}
	return value
}

func (l *Loader) intOption(key string, fallback int) int {
	if !l.v.IsSet(key) {
		return fallback
	}
	raw := l.v.Get(key)
	value, err := cast.ToIntE(raw)
	if err != nil || value < 0 {
		l.invalid(key, raw, err)
		return fallback
	}
	return value
}

func (l *Loader) boolOption(key string, fallback bool) bool {
	if !l.v.IsSet(key) {
		return fallback
	}
	raw := l.v.Get(key)
	value, err := cast.ToBoolE(raw)
	if err != nil {
		l.invalid(key, raw, err)
		return fallback
	}
	return value
}

func (l *Loader) invalid(key string, raw any, err error) {
	if err == nil {
		err = fmt.Errorf("negative value")
	}
	l.logger.Warn("invalid config value, using default",
		"key", key,
		"value", raw,
		"error", fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err),
	)
}
