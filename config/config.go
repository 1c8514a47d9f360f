package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-contest/globals"
)

const envPrefix = "LSCONTEST"

// Config is the global configuration object which is filled via the configuration file, the environment
// (LSCONTEST_*) and the command line flags.
type Config struct {
	ListenAddr        string            `mapstructure:"listen_addr"`
	LogLevel          string            `mapstructure:"log_level"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	ContestConfig     ContestConfig     `mapstructure:"contest"`
	RetryConfig       RetryConfig       `mapstructure:"retry"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	JWTConfig         JWTConfig         `mapstructure:"jwt"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	JudgeConfig       JudgeConfig       `mapstructure:"judge"`
	GradingConfig     GradingConfig     `mapstructure:"grading"`
	LeaderboardConfig LeaderboardConfig `mapstructure:"leaderboard"`
	RateLimitConfig   RateLimitConfig   `mapstructure:"rate_limit"`
	WSConfig          WSConfig          `mapstructure:"ws"`
}

// HistoryConfig configures the size of the chat history that is kept in memory per room, and how much of it
// is sent to a user joining the room.
type HistoryConfig struct {
	Size     int `mapstructure:"size"`
	JoinSize int `mapstructure:"join_size"`
}

type ContestConfig struct {
	DefaultDuration int64 `mapstructure:"default_duration"` // seconds
}

// RetryConfig bounds the retry-on-not-found loops used when writing to the durable store.
type RetryConfig struct {
	MessageAttempts    int           `mapstructure:"message_attempts"`
	MembershipAttempts int           `mapstructure:"membership_attempts"`
	Delay              time.Duration `mapstructure:"delay"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
}

type AuthConfig struct {
	AllowGuests bool          `mapstructure:"allow_guests"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", this is used to construct the discovery url and subsequently discover the openid endpoints
}

// JWTConfig configures verification of HS256 signed tokens issued by a trusted backend.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// PersistenceConfig configures the durable document store. Type is one of "buntdb", "sqlite", "postgres" or
// "firestore". An empty type keeps everything in an in-memory buntdb.
type PersistenceConfig struct {
	Type      string `mapstructure:"type"`
	DSN       string `mapstructure:"dsn"`
	ProjectId string `mapstructure:"project_id"` // firestore only
	LockPath  string `mapstructure:"lock_path"`  // buntdb only, defaults to <dsn>.lock
}

// JudgeConfig points to a Judge0 compatible code execution API.
type JudgeConfig struct {
	Url          string        `mapstructure:"url"`
	ApiKey       string        `mapstructure:"api_key"`
	ApiHost      string        `mapstructure:"api_host"`
	PollAttempts int           `mapstructure:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type GradingConfig struct {
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
	Formula   string `mapstructure:"formula"`
}

type LeaderboardConfig struct {
	RefreshSpec string `mapstructure:"refresh_spec"` // cron spec, empty disables the refresher
	Size        int    `mapstructure:"size"`
}

// RateLimitConfig limits the inbound events per connection. EventsPerSecond <= 0 disables the limit.
type RateLimitConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	Burst           int     `mapstructure:"burst"`
}

type WSConfig struct {
	SendQueueSize  int   `mapstructure:"send_queue_size"`
	MaxMessageSize int64 `mapstructure:"max_message_size"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("listen-addr", "l", "", "ws service address (including port)")
	flagSet.String("log-level", "", "log level (trace, debug, info, warn, error)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "localhost:5000")
	v.SetDefault("log_level", "info")
	v.SetDefault("history.size", 100)
	v.SetDefault("history.join_size", 50)
	v.SetDefault("contest.default_duration", 3600)
	v.SetDefault("retry.message_attempts", 5)
	v.SetDefault("retry.membership_attempts", 2)
	v.SetDefault("retry.delay", "500ms")
	v.SetDefault("retry.settle_delay", "300ms")
	v.SetDefault("auth.cache_size", 1024)
	v.SetDefault("auth.cache_ttl", "5m")
	v.SetDefault("judge.url", "https://judge0-ce.p.rapidapi.com")
	v.SetDefault("judge.api_host", "judge0-ce.p.rapidapi.com")
	v.SetDefault("judge.poll_attempts", 10)
	v.SetDefault("judge.poll_interval", "1s")
	v.SetDefault("judge.timeout", "30s")
	v.SetDefault("grading.workers", 4)
	v.SetDefault("grading.queue_size", 256)
	v.SetDefault("grading.formula", "Round(Accuracy * MaxScore / 100)")
	v.SetDefault("leaderboard.refresh_spec", "@every 30s")
	v.SetDefault("leaderboard.size", 50)
	v.SetDefault("rate_limit.events_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("ws.send_queue_size", 256)
	v.SetDefault("ws.max_message_size", 65536)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		err := v.BindPFlags(flagSet)
		if err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}
