// Package config provides a go-simpler.org/env configuration table for the
// gateway, with an optional .env file in the XDG config directory.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"go-simpler.org/env"

	"zapai.dev/pkg/utils/apputil"
	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/log"
	"zapai.dev/pkg/utils/lol"
)

// C holds gateway configuration loaded from environment variables and default
// values: keys, relay list, metering costs, queue and breaker tuning, and the
// dashboard port.
type C struct {
	AppName       string   `env:"ZAPAI_APP_NAME" default:"zapai"`
	Config        string   `env:"ZAPAI_CONFIG_DIR" usage:"location for the optional .env configuration file" default:""`
	DataDir       string   `env:"ZAPAI_DATA_DIR" usage:"storage location for the conversation store and ledger" default:""`
	LogLevel      string   `env:"ZAPAI_LOG_LEVEL" default:"info" usage:"log level: fatal error warn info debug trace"`
	DbLogLevel    string   `env:"ZAPAI_DB_LOG_LEVEL" default:"warn" usage:"badger log level: fatal error warn info debug trace"`
	Pprof         bool     `env:"ZAPAI_PPROF" default:"false" usage:"write a memory profile and serve pprof on 127.0.0.1:6060"`
	SecretKey     string   `env:"ZAPAI_SECRET_KEY" usage:"bot secret key, hex or nsec (required)"`
	AIAPIKey      string   `env:"ZAPAI_AI_API_KEY" usage:"API key for the generative AI backend (required)"`
	AIBaseURL     string   `env:"ZAPAI_AI_BASE_URL" default:"https://api.openai.com/v1" usage:"base URL of an OpenAI-compatible chat completion API"`
	AIModel       string   `env:"ZAPAI_AI_MODEL" default:"gpt-4o-mini" usage:"model name sent to the AI backend"`
	BotName       string   `env:"ZAPAI_BOT_NAME" default:"ZapAI" usage:"display name used in replies and the system prompt"`
	Relays        []string `env:"ZAPAI_RELAYS" usage:"relay websocket URLs to subscribe and publish to (comma separated, required)"`
	ResponseDelay time.Duration `env:"ZAPAI_RESPONSE_DELAY" default:"2s" usage:"pause before publishing a reply, to space out public responses"`

	MaxConcurrent int           `env:"ZAPAI_MAX_CONCURRENT" default:"10" usage:"maximum in-flight message processing jobs"`
	MaxQueueSize  int           `env:"ZAPAI_MAX_QUEUE_SIZE" default:"10000" usage:"bound on the work queue depth"`
	QueueTimeout  time.Duration `env:"ZAPAI_QUEUE_TIMEOUT" default:"60s" usage:"per-task processing timeout"`
	RetryAttempts int           `env:"ZAPAI_RETRY_ATTEMPTS" default:"3" usage:"attempts per task before it counts as permanently failed"`
	RetryDelay    time.Duration `env:"ZAPAI_RETRY_DELAY" default:"2s" usage:"base backoff between task retries, multiplied by the attempt number"`

	RateMaxTokens  int           `env:"ZAPAI_RATE_MAX_TOKENS" default:"50" usage:"token bucket capacity per user"`
	RateRefill     float64       `env:"ZAPAI_RATE_REFILL" default:"5" usage:"tokens refilled per second per user"`
	RateIdleWindow time.Duration `env:"ZAPAI_RATE_IDLE_WINDOW" default:"60s" usage:"idle time after which a user's bucket is evicted"`

	DMCost     int64 `env:"ZAPAI_DM_COST" default:"20" usage:"sats debited per direct message"`
	PublicCost int64 `env:"ZAPAI_PUBLIC_COST" default:"50" usage:"sats debited per public mention"`

	BreakerFailures     int           `env:"ZAPAI_BREAKER_FAILURES" default:"3" usage:"consecutive AI failures before the circuit opens"`
	BreakerSuccesses    int           `env:"ZAPAI_BREAKER_SUCCESSES" default:"1" usage:"half-open successes required to close the circuit"`
	BreakerCallTimeout  time.Duration `env:"ZAPAI_BREAKER_CALL_TIMEOUT" default:"50s" usage:"hard timeout on each AI call"`
	BreakerResetTimeout time.Duration `env:"ZAPAI_BREAKER_RESET_TIMEOUT" default:"30s" usage:"open duration before a half-open probe is allowed"`

	DedupMaxIDs    int           `env:"ZAPAI_DEDUP_MAX_IDS" default:"1000" usage:"bound on the processed event id set"`
	FingerprintTTL time.Duration `env:"ZAPAI_FINGERPRINT_TTL" default:"5m" usage:"suppression window for identical (author, content) pairs"`

	ReconnectBase    time.Duration `env:"ZAPAI_RECONNECT_BASE" default:"5s" usage:"base relay reconnect backoff"`
	ReconnectCeiling time.Duration `env:"ZAPAI_RECONNECT_CEILING" default:"60s" usage:"maximum relay reconnect backoff"`
	ReconnectMax     int           `env:"ZAPAI_RECONNECT_MAX" default:"5" usage:"reconnect attempts before a relay is marked permanently failed"`

	HistoryLimit int `env:"ZAPAI_HISTORY_LIMIT" default:"50" usage:"messages loaded from the store per conversation"`
	HistoryTurns int `env:"ZAPAI_HISTORY_TURNS" default:"40" usage:"most recent turns forwarded to the AI backend"`

	WebPort int `env:"ZAPAI_WEB_PORT" default:"3337" usage:"dashboard listen port, 0 disables"`
}

// New loads configuration from the environment and, when present, the .env
// file in the config directory. The .env file never overrides variables
// already set in the environment.
func New() (cfg *C, err error) {
	cfg = &C{}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.T(err) {
		return
	}
	if cfg.Config == "" {
		cfg.Config = filepath.Join(xdg.ConfigHome, cfg.AppName)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(xdg.DataHome, cfg.AppName)
	}
	envPath := filepath.Join(cfg.Config, ".env")
	if apputil.FileExists(envPath) {
		var src fileSource
		if src, err = readEnvFile(envPath); chk.E(err) {
			return
		}
		if err = env.Load(
			cfg, &env.Options{SliceSep: ",", Source: src},
		); chk.E(err) {
			return
		}
		log.I.F("loaded configuration from %s", envPath)
	}
	lol.SetLogLevel(cfg.LogLevel)
	var relays []string
	for _, u := range cfg.Relays {
		if u = strings.TrimSpace(u); u != "" {
			relays = append(relays, u)
		}
	}
	cfg.Relays = relays
	return
}

// Validate reports the first missing required setting.
func (c *C) Validate() (err error) {
	switch {
	case c.SecretKey == "":
		err = fmt.Errorf("ZAPAI_SECRET_KEY is required")
	case c.AIAPIKey == "":
		err = fmt.Errorf("ZAPAI_AI_API_KEY is required")
	case len(c.Relays) == 0:
		err = fmt.Errorf("ZAPAI_RELAYS is required")
	}
	return
}

// fileSource adapts a parsed .env file to the env.Source lookup interface,
// deferring to the process environment first.
type fileSource map[string]string

func (f fileSource) LookupEnv(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	v, ok := f[key]
	return v, ok
}

func readEnvFile(path string) (src fileSource, err error) {
	var f *os.File
	if f, err = os.Open(path); err != nil {
		return
	}
	defer f.Close()
	src = fileSource{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		src[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	err = sc.Err()
	return
}

// HelpRequested reports whether the command line asked for usage output.
func HelpRequested() bool {
	for _, a := range os.Args[1:] {
		switch strings.ToLower(a) {
		case "-h", "--help", "help":
			return true
		}
	}
	return false
}

// GetEnv reports whether the command line asked for an environment dump.
func GetEnv() bool {
	return len(os.Args) > 1 && strings.ToLower(os.Args[1]) == "env"
}

// PrintEnv writes the current configuration in KEY=value form, suitable for
// seeding a .env file.
func PrintEnv(cfg *C, w io.Writer) {
	t := reflect.TypeOf(*cfg)
	v := reflect.ValueOf(*cfg)
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		field := v.Field(i)
		if field.Kind() == reflect.Slice {
			var ss []string
			for j := 0; j < field.Len(); j++ {
				ss = append(ss, fmt.Sprint(field.Index(j).Interface()))
			}
			fmt.Fprintf(w, "%s=%s\n", name, strings.Join(ss, ","))
			continue
		}
		fmt.Fprintf(w, "%s=%v\n", name, field.Interface())
	}
}

// PrintHelp writes the configuration table with defaults and usage notes.
func PrintHelp(cfg *C, w io.Writer) {
	fmt.Fprintf(
		w, "%s - nostr to AI gateway, metered in sats\n\n"+
			"configuration is via environment variables or a .env file in %s\n\n",
		cfg.AppName, cfg.Config,
	)
	t := reflect.TypeOf(*cfg)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("env")
		if name == "" {
			continue
		}
		fmt.Fprintf(w, "  %s\n", name)
		if u := f.Tag.Get("usage"); u != "" {
			fmt.Fprintf(w, "      %s\n", u)
		}
		if d := f.Tag.Get("default"); d != "" {
			fmt.Fprintf(w, "      default: %s\n", d)
		}
	}
	fmt.Fprintln(w)
}
