package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	HTTPAddr       string
	Env            string
	LogLevel       string
	DatabaseURL    string
	JWTSecret      string
	AllowedOrigins []string
	PublicBaseURL  string

	DuelPairCount  int
	DuelPairPoints int

	DisconnectGrace time.Duration
	RevealDelay     time.Duration
	MatchCountdown  time.Duration
	FlipMinInterval time.Duration

	ScoreSpeedNumerator float64
	ScorePairWeight     float64
	ScoreFlipPenalty    float64

	SweepInterval        time.Duration
	RoomIdleTTL          time.Duration
	HistoryRetryInterval time.Duration

	WSMessagesPerSecond float64
	WSBurst             int
}

func (c Config) Development() bool { return c.Env == "development" }

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup. All parse errors are reported together.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	p := parser{lookup: lookup}
	c := Config{
		HTTPAddr:       p.str("HTTP_ADDR", ":8080"),
		Env:            p.str("APP_ENV", "production"),
		LogLevel:       p.str("LOG_LEVEL", "info"),
		DatabaseURL:    p.str("DATABASE_URL", ""),
		JWTSecret:      p.str("JWT_SECRET", ""),
		AllowedOrigins: p.list("ALLOWED_ORIGINS", []string{"localhost:*"}),
		PublicBaseURL:  strings.TrimRight(p.str("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),

		DuelPairCount:  p.integer("DUEL_PAIR_COUNT", 12),
		DuelPairPoints: p.integer("DUEL_PAIR_POINTS", 100),

		DisconnectGrace: p.duration("DISCONNECT_GRACE", 30*time.Second),
		RevealDelay:     p.duration("REVEAL_DELAY", time.Second),
		MatchCountdown:  p.duration("MATCH_COUNTDOWN", 3*time.Second),
		FlipMinInterval: p.duration("FLIP_MIN_INTERVAL", 250*time.Millisecond),

		ScoreSpeedNumerator: p.float("SCORE_SPEED_NUMERATOR", 10000),
		ScorePairWeight:     p.float("SCORE_PAIR_WEIGHT", 150),
		ScoreFlipPenalty:    p.float("SCORE_FLIP_PENALTY", 5),

		SweepInterval:        p.duration("SWEEP_INTERVAL", time.Minute),
		RoomIdleTTL:          p.duration("ROOM_IDLE_TTL", 2*time.Hour),
		HistoryRetryInterval: p.duration("HISTORY_RETRY_INTERVAL", 30*time.Second),

		WSMessagesPerSecond: p.float("WS_MESSAGES_PER_SECOND", 20),
		WSBurst:             p.integer("WS_BURST", 40),
	}
	if c.JWTSecret == "" {
		if c.Development() {
			c.JWTSecret = "development-secret"
		} else {
			p.errs = multierr.Append(p.errs, errors.New("JWT_SECRET is required outside development"))
		}
	}
	if c.DuelPairCount < 1 {
		p.errs = multierr.Append(p.errs, fmt.Errorf("DUEL_PAIR_COUNT must be positive, got %d", c.DuelPairCount))
	}
	if c.WSMessagesPerSecond <= 0 || c.WSBurst < 1 {
		p.errs = multierr.Append(p.errs, errors.New("websocket rate limits must be positive"))
	}
	if p.errs != nil {
		return Config{}, fmt.Errorf("config: %w", p.errs)
	}
	return c, nil
}

type parser struct {
	lookup func(string) (string, bool)
	errs   error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(key, def string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return def
}

func (p *parser) list(key string, def []string) []string {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = multierr.Append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = multierr.Append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = multierr.Append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	if d <= 0 {
		p.errs = multierr.Append(p.errs, fmt.Errorf("%s: must be positive", key))
		return def
	}
	return d
}
