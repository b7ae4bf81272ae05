package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Node struct {
	DataDir  string // pebble directory; empty keeps state in memory
	LogFile  string
	LogLevel string
	APIAddr  string
	// CORSOrigins lists allowed browser origins for the REST/WS boundary.
	CORSOrigins []string

	MempoolSize   int           // queued async requests before submissions are refused
	DrainInterval time.Duration // how often queued requests are applied
	MaxDrainBytes int64         // per drain; 0 drains everything
	JournalFile   string        // append-only request journal; empty disables it
}

type Exchange struct {
	// AdminAddress is the only caller allowed to register tokens.
	// When empty the node derives one from AdminKey (or generates a dev key).
	AdminAddress string
	AdminKey     string
	BaseCurrency string
	// CompactFilled removes fully filled orders from the book after each
	// market walk instead of leaving them to be skipped lazily.
	CompactFilled bool
	TradeHistory  int // trades kept in memory per symbol for queries
}

type Signing struct {
	DomainName string
	ChainID    int64
}

type Seed struct {
	Enabled bool
	Tokens  []string // first entry must match Exchange.BaseCurrency
	Traders []string // hex private keys funded by the faucet
	Amount  uint64

	// FeedInterval > 0 starts a synthetic order flow from the seeded
	// traders. Intended for local demos only.
	FeedInterval time.Duration
	FeedBatch    int
}

type P2P struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
}

type Config struct {
	Node     Node
	Exchange Exchange
	Signing  Signing
	Seed     Seed
	P2P      P2P
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:     "data/hyperdex",
			LogLevel:    "info",
			APIAddr:     ":8080",
			CORSOrigins: []string{"*"},

			MempoolSize:   10000,
			DrainInterval: 100 * time.Millisecond,
		},
		Exchange: Exchange{
			BaseCurrency: "DAI",
			TradeHistory: 500,
		},
		Signing: Signing{
			DomainName: "HyperDex",
			ChainID:    1337,
		},
		Seed: Seed{
			Tokens: []string{"DAI", "BAT", "REP", "ZRX"},
			Amount:    1000,
			FeedBatch: 5,
		},
		P2P: P2P{
			Topic: "hyperdex/trades/1",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.CORSOrigins = splitList(origins)
	}
	if n := os.Getenv("MEMPOOL_SIZE"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			cfg.Node.MempoolSize = v
		}
	}
	cfg.Node.DrainInterval = getDuration("DRAIN_INTERVAL", cfg.Node.DrainInterval)
	if n := os.Getenv("MAX_DRAIN_BYTES"); n != "" {
		if v, err := strconv.ParseInt(n, 10, 64); err == nil && v >= 0 {
			cfg.Node.MaxDrainBytes = v
		}
	}
	cfg.Node.JournalFile = getEnv("JOURNAL_FILE", cfg.Node.JournalFile)

	cfg.Exchange.AdminAddress = getEnv("ADMIN_ADDRESS", cfg.Exchange.AdminAddress)
	cfg.Exchange.AdminKey = getEnv("ADMIN_KEY", cfg.Exchange.AdminKey)
	cfg.Exchange.BaseCurrency = getEnv("BASE_CURRENCY", cfg.Exchange.BaseCurrency)
	if compact := os.Getenv("COMPACT_FILLED"); compact != "" {
		cfg.Exchange.CompactFilled = compact == "true"
	}
	if n := os.Getenv("TRADE_HISTORY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			cfg.Exchange.TradeHistory = v
		}
	}

	cfg.Signing.DomainName = getEnv("SIGNING_DOMAIN", cfg.Signing.DomainName)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Signing.ChainID = v
		}
	}

	if seed := os.Getenv("SEED"); seed != "" {
		cfg.Seed.Enabled = seed == "true"
	}
	if tokens := os.Getenv("SEED_TOKENS"); tokens != "" {
		cfg.Seed.Tokens = splitList(tokens)
	}
	if traders := os.Getenv("SEED_TRADERS"); traders != "" {
		cfg.Seed.Traders = splitList(traders)
	}
	if amount := os.Getenv("SEED_AMOUNT"); amount != "" {
		if v, err := strconv.ParseUint(amount, 10, 64); err == nil {
			cfg.Seed.Amount = v
		}
	}
	cfg.Seed.FeedInterval = getDuration("FEED_INTERVAL", cfg.Seed.FeedInterval)
	if n := os.Getenv("FEED_BATCH"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			cfg.Seed.FeedBatch = v
		}
	}

	cfg.P2P.ListenAddr = getEnv("P2P_LISTEN", cfg.P2P.ListenAddr)
	cfg.P2P.Topic = getEnv("P2P_TOPIC", cfg.P2P.Topic)
	if peers := os.Getenv("P2P_BOOTSTRAP"); peers != "" {
		cfg.P2P.Bootstrap = splitList(peers)
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration parses values like "250ms"; invalid values keep the default
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
