package params

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Node struct {
	APIAddr string // HTTP/WebSocket listen address
	DataDir string // Pebble database directory
	LogFile string // structured log tee target
}

type Market struct {
	// QuoteAsset is the venue-wide quote currency. Every instrument
	// trades its base asset against this.
	QuoteAsset string

	// ListingFile points at the YAML instrument listing registered at
	// boot. Empty means no instruments are pre-registered.
	ListingFile string
}

type Config struct {
	Node   Node
	Market Market
}

func Default() Config {
	return Config{
		Node: Node{
			APIAddr: ":8080",
			DataDir: "data/spotdex.db",
			LogFile: "data/spotdex.log",
		},
		Market: Market{
			QuoteAsset:  "USDC",
			ListingFile: "instruments.yaml",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("QUOTE_ASSET"); v != "" {
		cfg.Market.QuoteAsset = v
	}
	if v := os.Getenv("LISTING_FILE"); v != "" {
		cfg.Market.ListingFile = v
	}

	return cfg
}

// ListingEntry is one instrument in the listing file.
type ListingEntry struct {
	Ticker string `yaml:"ticker"`
	Base   string `yaml:"base"`
}

type listingFile struct {
	Instruments []ListingEntry `yaml:"instruments"`
}

// LoadListing parses the YAML instrument listing.
func LoadListing(path string) ([]ListingEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read listing %s: %w", path, err)
	}

	var f listingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", path, err)
	}
	for i, e := range f.Instruments {
		if e.Ticker == "" || e.Base == "" {
			return nil, fmt.Errorf("listing %s: entry %d missing ticker or base", path, i)
		}
	}
	return f.Instruments, nil
}
