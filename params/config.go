package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// DefaultExchangeAddresses are the CTF Exchange contracts watched when
// EXCHANGE_ADDRESSES is unset.
var DefaultExchangeAddresses = []string{
	"0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E", // Polymarket CTF Exchange
	"0xC5d563A36AE78145C45a50134d48A1215220f80a", // Polymarket Neg-Risk CTF Exchange
}

// Chain holds RPC connection and contract-watch settings.
type Chain struct {
	RPCURL            string
	ExchangeAddresses []common.Address
}

// Controller holds Stream Controller tuning.
type Controller struct {
	PollInterval  time.Duration
	BlocksPerPoll int64
	Confirmations int64
}

// Store holds evidence-store capacity and durability settings.
type Store struct {
	DBPath      string
	RingTrades  int
	RingAlerts  int
	SpillPeriod time.Duration
}

// API holds REST/WS server bind settings.
type API struct {
	ListenAddr string
	TxLogFile  string
}

type Config struct {
	Chain      Chain
	Controller Controller
	Store      Store
	API        API
}

func Default() Config {
	return Config{
		Chain: Chain{
			RPCURL:            "",
			ExchangeAddresses: parseAddresses(strings.Join(DefaultExchangeAddresses, ",")),
		},
		Controller: Controller{
			PollInterval:  5 * time.Second,
			BlocksPerPoll: 2000,
			Confirmations: 3,
		},
		Store: Store{
			DBPath:      "data/forensics.db",
			RingTrades:  50_000,
			RingAlerts:  1_000,
			SpillPeriod: 10 * time.Second,
		},
		API: API{
			ListenAddr: ":8090",
			TxLogFile:  "data/events.log",
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
		_ = godotenv.Load()
	}

	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("EXCHANGE_ADDRESSES"); v != "" {
		cfg.Chain.ExchangeAddresses = parseAddresses(v)
	}

	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Controller.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("BLOCKS_PER_POLL"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Controller.BlocksPerPoll = n
		}
	}
	if v := os.Getenv("CONFIRMATIONS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Controller.Confirmations = n
		}
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("RING_TRADES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.RingTrades = n
		}
	}
	if v := os.Getenv("RING_ALERTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.RingAlerts = n
		}
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("TX_LOG_FILE"); v != "" {
		cfg.API.TxLogFile = v
	}

	return cfg
}

func parseAddresses(csv string) []common.Address {
	parts := strings.Split(csv, ",")
	out := make([]common.Address, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, common.HexToAddress(p))
	}
	return out
}
