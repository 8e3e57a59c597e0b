package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/kfund-labs/uniliq/internal/amm"
	"github.com/kfund-labs/uniliq/internal/audit"
	"github.com/kfund-labs/uniliq/internal/bank"
	"github.com/kfund-labs/uniliq/internal/config"
	"github.com/kfund-labs/uniliq/internal/fund"
	"github.com/kfund-labs/uniliq/internal/gov"
	"github.com/kfund-labs/uniliq/internal/logger"
	"github.com/kfund-labs/uniliq/internal/positions"
	"github.com/kfund-labs/uniliq/internal/state"
	"github.com/kfund-labs/uniliq/internal/swap"
	"github.com/kfund-labs/uniliq/internal/web"
)

const SNAPSHOT_INTERVAL = 10 * time.Minute

// main is the entry point for the fund engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Fund engine starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: int(config.DBPort),
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Engine Backend (with Safety Switch) ---
	if config.Mode == config.ModeLive {
		log.Fatal().Msg("ENGINE_MODE=live requires an external AMM integration that is not configured in this build. Set ENGINE_MODE=sim to run.")
	}
	log.Info().Msg("Initializing engine in SIM mode. All balances and pools are in-process.")

	ledger := bank.NewLedger()
	dex := amm.NewSim(ledger)

	identity, err := gov.NewIdentity(config.GovernanceAddress, config.StrategistAddress, config.RewardsAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build capability identity set")
	}

	recorder := audit.Multi{audit.NewLog(), state.NewAuditStore()}

	// --- 3. Wire Fund and Manager ---
	router := swap.NewRouter(dex, identity, config.ManagerAddress, recorder)
	mgr, err := positions.NewManager(identity, ledger, dex, router, recorder, config.ManagerAddress, config.ReserveToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize position manager")
	}

	f, err := fund.New(identity, ledger, recorder, config.FundAddress, config.FundName, config.FundSymbol)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize fund")
	}
	if err := f.Bind(config.GovernanceAddress, mgr); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind fund to manager")
	}
	log.Info().
		Str("fund", config.FundAddress.Hex()).
		Str("manager", config.ManagerAddress.Hex()).
		Str("reserve", config.ReserveToken.Hex()).
		Msg("Fund bound to position manager")

	// --- 4. Start Web Server ---
	webServer := web.NewWebServer(strconv.FormatUint(config.WebServerPort, 10), f, mgr)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Snapshot Loop ---
	log.Info().Str("interval", SNAPSHOT_INTERVAL.String()).Msg("Starting snapshot loop")
	ticker := time.NewTicker(SNAPSHOT_INTERVAL)
	defer ticker.Stop()
	for range ticker.C {
		recordSnapshot(f, mgr)
	}
}

// recordSnapshot persists one accounting observation. Failures are logged
// and the loop keeps running.
func recordSnapshot(f *fund.Fund, mgr *positions.Manager) {
	assets, err := mgr.Assets()
	if err != nil {
		log.Error().Err(err).Msg("Snapshot skipped: failed to value holdings")
		return
	}
	deployed, err := mgr.LiquidityAssets()
	if err != nil {
		log.Error().Err(err).Msg("Snapshot skipped: failed to value liquidity")
		return
	}
	net, err := f.GlobalNetValue()
	if err != nil {
		log.Error().Err(err).Msg("Snapshot skipped: failed to compute net value")
		return
	}
	snapshot := state.FundSnapshot{
		Timestamp:       time.Now().UTC(),
		TotalSupply:     f.TotalSupply(),
		TotalAssets:     assets,
		IdleAssets:      mgr.IdleAssets(),
		LiquidityAssets: deployed,
		NetValue:        net,
		Positions:       mgr.WorksPos(),
	}
	if _, err := state.SaveFundSnapshot(snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to save fund snapshot")
	}
}
