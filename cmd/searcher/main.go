package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/holiman/uint256"

	"github.com/r3e-network/mev-searcher/internal/chainconn"
	"github.com/r3e-network/mev-searcher/internal/config"
	"github.com/r3e-network/mev-searcher/internal/diskguard"
	"github.com/r3e-network/mev-searcher/internal/engine"
	"github.com/r3e-network/mev-searcher/internal/httpapi"
	"github.com/r3e-network/mev-searcher/internal/matrix"
	"github.com/r3e-network/mev-searcher/internal/rpcpool"
	"github.com/r3e-network/mev-searcher/internal/schedule"
	"github.com/r3e-network/mev-searcher/internal/statssink"
	"github.com/r3e-network/mev-searcher/internal/strategy"
	"github.com/r3e-network/mev-searcher/internal/strategy/reference"
	"github.com/r3e-network/mev-searcher/internal/timeguard"
	"github.com/r3e-network/mev-searcher/pkg/logger"
)

// rpcProbeInterval is the cadence the RPC pool re-checks every
// endpoint's health. It is not operator-tunable: endpoint health
// changes fast enough that a fixed, short interval is appropriate
// everywhere this system runs.
const rpcProbeInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $CONFIG_FILE or configs/config.yaml)")
	debug := flag.Bool("debug", false, "force debug-level logging regardless of config")
	simulate := flag.Bool("simulate", false, "force simulation_mode=true regardless of config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *simulate {
		cfg.SimulationMode = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	baseLog := logger.New("searcher", logger.LoggingConfig(cfg.Logging))
	baseLog.Info("starting searcher")

	pool, err := rpcpool.New(cfg.RPC, rpcProbeInterval, logger.New("rpcpool", logger.LoggingConfig(cfg.Logging)))
	if err != nil {
		baseLog.WithError(err).Fatal("construct rpc pool")
	}

	chainID := primaryChainID(cfg.RPC)
	venues := venuesFor(cfg.Matrix.Venues, chainID)
	connector := chainconn.NewJSONRPCConnector(chainID, pool, venues)
	connectors := map[string]chainconn.Connector{chainID: connector}

	registry := strategy.NewRegistry()
	registry.Register(reference.NewTwoHop(connectors, strategy.Requirements{
		MinProfitBps: 0,
	}, func() bool { return cfg.SimulationMode }))

	assets, err := assetsFrom(cfg.Matrix.Assets)
	if err != nil {
		baseLog.WithError(err).Fatal("parse matrix asset config")
	}
	lenders := lendersFor(cfg.Matrix.Lenders)
	matrixVenues := make([]matrix.VenueInfo, 0, len(venues))
	for _, v := range cfg.Matrix.Venues {
		if v.Chain == "" || v.Chain == chainID {
			matrixVenues = append(matrixVenues, matrix.VenueInfo{Name: v.Name, Chain: chainID, Active: v.Active,
				SupportsFlashSwap: v.SupportsFlashSwap, TWAPStability: v.TWAPStability,
				GasOverhead: v.GasOverhead, LiquidityScore: v.LiquidityScore})
		}
	}

	matrixSource := func() matrix.Inputs {
		return matrix.Inputs{
			Strategies: registry.All(),
			Venues:     matrixVenues,
			Lenders:    lenders,
			Assets:     assets,
		}
	}
	mtx := matrix.New(cfg.Matrix.TTL(), matrixSource, logger.New("matrix", logger.LoggingConfig(cfg.Logging)))

	tg := timeguard.New(cfg.TimeGuard, rpcReferenceClock{pool: pool}, nil, logger.New("timeguard", logger.LoggingConfig(cfg.Logging)))

	sink, err := buildSink(cfg)
	if err != nil {
		baseLog.WithError(err).Fatal("construct stats sink")
	}

	eng := engine.New(cfg, connectors, registry, mtx, tg, sink, logger.New("engine", logger.LoggingConfig(cfg.Logging)))
	dg := diskguard.New(cfg.DiskGuard, logger.New("diskguard", logger.LoggingConfig(cfg.Logging)))
	sched := schedule.New(logger.New("schedule", logger.LoggingConfig(cfg.Logging)))

	if err := sched.Register(schedule.Task{
		Name: "disk_guard_sweep",
		Spec: schedule.EveryInterval(cfg.DiskGuard.CheckInterval()),
		Run: func(ctx context.Context) error {
			dg.SweepAll(ctx)
			return nil
		},
	}); err != nil {
		baseLog.WithError(err).Fatal("register disk guard sweep task")
	}
	if err := sched.Register(schedule.Task{
		Name: "stats_snapshot",
		Spec: schedule.EveryInterval(5 * time.Minute),
		Run:  eng.SnapshotStats,
	}); err != nil {
		baseLog.WithError(err).Fatal("register stats snapshot task")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)
	if err := tg.Start(ctx); err != nil {
		baseLog.WithError(err).Fatal("start time guard")
	}
	if err := dg.Start(ctx); err != nil {
		baseLog.WithError(err).Fatal("start disk guard")
	}
	if err := sched.Start(ctx); err != nil {
		baseLog.WithError(err).Fatal("start scheduler")
	}
	if err := eng.Start(ctx); err != nil {
		baseLog.WithError(err).Fatal("start engine")
	}

	var apiServer *httpapi.Server
	if cfg.HTTP.Enabled {
		apiServer = httpapi.New(cfg.HTTP.Addr, httpapi.Deps{
			Engine:    eng,
			Pool:      pool,
			TimeGuard: tg,
			DiskGuard: dg,
			Scheduler: sched,
			Sink:      sink,
			Checks:    []httpapi.Checker{poolChecker{pool}, tg, eng},
		}, logger.New("httpapi", logger.LoggingConfig(cfg.Logging)))
		if err := apiServer.Start(ctx); err != nil {
			baseLog.WithError(err).Fatal("start http status server")
		}
	}

	baseLog.Info("searcher running")
	<-ctx.Done()
	baseLog.Info("shutdown signal received, stopping")

	eng.Stop()
	sched.Stop()
	dg.Stop()
	tg.Stop()
	pool.Stop()
	if apiServer != nil {
		apiServer.Stop()
	}
	baseLog.Info("searcher stopped")
}

// poolChecker adapts rpcpool.Pool to httpapi.Checker: healthy whenever
// at least one endpoint is up.
type poolChecker struct{ pool *rpcpool.Pool }

func (p poolChecker) Name() string { return "rpc_pool" }
func (p poolChecker) Ready(ctx context.Context) error {
	if p.pool.HealthyCount() == 0 {
		return fmt.Errorf("no healthy rpc endpoints")
	}
	return nil
}

// rpcReferenceClock treats the primary chain's own latest block
// timestamp as the time guard's reference clock (spec §4.7 leaves the
// reference source unspecified; this avoids depending on a separate
// NTP client the pack never uses, while still measuring drift against
// something external to this process).
type rpcReferenceClock struct{ pool *rpcpool.Pool }

func (c rpcReferenceClock) Now(ctx context.Context) (time.Time, error) {
	client, err := c.pool.GetClient()
	if err != nil {
		return time.Time{}, err
	}
	raw, err := client.Call(ctx, "eth_getBlockByNumber", []any{"latest", false})
	if err != nil {
		return time.Time{}, err
	}
	var block struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return time.Time{}, err
	}
	ts, err := strconv.ParseUint(strings.TrimPrefix(block.Timestamp, "0x"), 16, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(ts), 0), nil
}

func primaryChainID(endpoints []config.RPCEndpointConfig) string {
	for _, e := range endpoints {
		if e.IsPrimary {
			return e.Name
		}
	}
	if len(endpoints) > 0 {
		return endpoints[0].Name
	}
	return "default"
}

func venuesFor(cfgVenues []config.VenueConfig, chainID string) []chainconn.Venue {
	venues := make([]chainconn.Venue, 0, len(cfgVenues))
	for _, v := range cfgVenues {
		if strings.TrimSpace(v.Chain) != "" && v.Chain != chainID {
			continue
		}
		venues = append(venues, chainconn.Venue{
			Name:              v.Name,
			GasOverhead:       v.GasOverhead,
			TWAPStability:     v.TWAPStability,
			SupportsFlashSwap: v.SupportsFlashSwap,
			Active:            v.Active,
		})
	}
	return venues
}

func lendersFor(cfgLenders []config.LenderConfig) []matrix.LenderInfo {
	lenders := make([]matrix.LenderInfo, 0, len(cfgLenders))
	for _, l := range cfgLenders {
		supported := make(map[string]bool, len(l.SupportedAssets))
		for _, asset := range l.SupportedAssets {
			supported[asset] = true
		}
		lenders = append(lenders, matrix.LenderInfo{
			Name:            l.Name,
			Chain:           l.Chain,
			Healthy:         l.Healthy,
			SupportedAssets: supported,
		})
	}
	return lenders
}

func assetsFrom(cfgAssets []config.AssetConfig) (map[string]matrix.AssetInfo, error) {
	assets := make(map[string]matrix.AssetInfo, len(cfgAssets))
	for _, a := range cfgAssets {
		var maxTrade *uint256.Int
		if strings.TrimSpace(a.MaxTrade) != "" {
			parsed, err := uint256.FromDecimal(a.MaxTrade)
			if err != nil {
				return nil, err
			}
			maxTrade = parsed
		} else {
			maxTrade = uint256.NewInt(0)
		}
		assets[a.Symbol] = matrix.AssetInfo{
			Symbol:      a.Symbol,
			Whitelisted: a.Whitelisted,
			MaxTrade:    maxTrade,
		}
	}
	return assets, nil
}

func buildSink(cfg *config.Config) (statssink.Sink, error) {
	path := strings.TrimSpace(os.Getenv("STATS_SINK_PATH"))
	if path == "" {
		return statssink.NewMemSink(256), nil
	}
	return statssink.NewFileSink(path, 256)
}
