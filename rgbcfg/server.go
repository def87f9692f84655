package rgbcfg

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	rgbld "github.com/lightninglabs/rgb-lightning"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/lightningnetwork/lnd/ticker"
)

// openStore opens the configured storage backend.
func openStore(cfg *Config, cfgLogger btclog.Logger) (rgbdb.KVStore, error) {
	switch cfg.DatabaseBackend {
	case DatabaseBackendMemory:
		cfgLogger.Warnf("Using the in-memory backend, all state is " +
			"lost on shutdown")
		return rgbdb.NewMemStore(), nil

	case DatabaseBackendBolt:
		cfgLogger.Infof("Opening bolt database at: %v",
			cfg.Bolt.DatabaseFileName)
		return rgbdb.NewBoltStore(cfg.Bolt)

	case DatabaseBackendBadger:
		cfgLogger.Infof("Opening badger database at: %v",
			cfg.Badger.Dir)
		return rgbdb.NewBadgerStore(cfg.Badger)

	case DatabaseBackendRedis:
		cfgLogger.Infof("Connecting to redis database")

		ctx, cancel := context.WithTimeout(
			context.Background(), rgbdb.DefaultStoreTimeout,
		)
		defer cancel()

		return rgbdb.NewRedisStore(ctx, cfg.Redis)

	case DatabaseBackendSqlite:
		cfgLogger.Infof("Opening sqlite3 database at: %v",
			cfg.Sqlite.DatabaseFileName)
		db, err := rgbdb.NewSqliteStore(cfg.Sqlite)
		if err != nil {
			return nil, err
		}

		return rgbdb.NewSQLStore(db.BaseDB, clock.NewDefaultClock()), nil

	case DatabaseBackendPostgres:
		cfgLogger.Infof("Opening postgres database at: %v",
			cfg.Postgres.DSN(true))
		db, err := rgbdb.NewPostgresStore(cfg.Postgres)
		if err != nil {
			return nil, err
		}

		return rgbdb.NewSQLStore(db.BaseDB, clock.NewDefaultClock()), nil

	default:
		return nil, fmt.Errorf("unknown database backend: %s",
			cfg.DatabaseBackend)
	}
}

// CreateServerFromConfig creates a new rgbld server from the given CLI
// config.
func CreateServerFromConfig(cfg *Config, cfgLogger btclog.Logger,
	shutdownInterceptor signal.Interceptor) (*rgbld.Server, error) {

	rpcCfg := rgbld.RPCConfig{
		RPCListeners: cfg.rpcListeners,
	}
	if !cfg.RpcConf.NoTLS {
		tlsCfg, err := getTLSConfig(cfg, cfgLogger)
		if err != nil {
			return nil, fmt.Errorf("unable to load TLS "+
				"credentials: %w", err)
		}
		rpcCfg.TLSConfig = tlsCfg
	}

	courier, err := proxy.NewHTTPClient(cfg.Proxy.URL, rgbld.UserAgent(""))
	if err != nil {
		return nil, fmt.Errorf("unable to create proxy client: %w", err)
	}

	store, err := openStore(cfg, cfgLogger)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	cfgLogger.Infof("Attempting to establish connection to lnd...")
	lndConn, err := getLnd(
		cfg.ChainConf.Network, cfg.Lnd, shutdownInterceptor,
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("unable to connect to lnd node: %w", err)
	}

	cfgLogger.Infof("lnd connection initialized")

	server, err := rgbld.NewServerBuilder().
		WithChainWallet(rgbld.NewLndChainWallet(&lndConn.LndServices)).
		WithStore(store).
		WithDeliveryClient(courier, cfg.Proxy.Backoff).
		WithChannelFunder(rgbld.NewLndChannelFunder(
			&lndConn.LndServices, cfg.Lnd.FundingFeeRate,
		)).
		WithRefreshTicker(ticker.New(cfg.RefreshInterval)).
		WithDefaultCapacity(btcutil.Amount(cfg.DefaultCapacity)).
		WithLogging(cfg.LogWriter, cfg.DebugLevel).
		WithSignalInterceptor(shutdownInterceptor).
		WithChainParams(&cfg.ActiveNetParams).
		WithRPCConfig(rpcCfg).
		WithPrometheus(cfg.Prometheus).
		Build()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return server, nil
}
