package rgbld

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/rgb-lightning/balance"
	"github.com/lightninglabs/rgb-lightning/commitment"
	"github.com/lightninglabs/rgb-lightning/fn"
	"github.com/lightninglabs/rgb-lightning/monitoring"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgbchannel"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightninglabs/rgb-lightning/rgbrpc"
	"github.com/lightninglabs/rgb-lightning/rgbwallet"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// readHeaderTimeout is the header timeout of the RPC listeners.
	readHeaderTimeout = 10 * time.Second

	// shutdownTimeout is the time in-flight requests get to finish on
	// shutdown.
	shutdownTimeout = 30 * time.Second
)

var (
	// ErrMissingChainWallet is returned by Build if no chain wallet was
	// set.
	ErrMissingChainWallet = errors.New("chain wallet must be set")

	// ErrMissingStore is returned by Build if no store was set.
	ErrMissingStore = errors.New("registry store must be set")

	// ErrMissingDeliveryClient is returned by Build if no delivery client
	// was set.
	ErrMissingDeliveryClient = errors.New("delivery client must be set")

	// ErrMissingChannelFunder is returned by Build if no channel funder
	// was set.
	ErrMissingChannelFunder = errors.New("channel funder must be set")
)

// ServerBuilder collects the capabilities of the server. Build fails if any
// of the required ones is missing.
type ServerBuilder struct {
	wallet rgbwallet.ChainWallet

	store rgbdb.KVStore

	courier    proxy.Courier
	backoffCfg *proxy.BackoffCfg

	funder rgbchannel.ChannelFunder

	clock clock.Clock

	refreshTicker ticker.Ticker

	defaultCapacity btcutil.Amount

	debugLevel  string
	chainParams *chaincfg.Params
	logWriter   *build.RotatingLogWriter
	interceptor signal.Interceptor

	rpcCfg RPCConfig

	prometheus monitoring.PrometheusConfig
}

// NewServerBuilder creates a new, empty server builder.
func NewServerBuilder() *ServerBuilder {
	return &ServerBuilder{
		prometheus: monitoring.DefaultPrometheusConfig(),
	}
}

// WithChainWallet sets the bitcoin wallet.
func (b *ServerBuilder) WithChainWallet(
	wallet rgbwallet.ChainWallet) *ServerBuilder {

	b.wallet = wallet
	return b
}

// WithStore sets the storage backend of all registries.
func (b *ServerBuilder) WithStore(store rgbdb.KVStore) *ServerBuilder {
	b.store = store
	return b
}

// WithDeliveryClient sets the proxy consignments are delivered through and
// the retry behaviour. A nil backoff config selects the default one.
func (b *ServerBuilder) WithDeliveryClient(courier proxy.Courier,
	backoffCfg *proxy.BackoffCfg) *ServerBuilder {

	b.courier = courier
	b.backoffCfg = backoffCfg
	return b
}

// WithChannelFunder sets the host's funding capability.
func (b *ServerBuilder) WithChannelFunder(
	funder rgbchannel.ChannelFunder) *ServerBuilder {

	b.funder = funder
	return b
}

// WithClock overrides the wall clock.
func (b *ServerBuilder) WithClock(clock clock.Clock) *ServerBuilder {
	b.clock = clock
	return b
}

// WithRefreshTicker sets the ticker of the periodic refresh.
func (b *ServerBuilder) WithRefreshTicker(t ticker.Ticker) *ServerBuilder {
	b.refreshTicker = t
	return b
}

// WithDefaultCapacity sets the capacity of channels whose request doesn't
// name one.
func (b *ServerBuilder) WithDefaultCapacity(
	capacity btcutil.Amount) *ServerBuilder {

	b.defaultCapacity = capacity
	return b
}

// WithLogging sets the log writer and the requested debug level.
func (b *ServerBuilder) WithLogging(logWriter *build.RotatingLogWriter,
	debugLevel string) *ServerBuilder {

	b.logWriter = logWriter
	b.debugLevel = debugLevel
	return b
}

// WithSignalInterceptor sets the interceptor that signals shutdown.
func (b *ServerBuilder) WithSignalInterceptor(
	interceptor signal.Interceptor) *ServerBuilder {

	b.interceptor = interceptor
	return b
}

// WithChainParams sets the active network.
func (b *ServerBuilder) WithChainParams(
	params *chaincfg.Params) *ServerBuilder {

	b.chainParams = params
	return b
}

// WithRPCConfig sets the listeners of the JSON-RPC server.
func (b *ServerBuilder) WithRPCConfig(cfg RPCConfig) *ServerBuilder {
	b.rpcCfg = cfg
	return b
}

// WithPrometheus sets the metrics exporter config.
func (b *ServerBuilder) WithPrometheus(
	cfg monitoring.PrometheusConfig) *ServerBuilder {

	b.prometheus = cfg
	return b
}

// Build wires all capabilities together and creates the server.
func (b *ServerBuilder) Build() (*Server, error) {
	switch {
	case b.wallet == nil:
		return nil, ErrMissingChainWallet

	case b.store == nil:
		return nil, ErrMissingStore

	case b.courier == nil:
		return nil, ErrMissingDeliveryClient

	case b.funder == nil:
		return nil, ErrMissingChannelFunder
	}

	if b.clock == nil {
		b.clock = clock.NewDefaultClock()
	}
	if b.refreshTicker == nil {
		b.refreshTicker = ticker.New(DefaultRefreshInterval)
	}
	if b.chainParams == nil {
		b.chainParams = &chaincfg.MainNetParams
	}

	dbCfg := DatabaseConfig{
		Store:      b.store,
		Registry:   rgbdb.NewRegistry(b.store),
		Assets:     rgbdb.NewAssetStore(b.store),
		Deliveries: rgbdb.NewDeliveryStore(b.store, b.clock),
	}

	ledger := rgbwallet.NewLedger(&rgbwallet.Config{
		Store:  b.store,
		Assets: dbCfg.Assets,
		Wallet: b.wallet,
		Clock:  b.clock,
	})
	oracle := balance.NewOracle(dbCfg.Registry, ledger)

	dispatcher, err := proxy.NewDispatcher(&proxy.DispatcherCfg{
		Courier:     b.courier,
		Store:       dbCfg.Deliveries,
		TransferLog: dbCfg.Deliveries,
		BackoffCfg:  b.backoffCfg,
		Clock:       b.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create dispatcher: %w", err)
	}

	fundingCounter := monitoring.NewFundingCounter()
	controller, err := rgbchannel.NewFundingController(&rgbchannel.Cfg{
		ChannelFunder:   b.funder,
		Registry:        dbCfg.Registry,
		Oracle:          oracle,
		Colorer:         commitment.NewBuilder(ledger),
		Wallet:          ledger,
		Deliverer:       dispatcher,
		Observer:        fundingCounter,
		DefaultCapacity: b.defaultCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create funding "+
			"controller: %w", err)
	}

	refresher := NewRefresher(&RefresherCfg{
		Assets:     dbCfg.Assets,
		Ledger:     ledger,
		Deliveries: dispatcher,
		Channels:   dbCfg.Registry,
		Courier:    b.courier,
		Ticker:     b.refreshTicker,
	})

	prometheus := b.prometheus
	prometheus.Channels = dbCfg.Registry
	prometheus.Assets = ledger
	prometheus.Balances = oracle
	prometheus.Funding = fundingCounter

	cfg := &Config{
		DebugLevel:        b.debugLevel,
		ChainParams:       b.chainParams,
		SignalInterceptor: b.interceptor,
		LogWriter:         b.logWriter,
		RPCConfig:         b.rpcCfg,
		DatabaseConfig:    dbCfg,
		Ledger:            ledger,
		Oracle:            oracle,
		Controller:        controller,
		Dispatcher:        dispatcher,
		Refresher:         refresher,
		Prometheus:        prometheus,
	}

	return &Server{
		cfg:       cfg,
		rpcServer: newRPCServer(cfg),
		quit:      make(chan struct{}, 1),
	}, nil
}

// Server is the main daemon construct. It handles spinning up the RPC
// server, the background services and the metrics exporter.
type Server struct {
	started  int32
	shutdown int32

	cfg *Config

	rpcServer *rpcServer

	quit chan struct{}
}

// Config returns the wired config of the server.
func (s *Server) Config() *Config {
	return s.cfg
}

// Handler returns the HTTP handler that serves the JSON-RPC interface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(rgbrpc.Path, s.rpcServer.newJSONRPCServer())

	return mux
}

// startServices starts all background services. The returned function stops
// the services that were started.
func (s *Server) startServices() (func(), error) {
	var stoppers []func() error
	stopAll := func() {
		for i := len(stoppers) - 1; i >= 0; i-- {
			if err := stoppers[i](); err != nil {
				srvrLog.Errorf("Error stopping service: %v",
					err)
			}
		}
	}

	if err := s.cfg.Dispatcher.Start(); err != nil {
		return nil, fmt.Errorf("unable to start dispatcher: %w", err)
	}
	stoppers = append(stoppers, s.cfg.Dispatcher.Stop)

	if err := s.cfg.Refresher.Start(); err != nil {
		stopAll()
		return nil, fmt.Errorf("unable to start refresher: %w", err)
	}
	stoppers = append(stoppers, s.cfg.Refresher.Stop)

	if s.cfg.Prometheus.Active {
		promExporter, err := monitoring.NewPrometheusExporter(
			&s.cfg.Prometheus,
		)
		if err != nil {
			stopAll()
			return nil, fmt.Errorf("unable to get prometheus "+
				"exporter: %w", err)
		}

		if err := promExporter.Start(); err != nil {
			stopAll()
			return nil, fmt.Errorf("unable to start prometheus "+
				"exporter: %w", err)
		}
		stoppers = append(stoppers, promExporter.Stop)
	}

	return stopAll, nil
}

// listen opens the RPC listeners.
func (s *Server) listen() ([]net.Listener, error) {
	var listeners []net.Listener
	for _, addr := range s.cfg.RPCListeners {
		lis, err := lncfg.ListenOnAddress(addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return nil, fmt.Errorf("unable to listen on %s: %w",
				addr, err)
		}

		if s.cfg.TLSConfig != nil {
			lis = tls.NewListener(lis, s.cfg.TLSConfig)
		}
		listeners = append(listeners, lis)
	}

	return listeners, nil
}

// RunUntilShutdown runs the main server loop until a signal is received to
// shut down the process.
func (s *Server) RunUntilShutdown(mainErrChan <-chan error) error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	defer func() {
		if err := s.cfg.Store.Close(); err != nil {
			srvrLog.Errorf("Error closing database: %v", err)
		}

		srvrLog.Info("Shutdown complete\n")
		if s.cfg.LogWriter == nil {
			return
		}

		err := s.cfg.LogWriter.Close()
		if err != nil {
			srvrLog.Errorf("Could not close log rotator: %v", err)
		}
	}()

	mkErr := func(format string, args ...interface{}) error {
		logFormat := strings.ReplaceAll(format, "%w", "%v")
		srvrLog.Errorf("Shutting down because error in main "+
			"method: "+logFormat, args...)
		return fmt.Errorf(format, args...)
	}

	// Show version at startup.
	srvrLog.Infof("Version: %s, build=%s, logging=%s, debuglevel=%s, "+
		"go=%s, tags=%v", Version(), build.Deployment,
		build.LoggingType, s.cfg.DebugLevel, GoVersion, Tags())
	srvrLog.Infof("Active network: %v", s.cfg.ChainParams.Name)

	stopServices, err := s.startServices()
	if err != nil {
		return mkErr("unable to start services: %w", err)
	}
	defer stopServices()

	listeners, err := s.listen()
	if err != nil {
		return mkErr("unable to start RPC listeners: %w", err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	serveErrs := make(chan error, len(listeners))

	var wg sync.WaitGroup
	for _, lis := range listeners {
		lis := lis

		wg.Add(1)
		go func() {
			defer wg.Done()

			rpcsLog.Infof("JSON-RPC server listening on %s",
				lis.Addr())

			err := httpServer.Serve(lis)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrs <- fn.NewCriticalError(err)
			}
		}()
	}
	defer func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			rpcsLog.Errorf("Error stopping RPC server: %v", err)
		}
		wg.Wait()
	}()

	srvrLog.Infof("RGB channel daemon fully active!")

	// Wait for shutdown signal from either a graceful server stop or from
	// the interrupt handler. Only critical errors of other subsystems
	// stop the daemon.
	for {
		select {
		case <-s.cfg.SignalInterceptor.ShutdownChannel():
			srvrLog.Infof("Received SIGINT (Ctrl+C). Shutting " +
				"down...")
			return nil

		case err := <-serveErrs:
			return mkErr("RPC server failed: %w", err)

		case err := <-mainErrChan:
			if err == nil {
				srvrLog.Debug("Main err chan closed")
				return nil
			}

			if errors.Is(err, context.Canceled) {
				srvrLog.Debugf("Got context canceled error: %v",
					err)
				return nil
			}

			if !fn.ErrorAs[*fn.CriticalError](err) {
				srvrLog.Warnf("Ignoring non-critical error: %v",
					err)
				continue
			}

			return mkErr("received critical error from subsystem: "+
				"%w", err)

		case <-s.quit:
			return nil
		}
	}
}

// Stop signals that the main server loop should exit.
func (s *Server) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return nil
	}

	srvrLog.Infof("Stopping main server")

	s.quit <- struct{}{}

	return nil
}
