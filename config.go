package rgbld

import (
	"crypto/tls"
	"net"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/rgb-lightning/balance"
	"github.com/lightninglabs/rgb-lightning/monitoring"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgbchannel"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightninglabs/rgb-lightning/rgbwallet"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
)

// RPCConfig is a sub-config of the main server that packages up everything
// needed to start the RPC server.
type RPCConfig struct {
	// RPCListeners are the addresses the JSON-RPC server listens on.
	RPCListeners []net.Addr

	// TLSConfig is used for all listeners if set.
	TLSConfig *tls.Config
}

// DatabaseConfig is the config that holds all the persistence related structs
// and interfaces needed for the daemon to function.
type DatabaseConfig struct {
	// Store is the backend all registries are built on.
	Store rgbdb.KVStore

	Registry *rgbdb.Registry

	Assets *rgbdb.AssetStore

	Deliveries *rgbdb.DeliveryStore
}

// Config is the main config of the server.
type Config struct {
	DebugLevel string

	ChainParams *chaincfg.Params

	SignalInterceptor signal.Interceptor

	LogWriter *build.RotatingLogWriter

	RPCConfig

	DatabaseConfig

	Ledger *rgbwallet.Ledger

	Oracle *balance.Oracle

	Controller *rgbchannel.FundingController

	Dispatcher *proxy.Dispatcher

	Refresher *Refresher

	Prometheus monitoring.PrometheusConfig
}
