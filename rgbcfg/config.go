package rgbcfg

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/lndclient"
	rgbld "github.com/lightninglabs/rgb-lightning"
	"github.com/lightninglabs/rgb-lightning/monitoring"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgbchannel"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/cert"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/lightningnetwork/lnd/lnrpc/verrpc"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/lightningnetwork/lnd/tor"
)

const (
	defaultDataDirname     = "data"
	defaultTLSCertFilename = "tls.cert"
	defaultTLSKeyFilename  = "tls.key"
	defaultLogLevel        = "info"
	defaultLogDirname      = "logs"
	defaultLogFilename     = "rgbld.log"
	defaultRPCPort         = 3001

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	// defaultTLSCertDuration is the default validity of a self-signed
	// certificate. The value corresponds to 14 months
	// (14 months * 30 days * 24 hours).
	defaultTLSCertDuration = 14 * 30 * 24 * time.Hour

	defaultConfigFileName = "rgbld.conf"

	// defaultProxyURL is the consignment proxy used if none is
	// configured.
	defaultProxyURL = "http://proxy.rgbtools.org/json-rpc"

	// DatabaseBackendMemory keeps all state in memory. Everything is lost
	// on shutdown.
	DatabaseBackendMemory = "memory"

	// DatabaseBackendBolt is the name of the bbolt database backend.
	DatabaseBackendBolt = "bolt"

	// DatabaseBackendBadger is the name of the badger database backend.
	DatabaseBackendBadger = "badger"

	// DatabaseBackendRedis is the name of the redis database backend.
	DatabaseBackendRedis = "redis"

	// DatabaseBackendSqlite is the name of the SQLite database backend.
	DatabaseBackendSqlite = "sqlite"

	// DatabaseBackendPostgres is the name of the Postgres database backend.
	DatabaseBackendPostgres = "postgres"
)

var (
	// DefaultRgbDir is the default directory where rgbld tries to find its
	// configuration file and store its data. This is a directory in the
	// user's application data, for example:
	//   C:\Users\<username>\AppData\Local\Rgbld on Windows
	//   ~/.rgbld on Linux
	//   ~/Library/Application Support/Rgbld on MacOS
	DefaultRgbDir = btcutil.AppDataDir("rgbld", false)

	// DefaultConfigFile is the default full path of rgbld's configuration
	// file.
	DefaultConfigFile = filepath.Join(DefaultRgbDir, defaultConfigFileName)

	defaultNetwork = "testnet"

	defaultDataDir = filepath.Join(DefaultRgbDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultRgbDir, defaultLogDirname)

	defaultTLSCertPath = filepath.Join(DefaultRgbDir, defaultTLSCertFilename)
	defaultTLSKeyPath  = filepath.Join(DefaultRgbDir, defaultTLSKeyFilename)

	defaultSqliteDatabaseFileName = "rgbld.db"
	defaultBoltDatabaseFileName   = "rgbld.bolt"
	defaultBadgerDirName          = "badger"

	// defaultLndMacaroon is the default macaroon file we use to connect to
	// lnd.
	defaultLndMacaroon = "admin.macaroon"

	// defaultLndDir is the default location where we look for lnd's tls and
	// macaroon files.
	defaultLndDir = btcutil.AppDataDir("lnd", false)

	// defaultLndMacaroonPath is the default location where we look for a
	// macaroon to use when connecting to lnd.
	defaultLndMacaroonPath = filepath.Join(
		defaultLndDir, "data", "chain", "bitcoin", defaultNetwork,
		defaultLndMacaroon,
	)

	// minimalCompatibleVersion is the minimum version and build tags
	// required in lnd to run rgbld. The PSBT funding flow needs the wallet
	// sub-server.
	minimalCompatibleVersion = &verrpc.Version{
		AppMajor: 0,
		AppMinor: 15,
		AppPatch: 0,
		BuildTags: []string{
			"signrpc", "walletrpc", "chainrpc", "invoicesrpc",
		},
	}
)

// ChainConfig houses the configuration options that govern which chain/network
// we operate on.
//
// nolint:lll
type ChainConfig struct {
	Network string `long:"network" description:"network to run on" choice:"mainnet" choice:"regtest" choice:"testnet" choice:"simnet" choice:"signet"`

	SigNetChallenge string `long:"signetchallenge" description:"Connect to a custom signet network defined by this challenge instead of using the global default signet test network -- Can be specified multiple times"`
}

// RpcConfig houses the set of config options that affect how clients connect
// to the JSON-RPC server.
//
// nolint:lll
type RpcConfig struct {
	RawRPCListeners []string `long:"rpclisten" description:"Add an interface/port/socket to listen for JSON-RPC connections"`

	NoTLS bool `long:"notls" description:"Serve the JSON-RPC interface over plain HTTP, only allowed on localhost"`

	TLSCertPath        string        `long:"tlscertpath" description:"Path to write the TLS certificate for rgbld's JSON-RPC service"`
	TLSKeyPath         string        `long:"tlskeypath" description:"Path to write the TLS private key for rgbld's JSON-RPC service"`
	TLSExtraIPs        []string      `long:"tlsextraip" description:"Adds an extra ip to the generated certificate"`
	TLSExtraDomains    []string      `long:"tlsextradomain" description:"Adds an extra domain to the generated certificate"`
	TLSAutoRefresh     bool          `long:"tlsautorefresh" description:"Re-generate TLS certificate and key if the IPs or domains are changed"`
	TLSDisableAutofill bool          `long:"tlsdisableautofill" description:"Do not include the interface IPs or the system hostname in TLS certificate, use first --tlsextradomain as Common Name instead, if set"`
	TLSCertDuration    time.Duration `long:"tlscertduration" description:"The duration for which the auto-generated TLS certificate will be valid for"`
}

// LndConfig is the main config we'll use to connect to the lnd node that backs
// up rgbld.
//
// nolint:lll
type LndConfig struct {
	Host string `long:"host" description:"lnd instance rpc address"`

	// MacaroonPath is the path to the single macaroon that should be used.
	// The specified macaroon MUST be allowed to open channels and fund
	// PSBTs.
	MacaroonPath string `long:"macaroonpath" description:"The full path to the single macaroon to use, either the admin.macaroon or a custom baked one that may open channels and fund PSBTs."`

	TLSPath string `long:"tlspath" description:"Path to lnd tls certificate"`

	FundingFeeRate uint64 `long:"fundingfeerate" description:"The fee rate in sat/vbyte of channel funding transactions"`
}

// ProxyConfig configures the consignment proxy and the delivery backoff.
//
// nolint:lll
type ProxyConfig struct {
	URL string `long:"url" description:"The JSON-RPC endpoint of the consignment proxy"`

	Backoff *proxy.BackoffCfg `group:"backoff" namespace:"backoff"`
}

// Config is the main config for the rgbld cli command.
//
// nolint:lll
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	RgbDir     string `long:"rgbdir" description:"The base directory that contains rgbld's data, logs, configuration file, etc."`
	ConfigFile string `long:"configfile" description:"Path to configuration file"`

	DataDir        string `long:"datadir" description:"The directory to store rgbld's data within"`
	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile" description:"Enable HTTP profiling on either a port or host:port"`

	RefreshInterval time.Duration `long:"refreshinterval" description:"A duration (1m, 2h, etc) that governs how frequently pending asset state is settled and failed deliveries are retried"`

	DefaultCapacity int64 `long:"defaultcapacity" description:"The capacity in satoshis of channels whose funding request doesn't name one"`

	ChainConf *ChainConfig
	RpcConf   *RpcConfig

	Lnd *LndConfig `group:"lnd" namespace:"lnd"`

	Proxy *ProxyConfig `group:"proxy" namespace:"proxy"`

	DatabaseBackend string                `long:"databasebackend" description:"The database backend to use for storing all asset and channel data." choice:"memory" choice:"bolt" choice:"badger" choice:"redis" choice:"sqlite" choice:"postgres"`
	Bolt            *rgbdb.BoltConfig     `group:"bolt" namespace:"bolt"`
	Badger          *rgbdb.BadgerConfig   `group:"badger" namespace:"badger"`
	Redis           *rgbdb.RedisConfig    `group:"redis" namespace:"redis"`
	Sqlite          *rgbdb.SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres        *rgbdb.PostgresConfig `group:"postgres" namespace:"postgres"`

	Prometheus monitoring.PrometheusConfig `group:"prometheus" namespace:"prometheus"`

	// LogWriter is the root logger that all of the daemon's subloggers are
	// hooked up to.
	LogWriter *build.RotatingLogWriter

	// networkDir is the path to the directory of the currently active
	// network. This path will hold the files related to each different
	// network.
	networkDir string

	// ActiveNetParams contains parameters of the target chain.
	ActiveNetParams chaincfg.Params

	rpcListeners []net.Addr

	net tor.Net
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		RgbDir:          DefaultRgbDir,
		ConfigFile:      DefaultConfigFile,
		DataDir:         defaultDataDir,
		DebugLevel:      defaultLogLevel,
		LogDir:          defaultLogDir,
		MaxLogFiles:     defaultMaxLogFiles,
		MaxLogFileSize:  defaultMaxLogFileSize,
		RefreshInterval: rgbld.DefaultRefreshInterval,
		DefaultCapacity: int64(rgbchannel.DefaultChannelCapacity),
		net:             &tor.ClearNet{},
		RpcConf: &RpcConfig{
			TLSCertPath:     defaultTLSCertPath,
			TLSKeyPath:      defaultTLSKeyPath,
			TLSCertDuration: defaultTLSCertDuration,
		},
		ChainConf: &ChainConfig{
			Network: defaultNetwork,
		},
		Lnd: &LndConfig{
			Host:           "localhost:10009",
			MacaroonPath:   defaultLndMacaroonPath,
			FundingFeeRate: rgbld.DefaultFundingFeeRate,
		},
		Proxy: &ProxyConfig{
			URL:     defaultProxyURL,
			Backoff: proxy.DefaultBackoffCfg(),
		},
		DatabaseBackend: DatabaseBackendSqlite,
		Bolt:            &rgbdb.BoltConfig{},
		Badger:          &rgbdb.BadgerConfig{},
		Redis: &rgbdb.RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Sqlite: &rgbdb.SqliteConfig{},
		Postgres: &rgbdb.PostgresConfig{
			Host:               "localhost",
			Port:               5432,
			MaxOpenConnections: 10,
		},
		Prometheus: monitoring.DefaultPrometheusConfig(),
		LogWriter:  build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(interceptor signal.Interceptor) (*Config, btclog.Logger, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", rgbld.Version(),
			"commit="+rgbld.Commit)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their rgbdir, then we should assume they intend to use the
	// config file within it.
	configFileDir := CleanAndExpandPath(preCfg.RgbDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	switch {
	// User specified --rgbdir but no --configfile. Update the config file
	// path to the rgbld config directory, but don't require it to exist.
	case configFileDir != DefaultRgbDir &&
		configFilePath == DefaultConfigFile:

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFileName,
		)

	// User did specify an explicit --configfile, so we check that it does
	// exist under that path to avoid surprises.
	case configFilePath != DefaultConfigFile:
		if !fileExists(configFilePath) {
			return nil, nil, fmt.Errorf("specified config file does "+
				"not exist in %s", configFilePath)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(configFilePath)
	if err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		if _, ok := err.(*flags.IniError); ok {
			return nil, nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.Parse(); err != nil {
		return nil, nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, cfgLogger, err := ValidateConfig(cfg, interceptor)
	if err != nil {
		// Log help message in case of usage error.
		if _, ok := err.(*usageError); ok {
			// The logging system might not yet be initialized, so
			// we also write to stderr to make sure the message
			// appears somewhere.
			_, _ = fmt.Fprintln(os.Stderr, usageMessage)
			if cfgLogger != nil {
				cfgLogger.Warnf("Incorrect usage: %v",
					usageMessage)
			}
		}

		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		if cfgLogger != nil {
			cfgLogger.Warnf("Error validating config: %v", err)
		}
		return nil, nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		cfgLogger.Warnf("%v", configFileError)
	}

	return cleanCfg, cfgLogger, nil
}

// usageError is an error type that signals a problem with the supplied flags.
type usageError struct {
	err error
}

// Error returns the error string.
//
// NOTE: This is part of the error interface.
func (u *usageError) Error() string {
	return u.err.Error()
}

// chainParams returns the parameters of the named network.
func chainParams(chainCfg *ChainConfig) (*chaincfg.Params, error) {
	switch chainCfg.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil

	case "signet":
		// Let the user overwrite the default signet parameters. The
		// challenge defines the actual signet network to join.
		sigNetChallenge := chaincfg.DefaultSignetChallenge
		if chainCfg.SigNetChallenge != "" {
			challenge, err := hex.DecodeString(
				chainCfg.SigNetChallenge,
			)
			if err != nil {
				return nil, fmt.Errorf("invalid signet "+
					"challenge, hex decode failed: %w", err)
			}
			sigNetChallenge = challenge
		}

		params := chaincfg.CustomSignetParams(
			sigNetChallenge, chaincfg.DefaultSignetDNSSeeds,
		)
		return &params, nil

	default:
		return nil, fmt.Errorf("invalid network: %v", chainCfg.Network)
	}
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, interceptor signal.Interceptor) (*Config,
	btclog.Logger, error) {

	// If the provided rgbld directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	rgbDir := CleanAndExpandPath(cfg.RgbDir)
	if rgbDir != DefaultRgbDir {
		cfg.DataDir = filepath.Join(rgbDir, defaultDataDirname)
		cfg.RpcConf.TLSCertPath = filepath.Join(
			rgbDir, defaultTLSCertFilename,
		)
		cfg.RpcConf.TLSKeyPath = filepath.Join(
			rgbDir, defaultTLSKeyFilename,
		)
		cfg.LogDir = filepath.Join(rgbDir, defaultLogDirname)
	}

	funcName := "ValidateConfig"
	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf(funcName+": "+format, args...)
	}
	makeDirectory := func(dir string) error {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			// Show a nicer error message if it's because a symlink
			// is linked to a directory that does not exist
			// (probably because it's not mounted).
			if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
				link, lerr := os.Readlink(e.Path)
				if lerr == nil {
					str := "is symlink %s -> %s mounted?"
					err = fmt.Errorf(str, e.Path, link)
				}
			}

			str := "Failed to create rgbld directory '%s': %v"
			return mkErr(str, dir, err)
		}

		return nil
	}

	// As soon as we're done parsing configuration options, ensure all
	// paths to directories and files are cleaned and expanded before
	// attempting to use them later on.
	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.RpcConf.TLSCertPath = CleanAndExpandPath(cfg.RpcConf.TLSCertPath)
	cfg.RpcConf.TLSKeyPath = CleanAndExpandPath(cfg.RpcConf.TLSKeyPath)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)
	cfg.Lnd.MacaroonPath = CleanAndExpandPath(cfg.Lnd.MacaroonPath)

	params, err := chainParams(cfg.ChainConf)
	if err != nil {
		return nil, nil, mkErr("%v", err)
	}
	cfg.ActiveNetParams = *params

	switch {
	case cfg.RefreshInterval <= 0:
		return nil, nil, &usageError{mkErr("refresh interval must " +
			"be positive")}

	case cfg.DefaultCapacity <= 0:
		return nil, nil, &usageError{mkErr("default capacity must " +
			"be positive")}

	case cfg.Lnd.FundingFeeRate == 0:
		return nil, nil, &usageError{mkErr("funding fee rate must " +
			"be positive")}

	case cfg.Proxy.URL == "":
		return nil, nil, &usageError{mkErr("proxy url must be set")}
	}

	// The profiler accepts either host:port or a bare port, which is
	// then served on localhost only.
	if cfg.Profile != "" {
		port := cfg.Profile
		if _, hostPort, err := net.SplitHostPort(cfg.Profile); err == nil {
			port = hostPort
		} else {
			cfg.Profile = net.JoinHostPort("127.0.0.1", cfg.Profile)
		}

		profilePort, err := strconv.Atoi(port)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			return nil, nil, &usageError{mkErr("the profile port " +
				"must be between 1024 and 65535")}
		}
	}

	// We'll now construct the network directory which will be where we
	// store all the data specific to this chain/network.
	cfg.networkDir = filepath.Join(
		cfg.DataDir, lncfg.NormalizeNetwork(cfg.ActiveNetParams.Name),
	)

	// Place the file backed databases into the network directory unless
	// the user picked a location.
	if cfg.Sqlite.DatabaseFileName == "" {
		cfg.Sqlite.DatabaseFileName = filepath.Join(
			cfg.networkDir, defaultSqliteDatabaseFileName,
		)
	}
	if cfg.Bolt.DatabaseFileName == "" {
		cfg.Bolt.DatabaseFileName = filepath.Join(
			cfg.networkDir, defaultBoltDatabaseFileName,
		)
	}
	if cfg.Badger.Dir == "" {
		cfg.Badger.Dir = filepath.Join(
			cfg.networkDir, defaultBadgerDirName,
		)
	}
	cfg.Sqlite.DatabaseFileName = CleanAndExpandPath(
		cfg.Sqlite.DatabaseFileName,
	)
	cfg.Bolt.DatabaseFileName = CleanAndExpandPath(
		cfg.Bolt.DatabaseFileName,
	)
	cfg.Badger.Dir = CleanAndExpandPath(cfg.Badger.Dir)

	// Adjust the default lnd macaroon path if only the network is
	// specified.
	if cfg.ChainConf.Network != defaultNetwork &&
		cfg.Lnd.MacaroonPath == defaultLndMacaroonPath {

		cfg.Lnd.MacaroonPath = filepath.Join(
			defaultLndDir, "data", "chain", "bitcoin",
			cfg.ChainConf.Network, defaultLndMacaroon,
		)
	}

	// Create the rgbld directory and all other sub-directories if they
	// don't already exist. This makes sure that directory trees are also
	// created for files that point to outside the rgbdir.
	dirs := []string{
		rgbDir, cfg.DataDir, cfg.networkDir,
		filepath.Dir(cfg.RpcConf.TLSCertPath),
		filepath.Dir(cfg.RpcConf.TLSKeyPath),
	}
	for _, dir := range dirs {
		if err := makeDirectory(dir); err != nil {
			return nil, nil, err
		}
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network in the same fashion as the data directory.
	cfg.LogDir = filepath.Join(
		cfg.LogDir, lncfg.NormalizeNetwork(cfg.ActiveNetParams.Name),
	)

	// A log writer must be passed in, otherwise we can't function and would
	// run into a panic later on.
	if cfg.LogWriter == nil {
		return nil, nil, mkErr("log writer missing in config")
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.LogWriter.SupportedSubsystems())
		os.Exit(0)
	}

	// Initialize logging at the default logging level.
	rgbld.SetupLoggers(cfg.LogWriter, interceptor)
	err = cfg.LogWriter.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		str := "log rotation setup failed: %v"
		return nil, nil, mkErr(str, err)
	}

	cfgLogger := cfg.LogWriter.GenSubLogger("CONF", nil)

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.LogWriter)
	if err != nil {
		str := "error parsing debug level: %v"
		return nil, cfgLogger, &usageError{mkErr(str, err)}
	}

	// At least one RPCListener is required. So listen on localhost per
	// default.
	if len(cfg.RpcConf.RawRPCListeners) == 0 {
		addr := fmt.Sprintf("localhost:%d", defaultRPCPort)
		cfg.RpcConf.RawRPCListeners = append(
			cfg.RpcConf.RawRPCListeners, addr,
		)
	}

	// Add default port to all RPC listener addresses if needed and remove
	// duplicate addresses.
	cfg.rpcListeners, err = lncfg.NormalizeAddresses(
		cfg.RpcConf.RawRPCListeners, strconv.Itoa(defaultRPCPort),
		cfg.net.ResolveTCPAddr,
	)
	if err != nil {
		return nil, cfgLogger, mkErr("error normalizing RPC listen "+
			"addrs: %v", err)
	}

	// Plain HTTP is only acceptable if nobody outside this host can
	// reach the listeners.
	if cfg.RpcConf.NoTLS {
		for _, addr := range cfg.rpcListeners {
			if !lncfg.IsLoopback(addr.String()) &&
				!lncfg.IsUnix(addr) {

				return nil, cfgLogger, &usageError{mkErr(
					"--notls is only allowed on localhost, "+
						"found listener %v", addr,
				)}
			}
		}
	}

	// All good, return the sanitized result.
	return &cfg, cfgLogger, nil
}

// getTLSConfig returns the TLS configuration of the JSON-RPC listeners. A
// self-signed certificate is created or renewed if needed.
func getTLSConfig(cfg *Config, cfgLogger btclog.Logger) (*tls.Config, error) {
	genCert := func() error {
		certBytes, keyBytes, err := cert.GenCertPair(
			"rgbld autogenerated cert", cfg.RpcConf.TLSExtraIPs,
			cfg.RpcConf.TLSExtraDomains,
			cfg.RpcConf.TLSDisableAutofill,
			cfg.RpcConf.TLSCertDuration,
		)
		if err != nil {
			return err
		}

		// Now that we have the certificate and key, we'll store them
		// to the file system.
		return cert.WriteCertPair(
			cfg.RpcConf.TLSCertPath, cfg.RpcConf.TLSKeyPath,
			certBytes, keyBytes,
		)
	}

	// Ensure we create TLS key and certificate if they don't exist.
	if !fileExists(cfg.RpcConf.TLSCertPath) &&
		!fileExists(cfg.RpcConf.TLSKeyPath) {

		cfgLogger.Infof("Generating TLS certificates...")
		if err := genCert(); err != nil {
			return nil, err
		}
		cfgLogger.Infof("Done generating TLS certificates")
	}

	certData, parsedCert, err := cert.LoadCert(
		cfg.RpcConf.TLSCertPath, cfg.RpcConf.TLSKeyPath,
	)
	if err != nil {
		return nil, err
	}

	// We check whether the certificate we have on disk match the IPs and
	// domains specified by the config. If the extra IPs or domains have
	// changed from when the certificate was created, we will refresh the
	// certificate if auto refresh is active.
	refresh := false
	if cfg.RpcConf.TLSAutoRefresh {
		refresh, err = cert.IsOutdated(
			parsedCert, cfg.RpcConf.TLSExtraIPs,
			cfg.RpcConf.TLSExtraDomains,
			cfg.RpcConf.TLSDisableAutofill,
		)
		if err != nil {
			return nil, err
		}
	}

	// If the certificate expired or it was outdated, delete it and the TLS
	// key and generate a new pair.
	if time.Now().After(parsedCert.NotAfter) || refresh {
		cfgLogger.Info("TLS certificate is expired or outdated, " +
			"generating a new one")

		if err := os.Remove(cfg.RpcConf.TLSCertPath); err != nil {
			return nil, err
		}
		if err := os.Remove(cfg.RpcConf.TLSKeyPath); err != nil {
			return nil, err
		}

		cfgLogger.Infof("Renewing TLS certificates...")
		if err := genCert(); err != nil {
			return nil, err
		}
		cfgLogger.Infof("Done renewing TLS certificates")

		// Reload the certificate data.
		certData, _, err = cert.LoadCert(
			cfg.RpcConf.TLSCertPath, cfg.RpcConf.TLSKeyPath,
		)
		if err != nil {
			return nil, err
		}
	}

	return cert.TLSConfFromCert(certData), nil
}

// fileExists reports whether the named file or directory exists.
// This function is taken from https://github.com/btcsuite/btcd
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// getLnd returns an instance of the lnd services proxy.
func getLnd(network string, cfg *LndConfig,
	interceptor signal.Interceptor) (*lndclient.GrpcLndServices, error) {

	// We'll want to wait for lnd to be fully synced to its chain backend.
	// The call to NewLndServices will block until the sync is completed.
	// But we still want to be able to shutdown the daemon if the user
	// decides to not wait. For that we can pass down a context that we
	// cancel on shutdown.
	ctxc, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Make sure the context is canceled if the user requests shutdown.
	go func() {
		select {
		// Client requests shutdown, cancel the wait.
		case <-interceptor.ShutdownChannel():
			cancel()

		// The check was completed and the above defer canceled the
		// context. We can just exit the goroutine, nothing more to do.
		case <-ctxc.Done():
		}
	}()

	return lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:            cfg.Host,
		Network:               lndclient.Network(network),
		CustomMacaroonPath:    cfg.MacaroonPath,
		TLSPath:               cfg.TLSPath,
		CheckVersion:          minimalCompatibleVersion,
		BlockUntilChainSynced: true,
		BlockUntilUnlocked:    true,
		CallerCtx:             ctxc,
	})
}
