package rgbcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestChainParams(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		cfg       ChainConfig
		expected  string
		expectErr bool
	}{{
		name:     "mainnet",
		cfg:      ChainConfig{Network: "mainnet"},
		expected: chaincfg.MainNetParams.Name,
	}, {
		name:     "testnet",
		cfg:      ChainConfig{Network: "testnet"},
		expected: chaincfg.TestNet3Params.Name,
	}, {
		name:     "regtest",
		cfg:      ChainConfig{Network: "regtest"},
		expected: chaincfg.RegressionNetParams.Name,
	}, {
		name:     "default signet",
		cfg:      ChainConfig{Network: "signet"},
		expected: chaincfg.SigNetParams.Name,
	}, {
		name: "custom signet",
		cfg: ChainConfig{
			Network:         "signet",
			SigNetChallenge: "51",
		},
		expected: chaincfg.SigNetParams.Name,
	}, {
		name: "invalid signet challenge",
		cfg: ChainConfig{
			Network:         "signet",
			SigNetChallenge: "zz",
		},
		expectErr: true,
	}, {
		name:      "unknown network",
		cfg:       ChainConfig{Network: "liquid"},
		expectErr: true,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			params, err := chainParams(&tc.cfg)
			if tc.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, params.Name)
		})
	}
}

func TestCleanAndExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("RGBLD_TEST_DIR", "/tmp/rgbld")

	require.Empty(t, CleanAndExpandPath(""))
	require.Equal(
		t, "/tmp/rgbld/data", CleanAndExpandPath("$RGBLD_TEST_DIR/data"),
	)
	require.Equal(
		t, "/a/c", CleanAndExpandPath("/a/b/../c/"),
	)
	require.Equal(
		t, filepath.Join(home, ".rgbld"), CleanAndExpandPath("~/.rgbld"),
	)
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{
		DatabaseBackendMemory, DatabaseBackendBolt,
		DatabaseBackendBadger, DatabaseBackendSqlite,
	} {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			cfg := DefaultConfig()
			cfg.DatabaseBackend = backend
			cfg.Bolt.DatabaseFileName = filepath.Join(dir, "rgb.bolt")
			cfg.Badger.Dir = filepath.Join(dir, "badger")
			cfg.Sqlite.DatabaseFileName = filepath.Join(dir, "rgb.db")

			store, err := openStore(&cfg, btclog.Disabled)
			require.NoError(t, err)
			require.NoError(t, store.Close())
		})
	}

	cfg := DefaultConfig()
	cfg.DatabaseBackend = "leveldb"
	_, err := openStore(&cfg, btclog.Disabled)
	require.ErrorContains(t, err, "unknown database backend")
}
