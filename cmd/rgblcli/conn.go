package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/websocket"
	"github.com/lightninglabs/rgb-lightning/rgbrpc"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/urfave/cli"
)

// extractPathArgs parses the TLS certificate path from the command. If the
// rgb directory was changed, the certificate is expected in it.
func extractPathArgs(ctx *cli.Context) string {
	rgbDir := lncfg.CleanAndExpandPath(ctx.GlobalString("rgbdir"))
	tlsCertPath := lncfg.CleanAndExpandPath(ctx.GlobalString("tlscertpath"))

	if rgbDir != defaultRgbDir && tlsCertPath == defaultTLSCertPath {
		tlsCertPath = filepath.Join(rgbDir, defaultTLSCertFilename)
	}

	return tlsCertPath
}

// loadTLSConfig trusts the self-signed certificate of the daemon.
func loadTLSConfig(certPath string) (*tls.Config, error) {
	certBytes, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read TLS cert: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certBytes) {
		return nil, fmt.Errorf("no certificate found in %v", certPath)
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// getClient opens a websocket JSON-RPC connection to the daemon.
func getClient(ctxc context.Context,
	ctx *cli.Context) (*rgbrpc.Client, jsonrpc.ClientCloser) {

	scheme := "ws"
	if !ctx.GlobalBool("notls") {
		tlsCfg, err := loadTLSConfig(extractPathArgs(ctx))
		if err != nil {
			fatal(err)
		}

		// The client dials through the default websocket dialer.
		websocket.DefaultDialer.TLSClientConfig = tlsCfg
		scheme = "wss"
	}

	addr := fmt.Sprintf(
		"%s://%s%s", scheme, ctx.GlobalString("rpcserver"),
		rgbrpc.Path,
	)
	client, closer, err := rgbrpc.NewClient(ctxc, addr, nil)
	if err != nil {
		fatal(fmt.Errorf("unable to connect to rgbld: %w", err))
	}

	return client, closer
}
