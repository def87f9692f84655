package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	rgbld "github.com/lightninglabs/rgb-lightning"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/urfave/cli"
)

const (
	// Environment variables names that can be used to set the global flags.
	envVarRPCServer = "RGBLCLI_RPCSERVER"
	envVarRgbDir    = "RGBLCLI_RGBDIR"
	envVarTLSCert   = "RGBLCLI_TLSCERTPATH"

	defaultTLSCertFilename = "tls.cert"
	defaultRPCHostPort     = "localhost:3001"
)

var (
	defaultRgbDir      = btcutil.AppDataDir("rgbld", false)
	defaultTLSCertPath = filepath.Join(
		defaultRgbDir, defaultTLSCertFilename,
	)
)

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[rgblcli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "rgblcli"
	app.Version = rgbld.Version()
	app.Usage = "control plane for your RGB Lightning Daemon (rgbld)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "rpcserver",
			Value:  defaultRPCHostPort,
			Usage:  "The host:port of the rgb daemon.",
			EnvVar: envVarRPCServer,
		},
		cli.StringFlag{
			Name:      "rgbdir",
			Value:     defaultRgbDir,
			Usage:     "The path to rgbld's base directory.",
			TakesFile: true,
			EnvVar:    envVarRgbDir,
		},
		cli.StringFlag{
			Name:      "tlscertpath",
			Value:     defaultTLSCertPath,
			Usage:     "The path to rgbld's TLS certificate.",
			TakesFile: true,
			EnvVar:    envVarTLSCert,
		},
		cli.BoolFlag{
			Name:  "notls",
			Usage: "Connect without TLS, the daemon must run with --notls.",
		},
	}
	app.Commands = append(app.Commands, assetCommands...)
	app.Commands = append(app.Commands, channelCommands...)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func getContext() context.Context {
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		fatal(err)
	}

	ctxc, cancel := context.WithCancel(context.Background())
	go func() {
		<-shutdownInterceptor.ShutdownChannel()
		cancel()
	}()
	return ctxc
}

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fatal(err)
	}

	fmt.Println(string(b))
}
