package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/lightninglabs/rgb-lightning/rgbrpc"
	"github.com/lightninglabs/rgb-lightning/rgbwallet"
	"github.com/urfave/cli"
)

var assetCommands = []cli.Command{
	{
		Name:      "assets",
		ShortName: "a",
		Usage:     "Interact with RGB assets.",
		Category:  "Assets",
		Subcommands: []cli.Command{
			issueAssetCommand,
			listAssetsCommand,
			balanceCommand,
			listenAssetCommand,
			refreshCommand,
		},
	},
}

var (
	assetIDName        = "asset_id"
	assetTickerName    = "ticker"
	assetNameName      = "name"
	assetPrecisionName = "precision"
	assetAmountsName   = "amount"
)

// assetPrecision looks up the precision of the asset.
func assetPrecision(ctxc context.Context, client *rgbrpc.Client,
	assetID string) (uint8, error) {

	resp, err := client.ListAssets(ctxc)
	if err != nil {
		return 0, err
	}

	for _, asset := range resp.Assets {
		if asset.ContractID.String() == assetID {
			return asset.Precision, nil
		}
	}

	return 0, fmt.Errorf("unknown asset %v", assetID)
}

var issueAssetCommand = cli.Command{
	Name:      "issue",
	ShortName: "i",
	Usage:     "issue a new asset",
	Description: "Issue a new fungible asset. Every --amount is " +
		"assigned to its own confirmed wallet output.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  assetTickerName,
			Usage: "the ticker of the asset",
		},
		cli.StringFlag{
			Name:  assetNameName,
			Usage: "the name of the asset",
		},
		cli.UintFlag{
			Name:  assetPrecisionName,
			Usage: "the number of decimal places of the asset",
		},
		cli.StringSliceFlag{
			Name: assetAmountsName,
			Usage: "an amount to issue in display units, can be " +
				"given multiple times",
		},
	},
	Action: issueAsset,
}

func issueAsset(ctx *cli.Context) error {
	precision := ctx.Uint(assetPrecisionName)
	if precision > rgbwallet.MaxPrecision {
		return fmt.Errorf("precision must be at most %d",
			rgbwallet.MaxPrecision)
	}

	rawAmounts := ctx.StringSlice(assetAmountsName)
	if len(rawAmounts) == 0 {
		return fmt.Errorf("at least one --%s is required",
			assetAmountsName)
	}

	amounts := make([]uint64, 0, len(rawAmounts))
	for _, raw := range rawAmounts {
		amount, err := rgbrpc.ParseAmount(raw, uint8(precision))
		if err != nil {
			return err
		}
		amounts = append(amounts, amount)
	}

	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	resp, err := client.IssueAsset(ctxc, &rgbrpc.IssueAssetRequest{
		Amounts:   amounts,
		Ticker:    strings.ToUpper(ctx.String(assetTickerName)),
		Name:      ctx.String(assetNameName),
		Precision: uint8(precision),
	})
	if err != nil {
		return fmt.Errorf("unable to issue asset: %w", err)
	}

	printJSON(resp)
	return nil
}

var listAssetsCommand = cli.Command{
	Name:      "list",
	ShortName: "l",
	Usage:     "list all known assets",
	Action:    listAssets,
}

func listAssets(ctx *cli.Context) error {
	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	resp, err := client.ListAssets(ctxc)
	if err != nil {
		return fmt.Errorf("unable to list assets: %w", err)
	}

	printJSON(resp)
	return nil
}

var balanceCommand = cli.Command{
	Name:      "balance",
	ShortName: "b",
	Usage:     "show the on-chain and asset balances",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  assetIDName,
			Usage: "only show the balance of this asset",
		},
	},
	Action: balance,
}

func balance(ctx *cli.Context) error {
	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	resp, err := client.Balance(ctxc, &rgbrpc.BalanceRequest{
		AssetID: ctx.String(assetIDName),
	})
	if err != nil {
		return fmt.Errorf("unable to fetch balance: %w", err)
	}

	printJSON(resp)
	return nil
}

var listenAssetCommand = cli.Command{
	Name:      "listen",
	Usage:     "refresh the state of an asset periodically",
	ArgsUsage: "asset_id",
	Action:    listenAsset,
}

func listenAsset(ctx *cli.Context) error {
	assetID := ctx.Args().First()
	if assetID == "" {
		return cli.ShowCommandHelp(ctx, "listen")
	}

	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	err := client.ListenAsset(ctxc, &rgbrpc.ListenAssetRequest{
		AssetID: assetID,
	})
	if err != nil {
		return fmt.Errorf("unable to listen for asset: %w", err)
	}

	return nil
}

var refreshCommand = cli.Command{
	Name:   "refresh",
	Usage:  "settle confirmed asset state right away",
	Action: refresh,
}

func refresh(ctx *cli.Context) error {
	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	resp, err := client.Refresh(ctxc)
	if err != nil {
		return fmt.Errorf("unable to refresh: %w", err)
	}

	printJSON(resp)
	return nil
}
