package main

import (
	"fmt"

	"github.com/lightninglabs/rgb-lightning/rgbrpc"
	"github.com/urfave/cli"
)

var channelCommands = []cli.Command{
	{
		Name:      "channels",
		ShortName: "c",
		Usage:     "Interact with RGB channels.",
		Category:  "Channels",
		Subcommands: []cli.Command{
			fundChannelCommand,
			listChannelsCommand,
			updateChannelCommand,
			closeChannelCommand,
			fundingHookCommand,
		},
	},
}

var (
	peerIDName     = "peer_id"
	amountName     = "amount"
	capacityName   = "capacity"
	channelIDName  = "channel_id"
	offeredName    = "offered"
	receivedName   = "received"
	txName         = "tx"
	txidName       = "txid"
	psbtName       = "psbt"
	holderVoutName = "holder_vout"
	closingOutName = "closing_outpoint"
)

var fundChannelCommand = cli.Command{
	Name:  "fund",
	Usage: "open a channel that carries an asset",
	Description: "Open a channel with the peer and commit the given " +
		"asset amount to the local side of its funding output.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  peerIDName,
			Usage: "the hex encoded public key of the peer",
		},
		cli.StringFlag{
			Name:  assetIDName,
			Usage: "the asset to allocate to the channel",
		},
		cli.StringFlag{
			Name:  amountName,
			Usage: "the asset amount in display units",
		},
		cli.Int64Flag{
			Name: capacityName,
			Usage: "the bitcoin capacity of the channel in " +
				"satoshis, the daemon's default if unset",
		},
	},
	Action: fundChannel,
}

func fundChannel(ctx *cli.Context) error {
	assetID := ctx.String(assetIDName)
	switch {
	case ctx.String(peerIDName) == "":
		return fmt.Errorf("--%s is required", peerIDName)

	case assetID == "":
		return fmt.Errorf("--%s is required", assetIDName)
	}

	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	precision, err := assetPrecision(ctxc, client, assetID)
	if err != nil {
		return err
	}
	amount, err := rgbrpc.ParseAmount(ctx.String(amountName), precision)
	if err != nil {
		return err
	}

	resp, err := client.FundChannel(ctxc, &rgbrpc.FundChannelRequest{
		PeerID:          ctx.String(peerIDName),
		Amount:          amount,
		AssetID:         assetID,
		ChannelCapacity: ctx.Int64(capacityName),
	})
	if err != nil {
		return fmt.Errorf("unable to fund channel: %w", err)
	}

	printJSON(resp)
	return nil
}

var listChannelsCommand = cli.Command{
	Name:   "list",
	Usage:  "list the asset allocations of all channels",
	Action: listChannels,
}

func listChannels(ctx *cli.Context) error {
	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	resp, err := client.ListChannels(ctxc)
	if err != nil {
		return fmt.Errorf("unable to list channels: %w", err)
	}

	printJSON(resp)
	return nil
}

var updateChannelCommand = cli.Command{
	Name:  "update",
	Usage: "apply an HTLC to the allocation of a channel",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  channelIDName,
			Usage: "the channel the HTLC was routed through",
		},
		cli.Uint64Flag{
			Name:  offeredName,
			Usage: "the base unit amount that moves to the remote side",
		},
		cli.Uint64Flag{
			Name:  receivedName,
			Usage: "the base unit amount that moves to the local side",
		},
	},
	Action: updateChannel,
}

func updateChannel(ctx *cli.Context) error {
	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	resp, err := client.UpdateChannel(ctxc, &rgbrpc.UpdateChannelRequest{
		ChannelID: ctx.String(channelIDName),
		Offered:   ctx.Uint64(offeredName),
		Received:  ctx.Uint64(receivedName),
	})
	if err != nil {
		return fmt.Errorf("unable to update channel: %w", err)
	}

	printJSON(resp)
	return nil
}

var closeChannelCommand = cli.Command{
	Name:      "close",
	Usage:     "settle the allocation of a closed channel",
	ArgsUsage: "channel_id",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name: closingOutName,
			Usage: "the txid:index of the wallet output of the " +
				"closing transaction that receives the local " +
				"amount",
		},
	},
	Action: closeChannel,
}

func closeChannel(ctx *cli.Context) error {
	channelID := ctx.Args().First()
	if channelID == "" {
		return cli.ShowCommandHelp(ctx, "close")
	}

	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	resp, err := client.CloseChannel(ctxc, &rgbrpc.CloseChannelRequest{
		ChannelID:       channelID,
		ClosingOutpoint: ctx.String(closingOutName),
	})
	if err != nil {
		return fmt.Errorf("unable to close channel: %w", err)
	}

	printJSON(resp)
	return nil
}

var fundingHookCommand = cli.Command{
	Name:  "hook",
	Usage: "color a funding transaction built by the host",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  txName,
			Usage: "the hex encoded funding transaction",
		},
		cli.StringFlag{
			Name:  txidName,
			Usage: "the txid of the funding transaction",
		},
		cli.StringFlag{
			Name:  psbtName,
			Usage: "the base64 encoded funding psbt",
		},
		cli.StringFlag{
			Name:  channelIDName,
			Usage: "the channel the transaction funds",
		},
		cli.UintFlag{
			Name:  holderVoutName,
			Usage: "the index of the funding output",
		},
	},
	Action: fundingHook,
}

func fundingHook(ctx *cli.Context) error {
	ctxc := getContext()
	client, cleanUp := getClient(ctxc, ctx)
	defer cleanUp()

	resp, err := client.FundingHook(ctxc, &rgbrpc.FundingHookRequest{
		Tx:         ctx.String(txName),
		Txid:       ctx.String(txidName),
		Psbt:       ctx.String(psbtName),
		ChannelID:  ctx.String(channelIDName),
		HolderVout: uint32(ctx.Uint(holderVoutName)),
	})
	if err != nil {
		return fmt.Errorf("unable to color funding tx: %w", err)
	}

	printJSON(resp)
	return nil
}
