package utils

import "github.com/urfave/cli/v2"

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.json",
		Usage:   "load configuration from `file`",
	}

	ClassCodeFlag = &cli.StringFlag{
		Name:  "class",
		Value: "TQBR",
		Usage: "security class `code`",
	}
	SecCodeFlag = &cli.StringFlag{
		Name:     "sec",
		Usage:    "security `code`",
		Required: true,
	}
	PriceFlag = &cli.StringFlag{
		Name:  "price",
		Value: "0",
		Usage: "limit `price`, 0 for market",
	}
	QuantityFlag = &cli.Int64Flag{
		Name:  "qty",
		Value: 1,
		Usage: "quantity in `lots`",
	}
	SellFlag = &cli.BoolFlag{
		Name:  "sell",
		Usage: "sell instead of buy",
	}
	OrderNumFlag = &cli.Uint64Flag{
		Name:     "order",
		Usage:    "exchange order `number`",
		Required: true,
	}
	RetriesFlag = &cli.IntFlag{
		Name:  "retries",
		Value: 3,
		Usage: "retry `count` on timeout",
	}
)
