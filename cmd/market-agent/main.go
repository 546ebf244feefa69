package main

import (
	"fmt"
	"os"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/protocol"
	"github.com/Godyy/go-market/session"
)

var log = logging.Logger("market-agent")

func main() {
	app := &cli.App{
		Name:      "market-agent",
		Usage:     "Send requests to a market server and print the responses",
		ArgsUsage: "<method> [name=value ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				EnvVars: []string{"MARKET_SERVER"},
				Value:   "127.0.0.1:5555",
			},
			&cli.StringFlag{
				Name:  "network",
				Value: "tcp",
			},
			&cli.StringFlag{
				Name:  "agent",
				Usage: "connect as this agent before sending the request",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 0,
				Usage: "dial and receive timeout, 0 waits forever",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
			},
		},
		Before: func(cctx *cli.Context) error {
			return logging.SetLogLevel("market-agent", cctx.String("log-level"))
		},
		Action: func(cctx *cli.Context) error {
			if cctx.NArg() == 0 {
				return xerrors.New("a method is required")
			}
			req := protocol.Decode([]byte(strings.Join(cctx.Args().Slice(), " ")))
			if req.Method == protocol.Unknown {
				log.Warnw("sending unknown method", "method", cctx.Args().First())
			}

			timeout := cctx.Duration("timeout")
			c, err := session.ConnectTCPTimeout(cctx.String("network"), cctx.String("server"), timeout)
			if err != nil {
				return xerrors.Errorf("connecting to %s: %w", cctx.String("server"), err)
			}
			defer c.Close()
			c.SetReceiveTimeout(timeout)

			if agent := cctx.String("agent"); agent != "" {
				resp, err := c.Call(protocol.NewMessage(protocol.Connect, protocol.Param{Name: "Agent", Value: agent}))
				if err != nil {
					return err
				}
				if code, desc, failed := resp.Status(); failed {
					return cli.Exit(fmt.Sprintf("connect failed: %d %s", code, desc), 1)
				}
			}

			resp, err := c.Call(req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cctx.App.Writer, resp.String())
			if _, _, failed := resp.Status(); failed {
				return cli.Exit("", 2)
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorw("exit in error", "err", err)
		os.Exit(1)
	}
}
