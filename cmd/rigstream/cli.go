package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/OCAP2/rigstream/internal/api"
	"github.com/OCAP2/rigstream/internal/httpapi"
	"github.com/OCAP2/rigstream/internal/transport"
)

// runCommand dispatches the subcommand in args[0]. No subcommand, or a
// leading flag, runs the server.
func runCommand(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return serve(args)
	}
	switch strings.ToLower(args[0]) {
	case "serve":
		return serve(args[1:])
	case "peer":
		return runPeer(os.Stdout, args[1:])
	case "schema":
		return writeSchema(os.Stdout)
	case "version":
		fmt.Printf("%s %s (built %s)\n", ServiceName, Version, BuildDate)
		return nil
	default:
		return fmt.Errorf("unknown command %q (serve, peer, schema, version)", args[0])
	}
}

func writeSchema(out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(httpapi.MessageSchema())
}

// runPeer subscribes to one object on a remote server and prints every
// transform record it receives as a JSON line.
func runPeer(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("peer", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "base URL of the remote HTTP API")
	uid := fs.Uint("uid", 0, "object uid to subscribe to")
	count := fs.Int("count", 0, "stop after this many frames, 0 runs until interrupted")
	timeout := fs.Duration("timeout", 5*time.Second, "give up when no frame arrives for this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *uid == 0 || *uid > 0xffff {
		return errors.New("peer: -uid must be between 1 and 65535")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := api.New(*server)
	if err := client.Healthcheck(ctx); err != nil {
		return err
	}
	addr, err := client.EnableStreaming(ctx, uint16(*uid))
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.DisableStreaming(dctx, uint16(*uid))
	}()

	// the server reports our host as it sees it; bind every interface on the
	// assigned port
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("peer address %q: %w", addr, err)
	}
	rx, err := transport.ListenPeer(net.JoinHostPort("", port))
	if err != nil {
		return err
	}
	defer rx.Close()
	fmt.Fprintf(os.Stderr, "receiving on %s\n", rx.Addr())

	enc := json.NewEncoder(out)
	for n := 0; *count == 0 || n < *count; n++ {
		if ctx.Err() != nil {
			return nil
		}
		records, err := rx.Read(*timeout)
		if err != nil {
			return fmt.Errorf("read peer frame: %w", err)
		}
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
