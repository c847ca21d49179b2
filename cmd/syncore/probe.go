package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/syncore/internal/demo"
	"github.com/vango-dev/syncore/pkg/client"
)

type probeOptions struct {
	url      string
	clicks   int
	timeout  time.Duration
	logLevel string
}

func probeCmd() *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Drive a running demo server from a Go client",
		Long: `Connect to a running syncore demo server, click the button and
wait until the label reports every click.

Examples:
  syncore probe
  syncore probe --url http://localhost:9000 --clicks 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runProbe(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.url, "url", "u", "http://localhost:8080", "Server base URL")
	cmd.Flags().IntVarP(&opts.clicks, "clicks", "n", 3, "Number of clicks")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", 10*time.Second, "Overall timeout")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	return cmd
}

func runProbe(ctx context.Context, out io.Writer, opts probeOptions) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var (
		mu          sync.Mutex
		highlighted int
	)
	ready := make(chan struct{})
	var readyOnce sync.Once
	done := make(chan struct{})
	var doneOnce sync.Once

	onHighlight := func(_ *client.Connector, clicks int) {
		mu.Lock()
		highlighted = clicks
		mu.Unlock()
		if clicks >= opts.clicks {
			doneOnce.Do(func() { close(done) })
		}
	}
	onChange := func(m *client.Mirror, _ []string) {
		if root, ok := m.Get("0"); ok && root.Type() == demo.TypeRoot {
			readyOnce.Do(func() { close(ready) })
		}
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = opts.url
	c, err := client.New(cfg,
		client.WithLogger(logger),
		client.WithBundles(nil, demo.Bundles()...),
		client.WithClientRPC(demo.ClientRPC(logger, onHighlight)),
		client.WithOnChange(onChange),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Dial(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s\n", c.SessionID())

	if err := wait(ctx, c, ready); err != nil {
		return fmt.Errorf("waiting for initial state: %w", err)
	}

	var state demo.RootState
	err = c.Do(ctx, func(m *client.Mirror) error {
		root, _ := m.Get("0")
		return root.DecodeState(&state)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "connected to %q\n", state.Title)

	if opts.clicks > 0 {
		button := c.Proxy(demo.ButtonServerRPC, string(state.Button))
		start := time.Now()
		for range opts.clicks {
			err := c.Do(ctx, func(*client.Mirror) error {
				return button.Call("click")
			})
			if err != nil {
				return err
			}
		}
		if err := wait(ctx, c, done); err != nil {
			mu.Lock()
			n := highlighted
			mu.Unlock()
			return fmt.Errorf("waiting for clicks (%d of %d seen): %w", n, opts.clicks, err)
		}
		fmt.Fprintf(out, "%d clicks acknowledged in %s\n", opts.clicks, time.Since(start).Round(time.Millisecond))
	}

	return c.Do(ctx, func(m *client.Mirror) error {
		for _, ref := range []string{string(state.Label), string(state.Clock)} {
			label, ok := m.Get(ref)
			if !ok {
				continue
			}
			var ls demo.LabelState
			if err := label.DecodeState(&ls); err != nil {
				return err
			}
			fmt.Fprintf(out, "label %s: %s\n", ref, ls.Text)
		}
		loader := c.Loader()
		for _, name := range loader.Names() {
			fmt.Fprintf(out, "bundle %s: %s\n", name, loader.State(name))
		}
		return nil
	})
}

// wait blocks until ch is closed, the client stops or ctx is done.
func wait(ctx context.Context, c *client.Client, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-c.Done():
		if err := c.Err(); err != nil {
			return err
		}
		return client.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
