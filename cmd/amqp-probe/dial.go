package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	amqp "github.com/amqp10/engine"
	"github.com/amqp10/engine/internal/mechanism"
	"github.com/amqp10/engine/internal/transport"
)

type dialConfig struct {
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  uint32
	SASL         string
	User         string
	Pass         string
	Verbose      bool
	Timeout      time.Duration
}

var dialCfg dialConfig

var dialCmd = &cobra.Command{
	Use:   "dial <host:port>",
	Short: "Open a connection, run the AMQP handshake, then close",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDial(args[0], dialCfg)
	},
	Example: "# amqp-probe dial localhost:5672 --sasl plain --user guest --pass guest",
}

func init() {
	dialCmd.Flags().StringVar(&dialCfg.ContainerID, "container-id", "amqp-probe", "OPEN container-id")
	dialCmd.Flags().StringVar(&dialCfg.Hostname, "hostname", "", "OPEN hostname")
	dialCmd.Flags().Uint32Var(&dialCfg.MaxFrameSize, "max-frame-size", 4294967295, "locally advertised max-frame-size")
	dialCmd.Flags().Uint16Var(&dialCfg.ChannelMax, "channel-max", 65535, "locally advertised channel-max")
	dialCmd.Flags().Uint32Var(&dialCfg.IdleTimeout, "idle-timeout", 0, "locally advertised idle-timeout in milliseconds (0 = unset)")
	dialCmd.Flags().StringVar(&dialCfg.SASL, "sasl", "none", "SASL mechanism: none, anonymous, plain")
	dialCmd.Flags().StringVar(&dialCfg.User, "user", "", "PLAIN authentication identity")
	dialCmd.Flags().StringVar(&dialCfg.Pass, "pass", "", "PLAIN password")
	dialCmd.Flags().BoolVar(&dialCfg.Verbose, "verbose", false, "enable debug-level logging to stderr")
	dialCmd.Flags().DurationVar(&dialCfg.Timeout, "timeout", 10*time.Second, "give up if the connection never reaches Opened")
	rootCmd.AddCommand(dialCmd)
}

func runDial(addr string, cfg dialConfig) error {
	if cfg.Verbose {
		amqp.RegisterLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	mech, err := buildMechanism(cfg)
	if err != nil {
		return err
	}

	t := transport.Dial(addr)
	opts := []amqp.Option{
		amqp.WithHostname(cfg.Hostname),
		amqp.WithMaxFrameSize(cfg.MaxFrameSize),
		amqp.WithChannelMax(cfg.ChannelMax),
		amqp.WithIdleTimeout(cfg.IdleTimeout),
	}
	if mech != nil {
		opts = append(opts, amqp.WithSASL(mech))
	}

	conn, err := amqp.New(t, cfg.ContainerID, opts...)
	if err != nil {
		return fmt.Errorf("amqp-probe: %w", err)
	}

	done := make(chan amqp.State, 1)
	// A throwaway endpoint just to observe connection-level state
	// transitions; dial never opens a session.
	watcher, err := conn.CreateEndpoint(nil, func(s, _ amqp.State) {
		if s == amqp.StateOpened || s == amqp.StateEnd {
			select {
			case done <- s:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("amqp-probe: %w", err)
	}
	defer conn.DestroyEndpoint(watcher)

	if err := conn.Open(); err != nil {
		return fmt.Errorf("amqp-probe: %w", err)
	}

	deadline := time.Now().Add(cfg.Timeout)
	for {
		conn.DoWork()
		select {
		case s := <-done:
			if s == amqp.StateEnd {
				return fmt.Errorf("amqp-probe: connection ended before opening")
			}
			fmt.Printf("connection opened: remote max-frame-size=%d\n", conn.RemoteMaxFrameSize())
			_ = conn.Close()
			return nil
		default:
		}
		if time.Now().After(deadline) {
			_ = conn.Close()
			return fmt.Errorf("amqp-probe: timed out waiting for Opened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func buildMechanism(cfg dialConfig) (mechanism.Mechanism, error) {
	switch cfg.SASL {
	case "", "none":
		return nil, nil
	case "anonymous":
		return mechanism.Anonymous{}, nil
	case "plain":
		return mechanism.Plain{Authcid: cfg.User, Passwd: cfg.Pass}, nil
	default:
		return nil, fmt.Errorf("amqp-probe: unknown --sasl mechanism %q", cfg.SASL)
	}
}
