package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/web8kameleon-hub/tokengate/internal/events"
	"github.com/web8kameleon-hub/tokengate/internal/logging"
	natsclient "github.com/web8kameleon-hub/tokengate/internal/messaging/nats"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/output"
	"github.com/web8kameleon-hub/tokengate/internal/simulate"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Send synthetic node telemetry",
	Long: `Generate realistic radio telemetry from a set of simulated nodes and send it
to the server over HTTP, or publish it to NATS with --nats.

Examples:
  # 100 packets from 5 nodes over HTTP
  tokengate simulate --count 100

  # Publish to NATS, 10 packets per second
  tokengate simulate --nats nats://localhost:4222 --count 500 --rate 10`,
	RunE: runSimulate,
}

func init() {
	opts := simulate.DefaultOptions()
	simulateCmd.Flags().Int("count", 50, "number of packets to send")
	simulateCmd.Flags().Int("nodes", opts.Nodes, "number of simulated nodes")
	simulateCmd.Flags().Float64("presence-rate", opts.PresenceRate, "fraction of packets carrying a physical token")
	simulateCmd.Flags().Float64("weak-rate", opts.WeakRate, "fraction of nodes with untrusted signal strength")
	simulateCmd.Flags().Float64("code-rate", opts.CodeRate, "fraction of presence packets with a verification code")
	simulateCmd.Flags().Float64("rate", 0, "packets per second (0 sends as fast as possible)")
	simulateCmd.Flags().Int64("seed", 0, "random seed (0 picks one)")
	simulateCmd.Flags().String("nats", "", "publish to this NATS URL instead of the HTTP API")
	rootCmd.AddCommand(simulateCmd)
}

type packetSender func(ctx context.Context, p models.Packet) error

func runSimulate(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	rate, _ := cmd.Flags().GetFloat64("rate")
	seed, _ := cmd.Flags().GetInt64("seed")
	natsURL, _ := cmd.Flags().GetString("nats")

	opts := simulate.Options{}
	opts.Nodes, _ = cmd.Flags().GetInt("nodes")
	opts.PresenceRate, _ = cmd.Flags().GetFloat64("presence-rate")
	opts.WeakRate, _ = cmd.Flags().GetFloat64("weak-rate")
	opts.CodeRate, _ = cmd.Flags().GetFloat64("code-rate")

	send := newAPIClient().SendTelemetry
	target := serverURL
	if natsURL != "" {
		ncfg := natsclient.DefaultConfig()
		ncfg.URL = natsURL
		ncfg.Name = "tokengate-simulate"
		ncfg.MaxReconnects = 0
		nc, err := natsclient.NewClient(ncfg, slog.Default())
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Drain()
		send = func(ctx context.Context, p models.Packet) error {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			return nc.Publish(ctx, events.SubjectTelemetry, data)
		}
		target = natsURL
	}

	gen := simulate.NewGenerator(opts, seed)
	w := cmd.OutOrStdout()
	output.Info(w, "Sending %d packets from %d nodes to %s", count, opts.Nodes, target)

	sent, failed := sendPackets(cmd.Context(), gen, send, count, rate)
	if failed > 0 {
		output.Warn(w, "%d packets failed", failed)
	}
	output.Success(w, "Sent %d packets", sent)
	if sent == 0 && count > 0 {
		return fmt.Errorf("no packets were accepted")
	}
	return nil
}

// sendPackets sends count packets, pacing them at rate per second when rate
// is positive.
func sendPackets(ctx context.Context, gen *simulate.Generator, send packetSender, count int, rate float64) (sent, failed int) {
	var tick <-chan time.Time
	if rate > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; i < count; i++ {
		if tick != nil && i > 0 {
			select {
			case <-ctx.Done():
				return sent, failed
			case <-tick:
			}
		}
		if err := send(ctx, gen.Next()); err != nil {
			failed++
			slog.Debug("simulated packet rejected", logging.Error(err))
			continue
		}
		sent++
	}
	return sent, failed
}
