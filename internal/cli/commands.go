// Package cli implements deskctl, the command-line client of the desk.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/cryptomind-desk/internal/agent"
	"github.com/ashureev/cryptomind-desk/internal/analysis"
	"github.com/ashureev/cryptomind-desk/internal/domain"
	"github.com/ashureev/cryptomind-desk/internal/ingest"
	"github.com/ashureev/cryptomind-desk/internal/view"
)

type globalOptions struct {
	server    string
	grpcAddr  string
	token     string
	publisher string
	debug     bool
}

func (o *globalOptions) client() *Client {
	return NewClient(o.server, o.token, o.publisher)
}

func (o *globalOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "deskctl",
		Short:         "deskctl - CryptoMind analysis desk client",
		Long:          `deskctl publishes agent events and transcript lines to a desk and shows the analysis sessions it tracks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("DESK_URL", "http://localhost:8080"), "Desk HTTP base URL")
	rootCmd.PersistentFlags().StringVar(&opts.grpcAddr, "grpc", envOr("DESK_GRPC_ADDR", "localhost:50061"), "Desk gRPC address")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PUBLISH_TOKEN"), "Publish token")
	rootCmd.PersistentFlags().StringVar(&opts.publisher, "publisher", "deskctl", "Publisher id")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newPublishCmd(opts))
	rootCmd.AddCommand(newSayCmd(opts))
	rootCmd.AddCommand(newSessionsCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))
	rootCmd.AddCommand(newReplayCmd(opts))
	rootCmd.AddCommand(newClassifyCmd())

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newPublishCmd(opts *globalOptions) *cobra.Command {
	var via string
	cmd := &cobra.Command{
		Use:   "publish TOPIC PAYLOAD",
		Short: "Publish an out-of-band agent event",
		Long: `Publish an event on a topic. PAYLOAD is JSON; "-" reads it from stdin.
Example: deskctl publish status '{"status":"started","symbol":"BTC/USDT"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := args[0]
			payload, err := readPayload(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			switch via {
			case "http":
				err = opts.client().PublishEvent(ctx, topic, payload)
			case "ws":
				err = publishWS(ctx, opts, topic, payload)
			case "grpc":
				err = publishGRPC(ctx, opts, topic, payload)
			default:
				return fmt.Errorf("unknown transport %q (want http, ws or grpc)", via)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s via %s\n", topic, via)
			return nil
		},
	}
	cmd.Flags().StringVar(&via, "via", "http", "Transport: http, ws or grpc")
	return cmd
}

func readPayload(arg string, stdin io.Reader) ([]byte, error) {
	var payload []byte
	if arg == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		payload = b
	} else {
		payload = []byte(arg)
	}
	if !json.Valid(payload) {
		return nil, errors.New("payload is not valid JSON")
	}
	return payload, nil
}

func publishWS(ctx context.Context, opts *globalOptions, topic string, payload []byte) error {
	client, err := ingest.Dial(ctx, ingest.URLFromHTTP(opts.server), opts.token, opts.publisher)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Publish(ctx, topic, payload)
}

func publishGRPC(ctx context.Context, opts *globalOptions, topic string, payload []byte) error {
	pub, err := agent.NewPublisher(agent.PublisherConfig{
		Address:     opts.grpcAddr,
		Token:       opts.token,
		PublisherID: opts.publisher,
	}, opts.logger())
	if err != nil {
		return err
	}
	defer pub.Close()
	return pub.Publish(ctx, agent.Outbound{Topic: topic, Payload: payload})
}

func newSayCmd(opts *globalOptions) *cobra.Command {
	var sender, id string
	cmd := &cobra.Command{
		Use:   "say TEXT...",
		Short: "Append a transcript message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Say(cmd.Context(), domain.ChatMessage{
				ID:     id,
				Sender: domain.Sender(sender),
				Text:   strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  added=%v  classification=%s\n", res.Message.Key(), res.Added, res.Classification)
			if res.Session != nil {
				fmt.Fprint(out, view.RenderSession(res.Session, false, time.Now()), "\n")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", string(domain.SenderRemote), "Message sender: remote or local")
	cmd.Flags().StringVar(&id, "id", "", "Message id (defaults to its timestamp)")
	return cmd
}

func newSessionsCmd(opts *globalOptions) *cobra.Command {
	var inFlight, asJSON bool
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List tracked analysis sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := opts.client().Sessions(cmd.Context(), inFlight)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			fmt.Fprint(cmd.OutOrStdout(), view.RenderPanel(list.Sessions, view.Options{ActiveID: list.ActiveID, Limit: limit}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&inFlight, "inflight", false, "Only pending and active sessions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many sessions")
	return cmd
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow session changes live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := opts.client().Stream(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer body.Close()

			board := NewBoard()
			out := cmd.OutOrStdout()
			return ReadSSE(body, func(ev SSEEvent) bool {
				if !board.Apply(ev) {
					return true
				}
				fmt.Fprint(out, "\033[2J\033[H")
				fmt.Fprint(out, view.RenderPanel(board.Sessions(), view.Options{ActiveID: board.ActiveID(), Limit: limit}))
				return true
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 8, "Show at most this many sessions")
	return cmd
}

func newReplayCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay SCENARIO.yaml",
		Short: "Replay a scripted conversation against the desk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := LoadScenario(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if sc.Name != "" {
				fmt.Fprintf(out, "scenario %s (%d steps)\n", sc.Name, len(sc.Steps))
			}
			return sc.Run(cmd.Context(), opts.client(), func(r StepResult) {
				fmt.Fprintf(out, "%3d  %-5s  %s\n", r.Index, r.Kind, r.Detail)
			})
		},
	}
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify TEXT...",
		Short: "Show how the desk would classify an agent message",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			text := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			switch {
			case analysis.ClassifyCompletion(text):
				verdict, _ := analysis.ExtractVerdict(text)
				fmt.Fprintf(out, "completion  verdict=%s\n", orDash(verdict))
			default:
				cue, ok := analysis.ClassifyStart(text)
				if !ok {
					fmt.Fprintln(out, "none")
					return
				}
				fmt.Fprintf(out, "start  symbol=%s  timeframe=%s\n", cue.Symbol, cue.Timeframe)
			}
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
