package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"

	"eyegames/internal/handlerclient"

	"github.com/spf13/cobra"
)

var (
	handlerHost string
	handlerPort int
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Game session commands",
	Long:  `Join a session on the handler server or inspect the current one.`,
}

var sessionJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join the current session and play public goods rounds",
	Long: `Join the current session, wait until every player is set up, then play one
public goods round per value in --contributions. After each round the payoffs
of all players are printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		players, _ := cmd.Flags().GetInt("players")
		contributions, _ := cmd.Flags().GetFloat64Slice("contributions")
		endowment, _ := cmd.Flags().GetFloat64("endowment")
		multiplier, _ := cmd.Flags().GetFloat64("multiplier")

		if players <= 0 {
			return fmt.Errorf("--players must be positive")
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()

		opts := handlerclient.DefaultOptions()
		opts.PlayerID = id
		opts.NumPlayers = players
		opts.RequestTimeout = cfg.RequestTimeout
		opts.PollInterval = cfg.BarrierPollInterval
		opts.Logger = slog.Default()

		addr := net.JoinHostPort(handlerHost, strconv.Itoa(handlerPort))
		client, err := handlerclient.Dial(ctx, addr, opts)
		if err != nil {
			return err
		}
		defer client.Quit(context.Background())

		out := cmd.OutOrStdout()
		if err := client.SetUp(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "Joined %s, waiting for %d players\n", addr, players)
		if err := client.WaitForBarrier(ctx); err != nil {
			return err
		}
		ips, err := client.IPs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "All set up: %v\n", ips)

		game := handlerclient.PublicGoods{Endowment: endowment, TotalMultiplier: multiplier, NumPlayers: players}
		tag := handlerclient.RoundTag{Round: 1}
		for _, c := range contributions {
			if err := client.SubmitContribution(ctx, c); err != nil {
				return err
			}
			latest, err := client.WaitForContributions(ctx, tag.Round)
			if err != nil {
				return err
			}
			values, err := handlerclient.DecodeContributions(latest)
			if err != nil {
				return err
			}
			result, err := game.Settle(values)
			if err != nil {
				return err
			}
			printRound(out, tag.Round, values, result)
			tag = tag.Next()
		}
		return nil
	},
}

func printRound(w io.Writer, round int, contributions map[string]float64, result handlerclient.RoundResult) {
	keys := make([]string, 0, len(result.Payoffs))
	for key := range result.Payoffs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "Round %d\n", round)
	for _, key := range keys {
		fmt.Fprintf(w, "  %-22s contributed %6.2f  payoff %6.2f\n", key, contributions[key], result.Payoffs[key])
	}
	fmt.Fprintf(w, "  mean contribution %.2f, mean payoff %.2f\n", result.ContributionMean, result.PayoffMean)
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session from the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusURL, _ := cmd.Flags().GetString("status-url")

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL+"/session", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("status API unavailable: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status API returned %s: %s", resp.Status, bytes.TrimSpace(body))
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			return err
		}
		pretty.WriteByte('\n')
		_, err = pretty.WriteTo(cmd.OutOrStdout())
		return err
	},
}

func registerSessionFlags() {
	sessionCmd.PersistentFlags().StringVar(&handlerHost, "host", "localhost", "handler server host")
	sessionCmd.PersistentFlags().IntVar(&handlerPort, "port", cfg.HandlerPort, "handler server port")

	sessionJoinCmd.Flags().String("id", "", "player ID")
	sessionJoinCmd.Flags().Int("players", 2, "number of players in the session")
	sessionJoinCmd.Flags().Float64Slice("contributions", []float64{10}, "contribution per round")
	sessionJoinCmd.Flags().Float64("endowment", 20, "endowment per round")
	sessionJoinCmd.Flags().Float64("multiplier", 1.6, "multiplier applied to the pot")

	sessionStatusCmd.Flags().String("status-url", fmt.Sprintf("http://localhost:%d", cfg.StatusPort), "base URL of the status API")

	sessionCmd.AddCommand(sessionJoinCmd, sessionStatusCmd)
	rootCmd.AddCommand(sessionCmd)
}
