package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Snoe0/Topstep-API/api"
	"github.com/Snoe0/Topstep-API/internal/config"
	"github.com/Snoe0/Topstep-API/pkg/models"
	"github.com/Snoe0/Topstep-API/pkg/topstepx"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "topstepx",
		Short:        "TopstepX gateway client",
		Long:         `Authenticates against the TopstepX gateway and exposes accounts, contracts, bars, orders and live data`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(
		authCmd(),
		accountsCmd(),
		contractsCmd(),
		barsCmd(),
		orderCmd(),
		positionsCmd(),
		liveCmd(),
		serveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and returns a client whose session is torn down
// by the returned cleanup.
func setup() (*config.Config, *topstepx.Client, func()) {
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(cfgFile, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger = cfg.NewLogger()

	client := topstepx.NewClient(cfg.ClientConfig(), logger)
	return cfg, client, client.Disconnect
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate and print the session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, cleanup := setup()
			defer cleanup()

			if err := client.Authenticate(cmd.Context()); err != nil {
				return err
			}
			return printJSON(client.State())
		},
	}
}

func accountsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List trading accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, cleanup := setup()
			defer cleanup()

			result, err := client.GetAccounts(cmd.Context(), !all)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive accounts")
	return cmd
}

func contractsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contracts [SYMBOL...]",
		Short: "Resolve front-month contracts for root symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, cleanup := setup()
			defer cleanup()

			symbols := make([]string, 0, len(args))
			for _, arg := range args {
				symbols = append(symbols, strings.ToUpper(arg))
			}
			resolved, err := client.ResolveContracts(cmd.Context(), symbols...)
			if err != nil {
				return err
			}
			return printJSON(resolved)
		},
	}
}

func barsCmd() *cobra.Command {
	var (
		unit       string
		unitNumber int
		lookback   time.Duration
		limit      int
		partial    bool
	)
	cmd := &cobra.Command{
		Use:   "bars CONTRACT_ID",
		Short: "Fetch historical bars ending now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			barUnit, err := models.ParseBarUnit(unit)
			if err != nil {
				return err
			}

			_, client, cleanup := setup()
			defer cleanup()

			end := time.Now().UTC()
			bars, err := client.GetHistoricalData(cmd.Context(), models.HistoryQuery{
				ContractID:        args[0],
				StartTime:         end.Add(-lookback),
				EndTime:           end,
				Unit:              barUnit,
				UnitNumber:        unitNumber,
				Limit:             limit,
				IncludePartialBar: partial,
			})
			if err != nil {
				return err
			}
			return printJSON(bars)
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "minute", "bar unit (second, minute, hour, day, week, month)")
	cmd.Flags().IntVar(&unitNumber, "unit-number", 1, "units per bar")
	cmd.Flags().DurationVar(&lookback, "lookback", 6*time.Minute, "window length ending now")
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum number of bars")
	cmd.Flags().BoolVar(&partial, "partial", false, "include the bar still forming")
	return cmd
}

func orderCmd() *cobra.Command {
	var (
		accountID  int64
		contractID string
		orderType  string
		side       string
		size       int
		limitPrice float64
		stopPrice  float64
		stopTicks  int
		takeTicks  int
		tag        string
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := models.ParseOrderType(orderType)
			if err != nil {
				return err
			}
			orderSide, err := models.ParseOrderSide(side)
			if err != nil {
				return err
			}

			order := models.Order{
				AccountID:  accountID,
				ContractID: contractID,
				Type:       typ,
				Side:       orderSide,
				Size:       size,
				CustomTag:  tag,
			}
			if cmd.Flags().Changed("limit-price") {
				order.LimitPrice = &limitPrice
			}
			if cmd.Flags().Changed("stop-price") {
				order.StopPrice = &stopPrice
			}
			if stopTicks != 0 {
				order.StopLossBracket = &models.Bracket{Ticks: stopTicks, Type: models.OrderTypeStop}
			}
			if takeTicks != 0 {
				order.TakeProfitBracket = &models.Bracket{Ticks: takeTicks, Type: models.OrderTypeLimit}
			}

			_, client, cleanup := setup()
			defer cleanup()

			ack, err := client.PlaceOrder(cmd.Context(), order)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"order_id": ack.OrderID,
				"contract": contractID,
				"side":     orderSide,
			}).Info("Order placed")
			return printJSON(ack.Raw)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	cmd.Flags().StringVar(&contractID, "contract", "", "contract id")
	cmd.Flags().StringVar(&orderType, "type", "market", "order type")
	cmd.Flags().StringVar(&side, "side", "buy", "buy or sell")
	cmd.Flags().IntVar(&size, "size", 1, "number of contracts")
	cmd.Flags().Float64Var(&limitPrice, "limit-price", 0, "limit price")
	cmd.Flags().Float64Var(&stopPrice, "stop-price", 0, "stop price")
	cmd.Flags().IntVar(&stopTicks, "stop-loss-ticks", 0, "signed stop-loss bracket offset in ticks")
	cmd.Flags().IntVar(&takeTicks, "take-profit-ticks", 0, "signed take-profit bracket offset in ticks")
	cmd.Flags().StringVar(&tag, "tag", "", "custom tag")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("contract")
	return cmd
}

func positionsCmd() *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List open positions for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, cleanup := setup()
			defer cleanup()

			positions, err := client.GetPositions(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			return printJSON(positions)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func liveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live SYMBOL",
		Short: "Stream live data frames until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, cleanup := setup()
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sub, err := client.SubscribeLiveData(ctx, args[0], func(msg models.LiveMessage) {
				fmt.Println(string(msg.Data))
			})
			if err != nil {
				return err
			}

			logger.WithField("symbol", sub.Symbol()).Info("Streaming live data. Press Ctrl+C to stop.")
			select {
			case <-ctx.Done():
				logger.Info("Received shutdown signal")
			case <-sub.Done():
				logger.Warn("Live data feed closed by server")
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Authenticate and serve the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, cleanup := setup()
			defer cleanup()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := client.Authenticate(ctx); err != nil {
				return err
			}

			apiServer := api.NewServer(client, logger, fmt.Sprintf("%d", cfg.Server.Port))
			go func() {
				if err := apiServer.Start(); err != nil {
					logger.WithError(err).Fatal("Failed to start API server")
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			logger.Info("TopstepX gateway client is running. Press Ctrl+C to stop.")

			<-sigChan
			logger.Info("Received shutdown signal")
			return nil
		},
	}
}
