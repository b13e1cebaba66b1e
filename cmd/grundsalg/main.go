package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pbaille/grundsalg/internal/api"
	"github.com/pbaille/grundsalg/internal/config"
	"github.com/pbaille/grundsalg/internal/ledger"
)

var (
	cfgFile     string
	sourcesFile string
	debug       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "grundsalg",
		Short:        "Monitor Danish municipality sites for land and property sales",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&sourcesFile, "sources", "", "source registry file (overrides sources_file)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(seenCmd())
	rootCmd.AddCommand(serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if sourcesFile != "" {
		cfg.SourcesFile = sourcesFile
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func runCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one discovery and triage pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cfg, dryRun)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.coordinator().Run(cmd.Context())
			if err != nil {
				a.log.Error("run aborted", errField(err))
				return err
			}

			fmt.Printf("Run %s: %s\n", res.Summary.Stats.RunID, res.Summary.Stats.Summary())
			if dryRun {
				for _, p := range res.Summary.Proposals {
					fmt.Printf("  proposal: %s %s (%.2f)\n", p.Municipality, p.URL, p.Confidence)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use an in-memory store and skip notifications")
	return cmd
}

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List monitored sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sources, err := config.LoadSources(cfg.SourcesFile)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tREGION\tURL")
			for _, s := range sources {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Strategy, s.Region, s.URL)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the source registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sources, err := config.LoadSources(cfg.SourcesFile)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d sources OK\n", cfg.SourcesFile, len(sources))
			return nil
		},
	})

	return cmd
}

func seenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seen [url]",
		Short: "Check whether a URL has been processed, or count processed URLs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			l, err := ledger.Load(cmd.Context(), s, log)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				fmt.Printf("%d URLs seen\n", l.Len())
				return nil
			}
			if l.Contains(args[0]) {
				fmt.Printf("seen: %s\n", args[0])
			} else {
				fmt.Printf("not seen: %s\n", args[0])
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			server := api.New(s, addr, log)
			return server.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "server address")
	return cmd
}
