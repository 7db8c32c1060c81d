package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/zen-systems/sitegen/pkg/adapter"
	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/evidence"
	"github.com/zen-systems/sitegen/pkg/logger"
	"github.com/zen-systems/sitegen/pkg/metrics"
	"github.com/zen-systems/sitegen/pkg/pipeline"
	"github.com/zen-systems/sitegen/pkg/router"
	"github.com/zen-systems/sitegen/pkg/server"
)

var (
	configFile string
	logLevel   string
	logJSON    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sitegen",
		Short: "Website content generation with model routing and fallbacks",
		Long: `Sitegen selects the sections a small business website needs, then fills
	each one with a routed model call. Failing models are skipped by a circuit
	breaker and any section that cannot be generated gets template content.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(logLevel),
		Output:     os.Stderr,
		JSON:       logJSON,
		TimeFormat: time.Kitchen,
	})
}

func generateCmd() *cobra.Command {
	var (
		gc          pipeline.GenerationContext
		priority    string
		items       []string
		budget      float64
		mockFlag    bool
		outFlag     string
		evidenceDir string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate website content for a prompt",
		Long: `Runs selection and fill for the prompt and writes the outcome as JSON.

	Use --items to skip selection and fill exactly the listed sections.
	Use --mock to run offline against a deterministic local model.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			adapters, err := buildAdapters(cfg, mockFlag)
			if err != nil {
				return err
			}
			p, err := pipeline.New(cfg.RoutingConfig, adapters, pipeline.WithLogger(log))
			if err != nil {
				return fmt.Errorf("failed to create pipeline: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			req := pipeline.Request{
				Prompt:       args[0],
				Context:      gc,
				Priority:     router.ParsePriority(priority),
				Items:        items,
				MaxBudgetUSD: budget,
			}
			out, runErr := p.Run(ctx, req)
			if out == nil {
				return runErr
			}

			if evidenceDir != "" {
				w, err := evidence.NewWriter(evidenceDir, out.RunID)
				if err != nil {
					return fmt.Errorf("failed to create evidence writer: %w", err)
				}
				if _, err := w.WriteOutcome(req, out, time.Now()); err != nil {
					return fmt.Errorf("failed to write evidence: %w", err)
				}
				fmt.Fprintf(os.Stderr, "Evidence: %s\n", w.RunDir())
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			if outFlag == "" {
				fmt.Println(string(data))
			} else if err := os.WriteFile(outFlag, data, 0644); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Run %s: %d items (%d generated, %d cached, %d fallback), est. $%.4f\n",
				out.RunID, len(out.Items), out.Metrics.Generated, out.Metrics.CacheHits,
				out.Metrics.Fallbacks, out.Metrics.EstimatedCost)
			if runErr != nil {
				return runErr
			}
			if !out.Success {
				return fmt.Errorf("generation degraded: %d of %d items fell back", out.Metrics.Fallbacks, len(out.Items))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&gc.BusinessName, "business", "", "business name")
	cmd.Flags().StringVar(&gc.Industry, "industry", "", "industry (inferred from the prompt when empty)")
	cmd.Flags().StringVar(&gc.Description, "description", "", "business description")
	cmd.Flags().StringVar(&gc.Location, "location", "", "business location")
	cmd.Flags().StringVar(&gc.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&gc.Phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&priority, "priority", "quality", "routing priority (quality, speed, cost)")
	cmd.Flags().StringSliceVar(&items, "items", nil, "fill these sections instead of running selection")
	cmd.Flags().Float64Var(&budget, "max-budget-usd", 0, "maximum USD budget for model calls (0 uses config)")
	cmd.Flags().BoolVar(&mockFlag, "mock", false, "use the offline mock model for every provider")
	cmd.Flags().StringVar(&outFlag, "out", "", "write the outcome to this file instead of stdout")
	cmd.Flags().StringVar(&evidenceDir, "evidence-dir", "", "write a run bundle (run.json, items, prompt) under this directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall run timeout (0 disables)")

	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show routing tables",
		Long:  "Displays the primary model per task and priority with each model's fallback chain.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			r := router.NewRouter(cfg.RoutingConfig)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tQUALITY\tSPEED\tCOST")
			for _, info := range r.Routes() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Task, info.Quality, info.Speed, info.Cost)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Println()
			w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tFALLBACKS")
			for _, model := range sortedModels(cfg.RoutingConfig.FallbackChains) {
				fmt.Fprintf(w, "%s\t%s\n", model, strings.Join(cfg.RoutingConfig.FallbackChains[model], ", "))
			}
			return w.Flush()
		},
	}
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models and their providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if resolveFlag {
				return showAliases(cfg.Aliases)
			}

			rc := cfg.RoutingConfig
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tQUALITY\tPROMPT/1K\tCOMPLETION/1K\tSTATUS")
			for _, model := range sortedModels(rc.Models) {
				profile := rc.Models[model]
				status := "no key"
				if cfg.HasAdapter(profile.Provider) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f\t$%.5f\t$%.5f\t%s\n", model, profile.Provider, profile.Quality,
					profile.Pricing.PromptPer1K, profile.Pricing.CompletionPer1K, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")
	return cmd
}

func showAliases(aliases *config.ModelAliases) error {
	aliasMap := aliases.ListAliases()
	if len(aliasMap) == 0 {
		fmt.Println("No model aliases configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")
	for _, alias := range sortedModels(aliasMap) {
		model := aliasMap[alias]
		fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, aliases.GetProviderForModel(model))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODELS")
	for _, provider := range aliases.ListProviders() {
		fmt.Fprintf(w, "%s\t%s\n", provider, strings.Join(aliases.GetProviderModels(provider), ", "))
	}
	return w.Flush()
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [routing.yaml]",
		Short: "Validate a routing config",
		Long:  "Loads a routing config, resolves aliases and checks every model it names.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aliases, err := config.LoadAliasesWithFallback("")
			if err != nil {
				return err
			}
			rc, err := config.LoadRoutingConfigWithAliases(args[0], aliases)
			if err != nil {
				return err
			}
			if errs := aliases.ValidateRoutingConfig(rc); len(errs) > 0 {
				fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
				for _, err := range errs {
					fmt.Fprintf(os.Stderr, "  - %s\n", err)
				}
				return fmt.Errorf("validation failed")
			}
			fmt.Println("Routing config is valid.")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var (
		addr           string
		mockFlag       bool
		requestTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generation API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			adapters, err := buildAdapters(cfg, mockFlag)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			p, err := pipeline.New(cfg.RoutingConfig, adapters,
				pipeline.WithLogger(log),
				pipeline.WithMetrics(metrics.New(reg)))
			if err != nil {
				return fmt.Errorf("failed to create pipeline: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(p,
				server.WithGatherer(reg),
				server.WithLogger(log),
				server.WithRequestTimeout(requestTimeout))
			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().BoolVar(&mockFlag, "mock", false, "use the offline mock model for every provider")
	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 2*time.Minute, "timeout for one generate request")

	return cmd
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithRoutingFile(configFile)
	}
	return config.Load()
}

// buildAdapters returns adapters keyed by provider. With mock set every
// provider is served by the offline mock.
func buildAdapters(cfg *config.Config, mock bool) (map[string]adapter.Adapter, error) {
	if mock {
		return mockAdapters(cfg.RoutingConfig)
	}

	adapters := make(map[string]adapter.Adapter)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no provider API keys configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY or DEEPSEEK_API_KEY, or use --mock")
	}
	return adapters, nil
}

func sortedModels[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
