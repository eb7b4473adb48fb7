package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/manash/memegen/internal/batch"
	"github.com/manash/memegen/internal/config"
	"github.com/manash/memegen/internal/display"
	"github.com/manash/memegen/internal/imagestore"
	"github.com/manash/memegen/internal/keys"
	"github.com/manash/memegen/internal/provider"
	"github.com/manash/memegen/internal/provider/gemini"
	"github.com/manash/memegen/internal/provider/openai"
	"github.com/manash/memegen/internal/render"
	"github.com/manash/memegen/internal/repl"
	"github.com/manash/memegen/internal/security"
	"github.com/manash/memegen/internal/server"
	"github.com/manash/memegen/internal/session"
	"github.com/manash/memegen/internal/studio"
	"github.com/manash/memegen/internal/templates"
	"github.com/manash/memegen/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagProvider    string
	flagAPIKey      string
	flagVerbose     bool
	flagEnvFile     string
	flagDB          string
	flagAddr        string
	flagTop         string
	flagBottom      string
	flagOutput      string
	flagShow        bool
	flagParallel    int
	flagOutputDir   string
	flagExportOut   string
	flagStopOnError bool
)

type App struct {
	In       io.Reader
	Out      io.Writer
	Err      io.Writer
	Registry *models.ModelRegistry

	LoadConfig  func(envFile string) (*config.Config, error)
	NewGateway  func(pt models.ProviderType, cfg *provider.Config, registry *models.ModelRegistry) provider.Gateway
	NewKeyStore func() (*keys.Store, error)
	OpenStore   func(path string) (*session.Store, error)
	NewImages   func() *imagestore.Store
}

func DefaultApp() *App {
	return &App{
		In:       os.Stdin,
		Out:      os.Stdout,
		Err:      os.Stderr,
		Registry: models.DefaultRegistry(),
		LoadConfig: func(envFile string) (*config.Config, error) {
			return config.Load(envFile)
		},
		NewGateway:  newGateway,
		NewKeyStore: keys.NewStore,
		OpenStore:   session.NewStoreWithPath,
		NewImages: func() *imagestore.Store {
			return imagestore.New(imagestore.WithStrictHosts(true))
		},
	}
}

// newGateway builds the real backend for pt, or an Unavailable gateway
// that reports why it could not.
func newGateway(pt models.ProviderType, cfg *provider.Config, registry *models.ModelRegistry) provider.Gateway {
	factory := provider.NewFactory(registry)
	factory.Register(models.ProviderGemini, gemini.Constructor)
	factory.Register(models.ProviderOpenAI, openai.Constructor)
	factory.Configure(pt, cfg)
	return factory.CreateOrUnavailable(pt)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memegen",
		Short: "Make memes with captions and AI help",
		Long: `memegen is a meme studio for the terminal.

Start it without arguments for interactive mode: load an image or a
template, add captions, drag them around, ask the AI for caption ideas,
an analysis or an edit, and export a PNG.

Supported AI providers:
  - Gemini (default, GEMINI_API_KEY)
  - OpenAI (OPENAI_API_KEY)

Examples:
  memegen
  memegen render cat.png --top "one does not simply" --bottom "write a meme tool"
  memegen batch memes.json -j 4
  memegen serve --addr 127.0.0.1:8080`,
		Args:          cobra.NoArgs,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, app)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flagProvider, "provider", "p", "", "AI provider (gemini, openai); defaults to MEMEGEN_PROVIDER or gemini")
	pf.StringVar(&flagAPIKey, "api-key", "", "API key for the selected provider")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&flagEnvFile, "env-file", config.DefaultEnvFile, "dotenv file to load")
	pf.StringVar(&flagDB, "db", "", "project database path (default ~/.memegen/projects.db)")

	cmd.SetIn(app.In)
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	cmd.AddCommand(
		newServeCmd(app),
		newRenderCmd(app),
		newBatchCmd(app),
		newTemplatesCmd(app),
		newKeysCmd(app),
		newProjectsCmd(app),
	)
	return cmd
}

// setup loads configuration, applies flags and builds the logger.
func (a *App) setup() (*config.Config, *log.Logger, error) {
	cfg, err := a.LoadConfig(flagEnvFile)
	if err != nil {
		return nil, nil, err
	}
	if flagProvider != "" {
		cfg.Provider = models.ProviderType(strings.ToLower(flagProvider))
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := log.NewWithOptions(a.Err, log.Options{
		Prefix: "memegen",
		Level:  cfg.Level(),
	})
	return cfg, logger, nil
}

// resolveKey looks for a key in the flag, then the key store, then the
// environment.
func (a *App) resolveKey(cfg *config.Config, pt models.ProviderType, logger *log.Logger) string {
	var store *keys.Store
	if a.NewKeyStore != nil {
		s, err := a.NewKeyStore()
		if err != nil {
			logger.Debug("key store unavailable", "err", err)
		} else {
			store = s
		}
	}

	key, source, err := keys.Resolve(flagAPIKey, store, pt)
	if err != nil {
		key, source = cfg.APIKey(pt), "environment"
	}
	if key != "" {
		logger.Debug("using API key", "provider", pt, "source", source, "key", keys.MaskKey(key))
	}
	return key
}

// gateway builds the AI gateway for the configured provider. record, when
// set, receives every finished call.
func (a *App) gateway(cfg *config.Config, logger *log.Logger, record func(provider.Call)) provider.Gateway {
	pcfg := &provider.Config{
		APIKey:        a.resolveKey(cfg, cfg.Provider, logger),
		TimeoutSec:    cfg.TimeoutSec,
		CaptionModel:  cfg.CaptionModel,
		AnalysisModel: cfg.AnalysisModel,
		EditModel:     cfg.EditModel,
		Logger:        logger,
	}

	var gw provider.Gateway = a.NewGateway(cfg.Provider, pcfg, a.Registry)
	gw = provider.NewRateLimited(gw, cfg.Rate, cfg.Burst)
	if record != nil {
		gw = provider.NewRecorded(gw, record)
	}
	return gw
}

func (a *App) openProjects(cfg *config.Config) (*session.Store, error) {
	path := cfg.DBPath
	if path == "" {
		p, err := session.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return a.OpenStore(path)
}

// recorder logs calls to the project database. Failures only warn.
func recorder(mgr *session.Manager, logger *log.Logger) func(provider.Call) {
	return func(call provider.Call) {
		if err := mgr.LogCall(context.Background(), call); err != nil {
			logger.Warn("failed to record AI call", "err", err)
		}
	}
}

func runInteractive(_ *cobra.Command, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, err := app.setup()
	if err != nil {
		return err
	}

	store, err := app.openProjects(cfg)
	if err != nil {
		return fmt.Errorf("failed to open project database: %w", err)
	}
	defer store.Close()
	mgr := session.NewManager(store)

	st, err := studio.New(studio.Options{
		Gateway: app.gateway(cfg, logger, recorder(mgr, logger)),
		Images:  app.NewImages(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	r := repl.New(&repl.Config{
		In:        app.In,
		Out:       app.Out,
		Err:       app.Err,
		Studio:    st,
		Projects:  mgr,
		Displayer: display.New(app.Out),
		Logger:    logger,
	})
	return r.Run(ctx)
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the studio over an HTTP JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, app)
		},
	}
	cmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default MEMEGEN_ADDR or 127.0.0.1:8080)")
	return cmd
}

func runServe(cmd *cobra.Command, app *App) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, err := app.setup()
	if err != nil {
		return err
	}
	addr := cfg.Addr
	if flagAddr != "" {
		addr = flagAddr
	}

	store, err := app.openProjects(cfg)
	if err != nil {
		return fmt.Errorf("failed to open project database: %w", err)
	}
	defer store.Close()
	mgr := session.NewManager(store)

	st, err := studio.New(studio.Options{
		Gateway: app.gateway(cfg, logger, recorder(mgr, logger)),
		Images:  app.NewImages(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if !flagVerbose {
		gin.SetMode(gin.ReleaseMode)
	}
	fmt.Fprintf(app.Out, "Serving memegen API on http://%s/api\n", addr)
	return server.New(st, logger).Run(ctx, addr)
}

func newRenderCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <image>",
		Short: "Render a meme in one shot",
		Long: `Render a meme from an image file, an https URL or template:<id|name>
and save it as PNG. No AI is involved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args, app)
		},
	}
	cmd.Flags().StringVar(&flagTop, "top", "", "top caption")
	cmd.Flags().StringVar(&flagBottom, "bottom", "", "bottom caption")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", models.ExportFilename, "output PNG file")
	cmd.Flags().BoolVar(&flagShow, "show", false, "display the result in the terminal")
	return cmd
}

func runRender(cmd *cobra.Command, args []string, app *App) error {
	_, logger, err := app.setup()
	if err != nil {
		return err
	}
	if err := security.ValidateExportPath(flagOutput); err != nil {
		return fmt.Errorf("invalid output %q: %w", flagOutput, err)
	}

	item := batch.Item{Index: 1, Image: args[0], Output: flagOutput}
	if flagTop != "" {
		item.Captions = append(item.Captions, batch.Caption{Text: flagTop, Position: batch.PositionTop})
	}
	if flagBottom != "" {
		item.Captions = append(item.Captions, batch.Caption{Text: flagBottom, Position: batch.PositionBottom})
	}

	renderer, err := render.New()
	if err != nil {
		return err
	}
	proc := batch.NewProcessor(renderer, app.NewImages(), logger, app.Out, app.Err)
	results, err := proc.Process(cmd.Context(), []batch.Item{item}, &batch.Options{OutputDir: "."})
	if err != nil {
		return err
	}
	if results[0].Error != nil {
		return results[0].Error
	}

	if flagShow {
		data, err := os.ReadFile(results[0].Path)
		if err != nil {
			return err
		}
		return display.New(app.Out).Display(data)
	}
	return nil
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Render many memes from a .json or .txt file",
		Long: `Render many memes from a file.

JSON: [{"image": "cat.png", "captions": [{"text": "top"}, {"text": "bottom"}], "output": "cat-meme.png"}]
Text: one meme per line as "image | top text | bottom text"; # starts a comment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, app)
		},
	}
	cmd.Flags().IntVarP(&flagParallel, "parallel", "j", 2, "number of memes rendered at once")
	cmd.Flags().StringVarP(&flagOutputDir, "output-dir", "d", ".", "directory for rendered memes")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failure")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string, app *App) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, logger, err := app.setup()
	if err != nil {
		return err
	}

	items, err := batch.ParseFile(args[0])
	if err != nil {
		return err
	}
	if flagParallel < 1 {
		return fmt.Errorf("parallel must be at least 1")
	}
	if err := os.MkdirAll(flagOutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	renderer, err := render.New()
	if err != nil {
		return err
	}
	proc := batch.NewProcessor(renderer, app.NewImages(), logger, app.Out, app.Err)

	fmt.Fprintf(app.Out, "Rendering %d %s with %d %s...\n",
		len(items), plural(len(items), "meme", "memes"), flagParallel, plural(flagParallel, "worker", "workers"))
	start := time.Now()
	results, err := proc.Process(ctx, items, &batch.Options{
		OutputDir:   flagOutputDir,
		Parallel:    flagParallel,
		StopOnError: flagStopOnError,
	})
	proc.PrintSummary(results)
	fmt.Fprintf(app.Out, "  Took: %s\n", time.Since(start).Round(time.Millisecond))
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("some memes failed")
		}
	}
	return nil
}

func newTemplatesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the meme templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range templates.All() {
				fmt.Fprintf(app.Out, "%s  %-22s %s\n", t.ID, t.Name, t.URL)
			}
			return nil
		},
	}
}

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> [key]",
		Short: "Store an API key (prompts when key is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := keys.ValidateProvider(args[0])
			if err != nil {
				return err
			}
			var key string
			if len(args) == 2 {
				key = args[1]
			} else {
				if key, err = app.readSecret(fmt.Sprintf("%s API key: ", pt)); err != nil {
					return err
				}
			}
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			if err := store.Set(pt, key); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Stored %s key %s in %s\n", pt, keys.MaskKey(strings.TrimSpace(key)), store.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <provider>",
		Short: "Show a stored key (masked)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := keys.ValidateProvider(args[0])
			if err != nil {
				return err
			}
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			entry, ok, err := store.Entry(pt)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w for %s", keys.ErrKeyNotFound, pt)
			}
			fmt.Fprintf(app.Out, "%s: %s (updated %s)\n", pt, keys.MaskKey(entry.Key), humanize.Time(entry.UpdatedAt))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "delete <provider>",
		Aliases: []string{"rm"},
		Short:   "Delete a stored key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := keys.ValidateProvider(args[0])
			if err != nil {
				return err
			}
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			if err := store.Delete(pt); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Deleted %s key\n", pt)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List providers with stored keys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			providers, err := store.List()
			if err != nil {
				return err
			}
			if len(providers) == 0 {
				fmt.Fprintln(app.Out, "No keys stored")
				return nil
			}
			for _, pt := range providers {
				fmt.Fprintln(app.Out, pt)
			}
			return nil
		},
	})

	return cmd
}

// readSecret reads a line from In without echo when In is a terminal.
func (a *App) readSecret(prompt string) (string, error) {
	fmt.Fprint(a.Err, prompt)
	if f, ok := a.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.Err)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(a.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newProjectsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List saved projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjects(cmd, app)
		},
	}

	export := &cobra.Command{
		Use:   "export <id>",
		Short: "Render a saved project to PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectExport(cmd, args, app)
		},
	}
	export.Flags().StringVarP(&flagExportOut, "output", "o", "", "output PNG file (default: project name)")
	cmd.AddCommand(export)
	return cmd
}

func runProjects(cmd *cobra.Command, app *App) error {
	cfg, _, err := app.setup()
	if err != nil {
		return err
	}
	store, err := app.openProjects(cfg)
	if err != nil {
		return fmt.Errorf("failed to open project database: %w", err)
	}
	defer store.Close()

	projects, err := session.NewManager(store).List(cmd.Context())
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Fprintln(app.Out, "No projects found")
		return nil
	}

	fmt.Fprintf(app.Out, "%-6s  %-24s  %-16s  %-6s  %s\n", "ID", "Name", "Updated", "Layers", "Image")
	for _, p := range projects {
		fmt.Fprintf(app.Out, "%-6s  %-24s  %-16s  %-6d  %s\n",
			p.ShortID(), p.DisplayName(), humanize.Time(p.UpdatedAt), len(p.Layers), humanize.Bytes(uint64(p.ImageBytes)))
	}
	return nil
}

func runProjectExport(cmd *cobra.Command, args []string, app *App) error {
	cfg, logger, err := app.setup()
	if err != nil {
		return err
	}
	store, err := app.openProjects(cfg)
	if err != nil {
		return fmt.Errorf("failed to open project database: %w", err)
	}
	defer store.Close()

	p, snap, err := session.NewManager(store).Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := flagExportOut
	if out == "" {
		out = security.SanitizeFilename(p.Name) + ".png"
	}
	if err := security.ValidateExportPath(out); err != nil {
		return fmt.Errorf("invalid output %q: %w", out, err)
	}

	st, err := studio.New(studio.Options{Images: app.NewImages(), Logger: logger})
	if err != nil {
		return err
	}
	if err := st.Restore(snap); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := st.Export(&buf); err != nil {
		return err
	}
	if err := imagestore.WriteFile(out, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	fmt.Fprintf(app.Out, "Exported %s to %s (%s)\n", p.DisplayName(), out, humanize.Bytes(uint64(buf.Len())))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
