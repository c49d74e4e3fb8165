// Command omegaclaw is the chat-driven automation dispatcher daemon. It polls
// Telegram for messages, routes them to jobs in the mailbox and relays job
// reports and blockers back to the chat.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"omegaclaw/pkg/admin"
	"omegaclaw/pkg/config"
	"omegaclaw/pkg/dispatch"
	"omegaclaw/pkg/eventlog"
	"omegaclaw/pkg/events"
	"omegaclaw/pkg/exec"
	"omegaclaw/pkg/intent"
	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/metrics"
	"omegaclaw/pkg/onboard"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/plugins"
	"omegaclaw/pkg/report"
	"omegaclaw/pkg/runner"
	"omegaclaw/pkg/telegram"
	"omegaclaw/pkg/version"
	"omegaclaw/pkg/wizard"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file (YAML)")
		noAdmin     = flag.Bool("noadmin", false, "Disable the admin HTTP server")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("omegaclaw %s\n", version.String())
		os.Exit(0)
	}

	if *configPath == "" {
		*configPath = os.Getenv("OMEGACLAW_CONFIG")
	}

	os.Exit(run(*configPath, *noAdmin))
}

// run contains the daemon logic and returns an exit code so that defers run
// before os.Exit.
func run(configPath string, noAdmin bool) int {
	fmt.Println("⏳ Starting up...")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := loadSecrets(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to handle secrets: %v\n", err)
		return 1
	}

	d, err := newDaemon(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.serve(ctx, noAdmin); err != nil {
		d.logger.Error("Daemon failed: %v", err)
		return 1
	}
	d.logger.Info("Shutdown completed successfully")
	return 0
}

// loadSecrets decrypts the secrets file in the work dir when one exists.
func loadSecrets(cfg *config.Config) error {
	if !config.SecretsFileExists(cfg.WorkDir) {
		return nil
	}
	if cfg.Database.Passphrase == "" {
		return fmt.Errorf("secrets file present but %s is not set", config.EnvDBPassphrase)
	}
	secrets, err := config.DecryptSecretsFile(cfg.WorkDir, cfg.Database.Passphrase)
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	config.LogInfo("🔐 Loaded %d secrets", len(secrets))
	return nil
}

// daemon holds every long-lived component.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type daemon struct {
	cfg        *config.Config
	logger     *logx.Logger
	store      *persistence.Store
	mailbox    *mailbox.Mailbox
	eventLog   *eventlog.Writer
	registry   *prometheus.Registry
	runner     *runner.Runner
	dispatcher *dispatch.Dispatcher
	bot        *telegram.Bot
	admin      *admin.Server
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logx.NewLogger("omegaclaw")}
	ok := false
	defer func() {
		if !ok {
			d.close()
		}
	}()

	var err error
	if d.mailbox, err = mailbox.Open(cfg.WorkDir); err != nil {
		return nil, fmt.Errorf("failed to open mailbox: %w", err)
	}
	if d.store, err = persistence.Open(cfg.Database.Path, cfg.Database.Passphrase); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.eventLog, err = eventlog.NewWriter(cfg.EventLog.Dir); err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(d.registry)

	executor := exec.NewLocalExec()
	controller, err := newGUIController(cfg, executor)
	if err != nil {
		return nil, err
	}

	client := telegram.NewClient(nil, cfg.Telegram.APIBase, cfg.Telegram.Token)
	d.bot = telegram.NewBot(client, cfg.Telegram.AllowedUsers, cfg.Telegram.PollTimeout, d.handle)

	opts := runner.OptionsFrom(cfg)
	opts.Mailbox = d.mailbox
	opts.Ledger = d.store
	opts.Jobs = d.store
	opts.Autonomy = d.store
	opts.Metrics = recorder
	opts.Strategies = newStrategyFactory(cfg, executor, controller)
	opts.Sink = events.Multi{
		d.bot,
		d.eventLog,
		events.LogSink{Logger: logx.NewLogger("events")},
	}
	if d.runner, err = runner.New(opts); err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	classifier := intent.New()
	host := plugins.NewHost(cfg.Plugins.Allow, cfg.Plugins.Timeout)
	n, loadErrs := host.LoadDir(cfg.Plugins.Dir)
	for _, e := range loadErrs {
		d.logger.Warn("Plugin skipped: %v", e)
	}
	host.RegisterIntents(classifier)
	d.logger.Info("🔌 Loaded %d plugins", n)

	wiz, err := wizard.NewFromConfig(d.store, cfg.Wizard)
	if err != nil {
		return nil, fmt.Errorf("failed to create wizard: %w", err)
	}

	dopts := dispatch.Options{
		Jobs:       d.runner,
		Store:      d.store,
		Classifier: classifier,
		Wizard:     wiz,
		Onboarding: onboard.New(d.mailbox, d.store),
		Reporter:   report.New(d.mailbox, d.store),
		Plugins:    host,
		Sink:       opts.Sink,
	}
	if controller != nil {
		dopts.GUI = controller
	}
	if d.dispatcher, err = dispatch.New(dopts); err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	d.admin = admin.NewServer(d.runner, d.store, d.registry, cfg.Admin.Token)
	ok = true
	return d, nil
}

// handle adapts a Telegram message to the dispatcher.
func (d *daemon) handle(ctx context.Context, in telegram.Incoming) (string, error) {
	return d.dispatcher.Handle(ctx, dispatch.Message{UserID: in.UserID, ChatID: in.ChatID, Text: in.Text})
}

// serve runs the runner loop, the Telegram poller and the admin server until
// ctx is cancelled or one of them fails. The runner stops its sessions
// before returning.
func (d *daemon) serve(ctx context.Context, noAdmin bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.runner.Run(gctx) })
	if d.cfg.Telegram.Token != "" {
		g.Go(func() error { return d.bot.Run(gctx) })
	} else {
		d.logger.Warn("No Telegram token configured; chat front end disabled")
	}
	if !noAdmin {
		g.Go(func() error { return d.admin.Serve(gctx, d.cfg.Admin.Addr) })
	}

	d.logger.Info("🦀 omegaclaw %s online (mode %s, work dir %s)", version.Version, d.runner.Mode(), d.cfg.WorkDir)
	err := g.Wait()
	d.dispatcher.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *daemon) close() {
	if d.eventLog != nil {
		if err := d.eventLog.Close(); err != nil {
			d.logger.Warn("Failed to close event log: %v", err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("Failed to close database: %v", err)
		}
	}
}
