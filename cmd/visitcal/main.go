package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"visitcal/internal/config"
	"visitcal/internal/ics"
	appLog "visitcal/internal/log"
	"visitcal/internal/notify"
	"visitcal/internal/reminder"
	"visitcal/internal/store"
	"visitcal/internal/visit"
	"visitcal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dump       bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run wires and runs the process and returns its exit code. Keeping the
// work out of main lets deferred cleanup run before the process exits.
func run(args []string, stdout io.Writer) int {
	flags, err := parseFlags(args)
	if err != nil {
		return 2
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	conf.ApplyEnv()

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Configure(appLog.ParseLevel(conf.Log.Level), conf.Log.Format)
	defer appLog.Sync()

	appLog.Info("visitcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"store", conf.Store.Driver,
		"sender", conf.Sender.Kind,
		"send_enabled", conf.Reminder.SendEnabled,
		"cron", conf.Reminder.Cron,
		"window_minutes", conf.Reminder.WindowMinutes,
		"redis", len(conf.Redis.Addrs) > 0,
		"once", flags.once,
		"dump", flags.dump,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	visits, err := openStore(ctx, conf)
	if err != nil {
		appLog.Error("failed to open visit store", err, "driver", conf.Store.Driver)
		return 1
	}
	defer visits.Close()

	loc := web.ResolveLocationOrLocal(conf.Timezone)

	if flags.dump {
		if err := dumpFeed(ctx, stdout, conf, visits, loc); err != nil {
			appLog.Error("feed dump failed", err)
			return 1
		}
		return 0
	}

	opts := reminder.Options{
		Location:    loc,
		SendTimeout: time.Duration(conf.Reminder.SendTimeoutSeconds) * time.Second,
		LockTTL:     time.Duration(conf.Reminder.LockTTLSeconds) * time.Second,
	}
	if len(conf.Redis.Addrs) > 0 {
		rdb := reminder.NewRedisClient(conf.Redis.Addrs, conf.Redis.Password, conf.Redis.DB)
		defer rdb.Close()
		opts.Locker = reminder.NewRedisLocker(rdb, conf.Reminder.LockKey)
		opts.Ledger = reminder.NewRedisLedger(rdb, conf.Reminder.LedgerStream, 10000)
	}
	dispatcher := reminder.NewDispatcher(visits, newSender(conf), notify.StaticGate(conf.Reminder.SendEnabled), opts)
	window := time.Duration(reminder.ClampWindow(conf.Reminder.WindowMinutes)) * time.Minute

	if flags.once {
		res, err := dispatcher.Run(ctx, time.Now(), window)
		if err != nil {
			appLog.Error("reminder dispatch failed", err)
			return 1
		}
		appLog.Info("reminder dispatch finished", "checked", res.Checked, "sent", res.Sent)
		return 0
	}

	var sched *cron.Cron
	if conf.Reminder.Cron != "" {
		sched = cron.New(cron.WithLocation(loc))
		_, err := sched.AddFunc(conf.Reminder.Cron, func() {
			res, err := dispatcher.Run(ctx, time.Now(), window)
			if err != nil {
				appLog.Error("scheduled reminder dispatch failed", err)
				return
			}
			appLog.Info("scheduled reminder dispatch finished", "checked", res.Checked, "sent", res.Sent)
		})
		if err != nil {
			appLog.Error("invalid reminder cron expression", err, "cron", conf.Reminder.Cron)
			return 1
		}
		sched.Start()
	}

	srv := web.NewServer(conf, web.Deps{
		Store:      visits,
		Dispatcher: dispatcher,
		Visits:     visit.NewService(visits, visit.Options{ResetMarkerOnReschedule: conf.Visits.ResetMarkerOnReschedule}),
	})
	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("http server listening", "addr", conf.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	code := 0
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("http server failed", err)
			code = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if sched != nil {
		<-sched.Stop().Done()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http server shutdown failed", err)
	}
	appLog.Info("visitcal exiting", "code", code)
	return code
}

func openStore(ctx context.Context, conf *config.Config) (store.VisitStore, error) {
	switch conf.Store.Driver {
	case "postgres":
		pg, err := store.NewPostgres(ctx, conf.Store.DSN)
		if err != nil {
			return nil, err
		}
		if conf.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	case "firestore":
		return store.NewFirestore(ctx, store.FirestoreOptions{
			ProjectID:       conf.Store.ProjectID,
			CredentialsFile: conf.Store.CredentialsFile,
			Collection:      conf.Store.Collection,
		})
	default:
		return store.NewMemory(), nil
	}
}

func newSender(conf *config.Config) notify.Sender {
	timeout := time.Duration(conf.Reminder.SendTimeoutSeconds) * time.Second
	switch conf.Sender.Kind {
	case "webhook":
		return notify.NewWebhookSender(conf.Sender.URL, timeout)
	case "sms":
		return notify.NewSMSSender(conf.Sender.URL, conf.Sender.APIKey, conf.Sender.SenderName, conf.Sender.Recipients, timeout)
	default:
		return notify.LogSender{}
	}
}

func dumpFeed(ctx context.Context, w io.Writer, conf *config.Config, visits store.VisitStore, loc *time.Location) error {
	scheduled, err := visits.ListScheduled(ctx)
	if err != nil {
		return err
	}
	res := ics.BuildFeed(scheduled, ics.FeedConfig{
		Months:       conf.Feed.DefaultMonths,
		Now:          time.Now(),
		Location:     loc,
		RollForward:  conf.Feed.RollForward,
		CalendarName: conf.Feed.CalendarName,
	})
	_, err = io.WriteString(w, res.Body)
	return err
}

func parseFlags(args []string) (flagConfig, error) {
	var cfg flagConfig

	fs := flag.NewFlagSet("visitcal", flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", "/etc/visitcal/config.yaml", "Path to config file")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	fs.BoolVar(&cfg.once, "once", false, "Run one reminder dispatch and exit")
	fs.BoolVar(&cfg.dump, "dump", false, "Print the calendar feed to stdout and exit")

	err := fs.Parse(args)
	return cfg, err
}
