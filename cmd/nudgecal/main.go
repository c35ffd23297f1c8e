package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/xlab/closer"

	"nudgecal/internal/apperr"
	"nudgecal/internal/config"
	"nudgecal/internal/ics"
	"nudgecal/internal/kv"
	appLog "nudgecal/internal/log"
	"nudgecal/internal/overlay"
	"nudgecal/internal/prefs"
	"nudgecal/internal/reminder"
	"nudgecal/internal/web"
)

const refreshTimeout = time.Minute

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	// A missing .env is normal.
	_ = godotenv.Load()

	conf, err := loadConfig(flags)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Init(appLog.Options{Level: appLog.ParseLevel(conf.LogLevel), Production: conf.Production})
	closer.Bind(appLog.Sync)

	loc, _ := conf.Location()
	appLog.Info("nudgecal starting",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"horizon_hours", conf.HorizonHours,
		"ics_count", len(conf.ICS),
		"store", conf.Store.Driver,
		"presenter", conf.Presenter.Kind,
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	closer.Bind(cancel)

	backend, err := kv.Open(ctx, kv.Options{
		Driver:    conf.Store.Driver,
		Path:      conf.Store.Path,
		DSN:       conf.Store.DSN,
		RedisAddr: conf.Store.RedisAddr,
		RedisKey:  conf.Store.RedisKey,
	})
	if err != nil {
		appLog.Error("failed to open preference store", err, "driver", conf.Store.Driver)
		os.Exit(1)
	}
	closer.Bind(func() {
		if err := backend.Close(); err != nil {
			appLog.Error("preference store close failed", err)
		}
	})

	store := prefs.NewStore(backend)
	reporter := apperr.NewReporter(conf.ErrorHistory, nil)
	p, err := store.Load(ctx, time.Now())
	if err != nil {
		reporter.Report(err)
	}

	feeds := make([]ics.Feed, 0, len(conf.ICS))
	for _, src := range conf.ICS {
		feeds = append(feeds, ics.Feed{ID: src.ID, URL: src.URL, Username: src.Username, Password: src.Password})
	}
	source := ics.NewCalendar(ics.NewFetcher(conf.CacheDir, 0), feeds, loc)

	if flags.once {
		code := 0
		if err := printSchedule(ctx, os.Stdout, source, p, conf.Horizon(), time.Now().In(loc)); err != nil {
			appLog.Error("schedule preview failed", err)
			code = 1
		}
		closer.Close()
		os.Exit(code)
	}

	var (
		presenter reminder.Presenter
		webOv     *overlay.Web
	)
	switch conf.Presenter.Kind {
	case "log":
		presenter = overlay.NewLog(nil)
	default:
		webOv = overlay.NewWeb(conf.Presenter.Timeout, nil)
		presenter = webOv
	}

	sched, err := reminder.New(reminder.Config{
		Source:      source,
		Presenter:   presenter,
		Store:       store,
		Preferences: p,
		Reporter:    reporter,
		Location:    loc,
		Horizon:     conf.Horizon(),
	})
	if err != nil {
		appLog.Error("failed to create scheduler", err)
		os.Exit(1)
	}
	if err := sched.Start(); err != nil {
		appLog.Error("failed to start scheduler", err)
		os.Exit(1)
	}
	closer.Bind(sched.Stop)

	refresh := func() {
		rctx, rcancel := context.WithTimeout(ctx, refreshTimeout)
		defer rcancel()
		_ = sched.Refresh(rctx)
	}
	refresh()

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(conf.RefreshCron, refresh); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		closer.Close()
	}
	c.Start()
	closer.Bind(func() { <-c.Stop().Done() })

	var ov web.Overlay
	if webOv != nil {
		ov = webOv
	}
	srv := web.NewServer(conf, sched, ov)
	go func() {
		if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
			closer.Close()
		}
	}()

	closer.Hold()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./nudgecal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config and environment)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch events once, print the reminder schedule and exit")

	flag.Parse()

	return cfg
}

// loadConfig layers file, environment and flags, in that order.
func loadConfig(flags flagConfig) (*config.Config, error) {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := conf.ApplyEnv(); err != nil {
		return nil, err
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// printSchedule fetches the upcoming events and writes when each one would
// be reminded under p.
func printSchedule(ctx context.Context, out io.Writer, src reminder.Source, p *prefs.Preferences, horizon time.Duration, now time.Time) error {
	fctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	events, err := src.Fetch(fctx, now, now.Add(horizon))
	if err != nil {
		return err
	}

	st := reminder.NewState(p.SnoozeUntil)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tREMINDER\tTITLE\tID")
	for _, ev := range events {
		when := "-"
		if at, ok := reminder.FireTime(ev, p, st, now); ok {
			when = overlay.FormatClock(at, p.TimeFormat)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", overlay.FormatRange(ev, p.TimeFormat), when, ev.Title, ev.ID)
	}
	return tw.Flush()
}
