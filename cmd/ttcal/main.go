package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"go.uber.org/automaxprocs/maxprocs"

	"ttcal/internal/config"
	"ttcal/internal/ics"
	appLog "ttcal/internal/log"
	"ttcal/internal/pipeline"
	"ttcal/internal/publish"
	"ttcal/internal/schedule"
	"ttcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	force      bool
}

func main() {
	flags := parseFlags()

	if _, err := maxprocs.Set(); err != nil {
		appLog.Error("failed to set GOMAXPROCS", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	// inspect does not need configuration.
	if args[0] == "inspect" {
		if err := runInspect(args[1:]); err != nil {
			appLog.Error("inspect failed", err)
			os.Exit(1)
		}
		return
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.SetFormat(conf.LogFormat)

	appLog.Info("ttcal starting",
		"version", version,
		"command", args[0],
		"timezone", conf.Timezone,
		"terms", len(conf.Terms),
		"input_dir", conf.InputDir,
		"output_dir", conf.OutputDir,
		"publish", conf.Publish.Backend,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pub, err := publish.New(ctx, conf.Publish)
	if err != nil {
		appLog.Error("failed to set up publisher", err, "backend", conf.Publish.Backend)
		os.Exit(1)
	}

	builder, err := pipeline.NewBuilder(conf, pub)
	if err != nil {
		appLog.Error("invalid term configuration", err)
		os.Exit(1)
	}
	builder.Force = flags.force

	switch args[0] {
	case "build":
		err = runBuild(ctx, builder, args[1:])
	case "serve":
		err = runServe(ctx, conf, builder)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		appLog.Error("ttcal failed", err, "command", args[0])
		os.Exit(1)
	}
	appLog.Info("ttcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./ttcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address for serve (overrides config if set)")
	flag.BoolVar(&cfg.force, "force", false, "Publish feeds even when their bytes did not change")
	flag.Usage = usage

	flag.Parse()

	return cfg
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: ttcal [flags] <command> [args]\n\n")
	fmt.Fprintf(out, "Commands:\n")
	fmt.Fprintf(out, "  build [user...]   build feeds (all users in input_dir when none given)\n")
	fmt.Fprintf(out, "  serve             serve feeds over HTTP and rebuild on the refresh schedule\n")
	fmt.Fprintf(out, "  inspect <file>    list the events in a feed\n\n")
	fmt.Fprintf(out, "Flags:\n")
	flag.PrintDefaults()
}

func runBuild(ctx context.Context, builder *pipeline.Builder, users []string) error {
	if len(users) == 0 {
		var err error
		users, err = builder.Users()
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
	}
	if len(users) == 0 {
		return errors.New("no timetables found in " + builder.InputDir)
	}

	days, err := builder.Year.TeachingDayCount()
	if err != nil {
		return err
	}
	appLog.Info("build starting", "users", len(users), "terms", len(builder.Year.Terms()), "teaching_days", days)

	results, err := builder.BuildAll(ctx, users)
	built := 0
	for _, r := range results {
		if r.Path != "" {
			built++
		}
	}
	appLog.Info("build finished", "users", len(users), "built", built)
	return err
}

func runServe(ctx context.Context, conf *config.Config, builder *pipeline.Builder) error {
	if conf.RefreshCron != "" {
		sched, err := schedule.New(ctx, conf.RefreshCron, "rebuild", func(ctx context.Context) error {
			users, err := builder.Users()
			if err != nil {
				return err
			}
			_, err = builder.BuildAll(ctx, users)
			return err
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	return web.NewServer(conf, builder).ListenAndServe(ctx)
}

func runInspect(args []string) error {
	if len(args) != 1 {
		return errors.New("inspect takes exactly one feed path")
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	feed, err := ics.ParseFeed(body)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s, %d events)\n\n", feed.Name, feed.Timezone, len(feed.Events))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSTART\tEND\tLENGTH\tWEEK\tSUMMARY\tLOCATION")
	for _, ev := range feed.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Start.Format("Mon 2006-01-02"),
			ev.Start.Format("15:04"),
			ev.End.Format("15:04"),
			ev.Duration(),
			ev.WeekType,
			ev.Summary,
			ev.Location,
		)
	}
	return tw.Flush()
}
