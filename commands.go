package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	browseropts "github.com/ibeckermayer/slidecrawl/internal/browser"
	"github.com/ibeckermayer/slidecrawl/internal/config"
	"github.com/ibeckermayer/slidecrawl/internal/dataset"
	"github.com/ibeckermayer/slidecrawl/internal/digest"
	"github.com/ibeckermayer/slidecrawl/internal/report"
	"github.com/ibeckermayer/slidecrawl/internal/scheduler"
	"github.com/ibeckermayer/slidecrawl/internal/store"
)

func init() {
	crawlCmd.Flags().Bool("headful", false, "show the browser window")
	crawlCmd.Flags().Int("max-pages", 0, "stop after this many pages per dataset (0 = all)")
	crawlCmd.Flags().Bool("no-dump", false, "skip the JSON dump of crawled records")
	loginCmd.Flags().Bool("headless", false, "run the login without a browser window")
	scheduleCmd.Flags().Bool("now", false, "run once immediately before waiting for the schedule")

	rootCmd.AddCommand(crawlCmd, loginCmd, logoutCmd, reportCmd, scheduleCmd, openCmd, botTestCmd)
}

// datasetsFor resolves a dataset argument; "all" selects every dataset.
func datasetsFor(name string) ([]dataset.Dataset, error) {
	if name == "all" {
		return dataset.All(), nil
	}
	ds, err := dataset.Get(name)
	if err != nil {
		return nil, err
	}
	return []dataset.Dataset{ds}, nil
}

func datasetArgs() []string {
	return append(dataset.Names(), "all")
}

var crawlCmd = &cobra.Command{
	Use:       "crawl <students|activities|all>",
	Short:     "Log in and replace the dataset tables with the listings' current contents.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: datasetArgs(),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasets, err := datasetsFor(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if headful, _ := cmd.Flags().GetBool("headful"); headful {
			cfg.Browser.Headless = false
		}
		if cmd.Flags().Changed("max-pages") {
			cfg.Crawl.MaxPages, _ = cmd.Flags().GetInt("max-pages")
		}
		if noDump, _ := cmd.Flags().GetBool("no-dump"); noDump {
			cfg.Output.Dump = false
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		run, err := a.Run(cmd.Context(), datasets)
		fmt.Fprint(cmd.OutOrStdout(), digest.PlainText(run))
		return err
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Solve the login challenge once and store the session cookies.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		headless, _ := cmd.Flags().GetBool("headless")
		return a.Login(cmd.Context(), headless)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session cookies.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		return a.Logout()
	},
}

var reportCmd = &cobra.Command{
	Use:       "report <students|activities|all>",
	Short:     "Print row counts, key ranges and group breakdowns of crawled tables.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: datasetArgs(),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasets, err := datasetsFor(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}

		sink, err := a.OpenSink(cmd.Context())
		if err != nil {
			return err
		}
		defer sink.Close()

		for _, ds := range datasets {
			rep, err := report.Build(cmd.Context(), sink, ds)
			if err != nil {
				return fmt.Errorf("%s: %w", ds.Name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.Render())
		}
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Crawl every dataset on the configured cron schedule until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}

		s, err := scheduler.New(cfg.Schedule.Timezone, cfg.Browser.Timeout.Duration, slog.Default())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		job := func(jobCtx context.Context) error {
			// interrupting the command also stops a run in progress
			jobCtx, cancel := context.WithCancel(jobCtx)
			defer cancel()
			defer context.AfterFunc(ctx, cancel)()

			run, err := a.Run(jobCtx, dataset.All())
			fmt.Fprint(cmd.OutOrStdout(), digest.PlainText(run))
			return err
		}

		if now, _ := cmd.Flags().GetBool("now"); now {
			if err := s.RunNow(ctx, "crawl", job); err != nil {
				slog.Error("crawl failed", "error", err)
			}
		}

		if err := s.AddJob("crawl", cfg.Schedule.Cron, job); err != nil {
			return err
		}
		s.Start()
		for _, j := range s.ListJobs() {
			slog.Info("next run", "job", j.Name, "at", j.NextRun.Format(time.DateTime), "in", humanize.Time(j.NextRun))
		}

		<-ctx.Done()
		<-s.Stop().Done()
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:       "open <config|dumps|latest> [dataset]",
	Short:     "Open the config file, the dump directory or a dataset's latest dump.",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"config", "dumps", "latest"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := openTarget(args)
		if err != nil {
			return err
		}
		slog.Info("opening", "path", path)
		return browser.OpenFile(path)
	},
}

func openTarget(args []string) (string, error) {
	switch args[0] {
	case "config":
		if configPath != "" {
			return configPath, nil
		}
		return config.ConfigPath()
	case "dumps", "latest":
		cfg, err := loadConfig()
		if err != nil {
			return "", err
		}
		dir, err := cfg.DumpDir()
		if err != nil {
			return "", err
		}
		if args[0] == "dumps" {
			return dir, os.MkdirAll(dir, 0755)
		}
		if len(args) < 2 {
			return "", fmt.Errorf("usage: open latest <%s>", strings.Join(dataset.Names(), "|"))
		}
		return store.LatestDump(dir, args[1])
	default:
		return "", fmt.Errorf("unknown target: %s", args[0])
	}
}

var botTestCmd = &cobra.Command{
	Use:   "bot-test",
	Short: "Open a fingerprint audit page with the crawler's stealth browser options.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := browseropts.OpenAudit(cmd.Context(), browseropts.Options{
			Width:  cfg.Browser.WindowWidth,
			Height: cfg.Browser.WindowHeight,
		}, slog.Default())
		if err != nil {
			return err
		}
		defer c.Close()

		fmt.Fprintln(cmd.OutOrStdout(), "Inspect the page, then press Ctrl-C to close the browser.")
		<-cmd.Context().Done()
		return nil
	},
}
