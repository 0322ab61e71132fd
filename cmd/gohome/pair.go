package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/gohome-irobot/internal/config"
	"github.com/joshp123/gohome-irobot/internal/logging"
	"github.com/joshp123/gohome-irobot/internal/store"
	"github.com/joshp123/gohome-irobot/plugins/irobot"
)

func pairMain(args []string) {
	flags := flag.NewFlagSet("pair", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	id := flags.String("id", "", "Robot MAC address to pair")
	ip := flags.String("ip", "", "Robot IP address to pair")
	wait := flags.Duration("wait", 15*time.Second, "How long to listen for robots before choosing")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("pair", err)
	}
	if cfg.IRobot == nil {
		fatal("pair", fmt.Errorf("irobot section is missing from %s", *configPath))
	}
	logger, err := logging.New(cfg.Core.LogLevel, "console")
	if err != nil {
		fatal("pair", err)
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.New(cfg.Store)
	if err != nil {
		fatal("pair", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	finder := irobot.NewFinder(irobot.FinderConfig{
		Interval: cfg.IRobot.BroadcastInterval,
		Resolver: irobot.ARPResolver{},
		Logger:   logger,
	})
	if err := finder.Start(ctx); err != nil {
		fatal("pair", err)
	}
	defer func() { _ = finder.Close() }()

	fmt.Printf("Listening for robots for %s...\n", *wait)
	select {
	case <-time.After(*wait):
	case <-ctx.Done():
		fatal("pair", ctx.Err())
	}

	robots := finder.Robots("")
	robot, err := chooseRobot(robots, strings.ToLower(*id), *ip)
	if err != nil {
		printRobots(robots)
		fatal("pair", err)
	}

	fmt.Printf("Pairing %s (%s) at %s.\n", robot.Name, robot.ID, robot.Address)
	fmt.Println("Make sure the robot is on its dock, then hold HOME (or CLEAN on a mop) until it beeps.")
	opts := irobot.PairOptions{
		Attempt:  cfg.IRobot.Pair.AttemptTimeout,
		Interval: cfg.IRobot.Pair.Interval,
		Window:   cfg.IRobot.Pair.Window,
		Logger:   logger,
	}
	record, err := irobot.PairRobot(ctx, st, robot, opts)
	if err != nil {
		logger.Error("pairing failed", zap.String("device_id", robot.ID), zap.Error(err))
		fatal("pair", err)
	}
	fmt.Printf("Paired %s. Stored ip=%s username=%s.\n", robot.ID, record.IP, record.Auth.Username)
}

func chooseRobot(robots []irobot.Robot, id, ip string) (irobot.Robot, error) {
	var matches []irobot.Robot
	for _, r := range robots {
		if id != "" && r.ID != id {
			continue
		}
		if ip != "" && r.Address != ip {
			continue
		}
		matches = append(matches, r)
	}
	switch len(matches) {
	case 0:
		return irobot.Robot{}, fmt.Errorf("no matching robot found")
	case 1:
		return matches[0], nil
	default:
		return irobot.Robot{}, fmt.Errorf("%d robots found, choose one with --id or --ip", len(matches))
	}
}

func printRobots(robots []irobot.Robot) {
	if len(robots) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tIP\tNAME\tKIND\tSKU")
	for _, r := range robots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Address, r.Name, r.Kind, r.SKU)
	}
	_ = w.Flush()
}
