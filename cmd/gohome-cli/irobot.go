package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joshp123/gohome-irobot/plugins/irobot"
)

func irobotCmd(ctx context.Context, hub *hubClient, args []string, out outputMode) {
	switch args[0] {
	case "devices":
		if len(args) > 1 {
			id := resolveDevice(ctx, hub, args[1])
			var status irobot.AdapterStatus
			if err := hub.get(ctx, devicePath(id), &status); err != nil {
				fatal("device", err)
			}
			printStatuses(out, []irobot.AdapterStatus{status})
			return
		}
		var statuses []irobot.AdapterStatus
		if err := hub.get(ctx, "/irobot/devices", &statuses); err != nil {
			fatal("devices", err)
		}
		printStatuses(out, statuses)
	case "robots":
		flags := flag.NewFlagSet("robots", flag.ExitOnError)
		kind := flags.String("kind", "", "vacuum or mop")
		_ = flags.Parse(args[1:])
		path := "/irobot/robots"
		if *kind != "" {
			path += "?kind=" + url.QueryEscape(*kind)
		}
		var robots []irobot.Robot
		if err := hub.get(ctx, path, &robots); err != nil {
			fatal("robots", err)
		}
		if out.json {
			out.printJSON(robots)
			return
		}
		rows := [][]string{{"ID", "IP", "NAME", "KIND", "SKU", "FIRMWARE"}}
		for _, r := range robots {
			rows = append(rows, []string{r.ID, r.Address, r.Name, string(r.Kind), r.SKU, r.Firmware})
		}
		out.table(rows)
	case "state":
		if len(args) < 3 {
			fatal("state", fmt.Errorf("usage: gohome-cli state <device> <state>"))
		}
		id := resolveDevice(ctx, hub, args[1])
		var status irobot.AdapterStatus
		body := map[string]string{"state": args[2]}
		if err := hub.do(ctx, http.MethodPut, devicePath(id)+"/state", body, &status); err != nil {
			fatal("state", err)
		}
		printStatuses(out, []irobot.AdapterStatus{status})
	case "command":
		if len(args) < 3 {
			fatal("command", fmt.Errorf("usage: gohome-cli command <device> <command>"))
		}
		id := resolveDevice(ctx, hub, args[1])
		var status irobot.AdapterStatus
		body := map[string]string{"command": args[2]}
		if err := hub.do(ctx, http.MethodPost, devicePath(id)+"/command", body, &status); err != nil {
			fatal("command", err)
		}
		printStatuses(out, []irobot.AdapterStatus{status})
	case "condition":
		if len(args) < 3 {
			fatal("condition", fmt.Errorf("usage: gohome-cli condition <device> <name>"))
		}
		id := resolveDevice(ctx, hub, args[1])
		var resp struct {
			Condition string `json:"condition"`
			Value     bool   `json:"value"`
		}
		if err := hub.get(ctx, devicePath(id)+"/conditions/"+url.PathEscape(args[2]), &resp); err != nil {
			fatal("condition", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		fmt.Printf("%s: %t\n", resp.Condition, resp.Value)
	}
}

func pairCmd(hub *hubClient, args []string, out outputMode) {
	flags := flag.NewFlagSet("pair", flag.ExitOnError)
	timeout := flags.Duration("timeout", 90*time.Second, "How long to wait for the button press")
	_ = flags.Parse(args)
	if flags.NArg() < 1 {
		fatal("pair", fmt.Errorf("usage: gohome-cli pair <robot_id>"))
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Fprintln(os.Stderr, "Hold HOME (or CLEAN on a mop) until the robot beeps.")
	var resp struct {
		ID     string `json:"id"`
		IP     string `json:"ip"`
		Paired bool   `json:"paired"`
	}
	if err := hub.do(ctx, http.MethodPost, "/irobot/robots/"+url.PathEscape(flags.Arg(0))+"/pair", nil, &resp); err != nil {
		fatal("pair", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	fmt.Printf("paired %s at %s\n", resp.ID, resp.IP)
}

func resolveDevice(ctx context.Context, hub *hubClient, input string) string {
	var statuses []irobot.AdapterStatus
	if err := hub.get(ctx, "/irobot/devices", &statuses); err != nil {
		fatal("devices", err)
	}
	options := make(map[string]string, len(statuses)*2)
	for _, s := range statuses {
		options[s.Name] = s.ID
		options[s.ID] = s.ID
	}
	id, err := resolveNamedID("device", input, options)
	if err != nil {
		fatal("resolve device", err)
	}
	return id
}

func devicePath(id string) string {
	return "/irobot/devices/" + url.PathEscape(id)
}

func printStatuses(out outputMode, statuses []irobot.AdapterStatus) {
	if out.json {
		out.printJSON(statuses)
		return
	}
	rows := [][]string{{"ID", "NAME", "KIND", "LIFECYCLE", "STATE", "BATTERY", "IP"}}
	for _, s := range statuses {
		battery := "-"
		if s.Battery != nil {
			battery = strconv.Itoa(*s.Battery) + "%"
		}
		rows = append(rows, []string{s.ID, s.Name, string(s.Kind), string(s.Lifecycle), string(s.State), battery, s.Address})
	}
	out.table(rows)
}
