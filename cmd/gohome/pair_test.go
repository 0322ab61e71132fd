package main

import (
	"testing"

	"github.com/joshp123/gohome-irobot/plugins/irobot"
)

func TestChooseRobot(t *testing.T) {
	robots := []irobot.Robot{
		{ID: "aa:bb:cc:dd:ee:01", Address: "192.168.1.20", Name: "Kitchen"},
		{ID: "aa:bb:cc:dd:ee:02", Address: "192.168.1.21", Name: "Hall"},
	}

	if _, err := chooseRobot(robots, "", ""); err == nil {
		t.Fatalf("expected ambiguity error for two robots")
	}
	got, err := chooseRobot(robots, "aa:bb:cc:dd:ee:02", "")
	if err != nil {
		t.Fatalf("choose by id: %v", err)
	}
	if got.Name != "Hall" {
		t.Fatalf("expected Hall, got %q", got.Name)
	}
	got, err = chooseRobot(robots, "", "192.168.1.20")
	if err != nil || got.Name != "Kitchen" {
		t.Fatalf("choose by ip: %v %q", err, got.Name)
	}
	if _, err := chooseRobot(robots, "aa:bb:cc:dd:ee:01", "192.168.1.21"); err == nil {
		t.Fatalf("expected no match for conflicting filters")
	}
	if _, err := chooseRobot(robots[:1], "", ""); err != nil {
		t.Fatalf("single robot should be chosen: %v", err)
	}
}
