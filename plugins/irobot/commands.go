package irobot

import (
	"errors"
	"fmt"
)

// Robot commands accepted on the cmd topic.
const (
	CommandStart  = "start"
	CommandPause  = "pause"
	CommandStop   = "stop"
	CommandResume = "resume"
	CommandDock   = "dock"
)

var (
	// ErrUnsupportedState is a known state the robot cannot be driven into.
	ErrUnsupportedState = errors.New("state not supported as a target")
	// ErrUnmappedState is a value with no command mapping at all.
	ErrUnmappedState = errors.New("state has no command mapping")
)

// commandForState maps a requested normalized state to a robot command.
func commandForState(target State) (string, error) {
	switch target {
	case StateCleaning:
		return CommandStart, nil
	case StateDocked, StateCharging:
		return CommandDock, nil
	case StateStopped:
		return CommandStop, nil
	case StateSpotCleaning:
		return "", fmt.Errorf("%s: %w", target, ErrUnsupportedState)
	}
	return "", fmt.Errorf("%q: %w", target, ErrUnmappedState)
}

func validCommand(command string) error {
	switch command {
	case CommandStart, CommandPause, CommandStop, CommandResume, CommandDock:
		return nil
	}
	return fmt.Errorf("command %q: %w", command, ErrUnmappedState)
}
