package irobot

// missionStatus extracts the (cycle, phase) pair.
func missionStatus(s Snapshot) (cycle, phase string, ok bool) {
	status, isMap := s["cleanMissionStatus"].(map[string]any)
	if !isMap {
		return "", "", false
	}
	cycle, cycleOK := status["cycle"].(string)
	phase, phaseOK := status["phase"].(string)
	if !cycleOK || !phaseOK || cycle == "" || phase == "" {
		return "", "", false
	}
	return cycle, phase, true
}

// MapState translates vendor mission status to a normalized state. The
// first matching rule wins; false means no rule matched.
func MapState(s Snapshot) (State, bool) {
	cycle, phase, ok := missionStatus(s)
	if !ok {
		return "", false
	}
	switch {
	case cycle == "none" && phase == "charge":
		if pct, known := Battery(s); known && pct < 100 {
			return StateCharging, true
		}
		return StateDocked, true
	case phase == "stop":
		return StateStopped, true
	case cycle == "dock" && phase == "hmUsrDock":
		return StateDocked, true
	case cycle == "quick" && phase == "run":
		return StateCleaning, true
	case cycle == "spot" && phase == "run":
		return StateSpotCleaning, true
	}
	return "", false
}

// Battery returns batPct when reported.
func Battery(s Snapshot) (int, bool) {
	n, ok := number(s["batPct"])
	if !ok {
		return 0, false
	}
	return int(n), true
}

// Auxiliaries derives accessory booleans keyed by capability name. Only
// fields present in the snapshot are reported.
func Auxiliaries(s Snapshot) map[string]bool {
	out := make(map[string]bool)
	if bin, ok := s["bin"].(map[string]any); ok {
		if v, ok := bin["full"].(bool); ok {
			out[CapabilityBinFull] = v
		}
		if v, ok := bin["present"].(bool); ok {
			out[CapabilityBinPresent] = v
		}
	}
	if lvl, ok := number(s["tankLvl"]); ok {
		out[CapabilityTankFull] = int(lvl) == 100
	}
	if mop, ok := s["mopReady"].(map[string]any); ok {
		if v, ok := mop["tankPresent"].(bool); ok {
			out[CapabilityTankPresent] = v
		}
		if v, ok := mop["lidClosed"].(bool); ok {
			out[CapabilityLidClosed] = v
		}
	}
	if pad, ok := s["detectedPad"].(string); ok {
		out[CapabilityDetectedPad] = pad != "invalid"
	}
	return out
}

// AuxiliaryCapabilities lists every capability Auxiliaries may report.
var AuxiliaryCapabilities = []string{
	CapabilityBinFull,
	CapabilityBinPresent,
	CapabilityTankFull,
	CapabilityTankPresent,
	CapabilityLidClosed,
	CapabilityDetectedPad,
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
