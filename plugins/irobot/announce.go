package irobot

import (
	"encoding/json"
	"net"
	"strings"
)

const (
	DiscoveryPort  = 5678
	discoveryToken = "irobotmcs"

	FamilyRoomba = "Roomba"
	FamilyIRobot = "iRobot"
	FamilyBraava = "Braava"
)

// Announcement is the JSON a robot broadcasts in reply to the discovery token.
type Announcement struct {
	Hostname  string `json:"hostname"`
	RobotName string `json:"robotname"`
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	SKU       string `json:"sku"`
	Firmware  string `json:"sw"`
	Version   string `json:"ver"`
	Protocol  string `json:"proto"`

	Family         string `json:"-"`
	CredentialHint string `json:"-"`
}

// Kind derives the robot kind from the family and SKU.
func (a Announcement) Kind() Kind {
	if a.Family == FamilyBraava || strings.HasPrefix(strings.ToLower(a.SKU), "m6") {
		return KindMop
	}
	return KindVacuum
}

// parseAnnouncement returns false for our own echo, malformed JSON and
// hostnames outside the known robot families.
func parseAnnouncement(raw []byte) (Announcement, bool) {
	if string(raw) == discoveryToken {
		return Announcement{}, false
	}
	var a Announcement
	if err := json.Unmarshal(raw, &a); err != nil {
		return Announcement{}, false
	}
	family, hint, ok := strings.Cut(a.Hostname, "-")
	if !ok || hint == "" {
		return Announcement{}, false
	}
	switch family {
	case FamilyRoomba, FamilyIRobot, FamilyBraava:
	default:
		return Announcement{}, false
	}
	if net.ParseIP(a.IP).To4() == nil {
		return Announcement{}, false
	}
	a.Family = family
	a.CredentialHint = hint
	a.MAC = normalizeMAC(a.MAC)
	return a, true
}

// normalizeMAC lowercases a hardware address and returns "" when it does not
// parse.
func normalizeMAC(s string) string {
	if s == "" {
		return ""
	}
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return strings.ToLower(hw.String())
}
