package irobot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

const procARPPath = "/proc/net/arp"

var ErrNoHardwareAddress = errors.New("no hardware address for ip")

// HardwareResolver maps an IPv4 address to the hardware address of the
// neighbour that owns it.
type HardwareResolver interface {
	Resolve(ctx context.Context, ip string) (string, error)
}

// ARPResolver reads the kernel neighbour table, falling back to `arp -an`
// where /proc is unavailable.
type ARPResolver struct {
	Path string
}

func (r ARPResolver) Resolve(ctx context.Context, ip string) (string, error) {
	table, err := r.table(ctx)
	if err != nil {
		return "", err
	}
	mac, ok := table[ip]
	if !ok {
		return "", fmt.Errorf("%s: %w", ip, ErrNoHardwareAddress)
	}
	return mac, nil
}

func (r ARPResolver) table(ctx context.Context) (map[string]string, error) {
	path := r.Path
	if path == "" {
		path = procARPPath
	}
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		return ParseARPTable(f)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open arp table: %w", err)
	}
	out, err := exec.CommandContext(ctx, "arp", "-an").Output()
	if err != nil {
		return nil, fmt.Errorf("arp -an: %w", err)
	}
	return ParseARPCommand(bytes.NewReader(out))
}

// ParseARPTable parses the /proc/net/arp format. Incomplete entries are
// skipped; addresses are lowercased.
func ParseARPTable(r io.Reader) (map[string]string, error) {
	table := make(map[string]string)
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		// flags 0x0 marks an incomplete entry
		if fields[2] == "0x0" {
			continue
		}
		if mac := normalizeMAC(fields[3]); mac != "" && mac != "00:00:00:00:00:00" {
			table[fields[0]] = mac
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read arp table: %w", err)
	}
	return table, nil
}

var arpCommandLine = regexp.MustCompile(`\((\d+\.\d+\.\d+\.\d+)\) at ([0-9a-fA-F:]+)`)

// ParseARPCommand parses BSD-style `arp -an` output.
func ParseARPCommand(r io.Reader) (map[string]string, error) {
	table := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := arpCommandLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if mac := normalizeMAC(padMAC(m[2])); mac != "" {
			table[m[1]] = mac
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read arp output: %w", err)
	}
	return table, nil
}

// padMAC turns the BSD short form (a:b:c:1:2:3) into two-digit octets.
func padMAC(s string) string {
	parts := strings.Split(s, ":")
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, ":")
}
