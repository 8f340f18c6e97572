package discovery

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// macPattern matches six colon- or dash-separated hex byte pairs.
var macPattern = regexp.MustCompile(`(?i)\b(?:[0-9a-f]{2}[:-]){5}[0-9a-f]{2}\b`)

// lookupHardwareAddr resolves an address to a MAC via the OS neighbor
// table. Best-effort: any failure or missing entry yields "".
func lookupHardwareAddr(ctx context.Context, address string) string {
	out, err := exec.CommandContext(ctx, "arp", "-a", address).Output()
	if err == nil {
		if mac := parseNeighborOutput(string(out), address); mac != "" {
			return mac
		}
	}
	return procNetArpLookup(address)
}

// parseNeighborOutput scans "arp -a" style line output for the entry
// matching address and extracts a MAC-formatted token from it.
func parseNeighborOutput(out, address string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, address) {
			continue
		}
		if mac := macPattern.FindString(line); mac != "" {
			return normalizeMAC(mac)
		}
	}
	return ""
}

// procNetArpLookup reads the kernel ARP cache directly. Linux only;
// on other platforms the file simply does not exist.
func procNetArpLookup(address string) string {
	content, err := os.ReadFile("/proc/net/arp")
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] != address {
			continue
		}
		mac := fields[3]
		if !macPattern.MatchString(mac) || mac == "00:00:00:00:00:00" {
			continue
		}
		return normalizeMAC(mac)
	}
	return ""
}

// normalizeMAC uppercases and settles on colon separators.
func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(mac, "-", ":"))
}
