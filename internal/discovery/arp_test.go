package discovery

import "testing"

func TestParseNeighborOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		address string
		want    string
	}{
		{
			name:    "linux arp -a line",
			out:     "? (192.168.1.50) at aa:bb:cc:dd:ee:ff [ether] on eth0",
			address: "192.168.1.50",
			want:    "AA:BB:CC:DD:EE:FF",
		},
		{
			name:    "windows style dashes",
			out:     "  192.168.1.50          aa-bb-cc-dd-ee-ff     dynamic",
			address: "192.168.1.50",
			want:    "AA:BB:CC:DD:EE:FF",
		},
		{
			name: "picks the matching line",
			out: "? (192.168.1.10) at 11:22:33:44:55:66 [ether] on eth0\n" +
				"? (192.168.1.50) at aa:bb:cc:dd:ee:ff [ether] on eth0",
			address: "192.168.1.50",
			want:    "AA:BB:CC:DD:EE:FF",
		},
		{
			name:    "no entry for address",
			out:     "? (192.168.1.10) at 11:22:33:44:55:66 [ether] on eth0",
			address: "192.168.1.50",
			want:    "",
		},
		{
			name:    "entry without mac",
			out:     "? (192.168.1.50) at <incomplete> on eth0",
			address: "192.168.1.50",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseNeighborOutput(tt.out, tt.address)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNormalizeMAC(t *testing.T) {
	if got := normalizeMAC("aa-bb-cc-dd-ee-ff"); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("unexpected normalization: %s", got)
	}
	if got := normalizeMAC("AA:BB:CC:DD:EE:FF"); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("already-normal MAC changed: %s", got)
	}
}
