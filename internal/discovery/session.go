package discovery

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"voicebridge/internal/device"
)

// session accumulates the devices found during one discovery run.
// Probes for overlapping subnets and hostname aliases can race on the
// same device; the session deduplicates by device key.
type session struct {
	id string

	mu    sync.Mutex
	found map[string]device.Device
}

func newSession() *session {
	return &session{
		id:    uuid.NewString(),
		found: make(map[string]device.Device),
	}
}

// add records a newly handshaken device. Returns false if the key was
// already present, so callers emit at most one discovery event per
// device per session.
func (s *session) add(d device.Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.found[d.Key()]; ok {
		return false
	}
	s.found[d.Key()] = d
	return true
}

// replace swaps in the enriched record for a device already added.
func (s *session) replace(d device.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found[d.Key()] = d
}

// devices returns the session's result set in stable key order.
func (s *session) devices() []device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]device.Device, 0, len(s.found))
	for _, d := range s.found {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
