// Package handler exposes the daemon's HTTP API: device listing,
// discovery triggers, connection control, and status.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"voicebridge/internal/connection"
	"voicebridge/internal/device"
	"voicebridge/internal/discovery"
)

// Discoverer triggers and tracks discovery sessions
type Discoverer interface {
	Discover(ctx context.Context) ([]device.Device, error)
	FindDevice(ctx context.Context, hostname string) (device.Device, bool)
	InProgress() bool
}

// Connector controls the streaming connection
type Connector interface {
	Connect(ctx context.Context, host string, port int) bool
	Disconnect()
	LastError() error
	Status() connection.Status
}

// DeviceStore reads the persisted device registry
type DeviceStore interface {
	List(ctx context.Context) ([]device.Device, error)
	Delete(ctx context.Context, address string, port int) error
}

// API handles API requests
type API struct {
	discoverer Discoverer
	connector  Connector
	store      DeviceStore
}

// New creates a new API handler
func New(discoverer Discoverer, connector Connector, store DeviceStore) *API {
	return &API{
		discoverer: discoverer,
		connector:  connector,
		store:      store,
	}
}

// Routes registers the API endpoints on mux
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/devices", a.ListDevices)
	mux.HandleFunc("DELETE /api/devices/{address}", a.ForgetDevice)
	mux.HandleFunc("POST /api/discover", a.TriggerDiscovery)
	mux.HandleFunc("POST /api/find", a.FindDevice)
	mux.HandleFunc("POST /api/connect", a.Connect)
	mux.HandleFunc("POST /api/disconnect", a.Disconnect)
	mux.HandleFunc("GET /api/status", a.GetStatus)
}

// ErrorResponse is the JSON body for failed requests
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ListDevices returns every device the registry remembers
func (a *API) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.store.List(r.Context())
	if err != nil {
		log.Printf("Failed to list devices: %v", err)
		a.writeError(w, "Failed to list devices", err.Error(), http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	a.writeJSON(w, devices, http.StatusOK)
}

// ForgetDevice removes a device from the registry
func (a *API) ForgetDevice(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		a.writeError(w, "Invalid device address", "Device address is required", http.StatusBadRequest)
		return
	}

	port := 0
	if err := parseIntQuery(r, "port", &port); err != nil {
		a.writeError(w, "Invalid port", err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.store.Delete(r.Context(), address, port); err != nil {
		log.Printf("Failed to forget device %s: %v", address, err)
		a.writeError(w, "Failed to forget device", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DiscoveryResponse acknowledges a discovery trigger
type DiscoveryResponse struct {
	Status string `json:"status"`
}

// TriggerDiscovery starts a background discovery session. Results
// arrive through the event stream; the response only acknowledges the
// start.
func (a *API) TriggerDiscovery(w http.ResponseWriter, r *http.Request) {
	if a.discoverer.InProgress() {
		a.writeError(w, "Discovery already in progress", "", http.StatusConflict)
		return
	}

	go func() {
		if _, err := a.discoverer.Discover(context.Background()); err != nil && !errors.Is(err, discovery.ErrBusy) {
			log.Printf("Discovery failed: %v", err)
		}
	}()

	a.writeJSON(w, DiscoveryResponse{Status: "discovery_started"}, http.StatusAccepted)
}

// FindRequest names one hostname to check
type FindRequest struct {
	Hostname string `json:"hostname"`
}

// FindDevice probes a single hostname without a full sweep
func (a *API) FindDevice(w http.ResponseWriter, r *http.Request) {
	var req FindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Hostname == "" {
		a.writeError(w, "Invalid request", "hostname is required", http.StatusBadRequest)
		return
	}

	d, ok := a.discoverer.FindDevice(r.Context(), req.Hostname)
	if !ok {
		a.writeError(w, "Device not found", "", http.StatusNotFound)
		return
	}
	a.writeJSON(w, d, http.StatusOK)
}

// ConnectRequest names the device to connect to
type ConnectRequest struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// ConnectResponse reports the outcome of a connect attempt
type ConnectResponse struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Connect binds the streaming connection to a device and blocks until
// the attempt resolves
func (a *API) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Address == "" || req.Port <= 0 {
		a.writeError(w, "Invalid request", "address and port are required", http.StatusBadRequest)
		return
	}

	if a.connector.Connect(r.Context(), req.Address, req.Port) {
		a.writeJSON(w, ConnectResponse{Connected: true}, http.StatusOK)
		return
	}

	resp := ConnectResponse{Connected: false}
	if err := a.connector.LastError(); err != nil {
		resp.Error = err.Error()
	}
	a.writeJSON(w, resp, http.StatusBadGateway)
}

// Disconnect tears the streaming connection down
func (a *API) Disconnect(w http.ResponseWriter, r *http.Request) {
	a.connector.Disconnect()
	a.writeJSON(w, map[string]string{"status": "disconnected"}, http.StatusOK)
}

// StatusResponse combines connection and discovery state
type StatusResponse struct {
	Connection          connection.Status `json:"connection"`
	DiscoveryInProgress bool              `json:"discovery_in_progress"`
}

// GetStatus reports the daemon's current state
func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, StatusResponse{
		Connection:          a.connector.Status(),
		DiscoveryInProgress: a.discoverer.InProgress(),
	}, http.StatusOK)
}

func parseIntQuery(r *http.Request, key string, dst *int) error {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fmt.Errorf("%s query parameter is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func (a *API) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON: %v", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}
