package core

import (
	"fmt"
	"net"
	"sync"
)

// Default port assignments
const (
	DefaultAPIPort  = 8080 // HTTP API, websocket stream and metrics
	DefaultNATSPort = 4222 // Embedded NATS event bus mirror

	// Fallback range when a preferred port is taken
	DynamicPortStart = 12100
	DynamicPortEnd   = 12999
)

// PortManager hands out local ports, falling back to the dynamic range when
// the preferred one is busy
type PortManager struct {
	mu          sync.Mutex
	allocated   map[int]string // port -> service name
	nextDynamic int
	host        string
}

// NewPortManager creates a port manager probing host (default 127.0.0.1)
func NewPortManager(host string) *PortManager {
	if host == "" {
		host = "127.0.0.1"
	}
	return &PortManager{
		allocated:   make(map[int]string),
		nextDynamic: DynamicPortStart,
		host:        host,
	}
}

func (pm *PortManager) available(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(pm.host, fmt.Sprint(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// Reserve reserves port for service. It fails when another service holds
// the port or the system has it bound.
func (pm *PortManager) Reserve(port int, service string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if existing, ok := pm.allocated[port]; ok {
		return existing == service
	}
	if !pm.available(port) {
		return false
	}
	pm.allocated[port] = service
	return true
}

// ReserveOrFind reserves the preferred port or the next free dynamic one
func (pm *PortManager) ReserveOrFind(preferred int, service string) (int, error) {
	if preferred > 0 && pm.Reserve(preferred, service) {
		return preferred, nil
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for port := pm.nextDynamic; port <= DynamicPortEnd; port++ {
		if _, exists := pm.allocated[port]; !exists && pm.available(port) {
			pm.allocated[port] = service
			pm.nextDynamic = port + 1
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available ports for service %s", service)
}

// Release releases a port
func (pm *PortManager) Release(port int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.allocated, port)
}

// Allocated returns all reserved ports
func (pm *PortManager) Allocated() map[int]string {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	result := make(map[int]string, len(pm.allocated))
	for k, v := range pm.allocated {
		result[k] = v
	}
	return result
}
