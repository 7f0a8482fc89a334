package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultCheckInterval = 30 * time.Second
	defaultCheckTimeout  = 10 * time.Second
	unhealthyThreshold   = 3
)

// HealthStatus represents the current health state of a transport.
type HealthStatus struct {
	Healthy             bool
	LastCheck           time.Time
	ConsecutiveFailures int
	LastError           string
}

// HealthChecker periodically checks transport health and tracks status.
type HealthChecker struct {
	mu            sync.RWMutex
	transports    []Transport
	statuses      map[string]*HealthStatus
	checkInterval time.Duration
	checkTimeout  time.Duration
	stopCh        chan struct{}
	stopped       chan struct{}
}

// NewHealthChecker creates a health checker that monitors the given transports.
func NewHealthChecker(transports ...Transport) *HealthChecker {
	return &HealthChecker{
		transports:    transports,
		statuses:      make(map[string]*HealthStatus),
		checkInterval: defaultCheckInterval,
		checkTimeout:  defaultCheckTimeout,
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start begins the background health check loop.
func (hc *HealthChecker) Start() {
	go hc.run()
}

// Stop signals the health check loop to terminate and waits for it to finish.
func (hc *HealthChecker) Stop() {
	close(hc.stopCh)
	<-hc.stopped
}

// IsHealthy returns whether a transport is currently healthy.
func (hc *HealthChecker) IsHealthy(name string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	status, ok := hc.statuses[name]
	if !ok {
		// Not yet checked.
		return false
	}
	return status.Healthy
}

// AllHealthy reports whether every monitored transport is healthy. It is
// false until the first check has run.
func (hc *HealthChecker) AllHealthy() bool {
	for _, t := range hc.transports {
		if !hc.IsHealthy(t.Name()) {
			return false
		}
	}
	return true
}

// GetAllStatuses returns a snapshot of all transport health statuses.
func (hc *HealthChecker) GetAllStatuses() map[string]HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	result := make(map[string]HealthStatus, len(hc.statuses))
	for name, status := range hc.statuses {
		result[name] = *status
	}
	return result
}

// Err describes every monitored transport that is not healthy, or returns
// nil when all of them are.
func (hc *HealthChecker) Err() error {
	statuses := hc.GetAllStatuses()
	var problems []string
	for _, t := range hc.transports {
		name := t.Name()
		status, ok := statuses[name]
		switch {
		case !ok:
			problems = append(problems, name+": not checked yet")
		case !status.Healthy:
			problems = append(problems, fmt.Sprintf("%s: %d consecutive failures, last error: %s",
				name, status.ConsecutiveFailures, status.LastError))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("mail transport unhealthy: %s", strings.Join(problems, "; "))
}

func (hc *HealthChecker) run() {
	defer close(hc.stopped)

	hc.checkAll()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopCh:
			return
		case <-ticker.C:
			hc.checkAll()
		}
	}
}

func (hc *HealthChecker) checkAll() {
	for _, t := range hc.transports {
		hc.check(t)
	}
}

func (hc *HealthChecker) check(t Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
	defer cancel()

	err := t.HealthCheck(ctx)
	name := t.Name()

	hc.mu.Lock()
	defer hc.mu.Unlock()

	status, ok := hc.statuses[name]
	if !ok {
		status = &HealthStatus{Healthy: true}
		hc.statuses[name] = status
	}

	status.LastCheck = time.Now()

	if err != nil {
		status.ConsecutiveFailures++
		status.LastError = err.Error()
		if status.ConsecutiveFailures >= unhealthyThreshold {
			status.Healthy = false
		}
	} else {
		// 1 success resets to healthy.
		status.ConsecutiveFailures = 0
		status.Healthy = true
		status.LastError = ""
	}
}
