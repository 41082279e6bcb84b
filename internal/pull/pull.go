// Package pull implements the single-flight background task that fetches a
// remote instance's data snapshot and restores it over the local data root.
package pull

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"collabboard-backend/internal/archive"
	"collabboard-backend/internal/store"
)

// Status 풀 작업 상태
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is the pollable snapshot of the status slot.
type State struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ErrPullInProgress 이미 실행 중인 풀 작업 존재
var ErrPullInProgress = errors.New("a pull operation is already in progress")

// Orchestrator owns the process-wide pull status slot. Exactly one exists;
// every read and write of the slot goes through its mutex, and the
// check-and-set in Start is atomic under the same lock so concurrent Start
// calls spawn at most one background task.
type Orchestrator struct {
	mu    sync.Mutex
	state State

	store    *store.Store
	quiescer archive.Quiescer
	dataRoot string
	client   *http.Client
}

// New Orchestrator 생성
func New(st *store.Store, q archive.Quiescer, dataRoot string, fetchTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		state:    State{Status: StatusIdle},
		store:    st,
		quiescer: q,
		dataRoot: dataRoot,
		client:   &http.Client{Timeout: fetchTimeout},
	}
}

// Start launches the background pull task and returns immediately. A pull
// already in running state is rejected without touching the slot; a
// completed (success/error) slot may be restarted.
func (o *Orchestrator) Start(instanceID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Status == StatusRunning {
		return ErrPullInProgress
	}
	o.state = State{Status: StatusRunning, Message: "Initializing pull..."}

	go o.run(instanceID)
	return nil
}

// GetStatus returns a copy of the status slot. Never blocks on the
// background task.
func (o *Orchestrator) GetStatus() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(status Status, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = State{Status: status, Message: message}
}

// run performs the pull independently of the triggering request. Failures
// land in the status slot only; the caller already returned.
func (o *Orchestrator) run(instanceID string) {
	instance, err := o.store.GetInstance(instanceID)
	if err != nil {
		o.setState(StatusError, fmt.Sprintf("Instance not found: %v", err))
		return
	}

	o.setState(StatusRunning, fmt.Sprintf("Attempting to pull from %s...", instance.Name()))

	resp, err := o.client.Get(instance.URL() + "/export-data")
	if err != nil {
		o.setState(StatusError, fmt.Sprintf("Failed to connect or download: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.setState(StatusError, fmt.Sprintf("Remote instance (%s) returned status %d", instance.Name(), resp.StatusCode))
		return
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/zip") {
		o.setState(StatusError, fmt.Sprintf("Remote instance (%s) did not return a zip file", instance.Name()))
		return
	}

	o.setState(StatusRunning, "Download complete. Saving to temporary file...")

	tmp, err := os.CreateTemp("", "pull_*.zip")
	if err != nil {
		o.setState(StatusError, fmt.Sprintf("Failed to create temporary file: %v", err))
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		o.setState(StatusError, fmt.Sprintf("Failed to save snapshot: %v", err))
		return
	}
	if err := tmp.Close(); err != nil {
		o.setState(StatusError, fmt.Sprintf("Failed to save snapshot: %v", err))
		return
	}

	o.setState(StatusRunning, "Restoring data from file...")

	if err := archive.Restore(o.dataRoot, tmp.Name(), o.quiescer); err != nil {
		// Critical-state detail is preserved verbatim for the operator.
		o.setState(StatusError, err.Error())
		log.Printf("[Pull] ❌ Restore failed: %v", err)
		return
	}

	o.setState(StatusSuccess,
		"Data restored successfully! It's recommended to restart the application to ensure changes are loaded.")
	log.Printf("[Pull] ✅ Pulled data from %s", instance.Name())
}
