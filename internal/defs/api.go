// Package defs contains shared definitions.
package defs

import (
	"time"

	"github.com/google/uuid"
)

// APIError is a generic error.
type APIError struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// APIOK is a generic success.
type APIOK struct {
	Status string `json:"status"`
}

// APIInfo is the response of the info endpoint.
type APIInfo struct {
	Version string    `json:"version"`
	Started time.Time `json:"started"`
}

// APIRunState is the state of a composition.
type APIRunState string

// states.
const (
	APIRunStateIdle      APIRunState = "idle"
	APIRunStateRunning   APIRunState = "running"
	APIRunStateCompleted APIRunState = "completed"
	APIRunStateCanceled  APIRunState = "canceled"
	APIRunStateFailed    APIRunState = "failed"
)

// APIStatus is the status of the current composition.
type APIStatus struct {
	RunID           *uuid.UUID  `json:"runID"`
	State           APIRunState `json:"state"`
	Output          string      `json:"output"`
	Clips           int         `json:"clips"`
	TotalDurationUs int64       `json:"totalDurationUs"`
	// in [0, 1]. -1 when unknown.
	Progress float64    `json:"progress"`
	Started  *time.Time `json:"started"`
	Ended    *time.Time `json:"ended"`
	Error    *string    `json:"error"`
}

// APIRunner is the component that runs compositions.
type APIRunner interface {
	APIStatus() *APIStatus
	APICancel() error
}
