package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"flow-triggers/internal/workflow"
)

// MockEngine implements workflow.Engine with testify expectations
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Start(ctx context.Context, req workflow.StartRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// RecordingEngine implements workflow.Engine and records every start request.
// It is safe for concurrent use.
type RecordingEngine struct {
	mu       sync.Mutex
	requests []workflow.StartRequest
	// Err is returned from every Start call when set
	Err error
}

func (e *RecordingEngine) Start(ctx context.Context, req workflow.StartRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return e.Err
}

// Requests returns a copy of the recorded requests
func (e *RecordingEngine) Requests() []workflow.StartRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]workflow.StartRequest(nil), e.requests...)
}

// WorkflowIDs returns the workflow of every recorded request, in call order
func (e *RecordingEngine) WorkflowIDs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int64, len(e.requests))
	for i, r := range e.requests {
		ids[i] = r.WorkflowID
	}
	return ids
}
