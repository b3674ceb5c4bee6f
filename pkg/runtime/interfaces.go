// Package runtime provides the execution store and the pipeline executor.
package runtime

import (
	"context"
	"errors"

	"github.com/tcmartin/pipelinestudio/pkg/client"
	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// Backend is the pipeline service used by live and stream runs.
// *client.Client implements it.
type Backend interface {
	// Query runs one query and returns the full response
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error)

	// OpenStream starts a streamed query
	OpenStream(ctx context.Context, req models.QueryRequest) (client.FrameSource, error)
}

// RunSink receives every run once it is finalized
type RunSink interface {
	SaveRun(run models.ExecutionRun) error
}

// RunSinkFunc adapts a function to RunSink
type RunSinkFunc func(run models.ExecutionRun) error

// SaveRun calls f
func (f RunSinkFunc) SaveRun(run models.ExecutionRun) error {
	return f(run)
}

// MultiSink hands every run to each sink in order. Nil sinks are ignored and
// one failing sink does not stop the others.
func MultiSink(sinks ...RunSink) RunSink {
	var live []RunSink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return RunSinkFunc(func(run models.ExecutionRun) error {
		var errs []error
		for _, s := range live {
			if err := s.SaveRun(run); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

var _ Backend = (*client.Client)(nil)
