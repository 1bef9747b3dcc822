package daemon

import (
	"context"

	"github.com/steveyegge/bdviewd/internal/cliexec"
	"github.com/steveyegge/bdviewd/internal/scheduler"
	"github.com/steveyegge/bdviewd/internal/viewset"
)

// newFetcher returns the scheduler.Fetcher that invokes the tracker
// binary for a list subscription spec.
func newFetcher(adapter *cliexec.Adapter) scheduler.Fetcher {
	return func(ctx context.Context, spec scheduler.Spec) ([]viewset.Issue, error) {
		argv, err := viewset.Argv(spec.SubType, spec.Params)
		if err != nil {
			return nil, err
		}
		res, err := adapter.Run(ctx, argv)
		if err != nil {
			return nil, err
		}
		if res.Code != 0 {
			return nil, &cliexec.JSONError{ExitCode: res.Code, Stderr: string(res.Stderr)}
		}
		return viewset.Normalize(spec.SubType, spec.Params, res.Stdout)
	}
}
