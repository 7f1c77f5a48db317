package module

import (
	"context"
	"errors"
	"time"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

// Extract runs a fixed script on every host and lets annotate turn each
// host's lines into a value or an error. When the call itself fails, every
// requested host is reported with the transport error.
func Extract(ctx context.Context, exec *executor.Executor, hosts []string, script command.Script, annotate func(*result.HostEntry)) (*result.Result, error) {
	r, err := exec.FanOutCommand(ctx, hosts, script)
	if err != nil {
		return nil, err
	}

	r.WithMeta("timestamp", time.Now().UTC().Format(time.RFC3339))

	if !r.Success && len(r.Hosts) == 0 {
		failed := result.FailureForHosts(r.Command, hosts, errors.New(r.ErrorMessage()))
		failed.Meta = r.Meta
		return failed, nil
	}

	for i := range r.Hosts {
		if r.Hosts[i].Error != nil {
			continue
		}
		annotate(&r.Hosts[i])
	}
	return r, nil
}
