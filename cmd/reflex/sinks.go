package main

import (
	"context"
	"os"
	"time"

	"github.com/r3d91ll/reflex/pkg/abtest"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/export"
	"github.com/r3d91ll/reflex/pkg/monitor"
	"github.com/r3d91ll/reflex/pkg/runner"
	"github.com/r3d91ll/reflex/pkg/store"
)

// outputs holds the sinks a command feeds and the resources behind them.
type outputs struct {
	sinks  []runner.Sink
	store  *store.Store
	hub    *monitor.Hub
	server *monitor.Server
	csv    *export.StepSink
	file   *os.File
	closed bool
}

// openOutputs opens the store and monitor when enabled in the config,
// and a step CSV when csvPath is set.
func (a *app) openOutputs(csvPath string) (*outputs, error) {
	o := &outputs{}

	if a.cfg.Store.Enabled {
		st, err := store.Open(a.cfg.Store.Path, a.log.With().Str("component", "store").Logger())
		if err != nil {
			return nil, err
		}
		o.store = st
		o.sinks = append(o.sinks, st)
	}

	if a.cfg.Monitor.Enabled {
		logger := a.log.With().Str("component", "monitor").Logger()
		o.hub = monitor.NewHub(logger, a.cfg.Monitor.Origins...)
		o.server = monitor.NewServer(a.cfg.Monitor, o.hub, logger)
		if err := o.server.Start(); err != nil {
			o.close()
			return nil, err
		}
		o.sinks = append(o.sinks, o.hub)
	}

	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			o.close()
			return nil, rerrors.IOWrap(err, rerrors.ErrIOWriteFailed, "failed to create CSV file").
				WithContext("path", csvPath)
		}
		o.file = f
		o.csv = export.NewStepSink(f, export.DefaultCSVConfig())
		o.sinks = append(o.sinks, o.csv)
	}
	return o, nil
}

// publishSummary stores and broadcasts an A/B summary.
func (o *outputs) publishSummary(ctx context.Context, sum *abtest.Summary) error {
	if o.store != nil {
		if err := o.store.SaveSummary(ctx, sum); err != nil {
			return err
		}
	}
	if o.hub != nil {
		return o.hub.SummaryReady(sum)
	}
	return nil
}

// close releases every output once; later calls return nil.
func (o *outputs) close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	var first error
	if o.csv != nil {
		if err := o.csv.Flush(); err != nil {
			first = err
		}
	}
	if o.file != nil {
		if err := o.file.Close(); err != nil && first == nil {
			first = rerrors.IOWrap(err, rerrors.ErrIOWriteFailed, "failed to close CSV file")
		}
	}
	if o.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.server.Shutdown(ctx)
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil && first == nil {
			first = rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to close store")
		}
	}
	return first
}
