// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/oklog/run"
)

// Init runs the Init phase of every service that implements Initializer,
// in order, and stops at the first failure.
func Init(logger *slog.Logger, services []Service) error {
	for _, s := range services {
		initializer, ok := s.(Initializer)
		if !ok {
			continue
		}

		logger.Debug("Initializing service", "service", s.Name())
		if err := initializer.Init(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Run runs every service that implements Runner in one oklog/run group.
// The first service to return takes the whole group down; Shutdowners are
// drained as the group unwinds.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	for _, s := range services {
		runner, ok := s.(Runner)
		if !ok {
			logger.Debug("Service has no run phase", "service", s.Name())
			continue
		}

		svc := s
		r := runner
		g.Add(
			func() error {
				logger.Info("Running service", "service", svc.Name())
				return r.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Warn("Service terminated", "service", svc.Name(), "reason", err)
				}

				shutdowner, ok := svc.(Shutdowner)
				if !ok {
					return
				}
				logger.Info("Shutting down service", "service", svc.Name())
				if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
					logger.Warn("Service shutdown failed", "service", svc.Name(), "error", shutdownErr)
				}
			},
		)
	}

	return g.Run()
}
