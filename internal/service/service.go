// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Service is the minimal interface every long-lived component implements.
type Service interface {
	// Name identifies the service in logs.
	Name() string
}

// Initializer is implemented by services that need a setup phase before
// running.
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services that run in the background. Run blocks
// until the context is canceled or the service fails.
type Runner interface {
	Service
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that hold resources needing
// explicit release.
type Shutdowner interface {
	Service
	Shutdown() error
}
