// Copyright 2023 qbee.io
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Command spoolbridge is the single long-running process that keeps a
// Device and an Inventory service's filament catalogs in sync. It has
// no subcommands: configuration is read once from the environment (and
// an optional YAML file) at startup, then the process runs until it
// receives a termination signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessie-jamieson/spoolbridge/bridgeconfig"
	"github.com/jessie-jamieson/spoolbridge/logging"
	"github.com/jessie-jamieson/spoolbridge/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.WithComponent("main").WithError(err).Error("configuration error")
		return 1
	}

	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		logging.WithComponent("main").WithError(err).Warn("invalid log level, keeping default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg)
	if err := sup.Run(ctx); err != nil {
		logging.WithComponent("main").WithError(err).Error("bridge exited with error")
		return 1
	}

	logging.WithComponent("main").Info("bridge shut down cleanly")
	return 0
}
