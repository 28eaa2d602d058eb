/*
 * Copyright 2026 Printmux Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// printmuxd runs the coordination engine as a daemon. It ships with
// the simulated backends registered; hardware protocol backends are
// registered by embedding the engine as a library.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/printmux/printmux/pkg/backend"
	"github.com/printmux/printmux/pkg/backend/sim"
	"github.com/printmux/printmux/pkg/config"
	"github.com/printmux/printmux/pkg/engine"
	"github.com/printmux/printmux/pkg/lifecycle"
	"github.com/printmux/printmux/pkg/logger"
)

func main() {
	configPath := flag.String("config", "/etc/printmux/printmuxd.json", "Path to config file")
	flag.Parse()

	if err := run(context.Background(), *configPath); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	bootstrap, err := logger.New(ctx, logger.DefaultConfig())
	if err != nil {
		return err
	}

	var cfg engine.Config

	loader := config.NewConfig(bootstrap)
	if err := loader.LoadAndValidate(ctx, configPath, &cfg); err != nil {
		return err
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	daemonLogger, err := lifecycle.CreateComponentLogger(ctx, "printmuxd", logConfig)
	if err != nil {
		return err
	}

	dispatcher := backend.NewDispatcher(daemonLogger)
	if err := sim.RegisterAll(dispatcher); err != nil {
		return err
	}

	eng, err := engine.New(cfg, dispatcher, daemonLogger)
	if err != nil {
		return err
	}

	return lifecycle.Run(ctx, &lifecycle.Options{
		ServiceName: "printmuxd",
		Service:     eng,
		Logger:      daemonLogger,
	})
}
