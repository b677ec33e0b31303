/*
Copyright 2024 The Relstore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"fmt"
	"os"

	"relstore/internal/config"
	"relstore/pkg/cmdmain"
	"relstore/pkg/facade"
	"relstore/pkg/jsonconfig"
)

type initdbCmd struct {
	pageSize      int
	fanout        int
	lockRetries   int
	lockTimeoutMS int
	configPath    string
}

func init() {
	cmdmain.RegisterCommand("initdb", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(initdbCmd)
		flags.IntVar(&cmd.pageSize, "pagesize", config.DefaultPageSize, "page size in bytes")
		flags.IntVar(&cmd.fanout, "fanout", config.DefaultFanout, "B+-tree fanout")
		flags.IntVar(&cmd.lockRetries, "lockretries", config.DefaultLockRetries, "lock acquire retry budget")
		flags.IntVar(&cmd.lockTimeoutMS, "locktimeoutms", config.DefaultLockTimeoutMS, "milliseconds between lock retries")
		flags.StringVar(&cmd.configPath, "config", "", "read settings from this JSON config file instead of flags (internal/config.FromObj); when set, the positional data-dir argument is omitted and \"dataDir\" must be a key in the file")
		return cmd
	})
}

// Describe notes this is a non-interactive equivalent of a shell
// session's CREATE DATABASE statement, for scripted provisioning that
// doesn't want to go through cliexec at all.
func (c *initdbCmd) Describe() string {
	return "Create a new, empty database directory (equivalent to a shell session's CREATE DATABASE)."
}

func (c *initdbCmd) Usage() {
	fmt.Fprintf(os.Stderr, "Usage: relstore initdb [opts] <data-dir>\nUsage: relstore initdb -config=settings.json\n")
}

func (c *initdbCmd) Examples() []string { return []string{"./data", "-config=settings.json"} }

func (c *initdbCmd) RunCommand(args []string) error {
	cfg, err := c.resolveConfig(args)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}
	f, err := facade.Create(cfg)
	if err != nil {
		return err
	}
	return f.Close()
}

// resolveConfig builds a Config either from -config's JSON file (the
// jsonconfig.Obj path every blobserver backend reads its settings
// through) or from the positional data-dir argument plus flags.
func (c *initdbCmd) resolveConfig(args []string) (config.Config, error) {
	if c.configPath != "" {
		if len(args) != 0 {
			return config.Config{}, cmdmain.UsageError("initdb takes no positional argument when -config is given")
		}
		obj, err := jsonconfig.ReadFile(c.configPath)
		if err != nil {
			return config.Config{}, err
		}
		return config.FromObj(obj)
	}
	if len(args) != 1 {
		return config.Config{}, cmdmain.UsageError("initdb takes exactly one argument: the data directory")
	}
	cfg := config.Default(args[0])
	cfg.PageSize = c.pageSize
	cfg.Fanout = c.fanout
	cfg.LockRetries = c.lockRetries
	cfg.LockTimeoutMS = c.lockTimeoutMS
	return cfg, nil
}
