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
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"relstore/pkg/cliexec"
	"relstore/pkg/cmdmain"
)

type shellCmd struct {
	script string
}

func init() {
	cmdmain.RegisterCommand("shell", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(shellCmd)
		flags.StringVar(&cmd.script, "script", "", "read statements from this file instead of stdin")
		return cmd
	})
}

func (c *shellCmd) Describe() string {
	return "Run §6 statements, including CREATE/USE/DROP DATABASE, one per line, from a script or stdin."
}

func (c *shellCmd) Usage() {
	fmt.Fprintf(os.Stderr, "Usage: relstore shell [-script=file] <base-dir>\n")
}

func (c *shellCmd) Examples() []string {
	return []string{"./data", "-script=demo.sql ./data"}
}

// RunCommand takes the base directory under which each named database
// is its own subdirectory; the session starts with no database open,
// so the first statement run (from stdin or -script) is ordinarily a
// CREATE DATABASE or USE DATABASE.
func (c *shellCmd) RunCommand(args []string) error {
	if len(args) != 1 {
		return cmdmain.UsageError("shell takes exactly one argument: the base directory holding one subdirectory per database")
	}
	if err := os.MkdirAll(args[0], 0755); err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if c.script != "" {
		f, err := os.Open(c.script)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	sess := cliexec.NewSession(args[0])
	defer sess.Close()
	scanner := bufio.NewScanner(in)
	var exitErr error
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		out, err := sess.Dispatch(line)
		if err != nil {
			fmt.Fprintf(cmdmain.Stderr, "error: %v\n", err)
			exitErr = err
			continue
		}
		if out != "" {
			fmt.Fprintln(cmdmain.Stdout, out)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return exitErr
}
