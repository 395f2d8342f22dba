// Package cli provides the 'radstore' command-line utility to administer a radstore cluster.
// This file contains error handlers and utilities.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/NVIDIA/radstore/cmd/teb"
	"github.com/urfave/cli"
)

const errFmtExclusive = "flags %s and %s are mutually exclusive"

type errUsage struct {
	context       *cli.Context
	message       string
	bottomMessage string
	helpData      any
	helpTemplate  string
}

func (e *errUsage) Error() string {
	msg := helpMessage(e.helpTemplate, e.helpData)
	if e.bottomMessage != "" {
		msg += fmt.Sprintf("\n%s\n", e.bottomMessage)
	}
	if e.context.Command.Name != "" {
		return fmt.Sprintf("Incorrect usage of \"%s %s\": %s.\n\n%s",
			e.context.App.Name, e.context.Command.Name, e.message, msg)
	}
	return fmt.Sprintf("Incorrect usage of \"%s\": %s.\n\n%s", e.context.App.Name, e.message, msg)
}

func helpMessage(template string, data any) string {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cli.HelpPrinterCustom(w, template, data, teb.HelpTemplateFuncMap)
	_ = w.Flush()
	return buf.String()
}

func commandNotFoundError(c *cli.Context, cmd string) error {
	return &errUsage{
		context:      c,
		message:      fmt.Sprintf("unknown command %q", cmd),
		helpData:     c.App,
		helpTemplate: teb.ShortUsageTmpl,
	}
}

func incorrectUsageHandler(c *cli.Context, err error, _ bool) error {
	if c == nil {
		return err
	}
	return cannotExecuteError(c, err)
}

func cannotExecuteError(c *cli.Context, err error) error {
	return &errUsage{
		context:      c,
		message:      err.Error(),
		helpData:     c.Command,
		helpTemplate: teb.ShortUsageTmpl,
	}
}

func incorrectUsageMsg(c *cli.Context, fmtString string, args ...any) error {
	const dfltMsg = "too many arguments or unrecognized (misplaced?) option '%+v'"
	if fmtString == "" {
		fmtString = dfltMsg
	}
	return _errUsage(c, fmt.Sprintf(fmtString, args...))
}

func missingArgumentsError(c *cli.Context, missingArgs ...string) error {
	return _errUsage(c, fmt.Sprintf("missing arguments %q", strings.Join(missingArgs, ", ")))
}

func _errUsage(c *cli.Context, msg string) error {
	return &errUsage{
		context:      c,
		message:      msg,
		helpData:     c.Command,
		helpTemplate: teb.ShortUsageTmpl,
	}
}
