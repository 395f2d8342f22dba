// Package cli provides the 'radstore' command-line utility to administer a radstore cluster.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/NVIDIA/radstore/cmd/teb"
	"github.com/fatih/color"
	"github.com/urfave/cli"
)

type acli struct {
	app       *cli.App
	outWriter io.Writer
	errWriter io.Writer
}

var buildTime string

// color
var fred, fcyan func(a ...any) string

// main method
func Run(version, buildtime string, args []string) error {
	a := acli{app: cli.NewApp(), outWriter: os.Stdout, errWriter: os.Stderr}
	buildTime = buildtime
	a.init(version)
	return a.runOnce(args)
}

func (a *acli) runOnce(args []string) error {
	err := a.app.Run(args)
	return a.formatErr(err)
}

func redErr(err error) error {
	msg := strings.TrimRight(err.Error(), "\n")
	return errors.New(fred(cliName+": ") + msg)
}

func (a *acli) formatErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*errUsage); ok {
		return err
	}
	return redErr(err)
}

func onBeforeCommand(c *cli.Context) error {
	// the library auto-disables coloring when TERM is dumb or stdout
	// is redirected; override only when the flag says so explicitly
	if flagIsSet(c, noColorFlag) {
		color.NoColor = true
	}
	return nil
}

func (a *acli) init(version string) {
	app := a.app

	if cfg.NoColor {
		color.NoColor = true
	}
	fred = color.New(color.FgHiRed).SprintFunc()
	fcyan = color.New(color.FgHiCyan).SprintFunc()

	app.Name = cliName
	app.Usage = "administer and inspect a radstore cluster"
	app.Version = version
	app.EnableBashCompletion = true
	app.HideHelp = true
	app.Flags = []cli.Flag{cli.HelpFlag, noColorFlag, confFlag, idFlag}
	app.CommandNotFound = commandNotFoundHandler
	app.OnUsageError = incorrectUsageHandler
	app.Writer = a.outWriter
	app.ErrWriter = a.errWriter
	app.Before = onBeforeCommand
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version, V",
		Usage: "print only the version",
	}
	teb.Init(a.outWriter, cfg.NoColor)
	a.setupCommands()
}

func (a *acli) setupCommands() {
	app := a.app

	// Note: order of commands below is the order shown in "radstore help"
	app.Commands = []cli.Command{
		statusCmd,
		dfCmd,
		poolCmd,
		pgCmd,
		bucketCmd,
		usageCmd,
		datalogCmd,
		gcCmd,
		quotaCmd,
		journalCmd,
		blacklistCmd,
		logCmd,
		helpCommand,
	}
	setupCommandHelp(app.Commands)
}

func setupCommandHelp(commands []cli.Command) {
	helps := strings.Split(cli.HelpFlag.GetName(), ",")
	helpName := strings.TrimSpace(helps[0])
	for i := range commands {
		command := &commands[i]

		// Get rid of 'h'/'help' subcommands
		// and add the help flag manually
		command.HideHelp = true
		// (but only if there isn't one already)
		if !hasHelpFlag(command.Flags, helpName) {
			command.Flags = append(command.Flags, cli.HelpFlag)
		}
		command.OnUsageError = incorrectUsageHandler

		// recursively
		setupCommandHelp(command.Subcommands)
	}
}

func hasHelpFlag(commandFlags []cli.Flag, helpName string) bool {
	for _, flag := range commandFlags {
		for _, name := range strings.Split(flag.GetName(), ",") {
			name = strings.TrimSpace(name)
			if name == helpName {
				return true
			}
		}
	}
	return false
}

// This is a copy-paste from urfave/cli/help.go. It is done to remove the 'h' alias of the 'help' command
var helpCommand = cli.Command{
	Name:      "help",
	Usage:     "show a list of commands; show help for a given command",
	ArgsUsage: "[COMMAND]",
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Present() {
			return cli.ShowCommandHelp(c, args.First())
		}

		cli.ShowAppHelp(c)
		return nil
	},
	BashComplete: func(c *cli.Context) {
		for _, cmd := range c.App.Commands {
			fmt.Println(cmd.Name)
		}
	},
}

// Print error and terminate
func commandNotFoundHandler(c *cli.Context, cmd string) {
	if cmd == "version" {
		fmt.Fprintf(c.App.Writer, "version %s (build %s)\n", c.App.Version, buildTime)
		return
	}
	err := commandNotFoundError(c, cmd)
	fmt.Fprint(c.App.ErrWriter, err.Error())
	os.Exit(1)
}
