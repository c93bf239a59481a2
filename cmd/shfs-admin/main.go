// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"git.sr.ht/~simon/shfs-admin/lib/shfs"
)

func main() {
	os.Exit(run())
}

func run() int {
	var tokens []shfs.ActionToken
	var verbosity int
	var force bool

	argparser := &cobra.Command{
		Use:   "shfs-admin [flags] DEVICE...",
		Short: "Inspect and mutate a mounted SHFS volume",

		SilenceErrors: true,
		SilenceUsage:  true,

		Args: cobra.MinimumNArgs(1),
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)

	registerActionFlags(argparser.Flags(), &tokens)
	argparser.Flags().CountVarP(&verbosity, "verbose", "v", "increase logging verbosity (repeatable up to 2)")
	argparser.Flags().BoolVarP(&force, "force", "f", false, "open the volume read/write even without a write-capable action")

	var exitCode int
	argparser.RunE = func(cmd *cobra.Command, args []string) error {
		exitCode = runVolume(cmd.Context(), args, tokens, verbosity, force)
		return nil
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		return 1
	}
	return exitCode
}

// runVolume mounts devicePaths, runs tokens against it, and always
// unmounts, attempting cleanup even after action failures. It returns
// the process exit status: 0 success, 1 any per-action USER-ERROR, -2
// cancelled.
func runVolume(ctx context.Context, devicePaths []string, tokens []shfs.ActionToken, verbosity int, force bool) int {
	logger := logrus.New()
	switch {
	case verbosity >= 2:
		logger.SetLevel(logrus.TraceLevel)
	case verbosity == 1:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	ctx = dlog.WithLogger(ctx, dlog.WrapLogrus(logger))

	var cancelled int32
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sigDone := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			atomic.StoreInt32(&cancelled, 1)
		case <-sigDone:
		}
	}()
	defer close(sigDone)
	cancel := func() bool { return atomic.LoadInt32(&cancelled) != 0 }

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	var status int
	grp.Go("main", func(ctx context.Context) error {
		status = runActions(ctx, devicePaths, tokens, cancel, openFlagFor(tokens, force), verbosity)
		return nil
	})
	if err := grp.Wait(); err != nil {
		dlog.Errorf(ctx, "internal error: %v", err)
		return 1
	}
	return status
}

// openFlagFor opens the volume read/write whenever any token mutates it,
// or unconditionally when -f/--force is given.
func openFlagFor(tokens []shfs.ActionToken, force bool) int {
	if force {
		return os.O_RDWR
	}
	for _, tok := range tokens {
		switch tok.(type) {
		case shfs.AddObj, shfs.RmObj, shfs.SetDefaultTok, shfs.ClearDefaultTok:
			return os.O_RDWR
		}
	}
	return os.O_RDONLY
}

func runActions(ctx context.Context, devicePaths []string, tokens []shfs.ActionToken, cancel shfs.CancelFunc, openFlag, verbosity int) int {
	vol, err := shfs.Mount(ctx, devicePaths, openFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shfs-admin: %v\n", err)
		return 1
	}

	if verbosity >= 2 {
		spew.Fdump(os.Stderr, vol.Meta)
	}

	engine := shfs.NewEngine(vol, vol.Meta.DigestKind, cancel, os.Stdout)
	results := engine.Run(ctx, tokens)

	status := 0
	cancelledRun := false
	for _, r := range results {
		switch {
		case r.Err == nil:
			// OK
		case r.Err == shfs.ErrCancelled:
			cancelledRun = true
		default:
			fmt.Fprintf(os.Stderr, "shfs-admin: %v: %v\n", describeToken(r.Token), r.Err)
			status = 1
		}
	}

	if err := vol.Unmount(ctx); err != nil {
		dlog.Errorf(ctx, "unmount: %v", err)
		if status == 0 {
			status = 1
		}
	}

	if cancelledRun {
		return -2
	}
	return status
}

func describeToken(tok shfs.ActionToken) string {
	switch t := tok.(type) {
	case shfs.AddObj:
		return fmt.Sprintf("add-obj %s", t.Path)
	case shfs.RmObj:
		return fmt.Sprintf("rm-obj %s", t.HashHex)
	case shfs.CatObj:
		return fmt.Sprintf("cat-obj %s", t.HashHex)
	case shfs.SetDefaultTok:
		return fmt.Sprintf("set-default %s", t.HashHex)
	case shfs.ClearDefaultTok:
		return "clear-default"
	case shfs.LsTok:
		return "ls"
	case shfs.InfoTok:
		return "info"
	default:
		return spew.Sprintf("%v", tok)
	}
}
