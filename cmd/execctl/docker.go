package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"codetutor-exec/executor"
)

func warmupCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("warmup", flag.ContinueOnError)
	languages := fs.String("langs", "csharp", "comma separated compiled languages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := executor.NewLogger("")
	cm, err := executor.NewContainerManager(executor.Limits{}, logger)
	if err != nil {
		return err
	}
	defer cm.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var errs []error
	for _, language := range strings.Split(*languages, ",") {
		profile, ok := executor.GetProfile(strings.TrimSpace(language))
		if !ok {
			errs = append(errs, fmt.Errorf("unsupported compiled language: %s", language))
			continue
		}
		if err := cm.EnsureImage(ctx, profile.Image); err != nil {
			errs = append(errs, err)
			color.New(color.FgRed).Fprintf(out, "failed  %s\n", profile.Image)
			continue
		}
		color.New(color.FgGreen).Fprintf(out, "ready   %s\n", profile.Image)
	}
	return errors.Join(errs...)
}

func pruneCommand(out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := executor.Prune(ctx, executor.NewLogger(""))
	if err != nil {
		return err
	}
	color.New(color.FgYellow).Fprintf(out, "removed %d sandbox container(s)\n", removed)
	return nil
}
