package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"botconvo/internal/client"
	"botconvo/internal/registry"
)

func runCheckpoints(w io.Writer, dir string) error {
	runs, err := registry.LoadDir(dir)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tWEIGHTS\tDIR")
	for _, r := range runs {
		names := make([]string, 0, len(r.Weights))
		for _, p := range r.Weights {
			names = append(names, filepath.Base(p))
		}
		weights := strings.Join(names, ",")
		if weights == "" {
			weights = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.RunName, weights, r.Dir)
	}
	return tw.Flush()
}

func runAsk(ctx context.Context, w io.Writer, url, prompt string, strip bool, timeout time.Duration) error {
	c := client.New(url, timeout)
	c.StripStart = strip
	text, err := c.Ask(ctx, prompt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, text)
	return err
}
