package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"aqpeval/internal/config"
	"aqpeval/internal/report"
	"aqpeval/internal/uploader"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type options struct {
	input           string
	output          string
	maxBytes        int
	artifactBaseURL string
	s3              config.S3Config
	verbose         bool
}

func main() {
	var opts options
	root := &cobra.Command{
		Use:           "aqpeval-report",
		Short:         "Index aqpeval run directories into reports.json",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, os.Stdout)
		},
	}
	f := root.Flags()
	f.StringVar(&opts.input, "input", "runs", "output directory of aqpeval runs or s3://bucket/prefix")
	f.StringVar(&opts.output, "output", ".", "directory for reports.json")
	f.IntVar(&opts.maxBytes, "max-bytes", 64*1024, "max bytes inlined per artifact")
	f.StringVar(&opts.artifactBaseURL, "artifact-base-url", "", "public HTTP(S) base replacing the bucket in archive links")
	f.StringVar(&opts.s3.Endpoint, "s3-endpoint", "", "S3-compatible endpoint for s3:// input")
	f.StringVar(&opts.s3.Region, "s3-region", "", "region for s3:// input")
	f.BoolVar(&opts.s3.UsePathStyle, "s3-path-style", false, "use path-style addressing for s3:// input")
	f.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "aqpeval-report: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	log := util.NewLogger(os.Stderr, opts.verbose)
	var (
		runs []report.RunEntry
		err  error
	)
	if strings.HasPrefix(opts.input, "s3://") {
		bucket, prefix, parseErr := parseS3URI(opts.input)
		if parseErr != nil {
			return parseErr
		}
		client, clientErr := uploader.NewS3Client(ctx, opts.s3)
		if clientErr != nil {
			return clientErr
		}
		runs, err = loadS3Runs(ctx, log, client, bucket, prefix, opts.maxBytes)
	} else {
		runs, err = report.LoadLocalRuns(log, opts.input, opts.maxBytes)
	}
	if err != nil {
		return errors.Wrap(err, "load runs")
	}
	for i := range runs {
		loc := runs[i].UploadLocation
		if loc == "" && strings.HasPrefix(runs[i].Dir, "s3://") {
			loc = runs[i].Dir
		}
		runs[i].ArchiveURL = report.ArtifactURL(loc, runs[i].ArchiveName, opts.artifactBaseURL)
	}

	idx := report.BuildIndex(opts.input, runs, time.Now())
	path, err := report.WriteIndex(opts.output, idx)
	if err != nil {
		return errors.Wrap(err, "write index")
	}
	if err := printIndex(out, idx); err != nil {
		return err
	}
	log.Infof("indexed %d run(s) into %s", len(idx.Runs), path)
	return nil
}

// printIndex writes one line per run with its summary errors.
func printIndex(w io.Writer, idx report.Index) error {
	metrics := lo.Uniq(lo.FlatMap(idx.Runs, func(r report.RunEntry, _ int) []string {
		return lo.Keys(r.Errors)
	}))
	sort.Strings(metrics)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := append([]string{"RUN", "OPERATION", "MODE", "ROUNDS"}, lo.Map(metrics, func(m string, _ int) string {
		return strings.ToUpper(m)
	})...)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range idx.Runs {
		rounds := "-"
		if r.Rounds != nil {
			rounds = fmt.Sprintf("%d/%d", r.Rounds.Succeeded, r.Rounds.Requested)
		}
		row := []string{r.ID, r.Operation, lo.Ternary(r.Mode == "", "-", r.Mode), rounds}
		for _, m := range metrics {
			v, ok := r.Errors[m]
			row = append(row, lo.Ternary(ok, fmt.Sprintf("%.4f", v), "-"))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
