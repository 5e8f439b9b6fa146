package main

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"

	"aqpeval/internal/report"
	"aqpeval/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

const maxSummaryBytes = 4 << 20

func parseS3URI(input string) (bucket string, prefix string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(input), "s3://")
	if !ok {
		return "", "", errors.Errorf("not an s3 uri: %q", input)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errors.Errorf("missing bucket in %q", input)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// summaryDirs returns the object prefixes holding a summary.json, one level
// of run directories below prefix.
func summaryDirs(prefix string, keys []string) []string {
	var dirs []string
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		dir, name, found := strings.Cut(rest, "/")
		if !found || name != report.SummaryFile || dir == "" {
			continue
		}
		dirs = append(dirs, prefix+dir+"/")
	}
	sort.Strings(dirs)
	return dirs
}

func listKeys(ctx context.Context, client *s3.Client, bucket, prefix string) ([]string, map[string]struct{}, error) {
	var keys []string
	set := map[string]struct{}{}
	pages := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "list objects")
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			keys = append(keys, key)
			set[key] = struct{}{}
		}
	}
	return keys, set, nil
}

func loadS3Runs(ctx context.Context, log *util.Logger, client *s3.Client, bucket, prefix string, maxBytes int) ([]report.RunEntry, error) {
	keys, objects, err := listKeys(ctx, client, bucket, prefix)
	if err != nil {
		return nil, err
	}
	var runs []report.RunEntry
	for _, dir := range summaryDirs(prefix, keys) {
		entry, err := readS3Run(ctx, log, client, bucket, dir, maxBytes, objects)
		if err != nil {
			log.Warnf("skip s3://%s/%s: %v", bucket, dir, err)
			continue
		}
		runs = append(runs, entry)
	}
	return runs, nil
}

func readS3Run(ctx context.Context, log *util.Logger, client *s3.Client, bucket, dir string, maxBytes int, objects map[string]struct{}) (report.RunEntry, error) {
	data, truncated, err := readObject(ctx, log, client, bucket, dir+report.SummaryFile, maxSummaryBytes)
	if err != nil {
		return report.RunEntry{}, err
	}
	if truncated {
		return report.RunEntry{}, errors.New("summary too large")
	}
	var summary report.Summary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return report.RunEntry{}, errors.Wrap(err, "decode summary")
	}
	entry := report.EntryFromSummary(summary, path.Base(dir))
	entry.Dir = "s3://" + bucket + "/" + dir
	entry.Files = map[string]report.FileContent{}
	for _, name := range report.InlineFiles(summary.Artifacts) {
		if _, ok := objects[dir+name]; !ok {
			continue
		}
		content, truncated, err := readObject(ctx, log, client, bucket, dir+name, maxBytes)
		if err != nil {
			continue
		}
		entry.Files[name] = report.FileContent{Name: name, Content: content, Truncated: truncated}
	}
	return entry, nil
}

func readObject(ctx context.Context, log *util.Logger, client *s3.Client, bucket, key string, maxBytes int) (string, bool, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	defer log.Close(out.Body, key)
	return report.ReadLimited(out.Body, maxBytes)
}
