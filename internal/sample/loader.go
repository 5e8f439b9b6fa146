// Package sample produces the per-round sample of every table.
package sample

import (
	"context"
	"strconv"

	"aqpeval/internal/config"
	"aqpeval/internal/db"
	"aqpeval/internal/frame"
	"aqpeval/internal/util"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Loader reads full tables and sample files. Loads of the same source are
// de-duplicated across concurrent rounds and the frames are cached; frames
// are immutable, so rounds share them read-only.
type Loader struct {
	log   *util.Logger
	cache *ristretto.Cache
	group singleflight.Group
	// mysql is swapped in tests.
	mysql func(ctx context.Context, log *util.Logger, dsn, query string) (*frame.Frame, error)
}

// NewLoader returns a loader whose cache holds up to maxBytes of table data.
func NewLoader(log *util.Logger, maxBytes int64) (*Loader, error) {
	if maxBytes <= 0 {
		maxBytes = 1 << 30
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "table cache")
	}
	return &Loader{log: log, cache: cache, mysql: db.LoadFrame}, nil
}

// Close releases the cache.
func (l *Loader) Close() {
	l.cache.Close()
}

// Table returns the full table described by tbl.
func (l *Loader) Table(ctx context.Context, tbl config.Table) (*frame.Frame, error) {
	switch tbl.Source {
	case config.SourceCSV:
		return l.CSV(ctx, tbl.Data, tbl.Comma())
	case config.SourceMySQL:
		return l.load(ctx, "mysql:"+tbl.DSN+"\x00"+tbl.SQL, func() (*frame.Frame, error) {
			return l.mysql(ctx, l.log, tbl.DSN, tbl.SQL)
		})
	}
	return nil, errors.Errorf("table %s: unknown source %s", tbl.Name, tbl.Source)
}

// CSV returns the frame stored at path.
func (l *Loader) CSV(ctx context.Context, path string, comma rune) (*frame.Frame, error) {
	return l.load(ctx, "csv:"+strconv.QuoteRune(comma)+":"+path, func() (*frame.Frame, error) {
		return frame.ReadCSV(path, comma)
	})
}

func (l *Loader) load(ctx context.Context, key string, fn func() (*frame.Frame, error)) (*frame.Frame, error) {
	if v, ok := l.cache.Get(key); ok {
		return v.(*frame.Frame), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err, shared := l.group.Do(key, func() (any, error) {
		f, err := fn()
		if err != nil {
			return nil, err
		}
		l.cache.Set(key, f, frameCost(f))
		l.log.Debugf("loaded %s: %d rows", key, f.Len())
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.log.Debugf("shared load of %s", key)
	}
	return v.(*frame.Frame), nil
}

// frameCost approximates the memory held by a frame.
func frameCost(f *frame.Frame) int64 {
	var cost int64
	for _, col := range f.Columns() {
		switch col.Kind {
		case frame.KindFloat:
			cost += int64(len(col.Floats)) * 8
			continue
		case frame.KindInt:
			cost += int64(len(col.Ints))*8 + int64(len(col.Null))
			continue
		}
		for _, s := range col.Strings {
			cost += int64(len(s)) + 16
		}
	}
	if cost == 0 {
		cost = 1
	}
	return cost
}
