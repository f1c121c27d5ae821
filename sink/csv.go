package sink

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/models"
)

const defaultCSVTarget = "products"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CSV writes one file per target under a directory.
type CSV struct {
	dir  string
	mode string
	mu   sync.Mutex
}

// NewCSV creates a CSV sink. mode is ModeOverwrite or ModeAppend.
func NewCSV(dir, mode string) *CSV {
	if dir == "" {
		dir = "."
	}
	if mode != ModeAppend {
		mode = ModeOverwrite
	}
	return &CSV{dir: dir, mode: mode}
}

func (c *CSV) Name() string { return config.SinkCSV }

// Path returns the file a target is written to.
func (c *CSV) Path(target string) string {
	stem := unsafeName.ReplaceAllString(target, "_")
	if stem == "" || stem == "_" {
		stem = defaultCSVTarget
	}
	return filepath.Join(c.dir, stem+".csv")
}

// Write stores records. Overwrite replaces the file; append adds rows and
// only writes the header into a new or empty file.
func (c *CSV) Write(_ context.Context, target string, records []models.ProductRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.Path(target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return models.NewScrapeError(models.ErrCodeSinkFailed, "create csv dir", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if c.mode == ModeAppend {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeSinkFailed, "open csv file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.NewScrapeError(models.ErrCodeSinkFailed, "stat csv file", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return models.NewScrapeError(models.ErrCodeSinkFailed, "write csv header", err)
		}
	}
	for _, rec := range records {
		if err := w.Write(Row(rec)); err != nil {
			return models.NewScrapeError(models.ErrCodeSinkFailed, "write csv record", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return models.NewScrapeError(models.ErrCodeSinkFailed, "flush csv records", err)
	}

	slog.Info("products written", "sink", "csv", "path", path, "products", len(records), "mode", c.mode)
	return nil
}

var _ Sink = (*CSV)(nil)
