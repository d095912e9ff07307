package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes expired turns as gzipped JSONL files under
// a local directory, one file per sweep:
//
//	{basePath}/turns/2026-02-20T15-04-05Z.jsonl.gz
type LocalFileArchiver struct {
	basePath string
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is
// empty it defaults to "~/.parley/archive".
func NewLocalFileArchiver(basePath string) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = "/tmp/parley/archive"
		} else {
			basePath = filepath.Join(home, ".parley", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

// ArchiveTurns writes the batch and returns the file path.
func (a *LocalFileArchiver) ArchiveTurns(_ context.Context, turns []models.ConversationTurn) (string, error) {
	dir := filepath.Join(a.basePath, "turns")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	fpath := filepath.Join(dir, time.Now().UTC().Format("2006-01-02T15-04-05Z")+".jsonl.gz")
	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	enc := json.NewEncoder(gw)
	for _, t := range turns {
		if err := enc.Encode(t); err != nil {
			gw.Close()
			return "", fmt.Errorf("encode turn %s: %w", t.ID, err)
		}
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("flush archive: %w", err)
	}

	log.Debug().Str("path", fpath).Int("count", len(turns)).Msg("archived turns to local file")
	return fpath, nil
}
