package afk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jvosloo/afkbridge/internal/queue"
)

// responsePath derives the sentinel file location for one request. The
// per-session directory keeps concurrent sessions from clobbering each
// other; the kind suffix keeps a permission answer from satisfying a later
// input prompt of the same session.
func responsePath(dir, session string, kind queue.Kind) string {
	return filepath.Join(dir, session, "response_"+string(kind))
}

// writeSentinel writes value to path atomically (unique temp file + rename)
// so the polling hook can never observe a partial write.
func writeSentinel(path, value string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("afk: create sentinel dir: %w", err)
	}
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return fmt.Errorf("afk: write sentinel: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("afk: publish sentinel: %w", err)
	}
	return nil
}
