package checkpoint

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const snapSuffix = ".cordon_snap."

// SQLiteTarget is one database file to snapshot alongside a git
// checkpoint. Path may be absolute or relative to the workdir.
type SQLiteTarget struct {
	Name string
	Path string
}

func resolveTarget(workdir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	abs, err := filepath.Abs(filepath.Join(workdir, p))
	if err != nil {
		return filepath.Join(workdir, p)
	}
	return abs
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SnapshotSQLite copies each existing target to
// <path>.cordon_snap.<checkpointID> and returns the snapshot paths.
// Missing databases are skipped; restore will skip them too.
func SnapshotSQLite(workdir string, targets []SQLiteTarget, checkpointID string) ([]string, error) {
	var created []string
	for _, t := range targets {
		db := resolveTarget(workdir, t.Path)
		if _, err := os.Stat(db); err != nil {
			continue
		}
		snap := db + snapSuffix + checkpointID
		if err := copyFile(db, snap); err != nil {
			return created, err
		}
		created = append(created, snap)
	}
	return created, nil
}

// RestoreSQLite copies each snapshot back over its database. Targets
// without a snapshot are skipped.
func RestoreSQLite(workdir string, targets []SQLiteTarget, checkpointID string) error {
	for _, t := range targets {
		db := resolveTarget(workdir, t.Path)
		snap := db + snapSuffix + checkpointID
		if _, err := os.Stat(snap); err != nil {
			continue
		}
		if err := copyFile(snap, db); err != nil {
			return err
		}
	}
	return nil
}

// CleanupSnapshots keeps only the newest keepLast snapshots per target.
func CleanupSnapshots(workdir string, targets []SQLiteTarget, keepLast int) {
	if keepLast < 0 {
		return
	}
	for _, t := range targets {
		db := resolveTarget(workdir, t.Path)
		dir := filepath.Dir(db)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		prefix := filepath.Base(db) + snapSuffix
		type snap struct {
			path  string
			mtime int64
		}
		var snaps []snap
		for _, e := range entries {
			if !strings.HasPrefix(e.Name(), prefix) {
				continue
			}
			info, ierr := e.Info()
			if ierr != nil {
				continue
			}
			snaps = append(snaps, snap{filepath.Join(dir, e.Name()), info.ModTime().UnixNano()})
		}
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].mtime > snaps[j].mtime })
		for _, s := range snaps[min(keepLast, len(snaps)):] {
			os.Remove(s.path)
		}
	}
}
