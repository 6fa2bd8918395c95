package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// splitEntryOverhead approximates per-entry header bytes in a split part.
const splitEntryOverhead = 100

// Archive writes files into a STORED zip at out, sorted by path and named by base name.
// The output depends only on the input contents.
func Archive(files []string, out string) (err error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
		}
	}()

	zw := zip.NewWriter(f)
	for _, path := range sorted {
		if err := addStored(zw, path); err != nil {
			return fmt.Errorf("archive %s: %w", filepath.Base(path), err)
		}
	}
	return zw.Close()
}

func addStored(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   filepath.Base(path),
		Method: zip.Store,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// SplitIfNeeded returns [path] when it fits under ceiling. Otherwise it repacks the
// entries, in archive order and without recompression, into <base>_split<N>.zip parts.
// Each part stays under 95% of ceiling unless a single entry is larger than that.
func SplitIfNeeded(path string, ceiling int64) ([]string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.Size() <= ceiling {
		return []string{path}, nil
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	base := strings.TrimSuffix(path, ".zip")
	budget := float64(ceiling) * 0.95

	var (
		parts []string
		group []*zip.File
		used  int64
	)
	flush := func() error {
		part := fmt.Sprintf("%s_split%d.zip", base, len(parts)+1)
		if err := copyEntries(group, part); err != nil {
			return err
		}
		parts = append(parts, part)
		group, used = nil, 0
		return nil
	}

	for _, entry := range r.File {
		cost := int64(entry.CompressedSize64) + splitEntryOverhead
		if float64(used+cost) > budget && len(group) > 0 {
			if err := flush(); err != nil {
				removeAll(parts)
				return nil, err
			}
		}
		group = append(group, entry)
		used += cost
	}
	if len(group) > 0 {
		if err := flush(); err != nil {
			removeAll(parts)
			return nil, err
		}
	}
	return parts, nil
}

func copyEntries(entries []*zip.File, out string) (err error) {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
		}
	}()

	zw := zip.NewWriter(f)
	for _, entry := range entries {
		if err := zw.Copy(entry); err != nil {
			return fmt.Errorf("copy entry %s: %w", entry.Name, err)
		}
	}
	return zw.Close()
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
