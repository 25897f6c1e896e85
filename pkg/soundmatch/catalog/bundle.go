package catalog

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/utils"
)

const importedSuffix = " (imported)"

// Export copies catalog id into destDir as a self-contained bundle directory
// and returns the bundle path. The bundle is named after the catalog id; if
// that name is taken a timestamp is appended, so repeated exports to one
// destination never overwrite each other.
func (s *Store) Export(id, destDir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readMeta(id); err != nil {
		return "", err
	}
	if err := utils.MakeDir(destDir); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrImportExportFailed, err)
	}
	bundle := filepath.Join(destDir, id)
	if _, err := os.Stat(bundle); err == nil {
		bundle += "-" + s.now().Format("20060102T150405.000")
	}
	if err := utils.CopyDir(s.dir(id), bundle); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrImportExportFailed, err)
	}
	s.log.Infof("Exported catalog %s to %s", id, bundle)
	return bundle, nil
}

// Import copies a bundle directory into the store under a fresh id, marks it
// imported, and recomputes its counts from the bundled item index.
func (s *Store) Import(srcDir string) (models.CatalogMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importDir(srcDir)
}

func (s *Store) importDir(srcDir string) (models.CatalogMetadata, error) {
	var meta models.CatalogMetadata
	if err := readJSON(filepath.Join(srcDir, metadataFile), &meta); err != nil {
		return meta, fmt.Errorf("%w: reading bundle metadata: %v", models.ErrImportExportFailed, err)
	}
	var items []models.CatalogEntry
	if err := readJSON(filepath.Join(srcDir, itemsFile), &items); err != nil {
		return meta, fmt.Errorf("%w: reading bundle items: %v", models.ErrImportExportFailed, err)
	}
	if !utils.DirExists(filepath.Join(srcDir, signaturesDir)) {
		return meta, fmt.Errorf("%w: bundle has no %s directory", models.ErrImportExportFailed, signaturesDir)
	}

	meta.ID = utils.GenerateUUID()
	dst := s.dir(meta.ID)
	if err := utils.CopyDir(srcDir, dst); err != nil {
		utils.DeleteDir(dst)
		return meta, fmt.Errorf("%w: %v", models.ErrImportExportFailed, err)
	}

	now := s.now()
	if !strings.HasSuffix(meta.Name, importedSuffix) {
		meta.Name += importedSuffix
	}
	meta.Imported = true
	meta.ImportedAt = &now
	meta.Version = LayoutVersion
	meta = withCounts(meta, items)
	meta.ModifiedAt = now
	if err := writeJSON(filepath.Join(dst, metadataFile), meta); err != nil {
		utils.DeleteDir(dst)
		return meta, fmt.Errorf("%w: %v", models.ErrImportExportFailed, err)
	}

	s.log.Infof("Imported catalog %q as %s (%d items)", meta.Name, meta.ID, meta.ItemCount)
	return meta, nil
}

// ExportArchive writes catalog id to w as an xz-compressed tar stream.
func (s *Store) ExportArchive(id string, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readMeta(id); err != nil {
		return err
	}

	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrImportExportFailed, err)
	}
	tw := tar.NewWriter(xw)

	root := s.dir(id)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return fmt.Errorf("%w: %v", models.ErrImportExportFailed, walkErr)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrImportExportFailed, err)
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrImportExportFailed, err)
	}
	return nil
}

// ImportArchive unpacks an archive produced by ExportArchive and imports it.
func (s *Store) ImportArchive(r io.Reader) (models.CatalogMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staging, err := os.MkdirTemp(s.root, ".import-")
	if err != nil {
		return models.CatalogMetadata{}, fmt.Errorf("%w: %v", models.ErrImportExportFailed, err)
	}
	defer utils.DeleteDir(staging)

	if err := extractArchive(r, staging); err != nil {
		return models.CatalogMetadata{}, fmt.Errorf("%w: %v", models.ErrImportExportFailed, err)
	}
	return s.importDir(staging)
}

func extractArchive(r io.Reader, dst string) error {
	xr, err := xz.NewReader(r)
	if err != nil {
		return err
	}
	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		name := filepath.Clean(filepath.FromSlash(hdr.Name))
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes the bundle", hdr.Name)
		}
		target := filepath.Join(dst, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := utils.MakeDir(target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := utils.MakeDir(filepath.Dir(target)); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
