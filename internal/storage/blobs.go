package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore keeps raw document bytes and generated instance documents on
// disk. The database only holds locators.
type BlobStore struct {
	rawDir string
	outDir string
}

func NewBlobStore(rawDir, outDir string) (*BlobStore, error) {
	for _, dir := range []string{rawDir, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &BlobStore{rawDir: rawDir, outDir: outDir}, nil
}

func (b *BlobStore) SaveDocument(docID, fileName string, raw []byte) (string, error) {
	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = ".bin"
	}
	ref := filepath.Join(b.rawDir, docID+ext)
	if err := os.WriteFile(ref, raw, 0o644); err != nil {
		return "", err
	}
	return ref, nil
}

func (b *BlobStore) ReadBlob(ref string) ([]byte, error) {
	clean := filepath.Clean(ref)
	if !strings.HasPrefix(clean, filepath.Clean(b.rawDir)) && !strings.HasPrefix(clean, filepath.Clean(b.outDir)) {
		return nil, fmt.Errorf("blob ref outside store: %s", ref)
	}
	return os.ReadFile(clean)
}

func (b *BlobStore) SaveOutput(jobID string, data []byte) (string, error) {
	ref := filepath.Join(b.outDir, jobID+".xbrl.xml")
	if err := os.WriteFile(ref, data, 0o644); err != nil {
		return "", err
	}
	return ref, nil
}
