package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Subdirectories under the artifact root.
const (
	uploadsDir  = "uploads"
	cleanedDir  = "cleaned_audio"
	evidenceDir = "evidence"
)

// Artifacts stores bulky per-case files (audio, evidence photos) on the
// filesystem. Records reference artifacts by the returned paths.
type Artifacts struct {
	root string
}

// NewArtifacts creates the artifact directory layout under root.
func NewArtifacts(root string) (*Artifacts, error) {
	for _, dir := range []string{uploadsDir, cleanedDir, evidenceDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("store: create artifact dir %q: %w", dir, err)
		}
	}
	return &Artifacts{root: root}, nil
}

// SaveUpload writes the raw uploaded audio for caseID and returns its path.
// The original filename's extension is preserved; the name itself is replaced
// by the case ID so path traversal in client-supplied names is harmless.
func (a *Artifacts) SaveUpload(caseID, filename string, data []byte) (string, error) {
	ext := sanitizeExt(filepath.Ext(filename))
	path := filepath.Join(a.root, uploadsDir, caseID+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("store: save upload for %s: %w", caseID, err)
	}
	return path, nil
}

// SaveCleaned writes the normalized WAV for caseID and returns its path.
func (a *Artifacts) SaveCleaned(caseID string, wav []byte) (string, error) {
	path := filepath.Join(a.root, cleanedDir, caseID+"_cleaned.wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("store: save cleaned audio for %s: %w", caseID, err)
	}
	return path, nil
}

// SaveEvidence writes an evidence file for caseID and returns its path.
// Evidence keeps the client's base filename (sanitised) because a case can
// carry several evidence files.
func (a *Artifacts) SaveEvidence(caseID, filename string, data []byte) (string, error) {
	base := sanitizeName(filepath.Base(filename))
	if base == "" {
		base = "evidence"
	}
	path := filepath.Join(a.root, evidenceDir, caseID+"_"+base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("store: save evidence for %s: %w", caseID, err)
	}
	return path, nil
}

// ReadFile reads an artifact previously saved under the root. Paths outside
// the root are rejected. Symlinks are resolved before the containment check
// so a link under the root cannot point the read elsewhere.
func (a *Artifacts) ReadFile(path string) ([]byte, error) {
	abs, err := resolve(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve artifact path: %w", err)
	}
	rootAbs, err := resolve(a.root)
	if err != nil {
		return nil, fmt.Errorf("store: resolve artifact root: %w", err)
	}
	if !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return nil, fmt.Errorf("store: artifact path %q escapes the artifact root", path)
	}
	return os.ReadFile(abs)
}

// resolve makes path absolute with all symlinks evaluated.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// sanitizeExt keeps only simple alphanumeric extensions like ".wav" or ".mp3".
func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	for _, r := range ext[1:] {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
		if !ok {
			return ""
		}
	}
	return strings.ToLower(ext)
}

// sanitizeName strips every character outside [A-Za-z0-9._-] from a filename.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '.' || r == '_' || r == '-'
		if ok {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}
