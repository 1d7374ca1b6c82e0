package workflows

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/PolarWolf314/whanau/internal/audit"
	"github.com/PolarWolf314/whanau/internal/codec"
)

// FilesOptions configures the file workflows.
type FilesOptions struct {
	// Family is a family id or name.
	Family string

	// Patterns are paths, directories or doublestar globs.
	Patterns []string

	// BaseDir resolves relative patterns. Defaults to the working directory.
	BaseDir string

	// DryRun reports what would be written without touching any file.
	DryRun bool
}

// FileResult pairs an input file with the file written for it.
type FileResult struct {
	Source string
	Output string

	// Type is the MIME type carried inside the encrypted envelope.
	Type string
	Size int
}

type FilesResult struct {
	FamilyID   string
	FamilyName string
	Files      []FileResult
	DryRun     bool
}

// EncryptFiles encrypts each file under the family key and writes it
// alongside the original with a .whanau extension. The file's MIME type
// travels inside the ciphertext; on disk every output is opaque.
//
// Nothing is written unless every file encrypts and every output is staged.
//
// Returns ErrNoFilesFound if no plain files match the patterns.
// Returns ErrFamilyKeyNotFound if the family key is not on this device.
func (r *Runtime) EncryptFiles(ctx context.Context, opts FilesOptions) (*FilesResult, error) {
	return r.runFiles(ctx, opts, false)
}

// DecryptFiles restores .whanau files next to themselves without the extension.
//
// Nothing is written unless every file authenticates and every output is staged.
//
// Returns ErrNotAuthenticated if the device has no saved session.
// Returns ErrNoFilesFound if no .whanau files match the patterns.
// Returns ErrDecryptionFailed if any file was tampered with or sealed under another key.
func (r *Runtime) DecryptFiles(ctx context.Context, opts FilesOptions) (*FilesResult, error) {
	if err := r.requireSession(); err != nil {
		return nil, err
	}
	return r.runFiles(ctx, opts, true)
}

func (r *Runtime) runFiles(ctx context.Context, opts FilesOptions, decrypt bool) (*FilesResult, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	familyID, m, err := r.resolveFamily(config, opts.Family)
	if err != nil {
		return nil, err
	}
	key, err := r.familyKey(familyID)
	if err != nil {
		return nil, err
	}

	baseDir := opts.BaseDir
	if baseDir == "" {
		if baseDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	paths, err := resolveFiles(opts.Patterns, baseDir, !decrypt)
	if err != nil {
		return nil, err
	}
	r.Log.Debugf("Resolved %d files", len(paths))

	blobs := make([]codec.Blob, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		blobs[i] = codec.Blob{Data: data, Type: codec.OctetStream}
		if !decrypt {
			blobs[i].Type = detectType(p, data)
		}
	}

	op, run := audit.OpEncrypt, codec.EncryptFiles
	if decrypt {
		op, run = audit.OpDecrypt, codec.DecryptFiles
	}
	out, err := run(ctx, blobs, key)
	if err != nil {
		return nil, err
	}

	result := &FilesResult{FamilyID: familyID, FamilyName: m.Name, DryRun: opts.DryRun}
	for i, p := range paths {
		target := p + SealedExt
		typ := blobs[i].Type
		if decrypt {
			target = strings.TrimSuffix(p, SealedExt)
			typ = out[i].Type
		}
		result.Files = append(result.Files, FileResult{Source: p, Output: target, Type: typ, Size: len(out[i].Data)})
	}
	if opts.DryRun {
		return result, nil
	}

	outputs := make([]string, len(result.Files))
	data := make([][]byte, len(result.Files))
	for i, f := range result.Files {
		outputs[i], data[i] = f.Output, out[i].Data
	}
	if err := writeAll(outputs, data); err != nil {
		return nil, err
	}

	rel := make([]string, len(paths))
	for i, p := range paths {
		rel[i] = relativeTo(baseDir, p)
	}
	r.audit(config, audit.Entry{Operation: op, FamilyID: familyID, FamilyName: m.Name, Files: rel})
	return result, nil
}

// writeAll stages every output beside its target and only renames them into
// place once all are written. A failed stage leaves no output behind.
func writeAll(paths []string, data [][]byte) error {
	staged := make([]string, 0, len(paths))
	defer func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}()

	for i, path := range paths {
		tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		staged = append(staged, tmp.Name())
		if _, err := tmp.Write(data[i]); err != nil {
			tmp.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	for i, path := range paths {
		if err := os.Rename(staged[i], path); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	staged = nil
	return nil
}

// detectType guesses a MIME type from the extension, then from the content.
func detectType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func relativeTo(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil {
		return rel
	}
	return path
}
