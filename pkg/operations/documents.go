package operations

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/habedi/docvault/client"
	"github.com/habedi/docvault/pkg/hasher"
	"github.com/habedi/docvault/pkg/pool"
	"github.com/rs/zerolog/log"
)

// DocumentAPI is the part of *client.API used by the document operations.
type DocumentAPI interface {
	GetDocument(ctx context.Context, id string) (*client.Document, error)
	DownloadDocument(ctx context.Context, id string, w io.Writer) (int64, error)
}

// FetchDocuments loads the metadata of several documents concurrently. Results
// are in the order of ids.
func FetchDocuments(ctx context.Context, api DocumentAPI, ids []string, threads int) []pool.Result[*client.Document] {
	return pool.Map(ctx, ids, threads, func(ctx context.Context, id string) (*client.Document, error) {
		return api.GetDocument(ctx, id)
	})
}

var unsafeChars = regexp.MustCompile(`[^\w.\- ]+`)

// SanitizeFileName makes a server-provided file name safe to create in a local directory.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if name == "" || name == "_" {
		return ""
	}
	return name
}

// DownloadToFile saves the file of doc into dir. Bytes are also written to
// progress when it is not nil. When the document carries a checksum the file is
// verified and removed on mismatch.
func DownloadToFile(ctx context.Context, api DocumentAPI, doc *client.Document, dir string, progress io.Writer) (string, error) {
	name := SanitizeFileName(doc.FileName)
	if name == "" {
		name = SanitizeFileName(doc.ID)
	}
	if name == "" {
		return "", fmt.Errorf("document %s has no usable file name", doc.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create file in %s: %w", dir, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	writers := []io.Writer{tmp}
	var verifier *hasher.Verifier
	if doc.Checksum != "" {
		if verifier, err = hasher.NewVerifier(doc.Checksum); err != nil {
			log.Warn().Err(err).Str("document", doc.ID).Msg("Ignoring unusable checksum")
		} else {
			writers = append(writers, verifier)
		}
	}
	if progress != nil {
		writers = append(writers, progress)
	}

	if _, err := api.DownloadDocument(ctx, doc.ID, io.MultiWriter(writers...)); err != nil {
		return "", err
	}
	if verifier != nil {
		if err := verifier.Verify(); err != nil {
			return "", fmt.Errorf("document %s: %w", doc.ID, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	target := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to move download into place: %w", err)
	}
	return target, nil
}
