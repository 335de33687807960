package dump

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/yuxki/revdump/pkg/date"
)

// Default output file names.
const (
	RevocationsFileDefault = "revocations.csv"
	MetadataFileDefault    = "revocation_metadata.json"
)

// Record is the in-memory result of a completed download: every revoked
// identifier in server order plus the values of the last page received.
type Record struct {
	RevokedCerts  []string
	ValidDuration int64
	NextSince     string
}

// Metadata is the content of the metadata file. The field order is the
// order of the keys in the written JSON object.
type Metadata struct {
	ValidDuration int64  `json:"validDuration"`
	LastDownload  int64  `json:"lastDownload"`
	NextSince     string `json:"nextSince"`
}

// NewMetadata builds the metadata of rec with lastDownload taken from now.
func NewMetadata(rec Record, now date.Now) Metadata {
	return Metadata{
		ValidDuration: rec.ValidDuration,
		LastDownload:  date.EpochMillis(now()),
		NextSince:     rec.NextSince,
	}
}

// FormatRevocations joins ids with '\n'. There is no header row and no
// trailing newline after the last identifier.
func FormatRevocations(ids []string) []byte {
	return []byte(strings.Join(ids, "\n"))
}

// FileWriter writes a Record as the revocation list file and the metadata
// file.
type FileWriter struct {
	dir             string
	revocationsName string
	metadataName    string
	perm            os.FileMode
	now             date.Now
	logger          *zerolog.Logger
}

// FileWriterOption is type of an functional option for dump.FileWriter.
type FileWriterOption func(*FileWriter)

// WithNow replaces the clock used for lastDownload.
func WithNow(now date.Now) FileWriterOption {
	return func(w *FileWriter) {
		w.now = now
	}
}

// WithFileMode sets the permission bits of created files (default 0644).
func WithFileMode(perm os.FileMode) FileWriterOption {
	return func(w *FileWriter) {
		w.perm = perm
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) FileWriterOption {
	return func(w *FileWriter) {
		w.logger = logger
	}
}

// NewFileWriter creates a new instance of dump.FileWriter. Empty names fall
// back to RevocationsFileDefault and MetadataFileDefault, an empty dir to the
// working directory.
func NewFileWriter(dir, revocationsName, metadataName string, opts ...FileWriterOption) *FileWriter {
	if dir == "" {
		dir = "."
	}
	if revocationsName == "" {
		revocationsName = RevocationsFileDefault
	}
	if metadataName == "" {
		metadataName = MetadataFileDefault
	}

	nop := zerolog.Nop()
	w := &FileWriter{
		dir:             dir,
		revocationsName: revocationsName,
		metadataName:    metadataName,
		perm:            0o644,
		now:             date.NowGMT,
		logger:          &nop,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// RevocationsPath returns the path of the revocation list file.
func (w *FileWriter) RevocationsPath() string {
	return filepath.Join(w.dir, w.revocationsName)
}

// MetadataPath returns the path of the metadata file.
func (w *FileWriter) MetadataPath() string {
	return filepath.Join(w.dir, w.metadataName)
}

// Write writes the revocation list file, then the metadata file. The
// lastDownload of the metadata is taken after the list file is on disk and
// the written Metadata is returned so other sinks can reuse it.
func (w *FileWriter) Write(rec Record) (Metadata, error) {
	revPath := w.RevocationsPath()
	if err := os.WriteFile(revPath, FormatRevocations(rec.RevokedCerts), w.perm); err != nil {
		return Metadata{}, fmt.Errorf("could not write revocation list %s: %w", revPath, err)
	}
	w.logger.Debug().Str("file", revPath).Int("entries", len(rec.RevokedCerts)).Msg("Revocation list written.")

	meta := NewMetadata(rec, w.now)
	b, err := json.Marshal(meta)
	if err != nil {
		return Metadata{}, err
	}

	metaPath := w.MetadataPath()
	if err := os.WriteFile(metaPath, b, w.perm); err != nil {
		return Metadata{}, fmt.Errorf("could not write revocation metadata %s: %w", metaPath, err)
	}
	w.logger.Debug().Str("file", metaPath).Int64("last_download", meta.LastDownload).Msg("Revocation metadata written.")

	return meta, nil
}
