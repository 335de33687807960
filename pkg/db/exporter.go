package db

import (
	"context"

	"github.com/yuxki/revdump/pkg/dump"
)

// Exporter mirrors a completed download into a database. It runs after the
// local files are written and receives the metadata that was written to
// disk.
type Exporter interface {
	Export(ctx context.Context, rec dump.Record, meta dump.Metadata) error
}
