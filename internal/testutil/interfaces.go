package testutil

import (
	"io"

	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// WriteCloser wraps io.WriteCloser for mock generation
type WriteCloser interface {
	io.WriteCloser
}

// BulkIndexer wraps esutil.BulkIndexer for mock generation
type BulkIndexer interface {
	esutil.BulkIndexer
}
