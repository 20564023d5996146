// Package cloudwriter buffers an object in memory and uploads it to object
// storage when closed.
package cloudwriter

import (
	"context"
)

type CloudWriter interface {
	Write(data []byte) (int, error)
	Close() error
}

type CloudWriterFactory interface {
	NewWriter(ctx context.Context, bucket, objectPath string) (CloudWriter, error)
}
