package cloudwriter

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go/source"
)

// ParquetFile lets a parquet writer stream into a CloudWriter. Object
// storage is write-once, so reads and seeks from the end are rejected.
type ParquetFile struct {
	cloudWriter CloudWriter
	offset      int64
}

var _ source.ParquetFile = (*ParquetFile)(nil)

func NewParquetFile(cloudWriter CloudWriter) *ParquetFile {
	return &ParquetFile{cloudWriter: cloudWriter}
}

func (c *ParquetFile) Open(name string) (source.ParquetFile, error) {
	return c, nil
}

func (c *ParquetFile) Create(name string) (source.ParquetFile, error) {
	return c, nil
}

func (c *ParquetFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		c.offset = offset
	case io.SeekCurrent:
		c.offset += offset
	default:
		return 0, fmt.Errorf("seek from end not supported for cloud storage")
	}
	return c.offset, nil
}

func (c *ParquetFile) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("read not supported for cloud storage")
}

func (c *ParquetFile) Write(p []byte) (int, error) {
	n, err := c.cloudWriter.Write(p)
	c.offset += int64(n)
	return n, err
}

func (c *ParquetFile) Close() error {
	return c.cloudWriter.Close()
}
