package dcm2nii

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// GSReaderAtCloser decorates a Google Storage object handle with ReadAt and
// Close so that a DICOM in a bucket can be consumed like a local file.
type GSReaderAtCloser struct {
	*storage.ObjectHandle
	Context context.Context
}

// ReadAt satisfies io.ReaderAt. Note that this is dependent upon making p a
// buffer of the desired length to be read by NewRangeReader. A range reader
// may return fewer bytes per call, so the range is drained with ReadFull.
func (o *GSReaderAtCloser) ReadAt(p []byte, offset int64) (n int, err error) {
	rdr, err := o.NewRangeReader(o.Context, offset, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rdr.Close()

	return io.ReadFull(rdr, p)
}

// Satisfies io.Closer. Every ReadAt closes its own range reader, so this is a
// nop.
func (o *GSReaderAtCloser) Close() error {
	return nil
}
