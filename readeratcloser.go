package dcm2nii

import "io"

// ReaderAtCloser is what Open hands back for both local files and objects in
// Google Storage.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}
