package dcm2nii

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"google.golang.org/api/iterator"
)

const gsPrefix = "gs://"

// IsGoogleStoragePath reports whether path points into a bucket.
func IsGoogleStoragePath(path string) bool {
	return strings.HasPrefix(path, gsPrefix)
}

// SplitGoogleStoragePath splits gs://bucket/some/object into its bucket and
// object name.
func SplitGoogleStoragePath(path string) (bucket, object string, err error) {
	pathParts := strings.SplitN(strings.TrimPrefix(path, gsPrefix), "/", 2)
	if len(pathParts) != 2 || pathParts[0] == "" {
		return "", "", fmt.Errorf("Tried to split your google storage path into 2 parts, but got %d: %v", len(pathParts), pathParts)
	}

	return pathParts[0], pathParts[1], nil
}

// Open opens a local file or a gs:// object and reports its size. The caller
// owns the returned handle and must Close it. A missing file or object yields
// a *NotFoundError.
func Open(path string, client *storage.Client) (ReaderAtCloser, int64, error) {
	if IsGoogleStoragePath(path) {
		return openFromGoogleStorage(path, client)
	}

	path = ExpandHome(path)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, &NotFoundError{Path: path, Err: err}
	} else if err != nil {
		return nil, 0, err
	}

	fstat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	if fstat.IsDir() {
		f.Close()
		return nil, 0, &FileFormatError{Path: path, Reason: "is a directory"}
	}

	return f, fstat.Size(), nil
}

func openFromGoogleStorage(path string, client *storage.Client) (ReaderAtCloser, int64, error) {
	if client == nil {
		return nil, 0, pfx.Err(fmt.Errorf("%s: no storage client was configured for a gs:// path", path))
	}

	bucketName, pathName, err := SplitGoogleStoragePath(path)
	if err != nil {
		return nil, 0, pfx.Err(err)
	}

	wrappedHandle := &GSReaderAtCloser{
		ObjectHandle: client.Bucket(bucketName).Object(pathName),
		Context:      context.Background(),
	}

	// Make a hard call to get the filesize
	attrs, err := wrappedHandle.ObjectHandle.Attrs(wrappedHandle.Context)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, 0, &NotFoundError{Path: path, Err: err}
	} else if err != nil {
		return nil, 0, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	return wrappedHandle, attrs.Size, nil
}

// List returns the files directly inside dir, sorted by name. Subdirectories
// (and, for gs:// paths, deeper prefixes) are not descended into.
func List(dir string, client *storage.Client) ([]string, error) {
	if IsGoogleStoragePath(dir) {
		return listFromGoogleStorage(dir, client)
	}

	dir = ExpandHome(dir)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{Path: dir, Err: err}
	} else if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			if fi, statErr := os.Stat(dir); statErr == nil && !fi.IsDir() {
				return nil, &NotFoundError{Path: dir, Detail: "not a directory"}
			}
		}
		return nil, pfx.Err(err)
	}

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(out)

	return out, nil
}

func listFromGoogleStorage(dir string, client *storage.Client) ([]string, error) {
	if client == nil {
		return nil, pfx.Err(fmt.Errorf("%s: no storage client was configured for a gs:// path", dir))
	}

	bucketName, prefix, err := SplitGoogleStoragePath(strings.TrimSuffix(dir, "/") + "/")
	if err != nil {
		return nil, pfx.Err(err)
	}

	it := client.Bucket(bucketName).Objects(context.Background(), &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		} else if errors.Is(err, storage.ErrBucketNotExist) {
			return nil, &NotFoundError{Path: dir, Err: err}
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		// Synthetic "directory" entries only carry a Prefix.
		if attrs.Name == "" || attrs.Name == prefix {
			continue
		}

		out = append(out, gsPrefix+bucketName+"/"+attrs.Name)
	}

	if len(out) == 0 {
		return nil, &NotFoundError{Path: dir, Detail: "no objects under prefix"}
	}

	sort.Strings(out)

	return out, nil
}
