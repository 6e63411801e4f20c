package dcm2nii

import (
	"log"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/carbocation/pfx"
)

// ExpandHome expands ~ to its proper path, where appropriate. gs:// paths are
// returned untouched.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	usr, err := user.Current()
	if err != nil {
		log.Println(pfx.Err(err))
		return path
	}

	return filepath.Join(usr.HomeDir, path[2:])
}
