//go:build unix

package classify

import "os"

func isExecutable(info os.FileInfo) bool {
	return info.Mode().Perm()&0o111 != 0
}
