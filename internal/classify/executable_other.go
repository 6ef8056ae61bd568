//go:build !unix

package classify

import "os"

func isExecutable(info os.FileInfo) bool {
	return true
}
