//go:build !linux

package policy

import "os"

func checkOwnership(st os.FileInfo) error {
	return nil
}
