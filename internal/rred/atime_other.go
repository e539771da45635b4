//go:build !linux

package rred

import (
	"os"
	"time"
)

func atime(fi os.FileInfo) time.Time {
	return fi.ModTime()
}
