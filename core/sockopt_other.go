//go:build !unix

package core

import "syscall"

func controlListener(_, _ string, _ syscall.RawConn) error {
	return nil
}
