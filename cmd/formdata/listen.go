package main

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
)

// listen opens a listener for addr. An addr starting with "unix://" is a
// Unix domain socket path; a stale socket file at that path is removed.
// Anything else is a TCP host:port.
func listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", addr)
}
