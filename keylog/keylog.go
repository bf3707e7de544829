// Package keylog wires TLS session secrets into an SSLKEYLOGFILE-format
// writer so captured traffic can be decrypted in Wireshark. The writer is
// process-global; connections pick it up when they handshake.
package keylog

import (
	"io"
	"os"
	"sync"
)

var (
	mu     sync.RWMutex
	writer io.Writer
)

func init() {
	if path := os.Getenv("SSLKEYLOGFILE"); path != "" {
		if f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600); err == nil {
			writer = f
		}
		// A bad path is ignored; key logging is a debug aid and must not
		// stop startup.
	}
}

// Writer returns the active key log writer, or nil when logging is off.
func Writer() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return writer
}

// SetFile points key logging at path, overriding SSLKEYLOGFILE. An empty
// path disables logging.
func SetFile(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := writer.(io.Closer); ok {
		c.Close()
	}
	writer = nil
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	writer = f
	return nil
}

// SetWriter installs a custom destination, e.g. a buffer in tests. Nil
// disables logging.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := writer.(io.Closer); ok {
		c.Close()
	}
	writer = w
}

// Close releases a file opened by this package.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	if c, ok := writer.(io.Closer); ok {
		err = c.Close()
	}
	writer = nil
	return err
}
