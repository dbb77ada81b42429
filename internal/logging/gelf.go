package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"
)

// DialGELF opens a UDP GELF writer to a Graylog input. An empty address
// disables the sink and returns nil.
func DialGELF(addr string) (*gelf.Writer, error) {
	if addr == "" {
		return nil, nil
	}
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("dial gelf %s: %w", addr, err)
	}
	return w, nil
}
