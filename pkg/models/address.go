package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/typedb/typedb-driver-go/pkg/constants"
)

// Address is a server endpoint in host:port form.
type Address string

// ParseAddress validates s and returns it as an Address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", constants.ErrInvalidAddress, s, err)
	}
	if host == "" {
		return "", fmt.Errorf("%w %q: missing host", constants.ErrInvalidAddress, s)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("%w %q: bad port %q", constants.ErrInvalidAddress, s, port)
	}
	return Address(net.JoinHostPort(host, port)), nil
}

func (a Address) String() string {
	return string(a)
}
