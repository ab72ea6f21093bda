package remote

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the HTTPS port every station listens on unless told otherwise.
const DefaultPort = 10065

// ErrNoAddresses is returned when an operator request carries no usable address.
var ErrNoAddresses = errors.New("please set at least one remote sensor address")

// Address identifies one remote station. The zero value is not valid; use ParseAddress.
type Address struct {
	raw  string
	host string
	port int
}

// ParseAddress accepts "host", "host:port", "[v6]:port" and tolerates a leading
// scheme or trailing slash pasted from a browser.
func ParseAddress(s string) (Address, error) {
	raw := strings.TrimSpace(s)
	v := raw
	for _, prefix := range []string{"https://", "http://"} {
		v = strings.TrimPrefix(v, prefix)
	}
	v = strings.TrimSuffix(v, "/")
	if v == "" {
		return Address{}, fmt.Errorf("empty station address %q", s)
	}

	host, port := v, DefaultPort
	if h, p, err := net.SplitHostPort(v); err == nil {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n <= 0 || n > 65535 {
			return Address{}, fmt.Errorf("invalid port in station address %q", s)
		}
		host, port = h, n
	} else if strings.Count(v, ":") > 1 {
		// bare IPv6 without port
		host = strings.Trim(v, "[]")
	}

	if host == "" || strings.ContainsAny(host, " /?#@%") {
		return Address{}, fmt.Errorf("invalid host in station address %q", s)
	}

	return Address{raw: raw, host: strings.ToLower(host), port: port}, nil
}

// ParseAddresses parses an operator supplied list, skipping blank lines and
// dropping duplicates by normalized key. An empty result is ErrNoAddresses.
func ParseAddresses(list []string) ([]Address, error) {
	seen := make(map[string]struct{}, len(list))
	out := make([]Address, 0, len(list))

	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			continue
		}
		addr, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[addr.Key()]; dup {
			continue
		}
		seen[addr.Key()] = struct{}{}
		out = append(out, addr)
	}

	if len(out) == 0 {
		return nil, ErrNoAddresses
	}
	return out, nil
}

// MustParseAddress is ParseAddress for literals in tests and defaults.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Key is the normalized host:port used for equality and ordering.
func (a Address) Key() string {
	return net.JoinHostPort(a.host, strconv.Itoa(a.port))
}

func (a Address) String() string { return a.Key() }

// Raw returns the address as the operator typed it.
func (a Address) Raw() string { return a.raw }

func (a Address) Host() string { return a.host }

func (a Address) Port() int { return a.port }

// StationID is a short file-name-safe identifier: the last IPv4 octet or the
// first DNS label, with the port appended when it is not the default.
func (a Address) StationID() string {
	id := a.host
	if ip := net.ParseIP(a.host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			id = strconv.Itoa(int(v4[3]))
		} else {
			id = strings.ReplaceAll(a.host, ":", "-")
		}
	} else if i := strings.IndexByte(a.host, '.'); i > 0 {
		id = a.host[:i]
	}

	if a.port != DefaultPort {
		id += "-" + strconv.Itoa(a.port)
	}
	return sanitize(id)
}

// URL builds the command URL on this station.
func (a Address) URL(command string) string {
	return "https://" + a.Key() + "/" + strings.TrimPrefix(command, "/")
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
