// Package guard holds the input checks applied at the edges of codementor:
// page identifiers, URLs handed to the fetcher, and files read for offline
// extraction.
package guard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// MaxFileSize caps saved pages read from disk.
const MaxFileSize int64 = 10 << 20

var (
	ErrUnsafeScheme = errors.New("guard: only http and https URLs are allowed")
	ErrPrivateHost  = errors.New("guard: URL targets a private or loopback address")
	ErrTooLarge     = errors.New("guard: input exceeds size limit")
)

// CheckScheme parses rawURL and requires an http(s) scheme and a host.
func CheckScheme(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("guard: invalid URL: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return nil, ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("guard: URL %q has no host", rawURL)
	}
	return u, nil
}

// ValidateURL is CheckScheme plus a refusal of hosts that are, or resolve
// to, loopback, link-local or private addresses. An unresolvable hostname
// passes; the fetch fails on its own.
func ValidateURL(rawURL string) error {
	u, err := CheckScheme(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()
	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivate(addr) {
			return ErrPrivateHost
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return ErrPrivateHost
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && isPrivate(addr) {
			return ErrPrivateHost
		}
	}
	return nil
}

// DialControl is a net.Dialer Control hook refusing connections to
// loopback, private or link-local addresses. address is the resolved
// ip:port about to be dialled.
func DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("guard: dial %s: %w", address, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("guard: dial %s: %w", address, err)
	}
	if isPrivate(addr) {
		return fmt.Errorf("%w: dial %s %s", ErrPrivateHost, network, address)
	}
	return nil
}

func isPrivate(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast() ||
		a.IsLinkLocalMulticast() || a.IsUnspecified()
}

// ValidateIdentifier accepts 1 to 128 characters from [A-Za-z0-9_.-].
func ValidateIdentifier(s string) error {
	if s == "" {
		return errors.New("guard: identifier must not be empty")
	}
	if len(s) > 128 {
		return errors.New("guard: identifier too long (max 128)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("guard: invalid character %q in identifier %q", r, s)
		}
	}
	return nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// ReadFile reads path, refusing files larger than MaxFileSize.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LimitedReadAll(f, MaxFileSize)
}
