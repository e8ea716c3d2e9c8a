// Package netiface resolves the identity of the interface the
// dataplane attaches to: its kernel index and its hardware address.
//
// Both lookups are read-only queries against host state and are not
// retried.
package netiface

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/frobware/go-compressor"
	"github.com/frobware/go-compressor/logging"
)

// DefaultSysfsRoot is where the kernel exposes per-interface
// attributes.
const DefaultSysfsRoot = "/sys/class/net"

// Resolver looks up interfaces by name.
type Resolver struct {
	logger     *slog.Logger
	sysfsRoot  string
	linkByName func(name string) (netlink.Link, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logging.Component(logger, "netiface")
	}
}

// WithSysfsRoot reads hardware addresses from root instead of
// /sys/class/net.
func WithSysfsRoot(root string) Option {
	return func(r *Resolver) {
		r.sysfsRoot = root
	}
}

// WithLinkByName replaces the netlink lookup.
func WithLinkByName(fn func(name string) (netlink.Link, error)) Option {
	return func(r *Resolver) {
		r.linkByName = fn
	}
}

// New creates a Resolver backed by netlink and sysfs.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		logger:     logging.Discard(),
		sysfsRoot:  DefaultSysfsRoot,
		linkByName: netlink.LinkByName,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveIndex returns the kernel index of the named interface. It
// fails with KindInterfaceNotFound if no such interface exists.
func (r *Resolver) ResolveIndex(name string) (int, error) {
	link, err := r.linkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return 0, compressor.Errorf(compressor.KindInterfaceNotFound, "interface %q: %w", name, err)
		}
		return 0, compressor.Errorf(compressor.KindInterfaceNotFound, "look up interface %q: %w", name, err)
	}

	index := link.Attrs().Index
	if index == 0 {
		return 0, compressor.Errorf(compressor.KindInterfaceNotFound, "interface %q has no index", name)
	}
	return index, nil
}

// AddressPath returns the sysfs file holding name's hardware address.
func (r *Resolver) AddressPath(name string) string {
	return filepath.Join(r.sysfsRoot, name, "address")
}

// ReadHardwareAddress reads the interface's hardware address from
// sysfs. It fails with KindAddressUnavailable if the file cannot be
// opened or does not hold exactly six colon-separated hex octets.
func (r *Resolver) ReadHardwareAddress(name string) (net.HardwareAddr, error) {
	// Reject names that would escape the sysfs directory.
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, compressor.Errorf(compressor.KindAddressUnavailable, "invalid interface name %q", name)
	}

	path := r.AddressPath(name)
	f, err := os.Open(path)
	if err != nil {
		return nil, compressor.Errorf(compressor.KindAddressUnavailable, "read hardware address for %s: %w", name, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return nil, compressor.Errorf(compressor.KindAddressUnavailable, "read %s: %w", path, err)
	}

	hw, err := ParseHardwareAddr(strings.TrimSpace(line))
	if err != nil {
		return nil, compressor.Errorf(compressor.KindAddressUnavailable, "unable to read MAC address for interface %s: %w", name, err)
	}
	return hw, nil
}

// Resolve returns the identity snapshot for name.
func (r *Resolver) Resolve(name string) (*compressor.Identity, error) {
	index, err := r.ResolveIndex(name)
	if err != nil {
		return nil, err
	}

	hw, err := r.ReadHardwareAddress(name)
	if err != nil {
		return nil, err
	}

	id, err := compressor.NewIdentity(name, index, hw)
	if err != nil {
		return nil, compressor.Errorf(compressor.KindAddressUnavailable, "%w", err)
	}

	r.logger.Debug("resolved interface", "name", name, "ifindex", id.Index, "hwaddr", id.HardwareAddr.String())
	return id, nil
}

// ParseHardwareAddr parses exactly six colon-separated hexadecimal
// octets, each one or two digits ("0:11:22:33:44:5" is accepted, as
// sysfs writers are not uniform about padding).
func ParseHardwareAddr(s string) (net.HardwareAddr, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("%q: want 6 colon-separated octets, got %d", s, len(parts))
	}

	hw := make(net.HardwareAddr, 6)
	for i, part := range parts {
		if len(part) == 0 || len(part) > 2 {
			return nil, fmt.Errorf("%q: bad octet %q", s, part)
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%q: bad octet %q", s, part)
		}
		hw[i] = byte(v)
	}
	return hw, nil
}
