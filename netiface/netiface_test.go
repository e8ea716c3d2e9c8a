package netiface_test

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"github.com/frobware/go-compressor"
	"github.com/frobware/go-compressor/netiface"
)

// fakeLinks stands in for netlink.LinkByName.
type fakeLinks map[string]int

func (f fakeLinks) linkByName(name string) (netlink.Link, error) {
	index, ok := f[name]
	if !ok {
		return nil, netlink.LinkNotFoundError{}
	}
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: name, Index: index}}, nil
}

func writeAddress(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "address"), []byte(content), 0o644))
}

func newResolver(t *testing.T, links fakeLinks) (*netiface.Resolver, string) {
	t.Helper()
	root := t.TempDir()
	return netiface.New(
		netiface.WithSysfsRoot(root),
		netiface.WithLinkByName(links.linkByName),
	), root
}

func TestResolve(t *testing.T) {
	r, root := newResolver(t, fakeLinks{"eth0": 2})
	writeAddress(t, root, "eth0", "00:11:22:33:44:55\n")

	id, err := r.Resolve("eth0")
	require.NoError(t, err)

	assert.Equal(t, "eth0", id.Name)
	assert.Equal(t, 2, id.Index)
	assert.Equal(t, net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, id.HardwareAddr)
	assert.Equal(t, [3]uint16{0x0011, 0x2233, 0x4455}, id.MACWords)
}

func TestResolve_Idempotent(t *testing.T) {
	r, root := newResolver(t, fakeLinks{"eth0": 2})
	writeAddress(t, root, "eth0", "de:ad:be:ef:00:01\n")

	first, err := r.Resolve("eth0")
	require.NoError(t, err)
	second, err := r.Resolve("eth0")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolveIndex_NotFound(t *testing.T) {
	r, _ := newResolver(t, fakeLinks{"eth0": 2, "ghost": 0})

	_, err := r.ResolveIndex("wlan9")
	require.Error(t, err)
	assert.Equal(t, compressor.KindInterfaceNotFound, compressor.KindOf(err))
	assert.Contains(t, err.Error(), `"wlan9"`)

	_, err = r.ResolveIndex("ghost")
	require.Error(t, err)
	assert.Equal(t, compressor.KindInterfaceNotFound, compressor.KindOf(err))
}

func TestResolveIndex_NetlinkFailure(t *testing.T) {
	r := netiface.New(netiface.WithLinkByName(func(string) (netlink.Link, error) {
		return nil, errors.New("operation not permitted")
	}))

	_, err := r.ResolveIndex("eth0")
	require.Error(t, err)
	assert.Equal(t, compressor.KindInterfaceNotFound, compressor.KindOf(err))
	assert.Contains(t, err.Error(), "operation not permitted")
}

func TestReadHardwareAddress_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		iface   string
		content *string
	}{
		{name: "missing file", iface: "eth0"},
		{name: "empty file", iface: "eth0", content: ptr("")},
		{name: "five octets", iface: "eth0", content: ptr("00:11:22:33:44\n")},
		{name: "seven octets", iface: "eth0", content: ptr("00:11:22:33:44:55:66\n")},
		{name: "not hex", iface: "eth0", content: ptr("00:11:22:33:44:zz\n")},
		{name: "infiniband length", iface: "ib0", content: ptr("80:00:02:08:fe:80:00:00:00:00:00:00:00:02:c9:03:00:00:0f:01\n")},
		{name: "path escape", iface: "../eth0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, root := newResolver(t, fakeLinks{tt.iface: 3})
			if tt.content != nil {
				writeAddress(t, root, tt.iface, *tt.content)
			}

			_, err := r.ReadHardwareAddress(tt.iface)
			require.Error(t, err)
			assert.Equal(t, compressor.KindAddressUnavailable, compressor.KindOf(err))
		})
	}
}

func TestResolve_AddressFailureAfterIndex(t *testing.T) {
	r, _ := newResolver(t, fakeLinks{"eth0": 2})

	_, err := r.Resolve("eth0")
	require.Error(t, err)
	assert.Equal(t, compressor.KindAddressUnavailable, compressor.KindOf(err))
}

func TestParseHardwareAddr(t *testing.T) {
	tests := []struct {
		input   string
		want    net.HardwareAddr
		wantErr bool
	}{
		{input: "00:11:22:33:44:55", want: net.HardwareAddr{0, 0x11, 0x22, 0x33, 0x44, 0x55}},
		{input: "AA:bb:CC:dd:EE:ff", want: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}},
		{input: "0:1:2:3:4:5", want: net.HardwareAddr{0, 1, 2, 3, 4, 5}},
		{input: "00-11-22-33-44-55", wantErr: true},
		{input: "0011.2233.4455", wantErr: true},
		{input: "00:11:22:33:44:555", wantErr: true},
		{input: "00:11::33:44:55", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			got, err := netiface.ParseHardwareAddr(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func ptr(s string) *string { return &s }
