package bootstrap_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-compressor"
	"github.com/frobware/go-compressor/bootstrap"
	"github.com/frobware/go-compressor/config"
	"github.com/frobware/go-compressor/netiface"
	"github.com/frobware/go-compressor/ruleset"
)

const e2eConfig = `
interface = "eth0"
services = ["tf2/27015"]

[[forwarding]]
match = "27015"
dest = "127.0.0.1:27016"
`

type closeCounter struct {
	closes int
	err    error
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.err
}

// recordingAttacher captures what it was handed; the sets are released
// after Attach returns, so they are copied here.
type recordingAttacher struct {
	calls    int
	services []*compressor.ServiceDefinition
	rules    []*compressor.ForwardingRule
	id       *compressor.Identity
	err      error
	closer   *closeCounter
}

func (a *recordingAttacher) Attach(_ context.Context, services *ruleset.Set[*compressor.ServiceDefinition], rules *ruleset.Set[*compressor.ForwardingRule], id *compressor.Identity) (io.Closer, error) {
	a.calls++
	a.services = services.Slice()
	a.rules = rules.Slice()
	a.id = id
	if a.err != nil {
		return nil, a.err
	}
	a.closer = &closeCounter{}
	return a.closer, nil
}

type countingResolver struct {
	calls int
	inner bootstrap.Resolver
}

func (r *countingResolver) Resolve(name string) (*compressor.Identity, error) {
	r.calls++
	return r.inner.Resolve(name)
}

// hostFixture fakes a host with a single eth0 interface.
func hostFixture(t *testing.T) *countingResolver {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "eth0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "address"), []byte("00:11:22:33:44:55\n"), 0o644))

	links := func(name string) (netlink.Link, error) {
		if name != "eth0" {
			return nil, netlink.LinkNotFoundError{}
		}
		return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: name, Index: 2}}, nil
	}

	return &countingResolver{inner: netiface.New(
		netiface.WithSysfsRoot(root),
		netiface.WithLinkByName(links),
	)}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compressor.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noMemlock() error { return nil }

func newBootstrapper(t *testing.T, content string, attacher bootstrap.Attacher, resolver bootstrap.Resolver) *bootstrap.Bootstrapper {
	t.Helper()
	return bootstrap.New(
		bootstrap.WithConfigPath(writeConfig(t, content)),
		bootstrap.WithMemlock(noMemlock),
		bootstrap.WithResolver(resolver),
		bootstrap.WithAttacher(attacher),
	)
}

func TestStart_EndToEnd(t *testing.T) {
	attacher := &recordingAttacher{}
	resolver := hostFixture(t)
	b := newBootstrapper(t, e2eConfig, attacher, resolver)

	sess, err := b.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bootstrap.StateRunning, b.State())

	assert.Equal(t, 1, attacher.calls)
	require.Len(t, attacher.services, 1)
	assert.Equal(t, &compressor.ServiceDefinition{Name: "tf2", Protocol: compressor.ProtocolUDP, Port: 27015}, attacher.services[0])
	require.Len(t, attacher.rules, 1)
	assert.Equal(t, &compressor.ForwardingRule{
		MatchPort:   27015,
		Destination: netip.MustParseAddrPort("127.0.0.1:27016"),
	}, attacher.rules[0])

	require.NotNil(t, attacher.id)
	assert.Equal(t, 2, attacher.id.Index)
	assert.Equal(t, [3]uint16{0x0011, 0x2233, 0x4455}, attacher.id.MACWords)

	assert.Equal(t, 1, sess.Services)
	assert.Equal(t, 1, sess.ForwardingRules)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sess.Wait(ctx))
	assert.Equal(t, 1, attacher.closer.closes)

	require.NoError(t, sess.Close())
	assert.Equal(t, 1, attacher.closer.closes)
	assert.Equal(t, 0, compressor.ExitCode(err))
}

func TestStart_OrderAndMalformedEntries(t *testing.T) {
	attacher := &recordingAttacher{}
	b := newBootstrapper(t, `
interface = "eth0"
services = ["tf2/27015", 42, "bogus", "udp/27016", "tcp/0", "Csgo/1", "csgo/27017"]
forwarding = [
  { match = "1000", dest = "10.0.0.1:2000" },
  "not a table",
  { match = "1001" },
  { match = 1002, dest = "[::1]:2002" },
  { match = 1003, dest = "10.0.0.3:2003" },
]
`, attacher, hostFixture(t))

	_, err := b.Start(context.Background())
	require.NoError(t, err)

	var services []string
	for _, s := range attacher.services {
		services = append(services, s.String())
	}
	assert.Equal(t, []string{"tf2/27015", "udp/27016", "csgo/27017"}, services)

	var matches []uint16
	for _, r := range attacher.rules {
		matches = append(matches, r.MatchPort)
	}
	assert.Equal(t, []uint16{1000, 1003}, matches)
}

func TestStart_EmptyRuleSets(t *testing.T) {
	attacher := &recordingAttacher{}
	b := newBootstrapper(t, "interface = \"eth0\"\n", attacher, hostFixture(t))

	sess, err := b.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, attacher.calls)
	assert.Empty(t, attacher.services)
	assert.Empty(t, attacher.rules)
	assert.Zero(t, sess.Services)
}

func TestStart_AttachFailurePropagatesStatus(t *testing.T) {
	attacher := &recordingAttacher{err: fmt.Errorf("attach XDP to eth0: %w", unix.ENODEV)}
	b := newBootstrapper(t, e2eConfig, attacher, hostFixture(t))

	sess, err := b.Start(context.Background())
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, bootstrap.StateAborted, b.State())
	assert.Equal(t, compressor.KindAttachmentFailed, compressor.KindOf(err))
	assert.Equal(t, int(unix.ENODEV), compressor.ExitCode(err))
	assert.Equal(t, 1, attacher.calls)
}

func TestStart_AttachFailureWithoutErrno(t *testing.T) {
	attacher := &recordingAttacher{err: errors.New("verifier rejected program")}
	b := newBootstrapper(t, e2eConfig, attacher, hostFixture(t))

	_, err := b.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, compressor.ExitCode(err))
}

func TestStart_MissingInterfaceKey(t *testing.T) {
	attacher := &recordingAttacher{}
	resolver := hostFixture(t)
	b := newBootstrapper(t, "services = [\"tf2/27015\"]\n", attacher, resolver)

	_, err := b.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, compressor.KindInterfaceKeyMissing, compressor.KindOf(err))
	assert.Equal(t, 1, compressor.ExitCode(err))
	assert.Contains(t, err.Error(), `"interface"`)
	assert.Zero(t, attacher.calls)
	assert.Zero(t, resolver.calls)
	assert.Equal(t, bootstrap.StateAborted, b.State())
}

func TestStart_Failures(t *testing.T) {
	tests := []struct {
		name    string
		memlock func() error
		content string
		path    string
		want    compressor.Kind
	}{
		{
			name:    "memlock denied",
			memlock: func() error { return unix.EPERM },
			content: e2eConfig,
			want:    compressor.KindResourceLimitDenied,
		},
		{
			name: "config missing",
			path: "/nonexistent/compressor.toml",
			want: compressor.KindConfigUnavailable,
		},
		{
			name:    "config malformed",
			content: "interface = [\n",
			want:    compressor.KindConfigMalformed,
		},
		{
			name:    "interface not found",
			content: "interface = \"eth9\"\n",
			want:    compressor.KindInterfaceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = writeConfig(t, tt.content)
			}
			memlock := tt.memlock
			if memlock == nil {
				memlock = noMemlock
			}
			attacher := &recordingAttacher{}

			b := bootstrap.New(
				bootstrap.WithConfigPath(path),
				bootstrap.WithMemlock(memlock),
				bootstrap.WithResolver(hostFixture(t)),
				bootstrap.WithAttacher(attacher),
			)

			_, err := b.Start(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.want, compressor.KindOf(err))
			assert.Equal(t, 1, compressor.ExitCode(err))
			assert.Zero(t, attacher.calls)
			assert.Equal(t, bootstrap.StateAborted, b.State())
		})
	}
}

func TestStart_ResolverErrorsAreTagged(t *testing.T) {
	resolver := &countingResolver{inner: resolverFunc(func(string) (*compressor.Identity, error) {
		return nil, errors.New("netlink socket closed")
	})}
	b := newBootstrapper(t, e2eConfig, &recordingAttacher{}, resolver)

	_, err := b.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, compressor.KindInterfaceNotFound, compressor.KindOf(err))
}

func TestStart_OnlyOnce(t *testing.T) {
	b := newBootstrapper(t, e2eConfig, &recordingAttacher{}, hostFixture(t))
	_, err := b.Start(context.Background())
	require.NoError(t, err)

	assert.True(t, b.State().Terminal())

	_, err = b.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already run")
	assert.Equal(t, bootstrap.StateRunning, b.State())
}

func TestStart_NotRepeatedAfterAbort(t *testing.T) {
	b := newBootstrapper(t, "services = []\n", &recordingAttacher{}, hostFixture(t))
	_, err := b.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, bootstrap.StateAborted, b.State())

	_, err = b.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already run (state aborted)")
}

func TestDataplaneAttacher_FailureReturnsNilCloser(t *testing.T) {
	a, err := bootstrap.DataplaneAttacher(config.DataplaneConfig{
		Object:  filepath.Join(t.TempDir(), "missing.o"),
		Program: "xdp_compressor",
	}, nil)
	require.NoError(t, err)

	services := ruleset.New[*compressor.ServiceDefinition](1)
	rules := ruleset.New[*compressor.ForwardingRule](1)
	id, err := compressor.NewIdentity("eth0", 2, net.HardwareAddr{0, 1, 2, 3, 4, 5})
	require.NoError(t, err)

	closer, err := a.Attach(context.Background(), services, rules, id)
	require.Error(t, err)
	assert.True(t, closer == nil, "closer must be an untyped nil, got %#v", closer)
}

func TestSession_CloseError(t *testing.T) {
	attacher := &recordingAttacher{}
	b := newBootstrapper(t, e2eConfig, attacher, hostFixture(t))
	sess, err := b.Start(context.Background())
	require.NoError(t, err)

	attacher.closer.err = errors.New("link busy")
	err = sess.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detach dataplane")
}

func TestState_String(t *testing.T) {
	states := []bootstrap.State{
		bootstrap.StateStart,
		bootstrap.StateResourcesPrepared,
		bootstrap.StateConfigLoaded,
		bootstrap.StateRulesBuilt,
		bootstrap.StateIdentityResolved,
		bootstrap.StateAttached,
		bootstrap.StateRunning,
		bootstrap.StateAborted,
	}
	seen := map[string]bool{}
	for _, s := range states {
		name := s.String()
		assert.NotEqual(t, "unknown", name)
		assert.False(t, seen[name], "duplicate name %q", name)
		seen[name] = true
	}
	assert.True(t, bootstrap.StateAborted.Terminal())
	assert.True(t, bootstrap.StateRunning.Terminal())
	assert.False(t, bootstrap.StateAttached.Terminal())
	assert.False(t, bootstrap.StateStart.Terminal())
}

type resolverFunc func(string) (*compressor.Identity, error)

func (f resolverFunc) Resolve(name string) (*compressor.Identity, error) { return f(name) }
