// Package dataplane loads the compressor XDP object, populates its rule
// maps and attaches it to an interface.
//
// Attach either leaves the program running with every map populated or
// leaves no kernel state behind at all.
package dataplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/frobware/go-compressor"
	"github.com/frobware/go-compressor/bpffs"
	"github.com/frobware/go-compressor/logging"
	"github.com/frobware/go-compressor/ruleset"
)

// Mode selects how the XDP program is attached.
type Mode string

const (
	// ModeAuto lets the kernel pick driver mode if supported, generic
	// otherwise.
	ModeAuto    Mode = ""
	ModeGeneric Mode = "generic"
	ModeDriver  Mode = "driver"
	ModeOffload Mode = "offload"
)

// ParseMode parses an attach mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeGeneric, ModeDriver, ModeOffload:
		return m, nil
	default:
		return "", fmt.Errorf("unknown XDP attach mode %q (valid: generic, driver, offload)", s)
	}
}

// Flags returns the link flags for m.
func (m Mode) Flags() link.XDPAttachFlags {
	switch m {
	case ModeGeneric:
		return link.XDPGenericMode
	case ModeDriver:
		return link.XDPDriverMode
	case ModeOffload:
		return link.XDPOffloadMode
	default:
		return 0
	}
}

func (m Mode) String() string {
	if m == ModeAuto {
		return "auto"
	}
	return string(m)
}

// Loader attaches the XDP program. A Loader holds no kernel state;
// each Attach call returns a Handle that owns what it created.
type Loader struct {
	logger        *slog.Logger
	objectPath    string
	program       string
	mode          Mode
	pinDir        string
	mountInfoPath string
	loadSpec      func() (*ebpf.CollectionSpec, error)
	attachXDP     func(link.XDPOptions) (link.Link, error)
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logging.Component(logger, "dataplane")
	}
}

// WithObject sets the BPF ELF object and the XDP program inside it.
func WithObject(path, program string) Option {
	return func(l *Loader) {
		l.objectPath = path
		l.program = program
	}
}

// WithCollectionSpec replaces reading the object file. The program
// name set by WithObject still applies.
func WithCollectionSpec(fn func() (*ebpf.CollectionSpec, error)) Option {
	return func(l *Loader) {
		l.loadSpec = fn
	}
}

// WithMode sets the attach mode.
func WithMode(mode Mode) Option {
	return func(l *Loader) {
		l.mode = mode
	}
}

// WithPinDir pins the rule maps by name under dir, which must be on a
// mounted bpffs.
func WithPinDir(dir string) Option {
	return func(l *Loader) {
		l.pinDir = dir
	}
}

// WithMountInfo reads mounts from path instead of
// /proc/self/mountinfo.
func WithMountInfo(path string) Option {
	return func(l *Loader) {
		l.mountInfoPath = path
	}
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		logger:        logging.Discard(),
		mountInfoPath: bpffs.DefaultMountInfoPath,
		attachXDP:     link.AttachXDP,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.loadSpec == nil {
		path := l.objectPath
		l.loadSpec = func() (*ebpf.CollectionSpec, error) {
			return ebpf.LoadCollectionSpec(path)
		}
	}
	return l
}

// Attach loads the program, writes services, rules and the interface
// identity into its maps and attaches it to id's interface. The sets
// are only read; the caller keeps ownership.
func (l *Loader) Attach(ctx context.Context, services *ruleset.Set[*compressor.ServiceDefinition], rules *ruleset.Set[*compressor.ForwardingRule], id *compressor.Identity) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spec, err := l.loadSpec()
	if err != nil {
		return nil, fmt.Errorf("load collection spec from %s: %w", l.objectPath, err)
	}

	progSpec, ok := spec.Programs[l.program]
	if !ok {
		return nil, fmt.Errorf("program %q not found in %s", l.program, l.objectPath)
	}
	if progSpec.Type != ebpf.XDP {
		return nil, fmt.Errorf("program %q is %s, not XDP", l.program, progSpec.Type)
	}

	if err := CheckCapacity(spec, services.Len(), rules.Len()); err != nil {
		return nil, err
	}

	// Maps are pinned by hand after population, never at load time.
	for _, mapSpec := range spec.Maps {
		mapSpec.Pinning = ebpf.PinNone
	}

	if l.pinDir != "" {
		mnt, err := bpffs.Enclosing(l.mountInfoPath, l.pinDir)
		if err != nil {
			return nil, fmt.Errorf("check pin directory: %w", err)
		}
		if mnt == "" {
			return nil, fmt.Errorf("pin directory %s is not on a mounted bpffs", l.pinDir)
		}
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}

	h := &Handle{logger: l.logger, coll: coll}

	if err := l.populate(coll, services, rules, id); err != nil {
		h.Close()
		return nil, err
	}

	if l.pinDir != "" {
		if err := h.pin(l.pinDir); err != nil {
			h.Close()
			return nil, err
		}
	}

	prog := coll.Programs[l.program]
	lnk, err := l.attachXDP(link.XDPOptions{
		Program:   prog,
		Interface: id.Index,
		Flags:     l.mode.Flags(),
	})
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("attach XDP to %s (ifindex %d, mode %s): %w", id.Name, id.Index, l.mode, err)
	}
	h.link = lnk

	l.logger.Info("attached XDP program",
		"program", l.program,
		"interface", id.Name,
		"ifindex", id.Index,
		"mode", l.mode.String(),
		"services", services.Len(),
		"rules", rules.Len())

	return h, nil
}

func (l *Loader) populate(coll *ebpf.Collection, services *ruleset.Set[*compressor.ServiceDefinition], rules *ruleset.Set[*compressor.ForwardingRule], id *compressor.Identity) error {
	svcMap := coll.Maps[ServicesMap]
	for i, s := range services.All() {
		// A repeated key would overwrite the earlier entry and leave
		// num_services larger than the map.
		if err := svcMap.Update(NewServiceKey(s), ServiceValue{Index: uint32(i)}, ebpf.UpdateNoExist); err != nil {
			if errors.Is(err, ebpf.ErrKeyExist) {
				return fmt.Errorf("write service %s: duplicate port and protocol: %w", s, err)
			}
			return fmt.Errorf("write service %s: %w", s, err)
		}
		l.logger.Debug("wrote service", "index", i, "service", s.String(), "protocol", s.Protocol.String())
	}

	ruleMap := coll.Maps[RulesMap]
	for i, r := range rules.All() {
		if err := ruleMap.Put(uint32(i), NewRuleValue(r)); err != nil {
			return fmt.Errorf("write forwarding rule %d (%s): %w", i, r, err)
		}
		l.logger.Debug("wrote forwarding rule", "index", i, "rule", r.String())
	}

	cfg := NewConfigValue(id, services.Len(), rules.Len())
	if err := coll.Maps[ConfigMap].Put(uint32(0), cfg); err != nil {
		return fmt.Errorf("write %s map: %w", ConfigMap, err)
	}
	return nil
}

// CheckCapacity verifies that spec defines the three rule maps with the
// expected layout and room for the given number of entries.
func CheckCapacity(spec *ebpf.CollectionSpec, numServices, numRules int) error {
	checks := []struct {
		name      string
		typ       ebpf.MapType
		keySize   uint32
		valueSize uint32
		need      int
	}{
		{ServicesMap, ebpf.Hash, ServiceKeySize, ServiceValueSize, numServices},
		{RulesMap, ebpf.Array, RuleKeySize, RuleValueSize, numRules},
		{ConfigMap, ebpf.Array, ConfigKeySize, ConfigValueSize, 1},
	}

	for _, c := range checks {
		m, ok := spec.Maps[c.name]
		if !ok {
			return fmt.Errorf("map %q not found in collection", c.name)
		}
		if m.Type != c.typ {
			return fmt.Errorf("map %q is %s, want %s", c.name, m.Type, c.typ)
		}
		if m.KeySize != c.keySize || m.ValueSize != c.valueSize {
			return fmt.Errorf("map %q has key/value size %d/%d, want %d/%d",
				c.name, m.KeySize, m.ValueSize, c.keySize, c.valueSize)
		}
		if uint64(c.need) > uint64(m.MaxEntries) {
			return compressor.Errorf(compressor.KindCapacityExceeded,
				"map %q holds %d entries, %d required", c.name, m.MaxEntries, c.need)
		}
	}
	return nil
}

// Handle owns the loaded collection and the XDP link.
type Handle struct {
	logger *slog.Logger
	coll   *ebpf.Collection
	link   link.Link
	pinned []string
	closed bool
}

// pin pins the rule maps under dir. Pins made before a failure are
// removed by Close.
func (h *Handle) pin(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create pin directory: %w", err)
	}
	for _, name := range []string{ServicesMap, RulesMap, ConfigMap} {
		path := filepath.Join(dir, name)
		if err := h.coll.Maps[name].Pin(path); err != nil {
			return fmt.Errorf("pin map %q to %s: %w", name, path, err)
		}
		h.pinned = append(h.pinned, name)
		h.logger.Debug("pinned map", "name", name, "path", path)
	}
	return nil
}

// Map returns the named map, or nil.
func (h *Handle) Map(name string) *ebpf.Map {
	return h.coll.Maps[name]
}

// Close detaches the program, removes any map pins and releases the
// collection. Calling Close more than once is a no-op.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if h.link != nil {
		if err := h.link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("detach XDP program: %w", err))
		}
	}
	for i := len(h.pinned) - 1; i >= 0; i-- {
		name := h.pinned[i]
		if err := h.coll.Maps[name].Unpin(); err != nil {
			h.logger.Warn("failed to unpin map", "name", name, "error", err)
			errs = append(errs, fmt.Errorf("unpin map %q: %w", name, err))
		}
	}
	h.coll.Close()
	return errors.Join(errs...)
}
