package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/frobware/go-compressor"
	"github.com/frobware/go-compressor/config"
	"github.com/frobware/go-compressor/dataplane"
	"github.com/frobware/go-compressor/logging"
	"github.com/frobware/go-compressor/rules"
	"github.com/frobware/go-compressor/ruleset"
)

// Rules is the translated configuration: the interface to attach to and
// the two rule sets, in configuration order.
type Rules struct {
	Interface  string
	Services   *ruleset.Set[*compressor.ServiceDefinition]
	Forwarding *ruleset.Set[*compressor.ForwardingRule]

	// Skipped counts entries that did not parse and services whose
	// port and protocol repeat an earlier one.
	Skipped int
}

// BuildRules translates cfg. Unrecognised entries are logged at debug
// and skipped. The services map is keyed by port and protocol, so a
// service repeating an earlier key is skipped too and the set length
// always equals the number of map entries. A missing interface key and
// a full rule set are fatal.
func BuildRules(cfg *config.Config, logger *slog.Logger) (*Rules, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	name, err := cfg.InterfaceName()
	if err != nil {
		return nil, err
	}

	r := &Rules{
		Interface:  name,
		Services:   ruleset.New[*compressor.ServiceDefinition](rules.MaxServices),
		Forwarding: ruleset.New[*compressor.ForwardingRule](rules.MaxForwardingRules),
	}

	seen := make(map[dataplane.ServiceKey]string)
	for i, entry := range cfg.Services {
		s, ok := entry.(string)
		if !ok {
			logger.Debug("skipping service entry", "index", i, "reason", fmt.Sprintf("want string, got %T", entry))
			r.Skipped++
			continue
		}
		svc := rules.ParseService(s)
		if svc == nil {
			logger.Debug("skipping service entry", "index", i, "value", s, "reason", "not a recognisable service")
			r.Skipped++
			continue
		}
		key := dataplane.NewServiceKey(svc)
		if first, dup := seen[key]; dup {
			logger.Debug("skipping service entry", "index", i, "value", s, "reason", "same port and protocol as "+first)
			r.Skipped++
			continue
		}
		if err := r.Services.Append(svc); err != nil {
			return nil, capacityError("services", err)
		}
		seen[key] = svc.String()
		logger.Debug("added service", "index", i, "service", svc.String(), "protocol", svc.Protocol.String())
	}

	for i, entry := range cfg.Forwarding {
		group, ok := entry.(map[string]any)
		if !ok {
			logger.Debug("skipping forwarding entry", "index", i, "reason", fmt.Sprintf("want table, got %T", entry))
			r.Skipped++
			continue
		}
		rule := rules.ParseForwardingRule(group)
		if rule == nil {
			logger.Debug("skipping forwarding entry", "index", i, "reason", "not a recognisable forwarding rule")
			r.Skipped++
			continue
		}
		if err := r.Forwarding.Append(rule); err != nil {
			return nil, capacityError("forwarding rules", err)
		}
		logger.Debug("added forwarding rule", "index", i, "rule", rule.String())
	}

	return r, nil
}

func capacityError(what string, err error) error {
	if errors.Is(err, ruleset.ErrFull) {
		return &compressor.Error{Kind: compressor.KindCapacityExceeded, Err: fmt.Errorf("%s: %w", what, err)}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Release releases both sets and returns how many elements each held.
// It is safe to call more than once.
func (r *Rules) Release() (services, forwarding int) {
	return r.Services.Release(nil), r.Forwarding.Release(nil)
}
