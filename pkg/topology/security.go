package topology

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

// Protocol is an IP protocol accepted by an ingress rule.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolICMP Protocol = "icmp"
	ProtocolAll  Protocol = "-1"
)

func (p Protocol) valid() bool {
	switch p {
	case ProtocolTCP, ProtocolUDP, ProtocolICMP, ProtocolAll:
		return true
	}
	return false
}

// AnyIPv4CIDR is the "any IPv4 address" block.
const AnyIPv4CIDR = "0.0.0.0/0"

// PortRange is an inclusive range of ports.
type PortRange struct {
	From int `json:"from" yaml:"from"`
	To   int `json:"to" yaml:"to"`
}

// Port is a range of exactly one port.
func Port(port int) PortRange {
	return PortRange{From: port, To: port}
}

// Ports is the inclusive range from..to.
func Ports(from, to int) PortRange {
	return PortRange{From: from, To: to}
}

// Contains reports whether port lies in the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.From && port <= r.To
}

func (r PortRange) String() string {
	if r.From == r.To {
		return strconv.Itoa(r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Source is where permitted traffic comes from: an IPv4 block or another
// security policy, referenced by name.
type Source struct {
	cidr   string
	policy string
}

// AnyIPv4 admits traffic from any IPv4 address.
func AnyIPv4() Source {
	return Source{cidr: AnyIPv4CIDR}
}

// CIDRSource admits traffic from one IPv4 block.
func CIDRSource(block string) Source {
	return Source{cidr: block}
}

// PolicyRef admits traffic from resources secured by the named policy. The
// policy may be declared later in the same builder.
func PolicyRef(name string) Source {
	return Source{policy: name}
}

// PolicySource admits traffic from resources secured by p.
func PolicySource(p *SecurityPolicy) Source {
	return PolicyRef(p.Name())
}

// IsPolicy reports whether the source is a policy reference.
func (s Source) IsPolicy() bool { return s.policy != "" }

// PolicyName is the referenced policy, empty for address sources.
func (s Source) PolicyName() string { return s.policy }

// CIDR is the address block, empty for policy sources.
func (s Source) CIDR() string { return s.cidr }

// IsAnyIPv4 reports whether the source is the whole IPv4 space.
func (s Source) IsAnyIPv4() bool { return s.cidr == AnyIPv4CIDR }

func (s Source) String() string {
	if s.IsPolicy() {
		return "policy:" + s.policy
	}
	return s.cidr
}

// IngressRule permits inbound traffic.
type IngressRule struct {
	Source      Source
	Protocol    Protocol
	Ports       PortRange
	Description string
}

func (r IngressRule) identity() string {
	return fmt.Sprintf("%s/%s/%s", r.Source, r.Protocol, r.Ports)
}

func (r IngressRule) String() string {
	return fmt.Sprintf("%s %s from %s", r.Protocol, r.Ports, r.Source)
}

// SecurityPolicy is a named set of traffic rules attachable to instances and
// load balancers. Rules are append-only until the policy is attached.
type SecurityPolicy struct {
	entityBase
	network          *Network
	description      string
	allowAllOutbound bool
	rules            []IngressRule
	frozen           bool
	attachments      []string
}

// DefineSecurityPolicy declares a policy on a network.
func DefineSecurityPolicy(b *TopologyBuilder, name string, network *Network, description string, allowAllOutbound bool) (*SecurityPolicy, error) {
	entity := StepID(KindSecurityPolicy, name)
	if err := b.checkOpen(entity); err != nil {
		return nil, err
	}
	if network == nil {
		return nil, configErrorf(entity, "network", "is required")
	}
	if err := b.requireOwned(entity, "network", network); err != nil {
		return nil, err
	}
	if description == "" {
		return nil, configErrorf(entity, "description", "must not be empty")
	}

	policy := &SecurityPolicy{
		entityBase:       entityBase{id: b.nextID(), kind: KindSecurityPolicy, name: name},
		network:          network,
		description:      description,
		allowAllOutbound: allowAllOutbound,
	}
	if err := b.register(policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// AddIngressRule appends a rule to an unfrozen policy. A rule with the same
// source, protocol and ports as an existing one is a no-op.
func AddIngressRule(b *TopologyBuilder, policy *SecurityPolicy, source Source, protocol Protocol, ports PortRange, description string) error {
	if policy == nil {
		return configErrorf(string(KindSecurityPolicy), "policy", "is required")
	}
	entity := policy.Key()
	if err := b.checkOpen(entity); err != nil {
		return err
	}
	if err := b.requireOwned(entity, "policy", policy); err != nil {
		return err
	}
	if policy.frozen {
		return configErrorf(entity, "rules", "policy is attached to %s and can no longer change", strings.Join(policy.attachments, ", "))
	}

	if !protocol.valid() {
		return configErrorf(entity, "protocol", "unknown protocol %q", protocol)
	}
	if ports.From < 0 || ports.From > 65535 || ports.To < 0 || ports.To > 65535 {
		return configErrorf(entity, "port", "%s is outside [0, 65535]", ports)
	}
	if ports.From > ports.To {
		return configErrorf(entity, "port", "range %d-%d is inverted", ports.From, ports.To)
	}

	switch {
	case source.IsPolicy():
		if ref, ok := b.policy(source.PolicyName()); ok && ref.network != policy.network {
			return configErrorf(entity, "source", "policy %q belongs to network %q, not %q", ref.Name(), ref.network.Name(), policy.network.Name())
		}
	case source.CIDR() != "":
		block, err := netip.ParsePrefix(source.CIDR())
		if err != nil || !block.Addr().Is4() {
			return configErrorf(entity, "source", "invalid IPv4 block %q", source.CIDR())
		}
	default:
		return configErrorf(entity, "source", "is required")
	}

	rule := IngressRule{Source: source, Protocol: protocol, Ports: ports, Description: description}
	for _, existing := range policy.rules {
		if existing.identity() == rule.identity() {
			return nil
		}
	}
	policy.rules = append(policy.rules, rule)
	return nil
}

// Network returns the owning network.
func (p *SecurityPolicy) Network() *Network { return p.network }

// Description returns the human-readable description.
func (p *SecurityPolicy) Description() string { return p.description }

// AllowAllOutbound reports the default egress behaviour.
func (p *SecurityPolicy) AllowAllOutbound() bool { return p.allowAllOutbound }

// Rules returns the ingress rules in the order they were added.
func (p *SecurityPolicy) Rules() []IngressRule {
	return append([]IngressRule(nil), p.rules...)
}

// Frozen reports whether the policy has been attached or finalized.
func (p *SecurityPolicy) Frozen() bool { return p.frozen }

// AttachedTo lists the step ids of resources secured by the policy.
func (p *SecurityPolicy) AttachedTo() []string {
	return append([]string(nil), p.attachments...)
}

// Admits returns the rules that permit protocol traffic on port.
func (p *SecurityPolicy) Admits(protocol Protocol, port int) []IngressRule {
	var matching []IngressRule
	for _, rule := range p.rules {
		if (rule.Protocol == protocol || rule.Protocol == ProtocolAll) && rule.Ports.Contains(port) {
			matching = append(matching, rule)
		}
	}
	return matching
}

func (p *SecurityPolicy) attach(resource string) {
	p.frozen = true
	p.attachments = append(p.attachments, resource)
}

func (p *SecurityPolicy) dependencies() []string {
	deps := []string{p.network.Key()}
	for _, rule := range p.rules {
		if rule.Source.IsPolicy() {
			deps = append(deps, StepID(KindSecurityPolicy, rule.Source.PolicyName()))
		}
	}
	return deps
}

func (p *SecurityPolicy) attributes() map[string]string {
	rules := make([]string, 0, len(p.rules))
	for _, rule := range p.rules {
		rules = append(rules, rule.String())
	}
	sort.Strings(rules)
	return map[string]string{
		"network":            p.network.Key(),
		"description":        p.description,
		"allow_all_outbound": strconv.FormatBool(p.allowAllOutbound),
		"ingress":            strings.Join(rules, "; "),
	}
}
