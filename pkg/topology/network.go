package topology

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// TierKind is the category of a subnet tier.
type TierKind string

const (
	TierPublic            TierKind = "public"
	TierPrivateWithEgress TierKind = "private-with-egress"
)

// MinSubnetPrefix is the smallest subnet allowed (/28, 16 addresses).
const MinSubnetPrefix = 28

// TierSpec declares one subnet tier, replicated in every availability zone.
type TierSpec struct {
	Name         string   `json:"name" yaml:"name"`
	Kind         TierKind `json:"kind" yaml:"kind"`
	PrefixLength int      `json:"prefixLength" yaml:"prefixLength"`
}

// PublicTier is the tier named "Public".
func PublicTier(prefixLength int) TierSpec {
	return TierSpec{Name: "Public", Kind: TierPublic, PrefixLength: prefixLength}
}

// PrivateTier is the tier named "Private" with outbound access through NAT.
func PrivateTier(prefixLength int) TierSpec {
	return TierSpec{Name: "Private", Kind: TierPrivateWithEgress, PrefixLength: prefixLength}
}

// Subnet is one carved block of a tier in one availability zone.
type Subnet struct {
	Name string       `json:"name"`
	Tier string       `json:"tier"`
	Kind TierKind     `json:"kind"`
	Zone int          `json:"zone"`
	CIDR netip.Prefix `json:"cidr"`
}

// Network is the address space of a topology. It is immutable once defined.
type Network struct {
	entityBase
	cidr    netip.Prefix
	maxAZs  int
	tiers   []TierSpec
	subnets []Subnet
}

// DefineNetwork declares the network and carves subnets for every tier.
// Tiers are carved in declaration order, zones ascending, each block aligned
// to its own size, so the layout depends only on the arguments.
func DefineNetwork(b *TopologyBuilder, name, cidr string, maxAZs int, tiers ...TierSpec) (*Network, error) {
	entity := StepID(KindNetwork, name)
	if err := b.checkOpen(entity); err != nil {
		return nil, err
	}

	if maxAZs < 1 {
		return nil, configErrorf(entity, "maxAZs", "must be at least 1, got %d", maxAZs)
	}

	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, configErrorf(entity, "cidr", "invalid CIDR block %q: %v", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return nil, configErrorf(entity, "cidr", "%q is not an IPv4 block", cidr)
	}
	if prefix.Masked() != prefix {
		return nil, configErrorf(entity, "cidr", "%q has host bits set (expected %s)", cidr, prefix.Masked())
	}

	if len(tiers) == 0 {
		return nil, configErrorf(entity, "tiers", "at least one subnet tier is required")
	}

	seenNames := make(map[string]bool)
	seenKinds := make(map[TierKind]bool)
	for _, tier := range tiers {
		if tier.Name == "" {
			return nil, configErrorf(entity, "tiers", "tier name must not be empty")
		}
		if tier.Kind != TierPublic && tier.Kind != TierPrivateWithEgress {
			return nil, configErrorf(entity, "tiers", "tier %q has unknown kind %q", tier.Name, tier.Kind)
		}
		if seenNames[tier.Name] || seenKinds[tier.Kind] {
			return nil, configErrorf(entity, "tiers", "tier %q (%s) is declared more than once", tier.Name, tier.Kind)
		}
		if tier.PrefixLength > MinSubnetPrefix {
			return nil, configErrorf(entity, "tiers", "tier %q prefix /%d is smaller than the /%d minimum", tier.Name, tier.PrefixLength, MinSubnetPrefix)
		}
		if tier.PrefixLength < prefix.Bits() {
			return nil, configErrorf(entity, "tiers", "tier %q prefix /%d is larger than the network /%d", tier.Name, tier.PrefixLength, prefix.Bits())
		}
		seenNames[tier.Name] = true
		seenKinds[tier.Kind] = true
	}

	subnets, err := carveSubnets(prefix, maxAZs, tiers)
	if err != nil {
		return nil, configErrorf(entity, "tiers", "%v", err)
	}

	network := &Network{
		entityBase: entityBase{id: b.nextID(), kind: KindNetwork, name: name},
		cidr:       prefix,
		maxAZs:     maxAZs,
		tiers:      append([]TierSpec(nil), tiers...),
		subnets:    subnets,
	}
	if err := b.register(network); err != nil {
		return nil, err
	}
	return network, nil
}

func carveSubnets(network netip.Prefix, zones int, tiers []TierSpec) ([]Subnet, error) {
	base := addrToUint(network.Addr())
	size := uint64(1) << (32 - network.Bits())

	var subnets []Subnet
	var cursor uint64
	for _, tier := range tiers {
		blockSize := uint64(1) << (32 - tier.PrefixLength)
		for zone := 0; zone < zones; zone++ {
			if rem := cursor % blockSize; rem != 0 {
				cursor += blockSize - rem
			}
			if cursor+blockSize > size {
				return nil, fmt.Errorf("subnets do not fit in %s: tier %q zone %d needs a /%d", network, tier.Name, zone, tier.PrefixLength)
			}

			addr := uintToAddr(uint32(uint64(base) + cursor))
			subnets = append(subnets, Subnet{
				Name: fmt.Sprintf("%sSubnet%d", tier.Name, zone+1),
				Tier: tier.Name,
				Kind: tier.Kind,
				Zone: zone,
				CIDR: netip.PrefixFrom(addr, tier.PrefixLength),
			})
			cursor += blockSize
		}
	}
	return subnets, nil
}

func addrToUint(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uintToAddr(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// CIDR returns the network block.
func (n *Network) CIDR() netip.Prefix { return n.cidr }

// MaxAZs returns the number of availability zones subnets are spread over.
func (n *Network) MaxAZs() int { return n.maxAZs }

// DNSSupport and DNSHostnames are always enabled.
func (n *Network) DNSSupport() bool   { return true }
func (n *Network) DNSHostnames() bool { return true }

// Tiers returns the tier specs in declaration order.
func (n *Network) Tiers() []TierSpec {
	return append([]TierSpec(nil), n.tiers...)
}

// HasTier reports whether a tier of the given kind is declared.
func (n *Network) HasTier(kind TierKind) bool {
	for _, tier := range n.tiers {
		if tier.Kind == kind {
			return true
		}
	}
	return false
}

// Subnets returns every carved subnet, tiers in declaration order.
func (n *Network) Subnets() []Subnet {
	return append([]Subnet(nil), n.subnets...)
}

// SubnetsOf returns the subnets of one tier ordered by zone index.
func SubnetsOf(network *Network, kind TierKind) []Subnet {
	if network == nil {
		return nil
	}
	var subnets []Subnet
	for _, subnet := range network.subnets {
		if subnet.Kind == kind {
			subnets = append(subnets, subnet)
		}
	}
	return subnets
}

func (n *Network) dependencies() []string { return nil }

func (n *Network) attributes() map[string]string {
	tiers := make([]string, 0, len(n.tiers))
	for _, tier := range n.tiers {
		tiers = append(tiers, fmt.Sprintf("%s:%s:/%d", tier.Name, tier.Kind, tier.PrefixLength))
	}
	subnets := make([]string, 0, len(n.subnets))
	for _, subnet := range n.subnets {
		subnets = append(subnets, subnet.Name+"="+subnet.CIDR.String())
	}
	return map[string]string{
		"cidr":          n.cidr.String(),
		"max_azs":       strconv.Itoa(n.maxAZs),
		"tiers":         strings.Join(tiers, ","),
		"subnets":       strings.Join(subnets, ","),
		"dns_support":   "true",
		"dns_hostnames": "true",
	}
}
