package topology

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// InstanceSpec is the declaration of a compute instance.
type InstanceSpec struct {
	Name      string
	Network   *Network
	Tier      TierKind
	SizeClass string
	Image     string
	Policy    *SecurityPolicy
	// Bootstrap is handed to the instance verbatim at creation.
	Bootstrap []byte
	// Credential names the key pair used for remote administration.
	Credential string
}

// ComputeInstance is a virtual machine placed in one tier of a network.
type ComputeInstance struct {
	entityBase
	network        *Network
	tier           TierKind
	sizeClass      string
	image          string
	policy         *SecurityPolicy
	bootstrap      []byte
	credential     string
	privateAddress *Deferred[string]
}

// DefineInstance declares an instance and attaches its security policy,
// freezing the policy's rules.
func DefineInstance(b *TopologyBuilder, spec InstanceSpec) (*ComputeInstance, error) {
	entity := StepID(KindInstance, spec.Name)
	if err := b.checkOpen(entity); err != nil {
		return nil, err
	}

	if spec.Network == nil {
		return nil, configErrorf(entity, "network", "is required")
	}
	if err := b.requireOwned(entity, "network", spec.Network); err != nil {
		return nil, err
	}
	if !spec.Network.HasTier(spec.Tier) {
		return nil, configErrorf(entity, "tier", "network %q has no %q tier", spec.Network.Name(), spec.Tier)
	}
	if spec.SizeClass == "" {
		return nil, configErrorf(entity, "sizeClass", "must not be empty")
	}
	if spec.Image == "" {
		return nil, configErrorf(entity, "image", "must not be empty")
	}
	if spec.Credential == "" {
		return nil, configErrorf(entity, "credential", "an access credential reference is required")
	}
	if spec.Policy == nil {
		return nil, configErrorf(entity, "policy", "is required")
	}
	if err := b.requireOwned(entity, "policy", spec.Policy); err != nil {
		return nil, err
	}
	if spec.Policy.network != spec.Network {
		return nil, configErrorf(entity, "policy", "policy %q belongs to network %q", spec.Policy.Name(), spec.Policy.network.Name())
	}

	instance := &ComputeInstance{
		entityBase:     entityBase{id: b.nextID(), kind: KindInstance, name: spec.Name},
		network:        spec.Network,
		tier:           spec.Tier,
		sizeClass:      spec.SizeClass,
		image:          spec.Image,
		policy:         spec.Policy,
		bootstrap:      append([]byte(nil), spec.Bootstrap...),
		credential:     spec.Credential,
		privateAddress: NewDeferred[string](StepID(KindInstance, spec.Name)),
	}
	if err := b.register(instance); err != nil {
		return nil, err
	}
	spec.Policy.attach(instance.Key())
	return instance, nil
}

// Network returns the owning network.
func (i *ComputeInstance) Network() *Network { return i.network }

// Tier returns the tier the instance is placed in.
func (i *ComputeInstance) Tier() TierKind { return i.tier }

// SizeClass returns the instance type, e.g. t2.small.
func (i *ComputeInstance) SizeClass() string { return i.sizeClass }

// Image returns the machine image reference.
func (i *ComputeInstance) Image() string { return i.image }

// Policy returns the attached security policy.
func (i *ComputeInstance) Policy() *SecurityPolicy { return i.policy }

// Bootstrap returns a copy of the bootstrap payload.
func (i *ComputeInstance) Bootstrap() []byte { return append([]byte(nil), i.bootstrap...) }

// Credential returns the key pair reference.
func (i *ComputeInstance) Credential() string { return i.credential }

// AssignPublicAddress is true only for instances in the public tier.
func (i *ComputeInstance) AssignPublicAddress() bool { return i.tier == TierPublic }

// Subnet is where the instance is placed: the tier's first zone.
func (i *ComputeInstance) Subnet() Subnet {
	return SubnetsOf(i.network, i.tier)[0]
}

// PrivateAddress resolves once the instance is realized.
func (i *ComputeInstance) PrivateAddress() *Deferred[string] { return i.privateAddress }

func (i *ComputeInstance) dependencies() []string {
	return []string{i.network.Key(), i.policy.Key()}
}

func (i *ComputeInstance) attributes() map[string]string {
	digest := sha256.Sum256(i.bootstrap)
	return map[string]string{
		"network":          i.network.Key(),
		"tier":             string(i.tier),
		"subnet":           i.Subnet().Name,
		"size_class":       i.sizeClass,
		"image":            i.image,
		"policy":           i.policy.Key(),
		"credential":       i.credential,
		"public_address":   strconv.FormatBool(i.AssignPublicAddress()),
		"bootstrap_bytes":  strconv.Itoa(len(i.bootstrap)),
		"bootstrap_sha256": hex.EncodeToString(digest[:]),
	}
}
