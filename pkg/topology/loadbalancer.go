package topology

import (
	"fmt"
	"strconv"
	"strings"
)

// AppProtocol is the application protocol of target groups and listeners.
type AppProtocol string

const (
	ProtocolHTTP  AppProtocol = "HTTP"
	ProtocolHTTPS AppProtocol = "HTTPS"
)

// DefaultHealthyMatcher is used when a health check omits the matcher.
const DefaultHealthyMatcher = "200"

// HealthCheck is evaluated by the load balancer runtime; targets are healthy
// once Path repeatedly answers with a status in Matcher.
type HealthCheck struct {
	Path    string `json:"path" yaml:"path"`
	Matcher string `json:"matcher" yaml:"matcher"`
}

// Target pairs an instance with the port traffic is sent to.
type Target struct {
	Instance *ComputeInstance
	Port     int
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%d", t.Instance.Key(), t.Port)
}

// LoadBalancer is an application load balancer spread over one tier.
type LoadBalancer struct {
	entityBase
	network        *Network
	internetFacing bool
	policy         *SecurityPolicy
	tier           TierKind
	listeners      []*Listener
	dnsName        *Deferred[string]
}

// TargetGroup is a health-checked set of targets.
type TargetGroup struct {
	entityBase
	network     *Network
	protocol    AppProtocol
	port        int
	healthCheck HealthCheck
	targets     []Target
}

// Listener accepts traffic on a port of a load balancer and forwards it to
// its target groups.
type Listener struct {
	entityBase
	loadBalancer *LoadBalancer
	port         int
	certificate  string
	groups       []*TargetGroup
}

// LoadBalancerReady is the terminal step of a load balancer: it completes
// once every listener exists and the balancer is active.
type LoadBalancerReady struct {
	entityBase
	loadBalancer *LoadBalancer
}

// DefineLoadBalancer declares a load balancer and attaches its policy.
func DefineLoadBalancer(b *TopologyBuilder, name string, network *Network, internetFacing bool, policy *SecurityPolicy, tier TierKind) (*LoadBalancer, error) {
	entity := StepID(KindLoadBalancer, name)
	if err := b.checkOpen(entity); err != nil {
		return nil, err
	}
	if network == nil {
		return nil, configErrorf(entity, "network", "is required")
	}
	if err := b.requireOwned(entity, "network", network); err != nil {
		return nil, err
	}
	if !network.HasTier(tier) {
		return nil, configErrorf(entity, "tier", "network %q has no %q tier", network.Name(), tier)
	}
	if internetFacing && tier != TierPublic {
		return nil, configErrorf(entity, "tier", "an internet-facing load balancer must use the public tier, not %q", tier)
	}
	if policy == nil {
		return nil, configErrorf(entity, "policy", "is required")
	}
	if err := b.requireOwned(entity, "policy", policy); err != nil {
		return nil, err
	}
	if policy.network != network {
		return nil, configErrorf(entity, "policy", "policy %q belongs to network %q", policy.Name(), policy.network.Name())
	}

	lb := &LoadBalancer{
		entityBase:     entityBase{id: b.nextID(), kind: KindLoadBalancer, name: name},
		network:        network,
		internetFacing: internetFacing,
		policy:         policy,
		tier:           tier,
		dnsName:        NewDeferred[string](StepID(KindLoadBalancer, name)),
	}
	if err := b.register(lb); err != nil {
		return nil, err
	}
	policy.attach(lb.Key())
	return lb, nil
}

// DefineTargetGroup declares a target group on a network.
func DefineTargetGroup(b *TopologyBuilder, name string, network *Network, protocol AppProtocol, port int, healthCheck HealthCheck) (*TargetGroup, error) {
	entity := StepID(KindTargetGroup, name)
	if err := b.checkOpen(entity); err != nil {
		return nil, err
	}
	if network == nil {
		return nil, configErrorf(entity, "network", "is required")
	}
	if err := b.requireOwned(entity, "network", network); err != nil {
		return nil, err
	}
	if protocol != ProtocolHTTP && protocol != ProtocolHTTPS {
		return nil, configErrorf(entity, "protocol", "must be HTTP or HTTPS, got %q", protocol)
	}
	if port < 1 || port > 65535 {
		return nil, configErrorf(entity, "port", "%d is outside [1, 65535]", port)
	}
	if !strings.HasPrefix(healthCheck.Path, "/") {
		return nil, configErrorf(entity, "healthCheck", "path %q must start with /", healthCheck.Path)
	}
	if healthCheck.Matcher == "" {
		healthCheck.Matcher = DefaultHealthyMatcher
	}

	group := &TargetGroup{
		entityBase:  entityBase{id: b.nextID(), kind: KindTargetGroup, name: name},
		network:     network,
		protocol:    protocol,
		port:        port,
		healthCheck: healthCheck,
	}
	if err := b.register(group); err != nil {
		return nil, err
	}
	return group, nil
}

// AddTarget adds instance:port to the group. Port 0 means the group's port.
// Adding the same pair twice is a no-op.
func AddTarget(b *TopologyBuilder, group *TargetGroup, instance *ComputeInstance, port int) error {
	if group == nil {
		return configErrorf(string(KindTargetGroup), "group", "is required")
	}
	entity := group.Key()
	if err := b.checkOpen(entity); err != nil {
		return err
	}
	if err := b.requireOwned(entity, "group", group); err != nil {
		return err
	}
	if instance == nil {
		return configErrorf(entity, "target", "instance is required")
	}
	if err := b.requireOwned(entity, "target", instance); err != nil {
		return err
	}
	if instance.network != group.network {
		return configErrorf(entity, "target", "instance %q is in network %q, not %q", instance.Name(), instance.network.Name(), group.network.Name())
	}
	if port == 0 {
		port = group.port
	}
	if port < 1 || port > 65535 {
		return configErrorf(entity, "target", "port %d is outside [1, 65535]", port)
	}

	if group.HasTarget(instance, port) {
		return nil
	}
	group.targets = append(group.targets, Target{Instance: instance, Port: port})
	return nil
}

// AddListener adds a listener to a load balancer. Port 443 requires a
// certificate; any listener with a certificate terminates HTTPS.
func AddListener(b *TopologyBuilder, lb *LoadBalancer, name string, port int, certificateRef string) (*Listener, error) {
	entity := StepID(KindListener, name)
	if err := b.checkOpen(entity); err != nil {
		return nil, err
	}
	if lb == nil {
		return nil, configErrorf(entity, "loadBalancer", "is required")
	}
	if err := b.requireOwned(entity, "loadBalancer", lb); err != nil {
		return nil, err
	}
	if port < 1 || port > 65535 {
		return nil, configErrorf(entity, "port", "%d is outside [1, 65535]", port)
	}
	if port == 443 && certificateRef == "" {
		return nil, configErrorf(entity, "certificate", "a listener on port 443 requires a certificate reference")
	}
	for _, existing := range lb.listeners {
		if existing.port == port {
			return nil, configErrorf(entity, "port", "load balancer %q already listens on %d", lb.Name(), port)
		}
	}

	listener := &Listener{
		entityBase:   entityBase{id: b.nextID(), kind: KindListener, name: name},
		loadBalancer: lb,
		port:         port,
		certificate:  certificateRef,
	}
	if err := b.register(listener); err != nil {
		return nil, err
	}
	lb.listeners = append(lb.listeners, listener)
	return listener, nil
}

// AttachTargetGroups appends groups to the listener's forward list, keeping
// order and ignoring groups already attached.
func AttachTargetGroups(b *TopologyBuilder, listener *Listener, groups ...*TargetGroup) error {
	if listener == nil {
		return configErrorf(string(KindListener), "listener", "is required")
	}
	entity := listener.Key()
	if err := b.checkOpen(entity); err != nil {
		return err
	}
	if err := b.requireOwned(entity, "listener", listener); err != nil {
		return err
	}

	for _, group := range groups {
		if group == nil {
			return configErrorf(entity, "targetGroups", "nil target group")
		}
		if err := b.requireOwned(entity, "targetGroups", group); err != nil {
			return err
		}
		if group.network != listener.loadBalancer.network {
			return configErrorf(entity, "targetGroups", "target group %q is in network %q, not %q", group.Name(), group.network.Name(), listener.loadBalancer.network.Name())
		}
	}

	for _, group := range groups {
		attached := false
		for _, existing := range listener.groups {
			if existing == group {
				attached = true
				break
			}
		}
		if !attached {
			listener.groups = append(listener.groups, group)
		}
	}
	return nil
}

// Network returns the owning network.
func (lb *LoadBalancer) Network() *Network { return lb.network }

// InternetFacing reports whether the balancer is reachable from the internet.
func (lb *LoadBalancer) InternetFacing() bool { return lb.internetFacing }

// Policy returns the attached security policy.
func (lb *LoadBalancer) Policy() *SecurityPolicy { return lb.policy }

// Tier returns the subnet tier the balancer spans.
func (lb *LoadBalancer) Tier() TierKind { return lb.tier }

// Subnets returns the subnets the balancer is placed in.
func (lb *LoadBalancer) Subnets() []Subnet { return SubnetsOf(lb.network, lb.tier) }

// Listeners returns the listeners in declaration order.
func (lb *LoadBalancer) Listeners() []*Listener {
	return append([]*Listener(nil), lb.listeners...)
}

// DNSName resolves once the balancer is realized.
func (lb *LoadBalancer) DNSName() *Deferred[string] { return lb.dnsName }

// Scheme is the provider scheme name.
func (lb *LoadBalancer) Scheme() string {
	if lb.internetFacing {
		return "internet-facing"
	}
	return "internal"
}

func (lb *LoadBalancer) dependencies() []string {
	return []string{lb.network.Key(), lb.policy.Key()}
}

func (lb *LoadBalancer) attributes() map[string]string {
	return map[string]string{
		"network":         lb.network.Key(),
		"internet_facing": strconv.FormatBool(lb.internetFacing),
		"scheme":          lb.Scheme(),
		"policy":          lb.policy.Key(),
		"tier":            string(lb.tier),
	}
}

// Network returns the owning network.
func (tg *TargetGroup) Network() *Network { return tg.network }

// Protocol returns HTTP or HTTPS.
func (tg *TargetGroup) Protocol() AppProtocol { return tg.protocol }

// Port returns the group's port.
func (tg *TargetGroup) Port() int { return tg.port }

// HealthCheck returns the declared check.
func (tg *TargetGroup) HealthCheck() HealthCheck { return tg.healthCheck }

// Targets returns the targets in the order they were added.
func (tg *TargetGroup) Targets() []Target {
	return append([]Target(nil), tg.targets...)
}

// HasTarget reports whether instance:port is a target.
func (tg *TargetGroup) HasTarget(instance *ComputeInstance, port int) bool {
	for _, target := range tg.targets {
		if target.Instance == instance && target.Port == port {
			return true
		}
	}
	return false
}

func (tg *TargetGroup) dependencies() []string {
	deps := []string{tg.network.Key()}
	for _, target := range tg.targets {
		deps = append(deps, target.Instance.Key())
	}
	return deps
}

func (tg *TargetGroup) attributes() map[string]string {
	targets := make([]string, 0, len(tg.targets))
	for _, target := range tg.targets {
		targets = append(targets, target.String())
	}
	return map[string]string{
		"network":           tg.network.Key(),
		"protocol":          string(tg.protocol),
		"port":              strconv.Itoa(tg.port),
		"health_check_path": tg.healthCheck.Path,
		"healthy_matcher":   tg.healthCheck.Matcher,
		"targets":           strings.Join(targets, ","),
	}
}

// LoadBalancer returns the owning balancer.
func (l *Listener) LoadBalancer() *LoadBalancer { return l.loadBalancer }

// Port returns the listening port.
func (l *Listener) Port() int { return l.port }

// Certificate returns the certificate reference, empty for plain HTTP.
func (l *Listener) Certificate() string { return l.certificate }

// Protocol is HTTPS when a certificate is present.
func (l *Listener) Protocol() AppProtocol {
	if l.certificate != "" {
		return ProtocolHTTPS
	}
	return ProtocolHTTP
}

// TargetGroups returns the attached groups in order.
func (l *Listener) TargetGroups() []*TargetGroup {
	return append([]*TargetGroup(nil), l.groups...)
}

func (l *Listener) dependencies() []string {
	deps := []string{l.loadBalancer.Key()}
	for _, group := range l.groups {
		deps = append(deps, group.Key())
	}
	return deps
}

func (l *Listener) attributes() map[string]string {
	groups := make([]string, 0, len(l.groups))
	for _, group := range l.groups {
		groups = append(groups, group.Key())
	}
	return map[string]string{
		"load_balancer": l.loadBalancer.Key(),
		"port":          strconv.Itoa(l.port),
		"protocol":      string(l.Protocol()),
		"certificate":   l.certificate,
		"target_groups": strings.Join(groups, ","),
	}
}

// LoadBalancer returns the balancer this step waits for.
func (r *LoadBalancerReady) LoadBalancer() *LoadBalancer { return r.loadBalancer }

func (r *LoadBalancerReady) dependencies() []string {
	deps := []string{r.loadBalancer.Key()}
	for _, listener := range r.loadBalancer.listeners {
		deps = append(deps, listener.Key())
	}
	return deps
}

func (r *LoadBalancerReady) attributes() map[string]string {
	return map[string]string{
		"load_balancer": r.loadBalancer.Key(),
		"listeners":     strconv.Itoa(len(r.loadBalancer.listeners)),
	}
}
