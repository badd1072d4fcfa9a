// Package policy audits security policies against least-privilege intent.
// The topology model only enforces referential integrity of rule sources;
// whether the declared rules match what the author meant is checked here.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/versus-control/web-topology/internal/config"
	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/topology"
)

// DefaultAdminPorts are never expected to be reachable from any IPv4 address
var DefaultAdminPorts = []int{22}

// Severity of a violation
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Expectation states that Policy admits Protocol traffic on Port only from
// Sources. A source is an IPv4 block or "policy:<name>".
type Expectation struct {
	Policy   string            `json:"policy" yaml:"policy"`
	Protocol topology.Protocol `json:"protocol" yaml:"protocol"`
	Port     int               `json:"port" yaml:"port"`
	Sources  []string          `json:"sources" yaml:"sources"`
}

func (e Expectation) String() string {
	return fmt.Sprintf("%s admits %s/%d only from %s", e.Policy, e.Protocol, e.Port, strings.Join(e.Sources, ", "))
}

// Intent is the complete least-privilege statement for a topology
type Intent struct {
	Expectations []Expectation `json:"expectations" yaml:"expectations"`
	// AdminPorts must not be open to any IPv4 address
	AdminPorts []int `json:"adminPorts" yaml:"admin_ports"`
	// AllowPublicAdmin exempts policies from the admin port check
	AllowPublicAdmin []string `json:"allowPublicAdmin,omitempty" yaml:"allow_public_admin,omitempty"`
}

// Violation is one deviation from the intent
type Violation struct {
	Policy   string `json:"policy"`
	Check    string `json:"check"`
	Rule     string `json:"rule,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
}

// Policies is anything that exposes security policies, such as a finalized
// topology.
type Policies interface {
	SecurityPolicies() []*topology.SecurityPolicy
}

// Check evaluates one aspect of the intent
type Check interface {
	Name() string
	Evaluate(policies []*topology.SecurityPolicy, intent *Intent) []Violation
}

// Auditor runs registered checks over a set of policies
type Auditor struct {
	logger *logging.Logger
	checks []Check
}

// NewAuditor creates an auditor with the expectation and admin exposure checks
func NewAuditor(logger *logging.Logger) *Auditor {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	auditor := &Auditor{logger: logger}

	// Register default checks
	auditor.RegisterCheck(&ExpectationCheck{})
	auditor.RegisterCheck(&AdminExposureCheck{})

	return auditor
}

// RegisterCheck adds a check to the auditor
func (a *Auditor) RegisterCheck(check Check) {
	a.checks = append(a.checks, check)
}

// Audit returns every violation of intent, ordered by policy then check
func (a *Auditor) Audit(source Policies, intent *Intent) []Violation {
	if intent == nil {
		intent = &Intent{}
	}
	policies := source.SecurityPolicies()

	a.logger.WithFields(logrus.Fields{
		"policies":     len(policies),
		"expectations": len(intent.Expectations),
	}).Info("Auditing security policies")

	var violations []Violation
	for _, check := range a.checks {
		violations = append(violations, check.Evaluate(policies, intent)...)
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Policy != violations[j].Policy {
			return violations[i].Policy < violations[j].Policy
		}
		return violations[i].Check < violations[j].Check
	})

	if len(violations) > 0 {
		a.logger.WithField("violations", len(violations)).Warn("Least-privilege violations found")
	} else {
		a.logger.Info("No least-privilege violations found")
	}
	return violations
}

// ExpectationCheck compares each expectation with the rules of its policy.
// It flags sources that are admitted but not expected, and expected sources
// that no rule admits.
type ExpectationCheck struct{}

func (c *ExpectationCheck) Name() string { return "expectation" }

func (c *ExpectationCheck) Evaluate(policies []*topology.SecurityPolicy, intent *Intent) []Violation {
	byName := make(map[string]*topology.SecurityPolicy, len(policies))
	for _, p := range policies {
		byName[p.Name()] = p
	}

	var violations []Violation
	for _, expectation := range intent.Expectations {
		p, ok := byName[expectation.Policy]
		if !ok {
			violations = append(violations, Violation{
				Policy:   expectation.Policy,
				Check:    c.Name(),
				Severity: SeverityMedium,
				Message:  "policy is not declared in the topology",
			})
			continue
		}

		expected := make(map[string]bool, len(expectation.Sources))
		for _, source := range expectation.Sources {
			expected[NormalizeSource(source)] = true
		}

		admitted := make(map[string]bool)
		for _, rule := range p.Admits(expectation.Protocol, expectation.Port) {
			source := rule.Source.String()
			admitted[source] = true
			if !expected[source] {
				violations = append(violations, Violation{
					Policy:   p.Name(),
					Check:    c.Name(),
					Rule:     rule.String(),
					Severity: SeverityHigh,
					Message:  fmt.Sprintf("port %d admits unexpected source %s", expectation.Port, source),
				})
			}
		}

		for _, source := range sortedKeys(expected) {
			if !admitted[source] {
				violations = append(violations, Violation{
					Policy:   p.Name(),
					Check:    c.Name(),
					Severity: SeverityMedium,
					Message:  fmt.Sprintf("port %d does not admit expected source %s", expectation.Port, source),
				})
			}
		}
	}
	return violations
}

// AdminExposureCheck flags administrative ports open to any IPv4 address
type AdminExposureCheck struct{}

func (c *AdminExposureCheck) Name() string { return "admin-exposure" }

func (c *AdminExposureCheck) Evaluate(policies []*topology.SecurityPolicy, intent *Intent) []Violation {
	ports := intent.AdminPorts
	if len(ports) == 0 {
		ports = DefaultAdminPorts
	}
	exempt := make(map[string]bool, len(intent.AllowPublicAdmin))
	for _, name := range intent.AllowPublicAdmin {
		exempt[name] = true
	}

	var violations []Violation
	for _, p := range policies {
		if exempt[p.Name()] {
			continue
		}
		for _, rule := range p.Rules() {
			if !rule.Source.IsAnyIPv4() {
				continue
			}
			for _, port := range ports {
				if !rule.Ports.Contains(port) {
					continue
				}
				violations = append(violations, Violation{
					Policy:   p.Name(),
					Check:    c.Name(),
					Rule:     rule.String(),
					Severity: SeverityHigh,
					Message:  fmt.Sprintf("administrative port %d is open to any IPv4 address", port),
				})
			}
		}
	}
	return violations
}

// NormalizeSource maps the spellings accepted in access policy files onto
// the form used by topology sources.
func NormalizeSource(source string) string {
	source = strings.TrimSpace(source)
	switch strings.ToLower(source) {
	case "any", "anyipv4", "any-ipv4":
		return topology.AnyIPv4CIDR
	}
	if name, ok := strings.CutPrefix(source, "policy:"); ok {
		return "policy:" + strings.TrimSpace(name)
	}
	return source
}

// IntentFromConfig converts a loaded access policy file
func IntentFromConfig(cfg *config.AccessPolicyConfig) (*Intent, error) {
	intent := &Intent{
		AdminPorts:       append([]int(nil), cfg.AdminPorts...),
		AllowPublicAdmin: append([]string(nil), cfg.AllowPublicAdmin...),
	}
	for i, e := range cfg.Expectations {
		if e.Policy == "" {
			return nil, fmt.Errorf("expectation %d: policy is required", i)
		}
		if e.Port < 0 || e.Port > 65535 {
			return nil, fmt.Errorf("expectation %d: port %d out of range", i, e.Port)
		}
		protocol := topology.Protocol(strings.ToLower(e.Protocol))
		if protocol == "" {
			protocol = topology.ProtocolTCP
		}
		switch protocol {
		case topology.ProtocolTCP, topology.ProtocolUDP, topology.ProtocolICMP, topology.ProtocolAll:
		default:
			return nil, fmt.Errorf("expectation %d: unknown protocol %q", i, e.Protocol)
		}
		sources := make([]string, 0, len(e.Sources))
		for _, s := range e.Sources {
			sources = append(sources, NormalizeSource(s))
		}
		intent.Expectations = append(intent.Expectations, Expectation{
			Policy:   e.Policy,
			Protocol: protocol,
			Port:     e.Port,
			Sources:  sources,
		})
	}
	return intent, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
