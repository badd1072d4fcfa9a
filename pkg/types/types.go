package types

import (
	"time"
)

// ServerInfo contains metadata about our MCP server
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// AWSResource represents a resource as returned by the AWS control plane
type AWSResource struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Region   string                 `json:"region"`
	State    string                 `json:"state"`
	Tags     map[string]string      `json:"tags,omitempty"`
	Details  map[string]interface{} `json:"details"`
	LastSeen time.Time              `json:"lastSeen"`
}

// Output keys carried by realized resources
const (
	OutputVPCID            = "vpc_id"
	OutputPublicSubnetIDs  = "public_subnet_ids"
	OutputPrivateSubnetIDs = "private_subnet_ids"
	OutputGroupID          = "group_id"
	OutputInstanceID       = "instance_id"
	OutputPrivateAddress   = "private_address"
	OutputPrivateIP        = "private_ip"
	OutputTargetGroupARN   = "target_group_arn"
	OutputLoadBalancerARN  = "load_balancer_arn"
	OutputDNSName          = "dns_name"
	OutputListenerARN      = "listener_arn"
	OutputParameterName    = "parameter_name"
	OutputParameterVersion = "parameter_version"
)

// RealizedResource is the handle a provider returns once a step is realized
type RealizedResource struct {
	StepID     string            `json:"stepId"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name"`
	ProviderID string            `json:"providerId"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	RealizedAt time.Time         `json:"realizedAt"`
}

// Output returns a named output or the empty string
func (r *RealizedResource) Output(key string) string {
	if r == nil || r.Outputs == nil {
		return ""
	}
	return r.Outputs[key]
}

// Realized maps plan step IDs to the handles of realized dependencies
type Realized map[string]*RealizedResource

// InfrastructureState represents the complete state of managed infrastructure
type InfrastructureState struct {
	Version      string                    `json:"version"`
	Topology     string                    `json:"topology"`
	Fingerprint  string                    `json:"fingerprint"`
	LastUpdated  time.Time                 `json:"lastUpdated"`
	Region       string                    `json:"region"`
	Resources    map[string]*ResourceState `json:"resources"`
	Dependencies map[string][]string       `json:"dependencies"`
	Metadata     map[string]interface{}    `json:"metadata,omitempty"`
}

// ResourceState represents the state of a single realized plan step
type ResourceState struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Status       string            `json:"status"`
	ProviderID   string            `json:"providerId"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	// SpecChecksum is the checksum of the step spec that produced this resource.
	SpecChecksum string `json:"specChecksum"`
}

// DependencyGraph represents resource dependencies. Edges map a node to the
// nodes it depends on.
type DependencyGraph struct {
	Nodes map[string]*DependencyNode `json:"nodes"`
	Edges map[string][]string        `json:"edges"`
}

// DependencyNode represents a node in the dependency graph
type DependencyNode struct {
	ID           string            `json:"id"`
	ResourceType string            `json:"resourceType"`
	Index        int               `json:"index"`
	Properties   map[string]string `json:"properties"`
}

// Execution and step statuses
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// PlanExecution represents the execution of a provisioning plan
type PlanExecution struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Provider    string           `json:"provider"`
	DryRun      bool             `json:"dryRun"`
	Status      string           `json:"status"` // pending, running, completed, failed
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Steps       []*ExecutionStep `json:"steps"`
	Errors      []string         `json:"errors,omitempty"`
}

// Step returns the step with the given id, or nil
func (e *PlanExecution) Step(id string) *ExecutionStep {
	for _, step := range e.Steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

// ExecutionStep represents a single step in plan execution
type ExecutionStep struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      string            `json:"status"` // pending, running, completed, failed, skipped
	Resource    string            `json:"resource"`
	Action      string            `json:"action"`
	DependsOn   []string          `json:"dependsOn,omitempty"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Duration    time.Duration     `json:"duration,omitempty"`
	Output      map[string]string `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// ExecutionUpdate represents real-time updates during plan execution
type ExecutionUpdate struct {
	Type        string    `json:"type"` // execution_started, step_started, step_completed, step_failed, step_skipped, execution_completed
	ExecutionID string    `json:"executionId"`
	StepID      string    `json:"stepId,omitempty"`
	Message     string    `json:"message"`
	Error       string    `json:"error,omitempty"`
	Progress    float64   `json:"progress,omitempty"` // 0.0 to 1.0
	Timestamp   time.Time `json:"timestamp"`
}
