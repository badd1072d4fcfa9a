package aws

// EC2 Instance Parameters
type CreateInstanceParams struct {
	ImageID         string
	InstanceType    string
	KeyName         string
	SecurityGroupID string
	SubnetID        string
	UserData        []byte // Raw bootstrap payload, encoded on submit
	Name            string
	Tags            map[string]string
}

// VPC Configuration Parameters
type CreateVPCParams struct {
	Name               string
	CidrBlock          string
	EnableDnsHostnames bool
	EnableDnsSupport   bool
	Tags               map[string]string
}

type CreateSubnetParams struct {
	VpcID               string
	CidrBlock           string
	AvailabilityZone    string
	MapPublicIpOnLaunch bool
	Name                string
	Tags                map[string]string
}

type CreateInternetGatewayParams struct {
	Name string
	Tags map[string]string
}

type CreateNATGatewayParams struct {
	SubnetID string // Public subnet where NAT Gateway will be created
	Name     string
	Tags     map[string]string
}

// Security Group Parameters
type SecurityGroupParams struct {
	GroupName   string
	Description string
	VpcID       string
	Tags        map[string]string
}

type SecurityGroupRuleParams struct {
	GroupID     string
	Type        string // "ingress" or "egress"
	Protocol    string // "tcp", "udp", "icmp", or "-1" for all
	FromPort    int32
	ToPort      int32
	CidrBlocks  []string
	SourceSG    string // Source security group ID for SG-to-SG rules
	Description string
}

// Application Load Balancer Parameters
type CreateLoadBalancerParams struct {
	Name           string   // Name of the load balancer
	Scheme         string   // "internet-facing" or "internal"
	Subnets        []string // Subnet IDs
	SecurityGroups []string // Security Group IDs
	Tags           map[string]string
}

type CreateTargetGroupParams struct {
	Name            string // Name of the target group
	Protocol        string // "HTTP" or "HTTPS"
	Port            int32
	VpcID           string
	HealthCheckPath string
	Matcher         string // HTTP codes (e.g., "200")
	Tags            map[string]string
}

// TargetParams is one instance registration, the port may differ from the group's
type TargetParams struct {
	InstanceID string
	Port       int32
}

type CreateListenerParams struct {
	LoadBalancerArn string // ARN of the load balancer
	Protocol        string // "HTTP" or "HTTPS"
	Port            int32
	TargetGroupArns []string // Forwarded with equal weight when more than one
	CertificateArn  string   // For HTTPS listeners
}

// Parameter Store Parameters
type PutParameterParams struct {
	Name        string
	Value       string
	Description string
	Tags        map[string]string
}
