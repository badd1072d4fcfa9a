package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// fakeEC2 records calls and hands out sequential ids. Instances report
// pending on the first describe and running afterwards.
type fakeEC2 struct {
	EC2API

	mutex   sync.Mutex
	nextID  int
	zones   []string
	natErr  error
	runErr  error
	pending map[string]int

	vpcs            []*ec2.CreateVpcInput
	subnets         []*ec2.CreateSubnetInput
	routes          []*ec2.CreateRouteInput
	associations    []*ec2.AssociateRouteTableInput
	natGateways     []*ec2.CreateNatGatewayInput
	securityGroups  []*ec2.CreateSecurityGroupInput
	ingress         []*ec2.AuthorizeSecurityGroupIngressInput
	revokedEgress   []string
	runs            []*ec2.RunInstancesInput
	instances       map[string]ec2types.Instance
	releasedAddress []string
}

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{
		zones:     []string{"us-west-2c", "us-west-2a", "us-west-2b", "us-west-2d"},
		pending:   make(map[string]int),
		instances: make(map[string]ec2types.Instance),
	}
}

func (f *fakeEC2) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%08d", prefix, f.nextID)
}

func (f *fakeEC2) CreateVpc(ctx context.Context, params *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.vpcs = append(f.vpcs, params)
	return &ec2.CreateVpcOutput{Vpc: &ec2types.Vpc{VpcId: aws.String(f.id("vpc"))}}, nil
}

func (f *fakeEC2) ModifyVpcAttribute(ctx context.Context, params *ec2.ModifyVpcAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error) {
	return &ec2.ModifyVpcAttributeOutput{}, nil
}

func (f *fakeEC2) CreateSubnet(ctx context.Context, params *ec2.CreateSubnetInput, optFns ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.subnets = append(f.subnets, params)
	return &ec2.CreateSubnetOutput{Subnet: &ec2types.Subnet{SubnetId: aws.String(f.id("subnet"))}}, nil
}

func (f *fakeEC2) ModifySubnetAttribute(ctx context.Context, params *ec2.ModifySubnetAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifySubnetAttributeOutput, error) {
	return &ec2.ModifySubnetAttributeOutput{}, nil
}

func (f *fakeEC2) CreateInternetGateway(ctx context.Context, params *ec2.CreateInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return &ec2.CreateInternetGatewayOutput{
		InternetGateway: &ec2types.InternetGateway{InternetGatewayId: aws.String(f.id("igw"))},
	}, nil
}

func (f *fakeEC2) AttachInternetGateway(ctx context.Context, params *ec2.AttachInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error) {
	return &ec2.AttachInternetGatewayOutput{}, nil
}

func (f *fakeEC2) CreateRouteTable(ctx context.Context, params *ec2.CreateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteTableOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return &ec2.CreateRouteTableOutput{RouteTable: &ec2types.RouteTable{RouteTableId: aws.String(f.id("rtb"))}}, nil
}

func (f *fakeEC2) CreateRoute(ctx context.Context, params *ec2.CreateRouteInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.routes = append(f.routes, params)
	return &ec2.CreateRouteOutput{Return: aws.Bool(true)}, nil
}

func (f *fakeEC2) AssociateRouteTable(ctx context.Context, params *ec2.AssociateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.AssociateRouteTableOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.associations = append(f.associations, params)
	return &ec2.AssociateRouteTableOutput{AssociationId: aws.String(f.id("rtbassoc"))}, nil
}

func (f *fakeEC2) AllocateAddress(ctx context.Context, params *ec2.AllocateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AllocateAddressOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return &ec2.AllocateAddressOutput{AllocationId: aws.String(f.id("eipalloc")), PublicIp: aws.String("198.51.100.7")}, nil
}

func (f *fakeEC2) ReleaseAddress(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.releasedAddress = append(f.releasedAddress, aws.ToString(params.AllocationId))
	return &ec2.ReleaseAddressOutput{}, nil
}

func (f *fakeEC2) CreateNatGateway(ctx context.Context, params *ec2.CreateNatGatewayInput, optFns ...func(*ec2.Options)) (*ec2.CreateNatGatewayOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.natErr != nil {
		return nil, f.natErr
	}
	f.natGateways = append(f.natGateways, params)
	return &ec2.CreateNatGatewayOutput{NatGateway: &ec2types.NatGateway{NatGatewayId: aws.String(f.id("nat"))}}, nil
}

func (f *fakeEC2) DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error) {
	return &ec2.DescribeNatGatewaysOutput{
		NatGateways: []ec2types.NatGateway{{NatGatewayId: aws.String(params.NatGatewayIds[0]), State: ec2types.NatGatewayStateAvailable}},
	}, nil
}

func (f *fakeEC2) DescribeAvailabilityZones(ctx context.Context, params *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error) {
	var zones []ec2types.AvailabilityZone
	for _, zone := range f.zones {
		zones = append(zones, ec2types.AvailabilityZone{ZoneName: aws.String(zone)})
	}
	return &ec2.DescribeAvailabilityZonesOutput{AvailabilityZones: zones}, nil
}

func (f *fakeEC2) CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.securityGroups = append(f.securityGroups, params)
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(f.id("sg"))}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.ingress = append(f.ingress, params)
	return &ec2.AuthorizeSecurityGroupIngressOutput{Return: aws.Bool(true)}, nil
}

func (f *fakeEC2) RevokeSecurityGroupEgress(ctx context.Context, params *ec2.RevokeSecurityGroupEgressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupEgressOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.revokedEgress = append(f.revokedEgress, aws.ToString(params.GroupId))
	return &ec2.RevokeSecurityGroupEgressOutput{Return: aws.Bool(true)}, nil
}

func (f *fakeEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.runErr != nil {
		return nil, f.runErr
	}
	f.runs = append(f.runs, params)

	id := f.id("i")
	octet := len(f.runs) + 10
	instance := ec2types.Instance{
		InstanceId:       aws.String(id),
		ImageId:          params.ImageId,
		InstanceType:     params.InstanceType,
		SubnetId:         params.SubnetId,
		PrivateIpAddress: aws.String(fmt.Sprintf("10.0.0.%d", octet)),
		PrivateDnsName:   aws.String(fmt.Sprintf("ip-10-0-0-%d.us-west-2.compute.internal", octet)),
		State:            &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
	}
	f.instances[id] = instance
	return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{instance}}, nil
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	id := params.InstanceIds[0]
	instance, ok := f.instances[id]
	if !ok {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	f.pending[id]++
	if f.pending[id] > 1 {
		instance.State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning}
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{instance}}},
	}, nil
}

// fakeELBv2 reports load balancers provisioning until the first describe
type fakeELBv2 struct {
	ELBv2API

	mutex  sync.Mutex
	nextID int

	loadBalancers []*elasticloadbalancingv2.CreateLoadBalancerInput
	targetGroups  []*elasticloadbalancingv2.CreateTargetGroupInput
	registrations []*elasticloadbalancingv2.RegisterTargetsInput
	listeners     []*elasticloadbalancingv2.CreateListenerInput
	describes     int
}

func (f *fakeELBv2) arn(resource, name string) string {
	f.nextID++
	return fmt.Sprintf("arn:aws:elasticloadbalancing:us-west-2:123456789012:%s/%s/%016d", resource, name, f.nextID)
}

func (f *fakeELBv2) CreateLoadBalancer(ctx context.Context, params *elasticloadbalancingv2.CreateLoadBalancerInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.CreateLoadBalancerOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.loadBalancers = append(f.loadBalancers, params)
	return &elasticloadbalancingv2.CreateLoadBalancerOutput{
		LoadBalancers: []elbv2types.LoadBalancer{f.loadBalancer(f.arn("loadbalancer/app", aws.ToString(params.Name)), elbv2types.LoadBalancerStateEnumProvisioning)},
	}, nil
}

func (f *fakeELBv2) loadBalancer(arn string, state elbv2types.LoadBalancerStateEnum) elbv2types.LoadBalancer {
	return elbv2types.LoadBalancer{
		LoadBalancerArn:  aws.String(arn),
		LoadBalancerName: aws.String("LoadBalancer"),
		DNSName:          aws.String("LoadBalancer-1234567890.us-west-2.elb.amazonaws.com"),
		Scheme:           elbv2types.LoadBalancerSchemeEnumInternetFacing,
		State:            &elbv2types.LoadBalancerState{Code: state},
	}
}

func (f *fakeELBv2) DescribeLoadBalancers(ctx context.Context, params *elasticloadbalancingv2.DescribeLoadBalancersInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeLoadBalancersOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.describes++
	state := elbv2types.LoadBalancerStateEnumActive
	if f.describes == 1 {
		state = elbv2types.LoadBalancerStateEnumProvisioning
	}
	return &elasticloadbalancingv2.DescribeLoadBalancersOutput{
		LoadBalancers: []elbv2types.LoadBalancer{f.loadBalancer(params.LoadBalancerArns[0], state)},
	}, nil
}

func (f *fakeELBv2) CreateTargetGroup(ctx context.Context, params *elasticloadbalancingv2.CreateTargetGroupInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.CreateTargetGroupOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.targetGroups = append(f.targetGroups, params)
	return &elasticloadbalancingv2.CreateTargetGroupOutput{
		TargetGroups: []elbv2types.TargetGroup{{
			TargetGroupArn:  aws.String(f.arn("targetgroup", aws.ToString(params.Name))),
			TargetGroupName: params.Name,
			Protocol:        params.Protocol,
			Port:            params.Port,
			VpcId:           params.VpcId,
		}},
	}, nil
}

func (f *fakeELBv2) RegisterTargets(ctx context.Context, params *elasticloadbalancingv2.RegisterTargetsInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.RegisterTargetsOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.registrations = append(f.registrations, params)
	return &elasticloadbalancingv2.RegisterTargetsOutput{}, nil
}

func (f *fakeELBv2) CreateListener(ctx context.Context, params *elasticloadbalancingv2.CreateListenerInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.CreateListenerOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.listeners = append(f.listeners, params)
	return &elasticloadbalancingv2.CreateListenerOutput{
		Listeners: []elbv2types.Listener{{
			ListenerArn: aws.String(f.arn("listener/app", "LoadBalancer")),
			Protocol:    params.Protocol,
			Port:        params.Port,
		}},
	}, nil
}

type fakeSSM struct {
	mutex      sync.Mutex
	parameters map[string]string
	versions   map[string]int64
}

func newFakeSSM() *fakeSSM {
	return &fakeSSM{parameters: make(map[string]string), versions: make(map[string]int64)}
}

func (f *fakeSSM) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	name := aws.ToString(params.Name)
	if _, exists := f.parameters[name]; exists && !aws.ToBool(params.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String(name)}
	}
	f.parameters[name] = aws.ToString(params.Value)
	f.versions[name]++
	return &ssm.PutParameterOutput{Version: f.versions[name]}, nil
}

func (f *fakeSSM) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	name := aws.ToString(params.Name)
	value, ok := f.parameters[name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String(name)}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: params.Name, Value: aws.String(value)}}, nil
}
