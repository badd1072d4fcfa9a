package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/versus-control/web-topology/pkg/types"

	"github.com/sirupsen/logrus"
)

// LoadBalancerActiveTimeout bounds the wait for a load balancer to provision
const LoadBalancerActiveTimeout = 15 * time.Minute

// ========== Load Balancer Methods ==========

// CreateApplicationLoadBalancer creates an Application Load Balancer
func (c *Client) CreateApplicationLoadBalancer(ctx context.Context, params CreateLoadBalancerParams) (*types.AWSResource, error) {
	// Validate AWS requirements before making the API call
	if len(params.Subnets) < 2 {
		return nil, fmt.Errorf("at least two subnets in different Availability Zones must be specified for Application Load Balancer creation")
	}

	input := &elasticloadbalancingv2.CreateLoadBalancerInput{
		Name:           aws.String(params.Name),
		Subnets:        params.Subnets,
		SecurityGroups: params.SecurityGroups,
		Scheme:         elbv2types.LoadBalancerSchemeEnum(params.Scheme),
		Type:           elbv2types.LoadBalancerTypeEnumApplication,
		IpAddressType:  elbv2types.IpAddressTypeIpv4,
		Tags:           elbv2Tags(params.Tags),
	}

	result, err := c.elbv2.CreateLoadBalancer(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer: %w", err)
	}

	if len(result.LoadBalancers) == 0 {
		return nil, fmt.Errorf("no load balancer created")
	}

	lb := result.LoadBalancers[0]
	c.logger.WithFields(logrus.Fields{
		"lbArn":   aws.ToString(lb.LoadBalancerArn),
		"lbName":  aws.ToString(lb.LoadBalancerName),
		"dnsName": aws.ToString(lb.DNSName),
	}).Info("Application Load Balancer created successfully")

	return c.convertLoadBalancer(lb), nil
}

// GetLoadBalancer gets a specific Load Balancer by ARN
func (c *Client) GetLoadBalancer(ctx context.Context, loadBalancerArn string) (*types.AWSResource, error) {
	result, err := c.elbv2.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{loadBalancerArn},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe Load Balancer %s: %w", loadBalancerArn, err)
	}

	if len(result.LoadBalancers) == 0 {
		return nil, fmt.Errorf("LoadBalancer %s not found", loadBalancerArn)
	}

	return c.convertLoadBalancer(result.LoadBalancers[0]), nil
}

// WaitForLoadBalancerActive waits until the load balancer leaves provisioning
func (c *Client) WaitForLoadBalancerActive(ctx context.Context, loadBalancerArn string) (*types.AWSResource, error) {
	var latest *types.AWSResource
	err := c.poll(ctx, LoadBalancerActiveTimeout, "load balancer "+loadBalancerArn, func(ctx context.Context) (bool, error) {
		resource, err := c.GetLoadBalancer(ctx, loadBalancerArn)
		if err != nil {
			return false, err
		}
		latest = resource

		switch elbv2types.LoadBalancerStateEnum(resource.State) {
		case elbv2types.LoadBalancerStateEnumActive:
			return true, nil
		case elbv2types.LoadBalancerStateEnumFailed:
			return false, fmt.Errorf("load balancer %s failed to provision", loadBalancerArn)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// CreateTargetGroup creates an instance target group with an HTTP health check
func (c *Client) CreateTargetGroup(ctx context.Context, params CreateTargetGroupParams) (*types.AWSResource, error) {
	if params.HealthCheckPath == "" {
		params.HealthCheckPath = "/"
	}
	if params.Matcher == "" {
		params.Matcher = "200"
	}

	input := &elasticloadbalancingv2.CreateTargetGroupInput{
		Name:                aws.String(params.Name),
		Protocol:            elbv2types.ProtocolEnum(params.Protocol),
		Port:                aws.Int32(params.Port),
		VpcId:               aws.String(params.VpcID),
		TargetType:          elbv2types.TargetTypeEnumInstance,
		HealthCheckEnabled:  aws.Bool(true),
		HealthCheckPath:     aws.String(params.HealthCheckPath),
		HealthCheckProtocol: elbv2types.ProtocolEnum(params.Protocol),
		Matcher: &elbv2types.Matcher{
			HttpCode: aws.String(params.Matcher),
		},
		Tags: elbv2Tags(params.Tags),
	}

	result, err := c.elbv2.CreateTargetGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create target group: %w", err)
	}

	if len(result.TargetGroups) == 0 {
		return nil, fmt.Errorf("no target group created")
	}

	tg := result.TargetGroups[0]
	c.logger.WithFields(logrus.Fields{
		"tgArn":  aws.ToString(tg.TargetGroupArn),
		"tgName": aws.ToString(tg.TargetGroupName),
	}).Info("Target group created successfully")

	return &types.AWSResource{
		ID:     aws.ToString(tg.TargetGroupArn),
		Type:   "target-group",
		Region: c.cfg.Region,
		State:  "active",
		Details: map[string]interface{}{
			"name":     aws.ToString(tg.TargetGroupName),
			"protocol": string(tg.Protocol),
			"port":     aws.ToInt32(tg.Port),
			"vpcId":    aws.ToString(tg.VpcId),
		},
		LastSeen: time.Now(),
	}, nil
}

// RegisterTargets registers instances with a target group, each on its own port
func (c *Client) RegisterTargets(ctx context.Context, targetGroupArn string, targets []TargetParams) error {
	if len(targets) == 0 {
		return nil
	}

	descriptions := make([]elbv2types.TargetDescription, 0, len(targets))
	for _, target := range targets {
		description := elbv2types.TargetDescription{Id: aws.String(target.InstanceID)}
		if target.Port > 0 {
			description.Port = aws.Int32(target.Port)
		}
		descriptions = append(descriptions, description)
	}

	_, err := c.elbv2.RegisterTargets(ctx, &elasticloadbalancingv2.RegisterTargetsInput{
		TargetGroupArn: aws.String(targetGroupArn),
		Targets:        descriptions,
	})
	if err != nil {
		return fmt.Errorf("failed to register targets: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"targetGroupArn": targetGroupArn,
		"targetCount":    len(targets),
	}).Info("Targets registered successfully")
	return nil
}

// CreateListener creates a listener forwarding to one or more target groups
func (c *Client) CreateListener(ctx context.Context, params CreateListenerParams) (*types.AWSResource, error) {
	if len(params.TargetGroupArns) == 0 {
		return nil, fmt.Errorf("listener on port %d has no target groups", params.Port)
	}

	action := elbv2types.Action{Type: elbv2types.ActionTypeEnumForward}
	if len(params.TargetGroupArns) == 1 {
		action.TargetGroupArn = aws.String(params.TargetGroupArns[0])
	} else {
		var tuples []elbv2types.TargetGroupTuple
		for _, arn := range params.TargetGroupArns {
			tuples = append(tuples, elbv2types.TargetGroupTuple{
				TargetGroupArn: aws.String(arn),
				Weight:         aws.Int32(1),
			})
		}
		action.ForwardConfig = &elbv2types.ForwardActionConfig{TargetGroups: tuples}
	}

	input := &elasticloadbalancingv2.CreateListenerInput{
		LoadBalancerArn: aws.String(params.LoadBalancerArn),
		Protocol:        elbv2types.ProtocolEnum(params.Protocol),
		Port:            aws.Int32(params.Port),
		DefaultActions:  []elbv2types.Action{action},
	}

	if params.CertificateArn != "" {
		input.Certificates = []elbv2types.Certificate{
			{
				CertificateArn: aws.String(params.CertificateArn),
			},
		}
	}

	result, err := c.elbv2.CreateListener(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	if len(result.Listeners) == 0 {
		return nil, fmt.Errorf("no listener created")
	}

	listener := result.Listeners[0]
	c.logger.WithFields(logrus.Fields{
		"listenerArn": aws.ToString(listener.ListenerArn),
		"protocol":    string(listener.Protocol),
		"port":        aws.ToInt32(listener.Port),
	}).Info("Listener created successfully")

	return &types.AWSResource{
		ID:     aws.ToString(listener.ListenerArn),
		Type:   "listener",
		Region: c.cfg.Region,
		State:  "active",
		Details: map[string]interface{}{
			"protocol":        string(listener.Protocol),
			"port":            aws.ToInt32(listener.Port),
			"loadBalancerArn": params.LoadBalancerArn,
		},
		LastSeen: time.Now(),
	}, nil
}

// convertLoadBalancer converts a Load Balancer to our internal resource representation
func (c *Client) convertLoadBalancer(lb elbv2types.LoadBalancer) *types.AWSResource {
	state := ""
	if lb.State != nil {
		state = string(lb.State.Code)
	}

	return &types.AWSResource{
		ID:     aws.ToString(lb.LoadBalancerArn),
		Type:   "load-balancer",
		Region: c.cfg.Region,
		State:  state,
		Details: map[string]interface{}{
			"loadBalancerName": aws.ToString(lb.LoadBalancerName),
			"dnsName":          aws.ToString(lb.DNSName),
			"scheme":           string(lb.Scheme),
			"vpcId":            aws.ToString(lb.VpcId),
			"securityGroups":   lb.SecurityGroups,
		},
		LastSeen: time.Now(),
	}
}

func elbv2Tags(tags map[string]string) []elbv2types.Tag {
	if len(tags) == 0 {
		return nil
	}
	var result []elbv2types.Tag
	for _, key := range sortedTagKeys(tags) {
		result = append(result, elbv2types.Tag{
			Key:   aws.String(key),
			Value: aws.String(tags[key]),
		})
	}
	return result
}
