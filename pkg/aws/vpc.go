package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/versus-control/web-topology/pkg/types"

	"github.com/sirupsen/logrus"
)

// NATGatewayTimeout bounds the wait for a NAT gateway to become available
const NATGatewayTimeout = 10 * time.Minute

// ========== VPC Management Methods ==========

// CreateVPC creates a new VPC with the specified parameters
func (c *Client) CreateVPC(ctx context.Context, params CreateVPCParams) (*types.AWSResource, error) {
	input := &ec2.CreateVpcInput{
		CidrBlock:         aws.String(params.CidrBlock),
		TagSpecifications: tagSpecifications(ec2types.ResourceTypeVpc, params.Name, params.Tags),
	}

	result, err := c.ec2.CreateVpc(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}

	vpcID := aws.ToString(result.Vpc.VpcId)
	c.logger.WithField("vpcId", vpcID).Info("VPC created successfully")

	// DNS attributes can only be changed one per call
	if params.EnableDnsSupport {
		_, err = c.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            aws.String(vpcID),
			EnableDnsSupport: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable DNS support on %s: %w", vpcID, err)
		}
	}

	if params.EnableDnsHostnames {
		_, err = c.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              aws.String(vpcID),
			EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable DNS hostnames on %s: %w", vpcID, err)
		}
	}

	return &types.AWSResource{
		ID:     vpcID,
		Type:   "vpc",
		Region: c.cfg.Region,
		State:  "available",
		Tags:   params.Tags,
		Details: map[string]interface{}{
			"cidrBlock": params.CidrBlock,
		},
		LastSeen: time.Now(),
	}, nil
}

// CreateSubnet creates a subnet in the specified VPC
func (c *Client) CreateSubnet(ctx context.Context, params CreateSubnetParams) (*types.AWSResource, error) {
	input := &ec2.CreateSubnetInput{
		VpcId:             aws.String(params.VpcID),
		CidrBlock:         aws.String(params.CidrBlock),
		AvailabilityZone:  aws.String(params.AvailabilityZone),
		TagSpecifications: tagSpecifications(ec2types.ResourceTypeSubnet, params.Name, params.Tags),
	}

	result, err := c.ec2.CreateSubnet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet %s: %w", params.CidrBlock, err)
	}

	subnetID := aws.ToString(result.Subnet.SubnetId)
	c.logger.WithFields(logrus.Fields{
		"subnetId": subnetID,
		"vpcId":    params.VpcID,
		"az":       params.AvailabilityZone,
	}).Info("Subnet created successfully")

	if params.MapPublicIpOnLaunch {
		_, err = c.ec2.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            aws.String(subnetID),
			MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable auto-assign public IP on %s: %w", subnetID, err)
		}
	}

	return &types.AWSResource{
		ID:     subnetID,
		Type:   "subnet",
		Region: c.cfg.Region,
		State:  "available",
		Details: map[string]interface{}{
			"vpcId":     params.VpcID,
			"cidrBlock": params.CidrBlock,
			"az":        params.AvailabilityZone,
			"isPublic":  params.MapPublicIpOnLaunch,
		},
		LastSeen: time.Now(),
	}, nil
}

// CreateInternetGateway creates an internet gateway and attaches it to a VPC
func (c *Client) CreateInternetGateway(ctx context.Context, params CreateInternetGatewayParams, vpcID string) (*types.AWSResource, error) {
	createResult, err := c.ec2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: tagSpecifications(ec2types.ResourceTypeInternetGateway, params.Name, params.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create internet gateway: %w", err)
	}

	igwID := aws.ToString(createResult.InternetGateway.InternetGatewayId)
	c.logger.WithField("igwId", igwID).Info("Internet Gateway created successfully")

	_, err = c.ec2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(igwID),
		VpcId:             aws.String(vpcID),
	})
	if err != nil {
		// Try to clean up the created IGW
		if _, cleanupErr := c.ec2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
			InternetGatewayId: aws.String(igwID),
		}); cleanupErr != nil {
			c.logger.WithError(cleanupErr).Warn("Failed to clean up internet gateway after attach failure")
		}
		return nil, fmt.Errorf("failed to attach internet gateway to VPC: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"igwId": igwID,
		"vpcId": vpcID,
	}).Info("Internet Gateway attached to VPC")

	return &types.AWSResource{
		ID:     igwID,
		Type:   "internet-gateway",
		Region: c.cfg.Region,
		State:  "attached",
		Details: map[string]interface{}{
			"vpcId": vpcID,
		},
		LastSeen: time.Now(),
	}, nil
}

// CreateRouteTable creates a route table for the VPC
func (c *Client) CreateRouteTable(ctx context.Context, vpcID, name string) (*types.AWSResource, error) {
	result, err := c.ec2.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId:             aws.String(vpcID),
		TagSpecifications: tagSpecifications(ec2types.ResourceTypeRouteTable, name, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create route table: %w", err)
	}

	routeTableID := aws.ToString(result.RouteTable.RouteTableId)
	c.logger.WithFields(logrus.Fields{
		"routeTableId": routeTableID,
		"vpcId":        vpcID,
	}).Info("Route table created successfully")

	return &types.AWSResource{
		ID:     routeTableID,
		Type:   "route-table",
		Region: c.cfg.Region,
		State:  "available",
		Details: map[string]interface{}{
			"vpcId": vpcID,
			"name":  name,
		},
		LastSeen: time.Now(),
	}, nil
}

// CreateRoute creates a route to an internet gateway
func (c *Client) CreateRoute(ctx context.Context, routeTableID, destinationCidr, gatewayID string) error {
	_, err := c.ec2.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         aws.String(routeTableID),
		DestinationCidrBlock: aws.String(destinationCidr),
		GatewayId:            aws.String(gatewayID),
	})
	if err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"routeTableId": routeTableID,
		"destination":  destinationCidr,
		"gatewayId":    gatewayID,
	}).Info("Route created successfully")
	return nil
}

// CreateRouteForNAT creates a route to a NAT Gateway
func (c *Client) CreateRouteForNAT(ctx context.Context, routeTableID, destinationCidr, natGatewayID string) error {
	_, err := c.ec2.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         aws.String(routeTableID),
		DestinationCidrBlock: aws.String(destinationCidr),
		NatGatewayId:         aws.String(natGatewayID),
	})
	if err != nil {
		return fmt.Errorf("failed to create route to NAT Gateway: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"routeTableId": routeTableID,
		"destination":  destinationCidr,
		"natGatewayId": natGatewayID,
	}).Info("Route to NAT Gateway created successfully")
	return nil
}

// AssociateRouteTable associates a route table with a subnet
func (c *Client) AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error {
	_, err := c.ec2.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: aws.String(routeTableID),
		SubnetId:     aws.String(subnetID),
	})
	if err != nil {
		return fmt.Errorf("failed to associate route table: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"routeTableId": routeTableID,
		"subnetId":     subnetID,
	}).Debug("Route table associated with subnet")
	return nil
}

// CreateNATGateway allocates an Elastic IP and creates a NAT Gateway in a
// public subnet
func (c *Client) CreateNATGateway(ctx context.Context, params CreateNATGatewayParams) (*types.AWSResource, error) {
	eipResult, err := c.ec2.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain: ec2types.DomainTypeVpc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate Elastic IP: %w", err)
	}

	eipID := aws.ToString(eipResult.AllocationId)
	c.logger.WithField("eipId", eipID).Info("Elastic IP allocated for NAT Gateway")

	result, err := c.ec2.CreateNatGateway(ctx, &ec2.CreateNatGatewayInput{
		SubnetId:          aws.String(params.SubnetID),
		AllocationId:      aws.String(eipID),
		TagSpecifications: tagSpecifications(ec2types.ResourceTypeNatgateway, params.Name, params.Tags),
	})
	if err != nil {
		// Clean up the EIP if NAT Gateway creation fails
		if _, cleanupErr := c.ec2.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
			AllocationId: aws.String(eipID),
		}); cleanupErr != nil {
			c.logger.WithError(cleanupErr).Warn("Failed to clean up Elastic IP after NAT Gateway creation failure")
		}
		return nil, fmt.Errorf("failed to create NAT Gateway: %w", err)
	}

	natGatewayID := aws.ToString(result.NatGateway.NatGatewayId)
	c.logger.WithFields(logrus.Fields{
		"natGatewayId": natGatewayID,
		"subnetId":     params.SubnetID,
		"eipId":        eipID,
	}).Info("NAT Gateway created successfully")

	return &types.AWSResource{
		ID:     natGatewayID,
		Type:   "nat-gateway",
		Region: c.cfg.Region,
		State:  "pending",
		Details: map[string]interface{}{
			"subnetId": params.SubnetID,
			"eipId":    eipID,
			"publicIp": aws.ToString(eipResult.PublicIp),
		},
		LastSeen: time.Now(),
	}, nil
}

// WaitForNATGateway waits for a NAT Gateway to become available
func (c *Client) WaitForNATGateway(ctx context.Context, natGatewayID string) error {
	return c.poll(ctx, NATGatewayTimeout, "NAT Gateway "+natGatewayID, func(ctx context.Context) (bool, error) {
		result, err := c.ec2.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{
			NatGatewayIds: []string{natGatewayID},
		})
		if err != nil {
			return false, fmt.Errorf("failed to describe NAT Gateway %s: %w", natGatewayID, err)
		}
		if len(result.NatGateways) == 0 {
			return false, fmt.Errorf("NAT Gateway %s not found", natGatewayID)
		}

		state := result.NatGateways[0].State
		c.logger.WithFields(logrus.Fields{
			"natGatewayId": natGatewayID,
			"state":        state,
		}).Debug("NAT Gateway status check")

		switch state {
		case ec2types.NatGatewayStateAvailable:
			return true, nil
		case ec2types.NatGatewayStateFailed, ec2types.NatGatewayStateDeleted, ec2types.NatGatewayStateDeleting:
			return false, fmt.Errorf("NAT Gateway %s is %s", natGatewayID, state)
		}
		return false, nil
	})
}

// GetAvailabilityZones retrieves the available zones of the region, sorted by name
func (c *Client) GetAvailabilityZones(ctx context.Context) ([]string, error) {
	result, err := c.ec2.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []ec2types.Filter{
			{
				Name:   aws.String("state"),
				Values: []string{"available"},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe availability zones: %w", err)
	}

	var zones []string
	for _, az := range result.AvailabilityZones {
		if az.ZoneName != nil {
			zones = append(zones, *az.ZoneName)
		}
	}
	sort.Strings(zones)

	c.logger.WithFields(logrus.Fields{
		"availability_zones": zones,
		"region":             c.cfg.Region,
	}).Debug("Found availability zones")

	if len(zones) == 0 {
		return nil, fmt.Errorf("no availability zones available in %s", c.cfg.Region)
	}
	return zones, nil
}

// tagSpecifications builds creation-time tags; Name is added when set
func tagSpecifications(resourceType ec2types.ResourceType, name string, tags map[string]string) []ec2types.TagSpecification {
	merged := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		merged[k] = v
	}
	if name != "" {
		merged["Name"] = name
	}
	if len(merged) == 0 {
		return nil
	}

	keys := sortedTagKeys(merged)
	ec2Tags := make([]ec2types.Tag, 0, len(keys))
	for _, key := range keys {
		ec2Tags = append(ec2Tags, ec2types.Tag{
			Key:   aws.String(key),
			Value: aws.String(merged[key]),
		})
	}
	return []ec2types.TagSpecification{
		{
			ResourceType: resourceType,
			Tags:         ec2Tags,
		},
	}
}

func sortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
