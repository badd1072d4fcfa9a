package aws

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/versus-control/web-topology/pkg/types"

	"github.com/sirupsen/logrus"
)

// InstanceRunningTimeout bounds the wait for a launched instance
const InstanceRunningTimeout = 10 * time.Minute

// ========== EC2 Instance Management Methods ==========

// CreateEC2Instance launches a single EC2 instance
func (c *Client) CreateEC2Instance(ctx context.Context, params CreateInstanceParams) (*types.AWSResource, error) {
	c.logger.WithFields(logrus.Fields{
		"imageId":         params.ImageID,
		"instanceType":    params.InstanceType,
		"keyName":         params.KeyName,
		"securityGroupId": params.SecurityGroupID,
		"subnetId":        params.SubnetID,
		"name":            params.Name,
		"userDataBytes":   len(params.UserData),
	}).Info("CreateEC2Instance called with parameters")

	input := &ec2.RunInstancesInput{
		ImageId:           aws.String(params.ImageID),
		InstanceType:      ec2types.InstanceType(params.InstanceType),
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		TagSpecifications: tagSpecifications(ec2types.ResourceTypeInstance, params.Name, params.Tags),
	}

	if params.KeyName != "" {
		input.KeyName = aws.String(params.KeyName)
	}
	if params.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{params.SecurityGroupID}
	}
	if params.SubnetID != "" {
		input.SubnetId = aws.String(params.SubnetID)
	}
	if len(params.UserData) > 0 {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString(params.UserData))
	}

	result, err := c.ec2.RunInstances(ctx, input)
	if err != nil {
		c.logger.WithError(err).Error("Failed to create EC2 instance")
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	if len(result.Instances) == 0 {
		return nil, fmt.Errorf("no instances created")
	}

	instance := result.Instances[0]
	c.logger.WithField("instanceId", aws.ToString(instance.InstanceId)).Info("EC2 instance created successfully")
	return c.convertEC2Instance(instance), nil
}

// GetEC2Instance gets a specific EC2 instance by ID
func (c *Client) GetEC2Instance(ctx context.Context, instanceID string) (*types.AWSResource, error) {
	result, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}

	if len(result.Reservations) == 0 || len(result.Reservations[0].Instances) == 0 {
		return nil, fmt.Errorf("instance %s not found", instanceID)
	}

	return c.convertEC2Instance(result.Reservations[0].Instances[0]), nil
}

// WaitForInstanceRunning waits until the instance is running and returns its
// latest description, which carries the private DNS name.
func (c *Client) WaitForInstanceRunning(ctx context.Context, instanceID string) (*types.AWSResource, error) {
	var latest *types.AWSResource
	err := c.poll(ctx, InstanceRunningTimeout, "instance "+instanceID, func(ctx context.Context) (bool, error) {
		resource, err := c.GetEC2Instance(ctx, instanceID)
		if err != nil {
			return false, err
		}
		latest = resource

		c.logger.WithFields(logrus.Fields{
			"instanceId": instanceID,
			"state":      resource.State,
		}).Debug("Instance status check")

		switch ec2types.InstanceStateName(resource.State) {
		case ec2types.InstanceStateNameRunning:
			return true, nil
		case ec2types.InstanceStateNameTerminated, ec2types.InstanceStateNameShuttingDown, ec2types.InstanceStateNameStopped:
			return false, fmt.Errorf("instance %s is %s", instanceID, resource.State)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// convertEC2Instance converts an EC2 instance to our internal resource representation
func (c *Client) convertEC2Instance(instance ec2types.Instance) *types.AWSResource {
	tags := make(map[string]string)
	for _, tag := range instance.Tags {
		if tag.Key != nil && tag.Value != nil {
			tags[*tag.Key] = *tag.Value
		}
	}

	details := map[string]interface{}{
		"instanceType":     string(instance.InstanceType),
		"imageId":          aws.ToString(instance.ImageId),
		"privateDnsName":   aws.ToString(instance.PrivateDnsName),
		"privateIpAddress": aws.ToString(instance.PrivateIpAddress),
		"publicIpAddress":  aws.ToString(instance.PublicIpAddress),
		"subnetId":         aws.ToString(instance.SubnetId),
		"vpcId":            aws.ToString(instance.VpcId),
	}

	if instance.Placement != nil {
		details["availabilityZone"] = aws.ToString(instance.Placement.AvailabilityZone)
	}

	state := ""
	if instance.State != nil {
		state = string(instance.State.Name)
	}

	return &types.AWSResource{
		ID:       aws.ToString(instance.InstanceId),
		Type:     "instance",
		Region:   c.cfg.Region,
		State:    state,
		Tags:     tags,
		Details:  details,
		LastSeen: time.Now(),
	}
}
