package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/sirupsen/logrus"
)

// CreateSecurityGroup creates a new security group and returns its id
func (c *Client) CreateSecurityGroup(ctx context.Context, params SecurityGroupParams) (string, error) {
	input := &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(params.GroupName),
		Description:       aws.String(params.Description),
		TagSpecifications: tagSpecifications(types.ResourceTypeSecurityGroup, params.GroupName, params.Tags),
	}
	if params.VpcID != "" {
		input.VpcId = aws.String(params.VpcID)
	}

	result, err := c.ec2.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to create security group %s: %w", params.GroupName, err)
	}

	groupID := aws.ToString(result.GroupId)
	c.logger.WithFields(logrus.Fields{
		"groupId":   groupID,
		"groupName": params.GroupName,
	}).Info("Security group created successfully")
	return groupID, nil
}

// AddSecurityGroupRule adds an ingress or egress rule to a security group
func (c *Client) AddSecurityGroupRule(ctx context.Context, params SecurityGroupRuleParams) error {
	permission := ipPermission(params)

	var err error
	switch params.Type {
	case "ingress":
		_, err = c.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(params.GroupID),
			IpPermissions: []types.IpPermission{permission},
		})
	case "egress":
		_, err = c.ec2.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       aws.String(params.GroupID),
			IpPermissions: []types.IpPermission{permission},
		})
	default:
		return fmt.Errorf("invalid rule type: %s (must be 'ingress' or 'egress')", params.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to add %s rule to %s: %w", params.Type, params.GroupID, err)
	}

	c.logger.WithFields(logrus.Fields{
		"groupId":  params.GroupID,
		"type":     params.Type,
		"protocol": params.Protocol,
		"fromPort": params.FromPort,
		"toPort":   params.ToPort,
	}).Info("Security group rule added successfully")
	return nil
}

// RevokeDefaultEgress removes the allow-all egress rule AWS adds to every
// new VPC security group
func (c *Client) RevokeDefaultEgress(ctx context.Context, groupID string) error {
	_, err := c.ec2.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []types.IpPermission{
			{
				IpProtocol: aws.String("-1"),
				IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to revoke default egress on %s: %w", groupID, err)
	}

	c.logger.WithField("groupId", groupID).Info("Default egress rule revoked")
	return nil
}

func ipPermission(params SecurityGroupRuleParams) types.IpPermission {
	permission := types.IpPermission{
		IpProtocol: aws.String(params.Protocol),
	}

	// Ports apply to TCP/UDP; for ICMP they carry type and code
	if params.Protocol != "-1" {
		permission.FromPort = aws.Int32(params.FromPort)
		permission.ToPort = aws.Int32(params.ToPort)
	}

	for _, cidr := range params.CidrBlocks {
		ipRange := types.IpRange{CidrIp: aws.String(cidr)}
		if params.Description != "" {
			ipRange.Description = aws.String(params.Description)
		}
		permission.IpRanges = append(permission.IpRanges, ipRange)
	}

	if params.SourceSG != "" {
		pair := types.UserIdGroupPair{GroupId: aws.String(params.SourceSG)}
		if params.Description != "" {
			pair.Description = aws.String(params.Description)
		}
		permission.UserIdGroupPairs = append(permission.UserIdGroupPairs, pair)
	}
	return permission
}
