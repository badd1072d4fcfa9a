package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/sirupsen/logrus"

	"github.com/versus-control/web-topology/pkg/types"
)

// PutParameter writes a String parameter, overwriting an existing value
func (c *Client) PutParameter(ctx context.Context, params PutParameterParams) (*types.AWSResource, error) {
	input := &ssm.PutParameterInput{
		Name:      aws.String(params.Name),
		Value:     aws.String(params.Value),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	}
	if params.Description != "" {
		input.Description = aws.String(params.Description)
	}

	result, err := c.ssm.PutParameter(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to put parameter %s: %w", params.Name, err)
	}

	c.logger.WithFields(logrus.Fields{
		"name":    params.Name,
		"version": result.Version,
	}).Info("Parameter published successfully")

	return &types.AWSResource{
		ID:     params.Name,
		Type:   "ssm-parameter",
		Region: c.cfg.Region,
		State:  "available",
		Tags:   params.Tags,
		Details: map[string]interface{}{
			"version": strconv.FormatInt(result.Version, 10),
		},
		LastSeen: time.Now(),
	}, nil
}

// GetParameter reads a parameter value
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	result, err := c.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if result.Parameter == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}
	return aws.ToString(result.Parameter.Value), nil
}
