package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/logging"
)

// networking resolves where Fargate tasks land. Explicitly configured
// subnets win. With none set, the default VPC's subnets and its default
// security group are discovered, which matches a fresh account. Tasks
// there get public addresses too, since the default VPC has no NAT and
// the image pull would otherwise dead-end.
func (p *Provider) networking(ctx context.Context) (subnets, securityGroups []string, assignPublic bool, err error) {
	if len(p.opts.SubnetIDs) > 0 {
		return p.opts.SubnetIDs, p.opts.SecurityGroups, p.opts.AssignPublicIP, nil
	}

	vpcID, err := p.defaultVPC(ctx)
	if err != nil {
		return nil, nil, false, err
	}

	subnets, err = p.vpcSubnets(ctx, vpcID)
	if err != nil {
		return nil, nil, false, err
	}

	securityGroups = p.opts.SecurityGroups
	if len(securityGroups) == 0 {
		securityGroups, err = p.defaultSecurityGroup(ctx, vpcID)
		if err != nil {
			return nil, nil, false, err
		}
	}

	logging.Info("using default VPC networking", "vpc", vpcID, "subnets", len(subnets))
	return subnets, securityGroups, true, nil
}

func (p *Provider) defaultVPC(ctx context.Context) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	out, err := p.clients.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{{Name: strPtr("is-default"), Values: []string{"true"}}},
	})
	if err != nil {
		return "", classify("ec2", "DescribeVpcs", err)
	}
	if len(out.Vpcs) == 0 {
		return "", apperrors.NewUserFacing(apperrors.CodeConfigValidation,
			"no subnets configured and the account has no default VPC",
			"set provider.subnet_id (or SLIPWAY_PROVIDER_SUBNET_ID)")
	}
	return stringValue(out.Vpcs[0].VpcId), nil
}

func (p *Provider) vpcSubnets(ctx context.Context, vpcID string) ([]string, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	out, err := p.clients.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{{Name: strPtr("vpc-id"), Values: []string{vpcID}}},
	})
	if err != nil {
		return nil, classify("ec2", "DescribeSubnets", err)
	}

	ids := make([]string, 0, len(out.Subnets))
	for _, s := range out.Subnets {
		ids = append(ids, stringValue(s.SubnetId))
	}
	if len(ids) == 0 {
		return nil, apperrors.NewUserFacing(apperrors.CodeConfigValidation,
			"default VPC "+vpcID+" has no subnets",
			"set provider.subnet_id (or SLIPWAY_PROVIDER_SUBNET_ID)")
	}
	return ids, nil
}

func (p *Provider) defaultSecurityGroup(ctx context.Context, vpcID string) ([]string, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	out, err := p.clients.EC2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: strPtr("vpc-id"), Values: []string{vpcID}},
			{Name: strPtr("group-name"), Values: []string{"default"}},
		},
	})
	if err != nil {
		return nil, classify("ec2", "DescribeSecurityGroups", err)
	}

	groups := make([]string, 0, len(out.SecurityGroups))
	for _, g := range out.SecurityGroups {
		groups = append(groups, stringValue(g.GroupId))
	}
	return groups, nil
}
