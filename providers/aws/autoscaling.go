package aws

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/applicationautoscaling"
	aastypes "github.com/aws/aws-sdk-go-v2/service/applicationautoscaling/types"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/provider"
)

// autoscaleAdapter manages a target-tracking policy on the ECS service.
// Application Auto Scaling has no create/update split: registering a
// target and putting a policy are both upserts, so CreateOrUpdate is a
// single path.
type autoscaleAdapter struct {
	p *Provider
}

func scalingResourceID(config map[string]string) string {
	return fmt.Sprintf("service/%s/%s", config[ir.KeyCluster], config[ir.KeyService])
}

func (a *autoscaleAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	if err := a.p.wait(ctx); err != nil {
		return provider.NotFound(), err
	}

	resourceID := scalingResourceID(req.Config)
	targets, err := a.p.clients.Scaling.DescribeScalableTargets(ctx, &applicationautoscaling.DescribeScalableTargetsInput{
		ServiceNamespace:  aastypes.ServiceNamespaceEcs,
		ResourceIds:       []string{resourceID},
		ScalableDimension: aastypes.ScalableDimensionECSServiceDesiredCount,
	})
	if err != nil {
		return provider.NotFound(), classify("application-autoscaling", "DescribeScalableTargets", err)
	}
	if len(targets.ScalableTargets) == 0 {
		return provider.NotFound(), nil
	}

	target := targets.ScalableTargets[0]
	attrs := map[string]string{
		ir.KeyMinCapacity: strconv.Itoa(int(int32Value(target.MinCapacity))),
		ir.KeyMaxCapacity: strconv.Itoa(int(int32Value(target.MaxCapacity))),
	}

	policies, err := a.p.clients.Scaling.DescribeScalingPolicies(ctx, &applicationautoscaling.DescribeScalingPoliciesInput{
		ServiceNamespace:  aastypes.ServiceNamespaceEcs,
		ResourceId:        strPtr(resourceID),
		ScalableDimension: aastypes.ScalableDimensionECSServiceDesiredCount,
	})
	if err != nil {
		return provider.NotFound(), classify("application-autoscaling", "DescribeScalingPolicies", err)
	}
	for _, policy := range policies.ScalingPolicies {
		cfg := policy.TargetTrackingScalingPolicyConfiguration
		if policy.PolicyType != aastypes.PolicyTypeTargetTrackingScaling || cfg == nil || cfg.TargetValue == nil {
			continue
		}
		attrs[ir.KeyTargetCPU] = strconv.FormatFloat(*cfg.TargetValue, 'f', -1, 64)
		break
	}

	return provider.Found(attrs), nil
}

func (a *autoscaleAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	if err := a.p.wait(ctx); err != nil {
		return provider.Result{}, err
	}

	resourceID := scalingResourceID(req.Config)
	minCapacity, _ := strconv.Atoi(req.Config[ir.KeyMinCapacity])
	maxCapacity, _ := strconv.Atoi(req.Config[ir.KeyMaxCapacity])
	targetCPU, _ := strconv.ParseFloat(req.Config[ir.KeyTargetCPU], 64)

	_, err := a.p.clients.Scaling.RegisterScalableTarget(ctx, &applicationautoscaling.RegisterScalableTargetInput{
		ServiceNamespace:  aastypes.ServiceNamespaceEcs,
		ResourceId:        strPtr(resourceID),
		ScalableDimension: aastypes.ScalableDimensionECSServiceDesiredCount,
		MinCapacity:       int32Ptr(int32(minCapacity)),
		MaxCapacity:       int32Ptr(int32(maxCapacity)),
	})
	if err != nil {
		return provider.Result{}, classify("application-autoscaling", "RegisterScalableTarget", err)
	}

	_, err = a.p.clients.Scaling.PutScalingPolicy(ctx, &applicationautoscaling.PutScalingPolicyInput{
		PolicyName:        strPtr(req.Name),
		ServiceNamespace:  aastypes.ServiceNamespaceEcs,
		ResourceId:        strPtr(resourceID),
		ScalableDimension: aastypes.ScalableDimensionECSServiceDesiredCount,
		PolicyType:        aastypes.PolicyTypeTargetTrackingScaling,
		TargetTrackingScalingPolicyConfiguration: &aastypes.TargetTrackingScalingPolicyConfiguration{
			PredefinedMetricSpecification: &aastypes.PredefinedMetricSpecification{
				PredefinedMetricType: aastypes.MetricTypeECSServiceAverageCPUUtilization,
			},
			TargetValue: float64Ptr(targetCPU),
		},
	})
	if err != nil {
		return provider.Result{}, classify("application-autoscaling", "PutScalingPolicy", err)
	}

	return provider.Result{}, nil
}
