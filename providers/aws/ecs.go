package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/provider"
)

// clusterAdapter provisions the ECS cluster behind the compute-plan
// kind. Fargate-only, so a cluster is pure namespace and has nothing to
// update.
type clusterAdapter struct {
	p *Provider
}

func (a *clusterAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	if err := a.p.wait(ctx); err != nil {
		return provider.NotFound(), err
	}

	out, err := a.p.clients.ECS.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{req.Name},
	})
	if err != nil {
		return provider.NotFound(), classify("ecs", "DescribeClusters", err)
	}
	for _, c := range out.Clusters {
		// Deleted clusters linger as INACTIVE.
		if stringValue(c.Status) == "ACTIVE" {
			return provider.Found(map[string]string{ir.KeyLocation: a.p.opts.Region}), nil
		}
	}
	return provider.NotFound(), nil
}

func (a *clusterAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	if observed.Exists {
		return provider.Result{}, nil
	}
	if err := a.p.wait(ctx); err != nil {
		return provider.Result{}, err
	}

	_, err := a.p.clients.ECS.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName:       strPtr(req.Name),
		CapacityProviders: []string{"FARGATE", "FARGATE_SPOT"},
		Tags:              []ecstypes.Tag{{Key: strPtr(groupTagKey), Value: strPtr(a.p.opts.ResourceGroup)}},
	})
	if err != nil {
		return provider.Result{}, classify("ecs", "CreateCluster", err)
	}
	return provider.Result{}, nil
}

var taskPollInterval = 5 * time.Second

// serviceAdapter provisions the application as a Fargate service: log
// group, task definition revision, then create or roll the service.
// Its secret is the url of a running task, discovered through the
// task's network interface.
type serviceAdapter struct {
	p *Provider
}

func (a *serviceAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	if err := a.p.wait(ctx); err != nil {
		return provider.NotFound(), err
	}

	cluster := req.Config[ir.KeyCluster]
	out, err := a.p.clients.ECS.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  strPtr(cluster),
		Services: []string{req.Name},
	})
	if err != nil {
		// No cluster yet means no service either; previews probe the
		// app before the compute plan exists.
		var noCluster *ecstypes.ClusterNotFoundException
		if errors.As(err, &noCluster) {
			return provider.NotFound(), nil
		}
		return provider.NotFound(), classify("ecs", "DescribeServices", err)
	}

	var svc *ecstypes.Service
	for i := range out.Services {
		if stringValue(out.Services[i].Status) == "ACTIVE" {
			svc = &out.Services[i]
			break
		}
	}
	if svc == nil {
		return provider.NotFound(), nil
	}

	attrs, err := a.serviceAttrs(ctx, svc)
	if err != nil {
		return provider.NotFound(), err
	}

	obs := provider.Found(attrs)
	port := req.Config[ir.KeyPort]
	if url, err := a.taskURL(ctx, cluster, req.Name, port); err == nil && url != "" {
		obs.Secrets = map[string]string{ir.SecretURL: url}
	}
	return obs, nil
}

func (a *serviceAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	subnets, securityGroups, assignPublic, err := a.p.networking(ctx)
	if err != nil {
		return provider.Result{}, err
	}
	netCfg := networkConfiguration(subnets, securityGroups, assignPublic)

	cluster := req.Config[ir.KeyCluster]
	logGroup := "/ecs/" + req.Name

	if err := a.ensureLogGroup(ctx, logGroup); err != nil {
		return provider.Result{}, err
	}

	taskDefARN, err := a.registerTaskDefinition(ctx, req, logGroup)
	if err != nil {
		return provider.Result{}, err
	}

	desired, _ := strconv.Atoi(req.Config[ir.KeyDesiredCount])
	if desired <= 0 {
		desired = 1
	}

	if err := a.p.wait(ctx); err != nil {
		return provider.Result{}, err
	}
	if observed.Exists {
		_, err = a.p.clients.ECS.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:              strPtr(cluster),
			Service:              strPtr(req.Name),
			TaskDefinition:       strPtr(taskDefARN),
			DesiredCount:         int32Ptr(int32(desired)),
			ForceNewDeployment:   true,
			NetworkConfiguration: netCfg,
		})
		if err != nil {
			return provider.Result{}, classify("ecs", "UpdateService", err)
		}
	} else {
		_, err = a.p.clients.ECS.CreateService(ctx, &ecs.CreateServiceInput{
			ServiceName:          strPtr(req.Name),
			Cluster:              strPtr(cluster),
			TaskDefinition:       strPtr(taskDefARN),
			DesiredCount:         int32Ptr(int32(desired)),
			LaunchType:           ecstypes.LaunchTypeFargate,
			NetworkConfiguration: netCfg,
			Tags:                 []ecstypes.Tag{{Key: strPtr(groupTagKey), Value: strPtr(a.p.opts.ResourceGroup)}},
		})
		if err != nil {
			return provider.Result{}, classify("ecs", "CreateService", err)
		}
	}

	url, err := a.waitForTaskURL(ctx, cluster, req.Name, req.Config[ir.KeyPort])
	if err != nil {
		return provider.Result{}, err
	}
	return provider.Result{Secrets: map[string]string{ir.SecretURL: url}}, nil
}

// serviceAttrs projects the live service into the desired-config
// keyspace so the executor can diff them.
func (a *serviceAdapter) serviceAttrs(ctx context.Context, svc *ecstypes.Service) (map[string]string, error) {
	if err := a.p.wait(ctx); err != nil {
		return nil, err
	}

	td, err := a.p.clients.ECS.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: svc.TaskDefinition,
	})
	if err != nil {
		return nil, classify("ecs", "DescribeTaskDefinition", err)
	}

	attrs := map[string]string{
		ir.KeyCluster:      nameFromARN(stringValue(svc.ClusterArn)),
		ir.KeyDesiredCount: strconv.Itoa(int(svc.DesiredCount)),
	}
	def := td.TaskDefinition
	if def.Cpu != nil {
		attrs[ir.KeyCPU] = *def.Cpu
	}
	if def.Memory != nil {
		attrs[ir.KeyMemory] = *def.Memory
	}
	if len(def.ContainerDefinitions) > 0 {
		container := def.ContainerDefinitions[0]
		attrs[ir.KeyImage] = stringValue(container.Image)
		if len(container.PortMappings) > 0 {
			attrs[ir.KeyPort] = strconv.Itoa(int(int32Value(container.PortMappings[0].ContainerPort)))
		}
		for _, kv := range container.Environment {
			attrs[ir.EnvPrefix+stringValue(kv.Name)] = stringValue(kv.Value)
		}
	}
	return attrs, nil
}

func (a *serviceAdapter) ensureLogGroup(ctx context.Context, name string) error {
	if err := a.p.wait(ctx); err != nil {
		return err
	}

	_, err := a.p.clients.Logs.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: strPtr(name),
		Tags:         map[string]string{groupTagKey: a.p.opts.ResourceGroup},
	})
	if err != nil {
		var exists *logtypes.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return classify("cloudwatchlogs", "CreateLogGroup", err)
		}
		return nil
	}

	_, err = a.p.clients.Logs.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    strPtr(name),
		RetentionInDays: int32Ptr(30),
	})
	if err != nil {
		return classify("cloudwatchlogs", "PutRetentionPolicy", err)
	}
	return nil
}

func (a *serviceAdapter) registerTaskDefinition(ctx context.Context, req provider.Request, logGroup string) (string, error) {
	if err := a.p.wait(ctx); err != nil {
		return "", err
	}

	port, _ := strconv.Atoi(req.Config[ir.KeyPort])
	container := ecstypes.ContainerDefinition{
		Name:      strPtr(req.Name),
		Image:     strPtr(req.Config[ir.KeyImage]),
		Essential: boolPtr(true),
		PortMappings: []ecstypes.PortMapping{{
			ContainerPort: int32Ptr(int32(port)),
			Protocol:      ecstypes.TransportProtocolTcp,
		}},
		Environment: containerEnvironment(req.Config),
		LogConfiguration: &ecstypes.LogConfiguration{
			LogDriver: ecstypes.LogDriverAwslogs,
			Options: map[string]string{
				"awslogs-group":         logGroup,
				"awslogs-region":        a.p.opts.Region,
				"awslogs-stream-prefix": req.Name,
			},
		},
	}

	input := &ecs.RegisterTaskDefinitionInput{
		Family:                  strPtr(req.Name),
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		Cpu:                     strPtr(req.Config[ir.KeyCPU]),
		Memory:                  strPtr(req.Config[ir.KeyMemory]),
		ContainerDefinitions:    []ecstypes.ContainerDefinition{container},
	}
	if a.p.opts.ExecutionRole != "" {
		input.ExecutionRoleArn = strPtr(a.p.opts.ExecutionRole)
	}

	out, err := a.p.clients.ECS.RegisterTaskDefinition(ctx, input)
	if err != nil {
		return "", classify("ecs", "RegisterTaskDefinition", err)
	}
	return stringValue(out.TaskDefinition.TaskDefinitionArn), nil
}

func networkConfiguration(subnets, securityGroups []string, assignPublic bool) *ecstypes.NetworkConfiguration {
	assign := ecstypes.AssignPublicIpDisabled
	if assignPublic {
		assign = ecstypes.AssignPublicIpEnabled
	}
	return &ecstypes.NetworkConfiguration{
		AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
			Subnets:        subnets,
			SecurityGroups: securityGroups,
			AssignPublicIp: assign,
		},
	}
}

// waitForTaskURL polls until the service has a running task with an
// address. The node timeout set by the engine bounds the wait.
func (a *serviceAdapter) waitForTaskURL(ctx context.Context, cluster, service, port string) (string, error) {
	url, err := a.taskURL(ctx, cluster, service, port)
	if err == nil && url != "" {
		return url, nil
	}
	if err != nil && !apperrors.IsTransient(err) {
		return "", err
	}

	ticker := time.NewTicker(taskPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout,
				fmt.Sprintf("no running task for service %s", service))
		case <-ticker.C:
			url, err := a.taskURL(ctx, cluster, service, port)
			if err != nil {
				if apperrors.IsTransient(err) {
					logging.Debug("task poll hit transient error", "service", service, "err", err)
					continue
				}
				return "", err
			}
			if url != "" {
				return url, nil
			}
		}
	}
}

// taskURL resolves the address of one running task, or "" when none is
// running yet.
func (a *serviceAdapter) taskURL(ctx context.Context, cluster, service, port string) (string, error) {
	if err := a.p.wait(ctx); err != nil {
		return "", err
	}

	tasks, err := a.p.clients.ECS.ListTasks(ctx, &ecs.ListTasksInput{
		Cluster:       strPtr(cluster),
		ServiceName:   strPtr(service),
		DesiredStatus: ecstypes.DesiredStatusRunning,
	})
	if err != nil {
		return "", classify("ecs", "ListTasks", err)
	}
	if len(tasks.TaskArns) == 0 {
		return "", nil
	}

	described, err := a.p.clients.ECS.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: strPtr(cluster),
		Tasks:   tasks.TaskArns[:1],
	})
	if err != nil {
		return "", classify("ecs", "DescribeTasks", err)
	}

	var eniID string
	for _, task := range described.Tasks {
		if stringValue(task.LastStatus) != "RUNNING" {
			continue
		}
		for _, att := range task.Attachments {
			if stringValue(att.Type) != "ElasticNetworkInterface" {
				continue
			}
			for _, detail := range att.Details {
				if stringValue(detail.Name) == "networkInterfaceId" {
					eniID = stringValue(detail.Value)
				}
			}
		}
	}
	if eniID == "" {
		return "", nil
	}

	ip, err := a.interfaceAddress(ctx, eniID)
	if err != nil || ip == "" {
		return "", err
	}
	if port == "" {
		port = "80"
	}
	return fmt.Sprintf("http://%s:%s", ip, port), nil
}

func (a *serviceAdapter) interfaceAddress(ctx context.Context, eniID string) (string, error) {
	if err := a.p.wait(ctx); err != nil {
		return "", err
	}

	out, err := a.p.clients.EC2.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
		NetworkInterfaceIds: []string{eniID},
	})
	if err != nil {
		return "", classify("ec2", "DescribeNetworkInterfaces", err)
	}
	if len(out.NetworkInterfaces) == 0 {
		return "", nil
	}

	// A public address, when the task has one, is the reachable one.
	eni := out.NetworkInterfaces[0]
	if eni.Association != nil && eni.Association.PublicIp != nil {
		return *eni.Association.PublicIp, nil
	}
	return stringValue(eni.PrivateIpAddress), nil
}

// containerEnvironment collects the env.-prefixed config keys, sorted
// so task definition revisions stay stable across runs.
func containerEnvironment(config map[string]string) []ecstypes.KeyValuePair {
	var names []string
	for k := range config {
		if strings.HasPrefix(k, ir.EnvPrefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	env := make([]ecstypes.KeyValuePair, 0, len(names))
	for _, k := range names {
		env = append(env, ecstypes.KeyValuePair{
			Name:  strPtr(strings.TrimPrefix(k, ir.EnvPrefix)),
			Value: strPtr(config[k]),
		})
	}
	return env
}

func nameFromARN(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

func int32Value(i *int32) int32 {
	if i == nil {
		return 0
	}
	return *i
}
