// Package ec2 исполняет действия над EC2-инстансами: stop, start и просмотр списка.
package ec2

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/xela07ax/approval-gateway/internal/dispatch"
	"github.com/xela07ax/approval-gateway/internal/domain"
)

// API — подмножество EC2 API, которым пользуется исполнитель.
type API interface {
	StopInstances(ctx context.Context, in *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	StartInstances(ctx context.Context, in *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

type Config struct {
	Region          string
	Profile         string
	AccessKeyID     string // Пусто — стандартная цепочка AWS (env, shared config, IAM role)
	SecretAccessKey string
	Endpoint        string // Для localstack и т.п.
}

type Client struct {
	api    API
	region string
}

// New строит клиента через стандартную цепочку конфигурации AWS SDK.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Region == "" {
		return nil, errors.New("ec2: region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, errors.New("ec2: access_key_id and secret_access_key must be set together")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ec2: load AWS config: %w", err)
	}

	api := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewClient(api, cfg.Region), nil
}

func NewClient(api API, defaultRegion string) *Client {
	return &Client{api: api, region: defaultRegion}
}

// regionOpt переключает регион для одного вызова. Пустой регион — регион клиента.
func (c *Client) regionOpt(region string) (string, []func(*ec2.Options)) {
	if region == "" || region == c.region {
		return c.region, nil
	}
	return region, []func(*ec2.Options){func(o *ec2.Options) { o.Region = region }}
}

// Коды, которые означают отказ по существу, а не сбой AWS.
var clientFaults = []string{"InvalidInstanceID", "IncorrectInstanceState", "UnauthorizedOperation", "InvalidParameter"}

func outcome(op string, err error) (domain.Result, error) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		for _, prefix := range clientFaults {
			if strings.HasPrefix(apiErr.ErrorCode(), prefix) {
				return domain.Failure(apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()), nil
			}
		}
	}
	return domain.Result{}, fmt.Errorf("%s: %w", op, err)
}

func (c *Client) StopInstance(ctx context.Context, instanceID, region string) (domain.Result, error) {
	region, optFns := c.regionOpt(region)
	out, err := c.api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{instanceID}}, optFns...)
	if err != nil {
		return outcome("stop instance", err)
	}
	if len(out.StoppingInstances) == 0 {
		return domain.Failure(fmt.Sprintf("instance %s was not stopped", instanceID)), nil
	}
	return transition(out.StoppingInstances[0], "stopping", instanceID, region), nil
}

func (c *Client) StartInstance(ctx context.Context, instanceID, region string) (domain.Result, error) {
	region, optFns := c.regionOpt(region)
	out, err := c.api.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{instanceID}}, optFns...)
	if err != nil {
		return outcome("start instance", err)
	}
	if len(out.StartingInstances) == 0 {
		return domain.Failure(fmt.Sprintf("instance %s was not started", instanceID)), nil
	}
	return transition(out.StartingInstances[0], "starting", instanceID, region), nil
}

func transition(sc types.InstanceStateChange, verb, instanceID, region string) domain.Result {
	prev, cur := stateName(sc.PreviousState), stateName(sc.CurrentState)
	return domain.Success(fmt.Sprintf("Instance %s %s (%s -> %s)", instanceID, verb, prev, cur), map[string]any{
		"instance_id":    instanceID,
		"region":         region,
		"previous_state": prev,
		"current_state":  cur,
	})
}

func stateName(s *types.InstanceState) string {
	if s == nil {
		return ""
	}
	return string(s.Name)
}

func (c *Client) ListInstances(ctx context.Context, region string) (domain.Result, error) {
	region, optFns := c.regionOpt(region)

	instances := make([]map[string]any, 0)
	p := ec2.NewDescribeInstancesPaginator(c.api, &ec2.DescribeInstancesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx, optFns...)
		if err != nil {
			return outcome("describe instances", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				instances = append(instances, map[string]any{
					"instance_id":   aws.ToString(inst.InstanceId),
					"name":          nameTag(inst.Tags),
					"state":         stateName(inst.State),
					"instance_type": string(inst.InstanceType),
					"private_ip":    aws.ToString(inst.PrivateIpAddress),
					"public_ip":     aws.ToString(inst.PublicIpAddress),
				})
			}
		}
	}
	return domain.Success(fmt.Sprintf("%d instances in %s", len(instances), region), map[string]any{
		"region":    region,
		"instances": instances,
	}), nil
}

func nameTag(tags []types.Tag) string {
	for _, t := range tags {
		if aws.ToString(t.Key) == "Name" {
			return aws.ToString(t.Value)
		}
	}
	return "Unnamed"
}

// StopExecutor — исполнитель подтверждённых команд для типа instance. Namespace трактуется как регион.
func (c *Client) StopExecutor() dispatch.Executor {
	return dispatch.ExecutorFunc(func(ctx context.Context, cmd domain.PendingCommand) (domain.Result, error) {
		return c.StopInstance(ctx, cmd.ResourceName, cmd.Namespace)
	})
}
