package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xela07ax/approval-gateway/internal/audit"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/executors/kube"
	"github.com/xela07ax/approval-gateway/internal/gate"
	"github.com/xela07ax/approval-gateway/internal/infra"
)

// Имена инструментов (они же ключи таблицы политик)
const (
	ToolDeletePod        = "delete_pod"
	ToolDeleteDeployment = "delete_deployment"
	ToolStopInstance     = "stop_ec2_instance"
	ToolStartInstance    = "start_ec2_instance"
	ToolListPods         = "list_pods"
	ToolListDeployments  = "list_deployments"
	ToolListInstances    = "list_ec2_instances"
)

// DefaultPolicies: разрушительные действия требуют подтверждения, остальное разрешено.
// policy.actions в конфиге перекрывает эти правила.
func DefaultPolicies() []domain.ActionPolicy {
	return []domain.ActionPolicy{
		{Action: ToolDeletePod, Effect: domain.EffectApprove},
		{Action: ToolDeleteDeployment, Effect: domain.EffectApprove},
		{Action: ToolStopInstance, Effect: domain.EffectApprove},
		{Action: ToolStartInstance, Effect: domain.EffectAllow},
		{Action: ToolListPods, Effect: domain.EffectAllow},
		{Action: ToolListDeployments, Effect: domain.EffectAllow},
		{Action: ToolListInstances, Effect: domain.EffectAllow},
	}
}

// Specs возвращает описания перехватываемых действий.
func Specs(defaultRegion string) []gate.ActionSpec {
	return []gate.ActionSpec{
		{
			Name:             ToolDeletePod,
			ResourceType:     domain.ResourcePod,
			Label:            "파드 삭제",
			Impact:           "파드가 즉시 종료됩니다. 컨트롤러가 없으면 복구되지 않습니다.",
			NameFrom:         gate.Arg("pod_name"),
			NamespaceFrom:    gate.OptionalArg("namespace"),
			DefaultNamespace: kube.DefaultNamespace,
		},
		{
			Name:             ToolDeleteDeployment,
			ResourceType:     domain.ResourceDeployment,
			Label:            "디플로이먼트 삭제",
			Impact:           "디플로이먼트와 소속 파드가 모두 삭제되어 서비스가 중단될 수 있습니다.",
			NameFrom:         gate.Arg("name"),
			NamespaceFrom:    gate.OptionalArg("namespace"),
			DefaultNamespace: kube.DefaultNamespace,
		},
		{
			Name:             ToolStopInstance,
			ResourceType:     domain.ResourceInstance,
			Label:            "EC2 인스턴스 중지",
			Impact:           "이 작업은 EC2 인스턴스가 중지되어 서비스가 중단될 수 있습니다.",
			NameFrom:         gate.Arg("instance_id"),
			NamespaceFrom:    gate.OptionalArg("region"),
			DefaultNamespace: defaultRegion,
		},
	}
}

func (s *Server) registerTools() {
	userArg := mcp.WithString(ArgUser, mcp.Description("ID of the requesting user"))

	specs := Specs(s.opts.DefaultRegion)
	for i := range specs {
		spec := specs[i]
		s.add(tool{def: mutatingTool(spec, userArg), spec: &spec, direct: s.executeNow(spec)})
	}

	s.add(tool{
		def: mcp.NewTool(ToolListPods,
			mcp.WithDescription("List pods in a namespace"),
			mcp.WithString("namespace", mcp.Description("Kubernetes namespace (default: default)")),
			userArg,
		),
		direct: s.listPods,
	})
	s.add(tool{
		def: mcp.NewTool(ToolListDeployments,
			mcp.WithDescription("List deployments in a namespace"),
			mcp.WithString("namespace", mcp.Description("Kubernetes namespace (default: default)")),
			userArg,
		),
		direct: s.listDeployments,
	})
	s.add(tool{
		def: mcp.NewTool(ToolListInstances,
			mcp.WithDescription("List EC2 instances with their state"),
			mcp.WithString("region", mcp.Description("AWS region (default: configured region)")),
			userArg,
		),
		direct: s.listInstances,
	})
	s.add(tool{
		def: mcp.NewTool(ToolStartInstance,
			mcp.WithDescription("Start a stopped EC2 instance"),
			mcp.WithString("instance_id", mcp.Required(), mcp.Description("EC2 instance ID")),
			mcp.WithString("region", mcp.Description("AWS region (default: configured region)")),
			userArg,
		),
		direct: s.startInstance,
	})
}

func mutatingTool(spec gate.ActionSpec, userArg mcp.ToolOption) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Label + ": " + spec.Impact)}
	switch spec.Name {
	case ToolDeletePod:
		opts = append(opts,
			mcp.WithString("pod_name", mcp.Required(), mcp.Description("Pod name")),
			mcp.WithString("namespace", mcp.Description("Kubernetes namespace (default: default)")),
		)
	case ToolDeleteDeployment:
		opts = append(opts,
			mcp.WithString("name", mcp.Required(), mcp.Description("Deployment name")),
			mcp.WithString("namespace", mcp.Description("Kubernetes namespace (default: default)")),
		)
	case ToolStopInstance:
		opts = append(opts,
			mcp.WithString("instance_id", mcp.Required(), mcp.Description("EC2 instance ID")),
			mcp.WithString("region", mcp.Description("AWS region (default: configured region)")),
		)
	}
	return mcp.NewTool(spec.Name, append(opts, userArg)...)
}

// executeNow — путь allow для мутирующего действия: команда сразу уходит в диспетчер.
func (s *Server) executeNow(spec gate.ActionSpec) gate.ActionFunc {
	return func(ctx context.Context, user string, args gate.Args) domain.Result {
		cmd, err := spec.Command(args)
		if err != nil {
			s.record(ctx, user, cmd, audit.StatusError, err.Error())
			return domain.Failure(err.Error())
		}

		res, err := s.dispatcher.Dispatch(ctx, cmd)
		if err != nil && res.Message == "" {
			res = domain.Failure(err.Error())
		}
		status := audit.StatusExecuted
		if !res.OK() {
			status = audit.StatusError
		}
		s.record(ctx, user, cmd, status, res.Message)
		return res
	}
}

func (s *Server) record(ctx context.Context, user string, cmd domain.PendingCommand, status audit.Status, msg string) {
	if user == "" {
		user = gate.UnknownUser
	}
	_ = s.trail.Record(ctx, audit.Entry{
		TraceID:      infra.TraceID(ctx),
		Actor:        user,
		Action:       cmd.ActionLabel,
		ResourceType: cmd.ResourceType.String(),
		ResourceName: cmd.ResourceName,
		Namespace:    cmd.Namespace,
		Status:       status,
		Message:      msg,
	})
}

func (s *Server) listPods(ctx context.Context, _ string, args gate.Args) domain.Result {
	ns, err := gate.OptionalArg("namespace")(args)
	if err != nil {
		return domain.Failure(err.Error())
	}
	return settle(s.kube.ListPods(ctx, ns))
}

func (s *Server) listDeployments(ctx context.Context, _ string, args gate.Args) domain.Result {
	ns, err := gate.OptionalArg("namespace")(args)
	if err != nil {
		return domain.Failure(err.Error())
	}
	return settle(s.kube.ListDeployments(ctx, ns))
}

func (s *Server) listInstances(ctx context.Context, _ string, args gate.Args) domain.Result {
	region, err := gate.OptionalArg("region")(args)
	if err != nil {
		return domain.Failure(err.Error())
	}
	return settle(s.instances.ListInstances(ctx, region))
}

func (s *Server) startInstance(ctx context.Context, user string, args gate.Args) domain.Result {
	cmd := domain.PendingCommand{ResourceType: domain.ResourceInstance, ActionLabel: "EC2 인스턴스 시작"}
	id, err := gate.Arg("instance_id")(args)
	if err == nil {
		cmd.ResourceName = id
		cmd.Namespace, err = gate.OptionalArg("region")(args)
	}
	if err != nil {
		s.record(ctx, user, cmd, audit.StatusError, err.Error())
		return domain.Failure(err.Error())
	}

	res := settle(s.instances.StartInstance(ctx, cmd.ResourceName, cmd.Namespace))
	status := audit.StatusExecuted
	if !res.OK() {
		status = audit.StatusError
	}
	s.record(ctx, user, cmd, status, res.Message)
	return res
}

// settle сводит (Result, error) исполнителя к одному Result.
func settle(res domain.Result, err error) domain.Result {
	if err != nil {
		return domain.Failure(err.Error())
	}
	return res
}
