// Package tools публикует операции над инфраструктурой как MCP-инструменты.
// Каждый вызов проходит через политику: approve уводит его в шлюз подтверждения,
// allow исполняет сразу, deny отвечает ошибкой.
package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xela07ax/approval-gateway/internal/audit"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/gate"
	"github.com/xela07ax/approval-gateway/internal/infra"
	"github.com/xela07ax/approval-gateway/internal/policy"
	"go.uber.org/zap"
)

const ServerName = "approval-gateway"

// ArgUser — необязательный аргумент любого инструмента: идентификатор запросившего.
const ArgUser = "user"

// Kube — операции чтения над кластером (kube.Client).
type Kube interface {
	ListPods(ctx context.Context, namespace string) (domain.Result, error)
	ListDeployments(ctx context.Context, namespace string) (domain.Result, error)
}

// Instances — операции над EC2, которые не требуют подтверждения (ec2.Client).
type Instances interface {
	ListInstances(ctx context.Context, region string) (domain.Result, error)
	StartInstance(ctx context.Context, instanceID, region string) (domain.Result, error)
}

// Dispatcher исполняет команду сразу, когда политика разрешает действие без подтверждения.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd domain.PendingCommand) (domain.Result, error)
}

type Options struct {
	Version       string
	DefaultRegion string // Регион EC2 по умолчанию (aws.region)
}

type Server struct {
	mcp        *server.MCPServer
	gate       *gate.Gate
	enforcer   policy.Enforcer
	dispatcher Dispatcher
	trail      audit.Recorder
	kube       Kube
	instances  Instances
	opts       Options
	logger     *zap.Logger

	handlers map[string]server.ToolHandlerFunc
}

func NewServer(g *gate.Gate, enf policy.Enforcer, d Dispatcher, trail audit.Recorder, kube Kube, inst Instances, opts Options, logger *zap.Logger) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		mcp:        server.NewMCPServer(ServerName, opts.Version, server.WithToolCapabilities(false)),
		gate:       g,
		enforcer:   enf,
		dispatcher: d,
		trail:      trail,
		kube:       kube,
		instances:  inst,
		opts:       opts,
		logger:     logger.With(zap.String("mod", "tools")),
		handlers:   make(map[string]server.ToolHandlerFunc),
	}
	s.registerTools()
	return s
}

// MCP возвращает собранный MCP-сервер (для stdio и тестов).
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Names — имена зарегистрированных инструментов, по алфавиту.
func (s *Server) Names() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler — streamable HTTP транспорт, монтируется роутером на mcp.path.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// tool — один зарегистрированный инструмент.
// spec задан у мутирующих действий: только их можно увести в подтверждение.
type tool struct {
	def    mcp.Tool
	spec   *gate.ActionSpec
	direct gate.ActionFunc
}

func (s *Server) add(t tool) {
	var gated gate.ActionFunc
	if t.spec != nil {
		gated = s.gate.Wrap(*t.spec)
	}
	h := s.handler(t.def.Name, gated, t.direct)
	s.handlers[t.def.Name] = h
	s.mcp.AddTool(t.def, h)
}

// handler применяет политику на каждом вызове: таблица может быть перечитана без рестарта.
func (s *Server) handler(name string, gated, direct gate.ActionFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := gate.Args(request.GetArguments())
		user := request.GetString(ArgUser, "")
		if infra.TraceID(ctx) == "" {
			ctx = infra.WithTraceID(ctx, uuid.New().String())
		}

		var res domain.Result
		switch s.enforcer.Effect(name) {
		case domain.EffectApprove:
			if gated == nil {
				res = s.refuse(ctx, name, user, "tool cannot be approval-gated")
				break
			}
			res = gated(ctx, user, args)
		case domain.EffectAllow:
			res = direct(ctx, user, args)
		default:
			res = s.refuse(ctx, name, user, "denied by policy")
		}
		return toolResult(res)
	}
}

// refuse: вызов отклонён политикой, исполнитель не вызывается.
func (s *Server) refuse(ctx context.Context, name, user, reason string) domain.Result {
	if user == "" {
		user = gate.UnknownUser
	}
	_ = s.trail.Record(ctx, audit.Entry{
		TraceID: infra.TraceID(ctx),
		Actor:   user,
		Action:  name,
		Status:  audit.StatusDenied,
		Message: reason,
	})
	s.logger.Warn("tool call refused",
		zap.String("tool", name),
		zap.String("actor", user),
		zap.String("reason", reason),
	)
	return domain.Failure(name + ": " + reason)
}

func toolResult(res domain.Result) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return mcp.NewToolResultError("encode result: " + err.Error()), nil
	}
	if res.Status == domain.StatusError {
		return mcp.NewToolResultError(string(body)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}
