package tools

import (
	"context"
	"fmt"
	"time"

	"IntentMCP/internal/auth"
	xerrors "IntentMCP/internal/errors"
	"IntentMCP/internal/intent"
	"IntentMCP/internal/observability/metrics"
	"IntentMCP/pkg/logger"
)

// ConnectivityChecker is the diagnostic slice of the backend client.
type ConnectivityChecker interface {
	Ping(ctx context.Context) error
	Mappings(ctx context.Context) ([]map[string]any, error)
}

// Service executes tool calls against the lifecycle engine. Every call is
// schema-validated before the engine sees it.
type Service struct {
	engine       *intent.Engine
	connectivity ConnectivityChecker
	version      string
	startedAt    time.Time
}

// NewService builds the tool service.
func NewService(engine *intent.Engine, connectivity ConnectivityChecker, version string) (*Service, error) {
	if engine == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "tool service requires an engine")
	}
	if version == "" {
		version = "dev"
	}
	return &Service{
		engine:       engine,
		connectivity: connectivity,
		version:      version,
		startedAt:    time.Now(),
	}, nil
}

// Call validates the arguments and dispatches to the named tool.
func (s *Service) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	def, ok := Lookup(name)
	if !ok {
		metrics.ObserveToolCall(name, "unknown_tool")
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("unknown tool %q", name))
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := ValidateArguments(def.InputSchema, args); err != nil {
		metrics.ObserveToolCall(name, "schema_violation")
		return nil, err
	}

	result, err := s.dispatch(ctx, name, args)
	outcome := "ok"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
	}
	metrics.ObserveToolCall(name, outcome)
	logger.Audit().Info("tool_call",
		"tool", name,
		"subject", auth.SubjectName(ctx),
		"outcome", outcome,
	)
	return result, err
}

func (s *Service) dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "create_intent":
		return s.createIntent(ctx, args)
	case "submit_intent":
		return s.submitIntent(ctx, args)
	case "get_intent":
		return s.getIntent(ctx, args)
	case "list_intents":
		return s.listIntents(ctx, args)
	case "update_intent":
		return s.updateIntent(ctx, args)
	case "terminate_intent":
		return s.terminateIntent(ctx, args)
	case "delete_intent":
		return s.deleteIntent(ctx, args)
	case "check_backend_connectivity":
		return s.checkBackendConnectivity(ctx)
	case "health_check":
		return s.healthCheck(), nil
	case "list_tools":
		return s.listTools(), nil
	default:
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("unknown tool %q", name))
	}
}

func (s *Service) createIntent(ctx context.Context, args map[string]any) (any, error) {
	spec, _ := args["specification"].(map[string]any)
	in, err := s.engine.Create(ctx, intent.CreateRequest{
		Name:          stringArg(args, "name"),
		Description:   stringArg(args, "description"),
		Specification: spec,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"intent": in}, nil
}

func (s *Service) submitIntent(ctx context.Context, args map[string]any) (any, error) {
	in, err := s.engine.Submit(ctx, stringArg(args, "id"))
	if in != nil {
		// A rejected or unavailable submission still mutated the record;
		// return the persisted view alongside the error.
		return map[string]any{"intent": in}, err
	}
	return nil, err
}

func (s *Service) getIntent(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "id")
	refresh, _ := args["refresh"].(bool)
	if refresh {
		in, err := s.engine.Refresh(ctx, id)
		if in != nil {
			return map[string]any{"intent": in}, err
		}
		return nil, err
	}
	in, err := s.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"intent": in}, nil
}

func (s *Service) listIntents(ctx context.Context, args map[string]any) (any, error) {
	opts := make([]intent.ListOption, 0, 6)
	if states, ok := args["states"].([]any); ok {
		converted := make([]intent.State, 0, len(states))
		for _, raw := range states {
			if str, ok := raw.(string); ok {
				converted = append(converted, intent.State(str))
			}
		}
		opts = append(opts, intent.WithStates(converted...))
	}
	if query := stringArg(args, "query"); query != "" {
		opts = append(opts, intent.WithQuery(query))
	}
	if since, ok := intArg(args, "updated_since"); ok {
		opts = append(opts, intent.WithUpdatedSince(time.Unix(since, 0)))
	}
	if until, ok := intArg(args, "updated_until"); ok {
		opts = append(opts, intent.WithUpdatedUntil(time.Unix(until, 0)))
	}
	if limit, ok := intArg(args, "limit"); ok {
		opts = append(opts, intent.WithLimit(int(limit)))
	}
	if offset, ok := intArg(args, "offset"); ok {
		opts = append(opts, intent.WithOffset(int(offset)))
	}
	if order := stringArg(args, "order"); order == "asc" {
		opts = append(opts, intent.WithSortOrder(intent.SortByUpdatedAsc))
	}

	intents, err := s.engine.List(ctx, opts...)
	if err != nil {
		return nil, err
	}
	stats, err := s.engine.Stats(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"intents": intents,
		"count":   len(intents),
		"stats":   stats,
	}, nil
}

func (s *Service) updateIntent(ctx context.Context, args map[string]any) (any, error) {
	req := intent.UpdateRequest{}
	if name, ok := args["name"].(string); ok {
		req.Name = &name
	}
	if description, ok := args["description"].(string); ok {
		req.Description = &description
	}
	if spec, ok := args["specification"].(map[string]any); ok {
		req.Specification = spec
	}
	in, err := s.engine.Update(ctx, stringArg(args, "id"), req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"intent": in}, nil
}

func (s *Service) terminateIntent(ctx context.Context, args map[string]any) (any, error) {
	in, err := s.engine.Terminate(ctx, stringArg(args, "id"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"intent": in}, nil
}

func (s *Service) deleteIntent(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "id")
	if err := s.engine.Delete(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true, "id": id}, nil
}

func (s *Service) checkBackendConnectivity(ctx context.Context) (any, error) {
	if s.connectivity == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "connectivity checks are not configured")
	}
	if err := s.connectivity.Ping(ctx); err != nil {
		return map[string]any{"healthy": false, "error": err.Error()}, nil
	}
	result := map[string]any{"healthy": true}
	mappings, err := s.connectivity.Mappings(ctx)
	if err != nil {
		result["mappings_accessible"] = false
		result["mappings_error"] = err.Error()
		return result, nil
	}
	result["mappings_accessible"] = true
	result["mappings_count"] = len(mappings)
	return result, nil
}

func (s *Service) healthCheck() any {
	return map[string]any{
		"healthy":        true,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
}

func (s *Service) listTools() any {
	catalogue := Catalogue()
	names := make([]map[string]string, 0, len(catalogue))
	for _, def := range catalogue {
		names = append(names, map[string]string{
			"name":        def.Name,
			"description": def.Description,
		})
	}
	return map[string]any{"tools": names, "count": len(names)}
}

func stringArg(args map[string]any, key string) string {
	value, _ := args[key].(string)
	return value
}

func intArg(args map[string]any, key string) (int64, bool) {
	switch value := args[key].(type) {
	case float64:
		return int64(value), true
	case int:
		return int64(value), true
	case int64:
		return value, true
	default:
		return 0, false
	}
}
