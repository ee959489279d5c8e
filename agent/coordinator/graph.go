package coordinator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

func (c *Coordinator) compileQueryGraph(
	ctx context.Context,
) (compose.Runnable[graphInput, contractx.QueryResponse], error) {
	graph := compose.NewGraph[graphInput, contractx.QueryResponse]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in graphInput) (*graphState, error) {
			return &graphState{
				Req:      in.Req,
				Identity: in.Identity,
				Start:    c.now(),
			}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("classify",
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (*graphState, error) {
			c.classify(ctx, st)
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node classify: %w", err)
	}

	if err := graph.AddLambdaNode("dispatch_agents",
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (*graphState, error) {
			if !st.Fatal {
				c.dispatchAgents(ctx, st)
			}
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node dispatch_agents: %w", err)
	}

	if err := graph.AddLambdaNode("synthesize",
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (*graphState, error) {
			c.synthesize(ctx, st)
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node synthesize: %w", err)
	}

	if err := graph.AddLambdaNode("finalize",
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (contractx.QueryResponse, error) {
			return c.finalize(st), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "classify"},
		{"classify", "dispatch_agents"},
		{"dispatch_agents", "synthesize"},
		{"synthesize", "finalize"},
		{"finalize", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("coordinator.handle_query"))
	if err != nil {
		return nil, fmt.Errorf("compile coordinator graph: %w", err)
	}
	return runner, nil
}
