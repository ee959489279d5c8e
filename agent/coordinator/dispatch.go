package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

// dispatchAgents fans the request out to every classified domain with
// a registered agent and waits for all of them to settle. There is no
// early return and no cancellation of slow siblings: a worker that
// fails, panics, or times out becomes a DomainResult with
// Success=false and never aborts the rest.
func (c *Coordinator) dispatchAgents(ctx context.Context, st *graphState) {
	type slot struct {
		agent contractx.DomainAgent
	}

	var slots []slot
	for _, dom := range st.Domains {
		agent, ok := c.agents[dom]
		if !ok {
			if dom == contractx.DomainGeneral {
				st.Warnings = append(st.Warnings, "no specialist matched the request")
			} else {
				st.Warnings = append(st.Warnings, fmt.Sprintf("no agent registered for domain %s", dom))
			}
			continue
		}
		slots = append(slots, slot{agent: agent})
	}
	if len(slots) == 0 {
		return
	}

	results := make([]contractx.DomainResult, len(slots))
	var wg sync.WaitGroup
	for i, s := range slots {
		wg.Add(1)
		go func(i int, agent contractx.DomainAgent) {
			defer wg.Done()
			results[i] = c.runAgent(ctx, agent, st.Req, st.Identity)
		}(i, s.agent)
	}
	wg.Wait()

	st.Results = results
	for _, res := range results {
		st.Warnings = append(st.Warnings, res.Warnings...)
	}
}

// runAgent wraps one worker call with its timeout budget and a panic
// guard so its failure is always a value.
func (c *Coordinator) runAgent(ctx context.Context, agent contractx.DomainAgent, req contractx.QueryRequest, identity contractx.Identity) (result contractx.DomainResult) {
	name := agent.Name()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("agent", name).Any("panic", r).Msg("agent panicked")
			result = contractx.DomainResult{
				Agent:    name,
				Success:  false,
				Warnings: []string{fmt.Sprintf("%s: worker failed unexpectedly", name)},
			}
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, c.workerTimeout)
	defer cancel()

	start := time.Now()
	result = agent.Run(callCtx, req, identity)
	elapsed := time.Since(start)

	if callCtx.Err() == context.DeadlineExceeded && !result.Success {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: worker timed out", name))
	}
	if result.Agent == "" {
		result.Agent = name
	}

	c.log.Debug().
		Str("agent", name).
		Bool("success", result.Success).
		Dur("elapsed", elapsed).
		Msg("agent settled")
	return result
}
