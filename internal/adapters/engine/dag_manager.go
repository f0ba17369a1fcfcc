package engine

import (
	"fmt"

	"github.com/heimdalr/dag"

	"github.com/eleven-am/weft/internal/domain"
)

// buildDAG loads the graph's shape into a heimdalr DAG. The library refuses
// self-loops, duplicate edges and edges that would close a cycle, so every
// refused edge becomes an offense against its target.
func buildDAG(nodeIDs []string, edges []domain.Edge) (*dag.DAG, []offense) {
	workflowDAG := dag.NewDAG()
	var offenses []offense

	for _, id := range nodeIDs {
		if err := workflowDAG.AddVertexByID(id, id); err != nil {
			offenses = append(offenses, offense{
				nodeID: id,
				err:    structural(id, fmt.Sprintf("cannot add node %s", id), err),
			})
		}
	}

	for _, edge := range edges {
		err := workflowDAG.AddEdge(edge.Source, edge.Target)
		if err == nil {
			continue
		}

		var cause error
		switch err.(type) {
		case dag.SrcDstEqualError:
			cause = fmt.Errorf("%w: self-loop on %s", domain.ErrCycle, edge.Source)
		case dag.EdgeLoopError:
			cause = fmt.Errorf("%w: edge %s -> %s closes a cycle", domain.ErrCycle, edge.Source, edge.Target)
		case dag.EdgeDuplicateError:
			cause = fmt.Errorf("duplicate edge %s -> %s", edge.Source, edge.Target)
		default:
			cause = fmt.Errorf("edge %s -> %s: %w", edge.Source, edge.Target, err)
		}
		offenses = append(offenses, offense{
			nodeID: edge.Target,
			err:    structural(edge.Target, "invalid edge", cause),
		})
	}

	return workflowDAG, offenses
}
