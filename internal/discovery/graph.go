package discovery

import "github.com/flowforge/conductor/internal/core"

// EdgeKind distinguishes a dependency edge from a discovery edge in the
// materialized workflow graph.
type EdgeKind string

const (
	EdgeDependency EdgeKind = "dependency"
	EdgeDiscovery  EdgeKind = "discovery"
)

// GraphNode is one task in the workflow graph.
type GraphNode struct {
	TaskID       core.TaskID
	Phase        core.Phase
	Status       core.TaskStatus
	DiscoveredBy core.TaskID // non-empty if this task was spawned by a discovery
}

// GraphEdge connects two tasks, or a discovery to the task it has not
// (yet) spawned — From is a TaskID for a dependency edge, and a
// discovery ID for a discovery edge whose spawn is still pending.
type GraphEdge struct {
	From core.TaskID
	To   core.TaskID
	Kind EdgeKind
}

// Graph is the materialized view spec.md §4.6 calls for: the directed
// graph of original tasks, tasks spawned by discoveries, and the edges
// connecting them — resolved on demand from IDs, never held as owning
// pointers, since a discovery and the task it spawns can each reference
// the other cyclically.
type Graph struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

// Tasks is the subset of taskstore.Store the graph builder needs.
type Tasks interface {
	AllForTicket(ticketID core.TicketID) []*core.Task
}

// BuildWorkflowGraph materializes ticketID's workflow graph from its
// live tasks and its recorded discoveries. Used by the guardian's stuck
// detection (an all-terminal graph with no ready successors is a
// different signal than a discovery still awaiting a spawn) and by any
// UI rendering the ticket's branching history.
func BuildWorkflowGraph(ticketID core.TicketID, tasks Tasks, discoveries []*core.TaskDiscovery) *Graph {
	g := &Graph{}
	for _, t := range tasks.AllForTicket(ticketID) {
		g.Nodes = append(g.Nodes, GraphNode{TaskID: t.ID, Phase: t.Phase, Status: t.Status, DiscoveredBy: t.DiscoveredBy})
		for _, dep := range t.Dependencies {
			g.Edges = append(g.Edges, GraphEdge{From: dep, To: t.ID, Kind: EdgeDependency})
		}
		if t.DiscoveredBy != "" {
			g.Edges = append(g.Edges, GraphEdge{From: t.DiscoveredBy, To: t.ID, Kind: EdgeDiscovery})
		}
	}
	for _, d := range discoveries {
		if d.SpawnedTaskID != "" {
			continue // already represented by the spawned task's DiscoveredBy edge above
		}
		g.Edges = append(g.Edges, GraphEdge{From: d.SourceTaskID, To: core.TaskID(d.ID), Kind: EdgeDiscovery})
	}
	return g
}
