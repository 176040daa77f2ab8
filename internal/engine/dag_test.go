package engine

import (
	"testing"

	"github.com/shaiso/Cascade/internal/domain"
)

func TestBuildDAG_SimpleChain(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "A", Type: domain.StepTypeHTTP},
			{ID: "B", Type: domain.StepTypeTransform, DependsOn: []string{"A"}},
			{ID: "C", Type: domain.StepTypeMerge, DependsOn: []string{"B"}},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dag.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", dag.Size())
	}

	if len(dag.RootNodes) != 1 {
		t.Errorf("expected 1 root node, got %d", len(dag.RootNodes))
	}
	if dag.RootNodes[0].ID != "A" {
		t.Errorf("expected root node A, got %s", dag.RootNodes[0].ID)
	}

	nodeB := dag.GetNode("B")
	if len(nodeB.DependsOn) != 1 || nodeB.DependsOn[0].ID != "A" {
		t.Error("node B should depend on A")
	}

	nodeC := dag.GetNode("C")
	if len(nodeC.DependsOn) != 1 || nodeC.DependsOn[0].ID != "B" {
		t.Error("node C should depend on B")
	}
}

func TestBuildDAG_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "A", Type: domain.StepTypeHTTP},
			{ID: "B", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
			{ID: "C", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
			{ID: "D", Type: domain.StepTypeMerge, DependsOn: []string{"B", "C"}},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nodeD := dag.GetNode("D")
	if len(nodeD.DependsOn) != 2 {
		t.Errorf("node D should have 2 dependencies, got %d", len(nodeD.DependsOn))
	}

	if dag.GetNode("A").InDegree != 0 {
		t.Error("A should have inDegree 0")
	}
	if dag.GetNode("D").InDegree != 2 {
		t.Error("D should have inDegree 2")
	}

	// D должен быть последним в топологическом порядке
	if dag.Order[len(dag.Order)-1].ID != "D" {
		t.Errorf("D should be last in order, got %s", dag.Order[len(dag.Order)-1].ID)
	}
}

func TestBuildDAG_ConnectionsAddEdges(t *testing.T) {
	// Ребро B → C объявлено только через connection
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "B", Type: domain.StepTypeHTTP},
			{ID: "C", Type: domain.StepTypeTransform},
		},
		Connections: []domain.Connection{
			{SourceStep: "B", Output: "body", TargetStep: "C", Input: "data"},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nodeC := dag.GetNode("C")
	if len(nodeC.DependsOn) != 1 || nodeC.DependsOn[0].ID != "B" {
		t.Error("connection should create dependency C → B")
	}
}

func TestBuildDAG_DuplicateEdgeNotCountedTwice(t *testing.T) {
	// Одна и та же пара объявлена и в depends_on, и в connection
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "A", Type: domain.StepTypeHTTP},
			{ID: "B", Type: domain.StepTypeTransform, DependsOn: []string{"A"}},
		},
		Connections: []domain.Connection{
			{SourceStep: "A", Output: "body", TargetStep: "B", Input: "data"},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dag.GetNode("B").InDegree != 1 {
		t.Errorf("duplicate edge should not be counted twice, inDegree = %d", dag.GetNode("B").InDegree)
	}
}

func TestBuildDAG_DeterministicOrder(t *testing.T) {
	// Независимые шаги должны идти в объявленном порядке
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "third", Type: domain.StepTypeHTTP},
			{ID: "first", Type: domain.StepTypeHTTP},
			{ID: "second", Type: domain.StepTypeHTTP},
		},
	}

	for i := 0; i < 10; i++ {
		dag, err := BuildDAG(def)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := []string{dag.Order[0].ID, dag.Order[1].ID, dag.Order[2].ID}
		want := []string{"third", "first", "second"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("order not deterministic: got %v, want %v", got, want)
			}
		}
	}
}

func TestReadyNodes_GatingOnDependencies(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "A", Type: domain.StepTypeHTTP},
			{ID: "B", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
			{ID: "C", Type: domain.StepTypeMerge, DependsOn: []string{"A", "B"}},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statuses := map[string]domain.StepStatus{
		"A": domain.StepPending,
		"B": domain.StepPending,
		"C": domain.StepPending,
	}

	ready := dag.ReadyNodes(statuses)
	if len(ready) != 1 || ready[0].ID != "A" {
		t.Fatalf("only A should be ready, got %v", readyIDs(ready))
	}

	statuses["A"] = domain.StepCompleted
	ready = dag.ReadyNodes(statuses)
	if len(ready) != 1 || ready[0].ID != "B" {
		t.Fatalf("only B should be ready, got %v", readyIDs(ready))
	}

	// SKIPPED удовлетворяет гейтинг наравне с COMPLETED
	statuses["B"] = domain.StepSkipped
	ready = dag.ReadyNodes(statuses)
	if len(ready) != 1 || ready[0].ID != "C" {
		t.Fatalf("C should be ready after B is skipped, got %v", readyIDs(ready))
	}
}

func TestReadyNodes_FailedDependencyBlocks(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "A", Type: domain.StepTypeHTTP},
			{ID: "B", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statuses := map[string]domain.StepStatus{
		"A": domain.StepFailed,
		"B": domain.StepPending,
	}

	if ready := dag.ReadyNodes(statuses); len(ready) != 0 {
		t.Errorf("B should not be ready after A failed, got %v", readyIDs(ready))
	}
}

func TestDescendants(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "A", Type: domain.StepTypeHTTP},
			{ID: "B", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
			{ID: "C", Type: domain.StepTypeHTTP, DependsOn: []string{"B"}},
			{ID: "D", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	desc := dag.Descendants("B")
	if len(desc) != 1 || desc[0].ID != "C" {
		t.Errorf("descendants of B should be [C], got %v", readyIDs(desc))
	}

	desc = dag.Descendants("A")
	if len(desc) != 3 {
		t.Errorf("descendants of A should be 3 nodes, got %v", readyIDs(desc))
	}
}

func TestLeafNodes(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "A", Type: domain.StepTypeHTTP},
			{ID: "B", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
			{ID: "C", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leaves := dag.LeafNodes()
	if len(leaves) != 2 || leaves[0].ID != "B" || leaves[1].ID != "C" {
		t.Errorf("leaves should be [B C], got %v", readyIDs(leaves))
	}
}

func TestCriticalPathLength(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "A", Type: domain.StepTypeHTTP},
			{ID: "B", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
			{ID: "C", Type: domain.StepTypeHTTP, DependsOn: []string{"B"}},
			{ID: "D", Type: domain.StepTypeHTTP, DependsOn: []string{"A"}},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := dag.CriticalPathLength(); got != 3 {
		t.Errorf("critical path should be 3 (A→B→C), got %d", got)
	}
}

func readyIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
