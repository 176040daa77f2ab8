package engine

import (
	"sort"

	"github.com/shaiso/Cascade/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Step — определение шага из PipelineDefinition.
	Step *domain.StepDef

	// ID — идентификатор узла (совпадает со Step.ID).
	ID string

	// Pos — позиция шага в объявленном порядке.
	// Используется как детерминированный tie-break при диспетчеризации.
	Pos int

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф шагов pipeline.
//
// Рёбра — объединение depends_on, connections и веток condition шагов:
// каждое connection добавляет зависимость target → source, а цель
// true_branch/false_branch неявно зависит от своего condition шага,
// даже если зависимость не объявлена явно.
type DAG struct {
	// Nodes — все узлы графа (stepID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа), в объявленном порядке.
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildDAG строит DAG из PipelineDefinition.
//
// Предполагает, что определение уже прошло Validate: ссылки на
// несуществующие шаги и циклы здесь считаются нарушением инварианта.
func BuildDAG(def *domain.PipelineDefinition) (*DAG, error) {
	dag := &DAG{
		Nodes: make(map[string]*Node, len(def.Steps)),
	}

	// Первый проход: создаём все узлы
	for i := range def.Steps {
		step := &def.Steps[i]
		dag.Nodes[step.ID] = &Node{
			Step: step,
			ID:   step.ID,
			Pos:  i,
		}
	}

	// Второй проход: рёбра из depends_on
	for i := range def.Steps {
		step := &def.Steps[i]
		node := dag.Nodes[step.ID]

		for _, depID := range step.DependsOn {
			depNode, exists := dag.Nodes[depID]
			if !exists {
				return nil, NewValidationError(step.ID, "depends_on",
					"depends on unknown step: "+depID, ErrMissingDependency)
			}
			dag.addEdge(depNode, node)
		}
	}

	// Третий проход: рёбра из connections
	for _, conn := range def.Connections {
		source, exists := dag.Nodes[conn.SourceStep]
		if !exists {
			return nil, NewValidationError(conn.TargetStep, "connections",
				"connection from unknown step: "+conn.SourceStep, ErrUnknownConnectionStep)
		}
		target, exists := dag.Nodes[conn.TargetStep]
		if !exists {
			return nil, NewValidationError(conn.SourceStep, "connections",
				"connection to unknown step: "+conn.TargetStep, ErrUnknownConnectionStep)
		}
		dag.addEdge(source, target)
	}

	// Четвёртый проход: неявные рёбра condition → цель ветки.
	// Цель ветки не может стартовать раньше, чем условие вычислено
	// и невыбранная ветка помечена пропущенной.
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.Type != domain.StepTypeCondition {
			continue
		}
		node := dag.Nodes[step.ID]

		for _, branch := range [][]string{step.TrueBranch, step.FalseBranch} {
			for _, id := range branch {
				target, exists := dag.Nodes[id]
				if !exists {
					return nil, NewValidationError(step.ID, "true_branch",
						"branch references unknown step: "+id, ErrUnknownBranchTarget)
				}
				dag.addEdge(node, target)
			}
		}
	}

	dag.findRootNodes()

	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты (depends_on и connection между той же парой) не учитываются дважды.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (d *DAG) findRootNodes() {
	d.RootNodes = d.RootNodes[:0]
	for _, node := range d.Nodes {
		if node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
	sortByPos(d.RootNodes)
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		released := make([]*Node, 0, len(node.Dependents))
		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				released = append(released, dependent)
			}
		}
		// Освободившиеся узлы добавляем в объявленном порядке,
		// чтобы Order был детерминирован.
		sortByPos(released)
		queue = append(queue, released...)
	}

	if len(order) != len(d.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// ReadyNodes возвращает узлы, готовые к выполнению, в объявленном порядке.
//
// Узел готов, если:
//   - каждая его зависимость достигла статуса, удовлетворяющего гейтинг
//     (COMPLETED или SKIPPED)
//   - сам узел ещё в статусе PENDING
//
// statuses — текущий статус каждого шага.
func (d *DAG) ReadyNodes(statuses map[string]domain.StepStatus) []*Node {
	ready := make([]*Node, 0)

	for _, node := range d.Nodes {
		if statuses[node.ID] != domain.StepPending {
			continue
		}

		satisfied := true
		for _, dep := range node.DependsOn {
			if !statuses[dep.ID].SatisfiesGating() {
				satisfied = false
				break
			}
		}

		if satisfied {
			ready = append(ready, node)
		}
	}

	sortByPos(ready)
	return ready
}

// Descendants возвращает все узлы, достижимые из указанного (без него самого).
func (d *DAG) Descendants(id string) []*Node {
	start, exists := d.Nodes[id]
	if !exists {
		return nil
	}

	seen := make(map[string]bool)
	var result []*Node

	var walk func(n *Node)
	walk = func(n *Node) {
		for _, dep := range n.Dependents {
			if seen[dep.ID] {
				continue
			}
			seen[dep.ID] = true
			result = append(result, dep)
			walk(dep)
		}
	}
	walk(start)

	sortByPos(result)
	return result
}

// LeafNodes возвращает узлы без зависимых (выходы pipeline).
func (d *DAG) LeafNodes() []*Node {
	leaves := make([]*Node, 0)
	for _, node := range d.Nodes {
		if len(node.Dependents) == 0 {
			leaves = append(leaves, node)
		}
	}
	sortByPos(leaves)
	return leaves
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// CriticalPathLength возвращает длину самого длинного пути в графе (в шагах).
func (d *DAG) CriticalPathLength() int {
	depth := make(map[string]int, len(d.Nodes))
	longest := 0

	// Order топологический, зависимости обработаны раньше зависимых.
	for _, node := range d.Order {
		best := 0
		for _, dep := range node.DependsOn {
			if depth[dep.ID] > best {
				best = depth[dep.ID]
			}
		}
		depth[node.ID] = best + 1
		if depth[node.ID] > longest {
			longest = depth[node.ID]
		}
	}

	return longest
}

// sortByPos сортирует узлы по позиции в объявленном порядке.
func sortByPos(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Pos < nodes[j].Pos
	})
}
