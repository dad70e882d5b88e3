package sync

// DAGTaskInfo is one node in a local DAG walk result.
type DAGTaskInfo struct {
	TNumber   string   `json:"t_number"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	Blocks    []string `json:"blocks"`
	BlockedBy []string `json:"blocked_by"`
}

// DAGResult is the output of WalkDAG / RunDAG.
type DAGResult struct {
	Root  string        `json:"root"`
	Tasks []DAGTaskInfo `json:"tasks"`
	Error string        `json:"error,omitempty"`
}

// WalkDAG walks the dependency graph from root by reading local task files
// in both directions, matching walk_dag's breadth-first traversal and depth
// cutoff.
func (e *Engine) WalkDAG(root string) DAGResult {
	visited := map[string]bool{}
	var tasks []DAGTaskInfo

	type item struct {
		tn    string
		depth int
	}
	queue := []item{{root, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.tn] {
			continue
		}
		visited[cur.tn] = true

		t, err := e.store.Get(cur.tn)
		if err != nil {
			return DAGResult{Root: root, Tasks: tasks, Error: "task " + cur.tn + " not found"}
		}

		tasks = append(tasks, DAGTaskInfo{
			TNumber:   cur.tn,
			Title:     t.Title,
			Status:    string(t.Status),
			Blocks:    t.Blocking,
			BlockedBy: t.BlockedBy,
		})

		if cur.depth < DAGMaxDepth {
			for _, b := range t.BlockedBy {
				if !visited[b] {
					queue = append(queue, item{b, cur.depth + 1})
				}
			}
			for _, b := range t.Blocking {
				if !visited[b] {
					queue = append(queue, item{b, cur.depth + 1})
				}
			}
		}
	}

	return DAGResult{Root: root, Tasks: tasks}
}

// RunDAG walks the DAG from the graph's configured root task with no diffing.
func (e *Engine) RunDAG() (DAGResult, error) {
	doc, err := e.graph.Load()
	if err != nil {
		return DAGResult{}, err
	}
	if doc.RootTask == nil || *doc.RootTask == "" {
		return DAGResult{Error: "No root_task configured in tasks.json"}, nil
	}
	return e.WalkDAG(*doc.RootTask), nil
}
