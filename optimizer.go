package treemap

import "fmt"

// Phase is the state of the optimizer.
type Phase uint8

const (
	// PhaseIdle: no run in progress.
	PhaseIdle Phase = iota

	// PhaseProbing: a node has been dequeued and its cost recorded.
	PhaseProbing

	// PhaseTrying: trial moves are applied. Node factors and validity
	// flags may not describe the current tree.
	PhaseTrying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProbing:
		return "probing"
	case PhaseTrying:
		return "trying"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// optimizer holds the queue of nodes waiting to be treated by HTP runs and
// the state of the run in progress.
type optimizer struct {
	queue []int

	phase       Phase
	front       int
	lca         int
	initialCost float64
	tried       []*Relocation
}

func (o *optimizer) reset() {
	o.queue = o.queue[:0]
	o.phase = PhaseIdle
	o.front = noNode
	o.lca = noNode
	o.initialCost = 0
	o.tried = o.tried[:0]
}

func (o *optimizer) enqueue(i int) {
	o.queue = append(o.queue, i)
}

func (o *optimizer) pop() {
	o.queue[0] = noNode
	o.queue = o.queue[1:]
	if len(o.queue) == 0 {
		o.queue = nil
	}
}

// RunResult describes one HTP run.
type RunResult struct {
	// Node is the treated node after the run. It differs from the dequeued
	// node when a move relocated the latter.
	Node int

	InitialCost float64
	FinalCost   float64

	// Trials counts the KL steps tried, Moves the moves kept.
	Trials   int
	Moves    int
	Accepted bool
	Joined   bool
}

// Phase returns the optimizer phase.
func (tm *Treemap) Phase() Phase { return tm.opt.phase }

// QueueLen returns the number of queue entries, stale ones included.
func (tm *Treemap) QueueLen() int { return len(tm.opt.queue) }

// nextNodeToBeOptimized drops stale entries from the queue and starts
// probing the first inner node that still needs optimizing.
func (tm *Treemap) nextNodeToBeOptimized() int {
	o := &tm.opt
	for len(o.queue) > 0 {
		i := o.queue[0]
		n := tm.Node(i)
		if n == nil || n.IsLeaf() || n.Is(IsOptimized) {
			o.pop()
			continue
		}
		o.front = i
		o.lca = i
		o.initialCost = tm.worstCase(i)
		o.phase = PhaseProbing
		return i
	}
	return noNode
}

// OneKLRun performs one HTP run on the next queued node: up to
// MaxUnsuccessfulMoves KL steps are tried; as soon as the node's
// worst-case update cost drops below its initial value the tried moves are
// committed, otherwise they are all undone. It reports false when the
// queue holds nothing to optimize.
func (tm *Treemap) OneKLRun() (RunResult, bool, error) {
	tm.requireIdle("OneKLRun")
	o := &tm.opt
	if tm.nextNodeToBeOptimized() == noNode {
		return RunResult{}, false, nil
	}
	res := RunResult{Node: o.lca, InitialCost: o.initialCost, FinalCost: o.initialCost}
	o.phase = PhaseTrying
	o.tried = o.tried[:0]

	var err error
	for res.Trials < tm.cfg.MaxUnsuccessfulMoves {
		mv := tm.OptimalKLStep(o.lca, o.initialCost)
		if mv.IsEmpty() {
			break
		}
		res.Trials++
		if tm.nodes[mv.Subtree].parent == o.lca {
			o.lca = tm.sibling(mv.Subtree)
		}

		if mv.Join {
			tm.commitTried()
			if _, err = tm.Fuse(mv.Subtree, mv.Above).DoIt(); err != nil {
				err = fmt.Errorf("treemap: join during optimization: %w", err)
				break
			}
			res.Moves = len(o.tried) + 1
			res.Accepted = true
			res.Joined = true
			break
		}

		rel := tm.Relocate(mv.Subtree, mv.Above)
		rel.TryIt()
		o.tried = append(o.tried, rel)
		if cost := tm.worstCase(o.lca); cost < o.initialCost {
			tm.commitTried()
			res.Moves = len(o.tried)
			res.Accepted = true
			break
		}
	}
	if !res.Accepted {
		for i := len(o.tried) - 1; i >= 0; i-- {
			o.tried[i].UndoIt()
		}
		o.lca = o.front
	}
	if err == nil {
		res.FinalCost = tm.worstCase(o.lca)
	}
	res.Node = o.lca
	tm.stats.recordRun(res.Trials, res.Accepted)
	tm.finishRun()

	tm.log.Debug("treemap: optimizer run",
		"node", res.Node,
		"initial_cost", res.InitialCost,
		"final_cost", res.FinalCost,
		"trials", res.Trials,
		"moves", res.Moves,
		"accepted", res.Accepted,
		"joined", res.Joined)

	if err != nil {
		return res, true, err
	}
	tm.policy.CheckForSparsification(tm, res.Node)
	return res, true, nil
}

// commitTried turns the tried moves into committed ones. They are undone
// and redone so that exactly the factors they touch are invalidated.
func (tm *Treemap) commitTried() {
	o := &tm.opt
	for i := len(o.tried) - 1; i >= 0; i-- {
		o.tried[i].UndoIt()
	}
	for _, rel := range o.tried {
		rel.DoIt()
	}
}

// finishRun marks the treated node optimized and returns to idle.
func (tm *Treemap) finishRun() {
	o := &tm.opt
	if n := tm.Node(o.lca); n != nil && !n.IsLeaf() {
		n.status |= IsOptimized
	}
	front := o.front
	o.pop()
	if n := tm.Node(front); n != nil && !n.IsLeaf() && !n.Is(IsOptimized) {
		o.enqueue(front)
	}
	o.tried = o.tried[:0]
	o.front = noNode
	o.lca = noNode
	o.phase = PhaseIdle
}

// OptimizeStep performs up to MovesPerStep HTP runs.
func (tm *Treemap) OptimizeStep() error {
	for i := 0; i < tm.cfg.MovesPerStep; i++ {
		_, ok, err := tm.OneKLRun()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// OptimizeFullRuns performs HTP runs until the queue is empty or
// MaxFullRuns runs have been made.
func (tm *Treemap) OptimizeFullRuns() (int, error) {
	limit := tm.cfg.MaxFullRuns
	if limit == 0 {
		limit = 4 * max(tm.NrOfNodes(), 1)
	}
	runs := 0
	for runs < limit {
		_, ok, err := tm.OneKLRun()
		if err != nil {
			return runs, err
		}
		if !ok {
			break
		}
		runs++
	}
	return runs, nil
}
