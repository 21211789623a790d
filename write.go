package treemap

import (
	"fmt"
	"io"
	"strings"
)

// WriteTree writes an indented dump of the tree, one node per line, with
// features named by Policy.NameOfFeature.
func (tm *Treemap) WriteTree(w io.Writer) error {
	if tm.root == noNode {
		_, err := fmt.Fprintln(w, "(empty)")
		return err
	}
	tm.UpdateFeaturePassed()
	return tm.writeNode(w, tm.root, 0)
}

func (tm *Treemap) writeNode(w io.Writer, i, depth int) error {
	n := tm.nodes[i]
	kind := "node"
	if n.IsLeaf() {
		kind = "leaf"
	}
	_, err := fmt.Fprintf(w, "%s%s %d wc=%.3g marg=[%s] pass=[%s]%s\n",
		strings.Repeat("  ", depth), kind, i, n.worstCaseUpdateCost,
		tm.featureNames(n.marginalized), tm.featureNames(n.FeaturesPassed()), statusString(n.status))
	if err != nil || n.IsLeaf() {
		return err
	}
	for _, c := range n.child {
		if err := tm.writeNode(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// featureNames names ascending ids, collapsing runs covered by one name.
func (tm *Treemap) featureNames(ids []FeatureID) string {
	var parts []string
	for k := 0; k < len(ids); {
		name, span := tm.policy.NameOfFeature(ids[k])
		parts = append(parts, name)
		end := ids[k] + max(span, 1)
		for k < len(ids) && ids[k] < end {
			k++
		}
	}
	return strings.Join(parts, " ")
}

func statusString(s Status) string {
	var b strings.Builder
	for _, f := range []struct {
		flag Status
		name string
	}{
		{IsOptimized, "optimized"},
		{CanBeIntegrated, "integrable"},
		{DontUpdateEstimate, "frozen"},
	} {
		if s&f.flag != 0 {
			b.WriteString(" " + f.name)
		}
	}
	if s&CanBeMoved == 0 {
		b.WriteString(" fixed")
	}
	return b.String()
}
