package engine

import (
	"fmt"
	"slices"

	"github.com/ormasoftchile/llmtest/pkg/schema"
)

// Node is a step in the tree: either a *Leaf that invokes a tool or a
// *Group that replays its children.
type Node interface {
	Path() string
	Step() *schema.Step
	node()
}

// Leaf invokes one tool, Repeat times.
type Leaf struct {
	step *schema.Step
	path string
}

// Group is a non-executing template whose children run Repeat times.
type Group struct {
	step     *schema.Step
	path     string
	Children []Node
}

func (l *Leaf) Path() string        { return l.path }
func (l *Leaf) Step() *schema.Step  { return l.step }
func (*Leaf) node()                 {}
func (g *Group) Path() string       { return g.path }
func (g *Group) Step() *schema.Step { return g.step }
func (*Group) node()                {}

// Build converts a phase's steps into nodes. prefix names the phase
// ("setup", "steps", "teardown") and roots every path.
func Build(prefix string, steps []schema.Step) []Node {
	nodes := make([]Node, 0, len(steps))
	for i := range steps {
		s := &steps[i]
		path := fmt.Sprintf("%s[%d]", prefix, i)
		if s.IsGroup() {
			nodes = append(nodes, &Group{step: s, path: path, Children: Build(path+".steps", s.Steps)})
			continue
		}
		nodes = append(nodes, &Leaf{step: s, path: path})
	}
	return nodes
}

// Execution is one scheduled leaf run. Iterations holds the index at every
// enclosing group and, for a repeated leaf, its own index, outermost first.
type Execution struct {
	Leaf       *Leaf
	Iteration  int
	Iterations []int
}

// Flatten expands repeats into the sequence of leaf executions a run would
// perform when every guard passes. A group repeated N times yields its
// children's executions N times over.
func Flatten(nodes []Node) []Execution {
	var out []Execution
	var walk func(nodes []Node, chain []int)
	walk = func(nodes []Node, chain []int) {
		for _, n := range nodes {
			switch n := n.(type) {
			case *Group:
				for i := 1; i <= n.step.Iterations(); i++ {
					walk(n.Children, append(slices.Clone(chain), i))
				}
			case *Leaf:
				reps := n.step.Iterations()
				for i := 1; i <= reps; i++ {
					c := chain
					if reps > 1 {
						c = append(slices.Clone(chain), i)
					}
					out = append(out, Execution{Leaf: n, Iteration: iterationOf(c), Iterations: c})
				}
			}
		}
	}
	walk(nodes, nil)
	return out
}
