package scanner

import (
	"sort"
	"strings"
)

// Graph renders a tree-style view of the scanned files. It is built from
// the scan result rather than a second walk, so it honors exactly the same
// include/exclude rules. The review prompt includes it so the model sees
// where a file sits in the project.
func Graph(records []FileRecord) string {
	root := &graphNode{children: map[string]*graphNode{}}
	for _, r := range records {
		node := root
		for _, part := range strings.Split(r.Path, "/") {
			child, ok := node.children[part]
			if !ok {
				child = &graphNode{name: part, children: map[string]*graphNode{}}
				node.children[part] = child
			}
			node = child
		}
	}

	var b strings.Builder
	renderGraph(&b, root, "")
	return strings.TrimRight(b.String(), "\n")
}

type graphNode struct {
	name     string
	children map[string]*graphNode
}

func renderGraph(b *strings.Builder, node *graphNode, prefix string) {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		child := node.children[name]
		connector := "├── "
		extension := "│   "
		if i == len(names)-1 {
			connector = "└── "
			extension = "    "
		}
		b.WriteString(prefix + connector + name + "\n")
		renderGraph(b, child, prefix+extension)
	}
}
