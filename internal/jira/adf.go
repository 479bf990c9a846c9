package jira

import "strings"

// Node is one node of an Atlassian Document Format tree.
type Node struct {
	Type    string `json:"type"`
	Version int    `json:"version,omitempty"`
	Text    string `json:"text,omitempty"`
	Content []Node `json:"content,omitempty"`
}

// Document wraps text in the doc > paragraph > text shape the remote expects.
func Document(text string) Node {
	paragraph := Node{Type: "paragraph"}
	if text != "" {
		paragraph.Content = []Node{{Type: "text", Text: text}}
	}
	return Node{
		Type:    "doc",
		Version: 1,
		Content: []Node{paragraph},
	}
}

// Flatten concatenates every text leaf of the tree in document order.
func Flatten(n Node) string {
	var sb strings.Builder
	flatten(&sb, n)
	return sb.String()
}

func flatten(sb *strings.Builder, n Node) {
	if n.Type == "text" {
		sb.WriteString(n.Text)
	}
	for _, child := range n.Content {
		flatten(sb, child)
	}
}
