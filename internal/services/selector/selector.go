// Package selector resolves an operator's node choice against the cluster membership.
package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fgeck/pve-homelab/internal/models"
)

const (
	ChoiceAll     = "all"
	ChoiceCurrent = "current"
)

// ErrUnknownNode is returned for a name or index not in the membership list.
var ErrUnknownNode = errors.New("unknown node")

// Select returns the nodes named by choice: "all", "current" or a comma
// separated list of node names and 1-based indexes. Order follows the
// choice; duplicates are dropped.
func Select(nodes []models.Node, choice string) ([]models.Node, error) {
	choice = strings.TrimSpace(choice)
	if len(nodes) == 0 {
		return nil, errors.New("no nodes to select from")
	}

	switch strings.ToLower(choice) {
	case ChoiceAll, "a", "":
		return append([]models.Node(nil), nodes...), nil
	case ChoiceCurrent, "c":
		for _, n := range nodes {
			if n.Local {
				return []models.Node{n}, nil
			}
		}
		return nil, fmt.Errorf("%w: no local node in membership", ErrUnknownNode)
	}

	var selected []models.Node
	seen := make(map[string]bool)
	for _, part := range strings.Split(choice, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		node, ok := lookup(nodes, part)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, part)
		}
		if seen[node.Name] {
			continue
		}
		seen[node.Name] = true
		selected = append(selected, node)
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: empty selection", ErrUnknownNode)
	}
	return selected, nil
}

func lookup(nodes []models.Node, key string) (models.Node, bool) {
	for _, n := range nodes {
		if n.Name == key {
			return n, true
		}
	}
	if i, err := strconv.Atoi(key); err == nil && i >= 1 && i <= len(nodes) {
		return nodes[i-1], true
	}
	return models.Node{}, false
}

// Describe renders the numbered list shown before an interactive choice.
func Describe(nodes []models.Node) string {
	var b strings.Builder
	for i, n := range nodes {
		marker := ""
		if n.Local {
			marker = " (current)"
		}
		if !n.Online {
			marker += " [offline]"
		}
		fmt.Fprintf(&b, "  %d) %s%s\n", i+1, n.Name, marker)
	}
	return b.String()
}
