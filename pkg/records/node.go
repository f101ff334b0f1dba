package records

// NodeType is the store's type name for a content node.
type NodeType string

// Node types with special handling. Every other type is plain content.
const (
	NodeTable       NodeType = "child_database"
	NodePage        NodeType = "child_page"
	NodeSyncedBlock NodeType = "synced_block"
	NodeUnsupported NodeType = "unsupported"
)

// Node is one direct child of a container. Tables appear as nodes of type
// NodeTable whose ID is the table id and whose Title is its display name.
type Node struct {
	ID          string
	Type        NodeType
	Title       string
	HasChildren bool
	Payload     map[string]any
}

// IsTable reports whether the node is a nested table.
func (n Node) IsTable() bool {
	return n.Type == NodeTable
}

// Copyable reports whether the node can be recreated in another container.
// Child pages, synced blocks and unsupported nodes cannot.
func (n Node) Copyable() bool {
	switch n.Type {
	case NodePage, NodeSyncedBlock, NodeUnsupported, "":
		return false
	}
	return true
}

// Detached returns a copy of the node stripped of identity, keeping only
// its type and content so it can be appended elsewhere.
func (n Node) Detached() Node {
	out := Node{Type: n.Type, Title: n.Title}
	if n.Payload != nil {
		out.Payload = cloneMap(n.Payload)
		for _, key := range []string{"id", "created_time", "last_edited_time", "created_by", "last_edited_by"} {
			delete(out.Payload, key)
		}
	}
	return out
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	if n.Payload != nil {
		n.Payload = cloneMap(n.Payload)
	}
	return n
}
