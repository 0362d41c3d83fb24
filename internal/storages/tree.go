package storage

// The helpers below operate on a normalized tree of map[string]interface{}
// nodes. Callers hold whatever lock guards the tree.

func getAt(root map[string]interface{}, segments []string) (interface{}, bool) {
	var node interface{} = root
	for _, s := range segments {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return node, node != nil
}

// setAt stores value at segments, replacing any scalar ancestor; a nil
// value deletes the node and prunes parents left empty.
func setAt(root map[string]interface{}, segments []string, value interface{}) {
	if value == nil {
		deleteAt(root, segments)
		return
	}
	node := root
	for _, s := range segments[:len(segments)-1] {
		child, ok := node[s].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			node[s] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
}

func deleteAt(root map[string]interface{}, segments []string) {
	if len(segments) == 0 {
		return
	}
	child, ok := root[segments[0]]
	if !ok {
		return
	}
	if len(segments) == 1 {
		delete(root, segments[0])
		return
	}
	m, ok := child.(map[string]interface{})
	if !ok {
		return
	}
	deleteAt(m, segments[1:])
	if len(m) == 0 {
		delete(root, segments[0])
	}
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// valuesEqual compares two normalized scalars.
func valuesEqual(a, b interface{}) bool {
	switch a.(type) {
	case string, bool, float64, nil:
		return a == b
	}
	return false
}
