package jsonpath

import (
	"strconv"
	"strings"
)

// GetByPath resolves a plain dot/bracket path such as "data.items[0].id" or
// "$.user['first-name']". It does not understand wildcards or recursive
// descent and is the fast path used by simple property and index lookups.
func GetByPath(data any, path string) (any, bool) {
	segs, ok := splitPath(path)
	if !ok {
		return nil, false
	}
	cur := data
	for _, s := range segs {
		var found bool
		if s.isIndex {
			cur, found = element(cur, s.index)
		} else {
			cur, found = child(cur, s.name)
		}
		if !found {
			return nil, false
		}
	}
	return cur, true
}

type segment struct {
	name    string
	index   int
	isIndex bool
}

func splitPath(path string) ([]segment, bool) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")

	var segs []segment
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, segment{name: cur.String()})
			cur.Reset()
		}
	}

	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return nil, false
			}
			inner := strings.TrimSpace(p[i+1 : i+end])
			i += end
			if inner == "*" || inner == "" {
				return nil, false
			}
			if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
				segs = append(segs, segment{name: inner[1 : len(inner)-1]})
				continue
			}
			if n, err := strconv.Atoi(inner); err == nil {
				segs = append(segs, segment{index: n, isIndex: true})
				continue
			}
			segs = append(segs, segment{name: inner})
		case '*':
			return nil, false
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return segs, true
}
