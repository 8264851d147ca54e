package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sourcetap/sourcetap/internal/core"
)

// JoinKind selects which unmatched rows MergeResults keeps.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinOuter JoinKind = "outer"
)

// ParseJoinKind validates a join name. Empty means inner.
func ParseJoinKind(value string) (JoinKind, error) {
	switch kind := JoinKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case "":
		return JoinInner, nil
	case JoinInner, JoinLeft, JoinRight, JoinOuter:
		return kind, nil
	default:
		return "", fmt.Errorf("unsupported join kind: %s", value)
	}
}

// MergeResults joins two tables on leftKey = rightKey. Overlapping column
// names get "_x" and "_y" suffixes; when both keys share a name the key
// column appears once. Null keys never match.
func MergeResults(left, right *core.Table, leftKey, rightKey string, how JoinKind) (*core.Table, error) {
	if left == nil {
		left = &core.Table{}
	}
	if right == nil {
		right = &core.Table{}
	}
	if !left.HasColumn(leftKey) {
		return nil, fmt.Errorf("%w: %s in left table", ErrUnknownColumn, leftKey)
	}
	if !right.HasColumn(rightKey) {
		return nil, fmt.Errorf("%w: %s in right table", ErrUnknownColumn, rightKey)
	}
	if how == "" {
		how = JoinInner
	}

	sharedKey := leftKey == rightKey
	leftNames, rightNames, columns := mergeColumns(left.Columns, right.Columns, leftKey, rightKey, sharedKey)

	index := make(map[string][]int)
	for i, row := range right.Rows {
		if key, ok := joinKey(row[rightKey]); ok {
			index[key] = append(index[key], i)
		}
	}

	out := &core.Table{Columns: columns, Rows: make([]core.Record, 0)}
	matchedRight := make([]bool, len(right.Rows))

	combine := func(l, r core.Record) core.Record {
		row := make(core.Record, len(columns))
		for _, col := range columns {
			row[col] = nil
		}
		for col, name := range leftNames {
			if l != nil {
				row[name] = l[col]
			}
		}
		for col, name := range rightNames {
			if r != nil {
				row[name] = r[col]
			}
		}
		if sharedKey && l == nil && r != nil {
			row[leftKey] = r[rightKey]
		}
		return row
	}

	if how == JoinRight {
		leftIndex := make(map[string][]int)
		for i, row := range left.Rows {
			if key, ok := joinKey(row[leftKey]); ok {
				leftIndex[key] = append(leftIndex[key], i)
			}
		}
		for _, r := range right.Rows {
			key, ok := joinKey(r[rightKey])
			matches := leftIndex[key]
			if !ok || len(matches) == 0 {
				out.Append(combine(nil, r))
				continue
			}
			for _, li := range matches {
				out.Append(combine(left.Rows[li], r))
			}
		}
		return out, nil
	}

	for _, l := range left.Rows {
		key, ok := joinKey(l[leftKey])
		matches := index[key]
		if !ok || len(matches) == 0 {
			if how == JoinLeft || how == JoinOuter {
				out.Append(combine(l, nil))
			}
			continue
		}
		for _, ri := range matches {
			matchedRight[ri] = true
			out.Append(combine(l, right.Rows[ri]))
		}
	}

	if how == JoinOuter {
		for i, r := range right.Rows {
			if !matchedRight[i] {
				out.Append(combine(nil, r))
			}
		}
	}

	return out, nil
}

func mergeColumns(leftCols, rightCols []string, leftKey, rightKey string, sharedKey bool) (map[string]string, map[string]string, []string) {
	inLeft := make(map[string]bool, len(leftCols))
	for _, col := range leftCols {
		inLeft[col] = true
	}
	inRight := make(map[string]bool, len(rightCols))
	for _, col := range rightCols {
		inRight[col] = true
	}

	leftNames := make(map[string]string, len(leftCols))
	rightNames := make(map[string]string, len(rightCols))
	columns := make([]string, 0, len(leftCols)+len(rightCols))

	for _, col := range leftCols {
		name := col
		if inRight[col] && !(sharedKey && col == leftKey) {
			name = col + "_x"
		}
		leftNames[col] = name
		columns = append(columns, name)
	}
	for _, col := range rightCols {
		if sharedKey && col == rightKey {
			continue
		}
		name := col
		if inLeft[col] {
			name = col + "_y"
		}
		rightNames[col] = name
		columns = append(columns, name)
	}
	return leftNames, rightNames, columns
}

// joinKey normalizes a cell so that 3 and 3.0 compare equal.
func joinKey(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return "s:" + v, true
	case float64:
		if math.IsNaN(v) {
			return "", false
		}
		return "n:" + strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return "n:" + strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return "n:" + strconv.Itoa(v), true
	case int64:
		return "n:" + strconv.FormatInt(v, 10), true
	default:
		return fmt.Sprintf("v:%v", v), true
	}
}
