package services

import (
	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/pkg/models"
)

// DFS colors. White = unvisited, grey = on the current path, black = done.
type visitColor int

const (
	colorWhite visitColor = iota
	colorGrey
	colorBlack
)

// DeletionSequencer orders planned tables so that referencing tables are
// processed before the tables they reference. Foreign keys only constrain
// hard deletes, but the same ordering is applied to every plan so runs are
// comparable across modes.
type DeletionSequencer struct {
	logger *zap.Logger
}

// NewDeletionSequencer creates a DeletionSequencer.
func NewDeletionSequencer(logger *zap.Logger) *DeletionSequencer {
	return &DeletionSequencer{logger: logger.Named("sequencer")}
}

// Sequence returns the tables in deletion order with 1-based DeletionOrder
// assigned. The ordering is deterministic for a given input: ties keep the
// input (catalog) order. Dependency cycles are logged and broken at the back
// edge; every input table appears in the output exactly once.
func (s *DeletionSequencer) Sequence(tables []models.PlannedTable) []models.PlannedTable {
	if len(tables) == 0 {
		return nil
	}

	index := make(map[string]int, len(tables))
	for i := range tables {
		index[tables[i].QualifiedName()] = i
	}

	colors := make([]visitColor, len(tables))
	postOrder := make([]int, 0, len(tables))

	var visit func(i int)
	visit = func(i int) {
		colors[i] = colorGrey
		for _, dep := range tables[i].Dependencies {
			j, ok := index[dep]
			if !ok {
				// Referenced table is not part of the plan; nothing to order.
				continue
			}
			switch colors[j] {
			case colorWhite:
				visit(j)
			case colorGrey:
				s.logger.Warn("dependency cycle detected, breaking at back edge",
					zap.String("table", tables[i].QualifiedName()),
					zap.String("references", dep))
			}
		}
		colors[i] = colorBlack
		postOrder = append(postOrder, i)
	}

	// Seeding from the back of the input and reversing the post-order keeps
	// independent tables in catalog order while still putting referencing
	// tables ahead of their referents.
	for i := len(tables) - 1; i >= 0; i-- {
		if colors[i] == colorWhite {
			visit(i)
		}
	}

	ordered := make([]models.PlannedTable, 0, len(tables))
	for k := len(postOrder) - 1; k >= 0; k-- {
		table := tables[postOrder[k]]
		table.DeletionOrder = len(ordered) + 1
		ordered = append(ordered, table)
	}
	return ordered
}
