package online

import (
	"fmt"

	"osc/pkg/catalog"
	"osc/pkg/types"
)

// ClassifyColumnChange ranks one column delta between table versions.
func ClassifyColumnChange(oldT, newT *catalog.Table, ch catalog.Change) (catalog.ChangeLevel, error) {
	switch ch.Kind {
	case catalog.ChangeAdd, catalog.ChangeDrop:
		return catalog.TableLevel, nil
	}
	oldCol, err := oldT.GetColumn(ch.OldName)
	if err != nil {
		return 0, err
	}
	newCol, err := newT.GetColumn(ch.NewName)
	if err != nil {
		return 0, err
	}
	if !oldCol.Type.EqualsExcludingNullable(newCol.Type) {
		if widens(oldCol.Type, newCol.Type) {
			return catalog.Metadata, nil
		}
		return catalog.TableLevel, nil
	}
	if oldCol.Type.Nullable && !newCol.Type.Nullable {
		return catalog.MetadataNotNull, nil
	}
	return catalog.Metadata, nil
}

// widens reports whether every stored value of old is readable as new
// without rewriting. Varchar growing its width qualifies.
func widens(old, new types.Type) bool {
	return old.Class == types.Varchar && new.Class == types.Varchar && new.Width >= old.Width
}

// Classify derives the level of a whole change set against old and new
// versions of one table.
func Classify(oldT, newT *catalog.Table, colChanges []catalog.Change, idxChanges []catalog.IndexChange) (catalog.ChangeLevel, error) {
	level := catalog.Metadata
	if groupStructureChanged(oldT, newT) {
		level = catalog.GroupLevel
	} else if keyChanged(oldT, newT) {
		level = catalog.TableLevel
	}
	for _, ch := range colChanges {
		l, err := ClassifyColumnChange(oldT, newT, ch)
		if err != nil {
			return 0, err
		}
		if l > level {
			level = l
		}
	}
	if len(idxChanges) > 0 && level < catalog.IndexLevel {
		level = catalog.IndexLevel
	}
	return level, nil
}

func groupStructureChanged(oldT, newT *catalog.Table) bool {
	oldParent, newParent := oldT.Parent(), newT.Parent()
	if (oldParent == nil) != (newParent == nil) {
		return true
	}
	if oldParent != nil && oldParent.Name != newParent.Name {
		return true
	}
	oldFK, newFK := oldT.FKPositions(), newT.FKPositions()
	if len(oldFK) != len(newFK) {
		return true
	}
	for i := range oldFK {
		if oldT.ColumnsIncludingHidden()[oldFK[i]].Name != newT.ColumnsIncludingHidden()[newFK[i]].Name {
			return true
		}
	}
	return false
}

func keyChanged(oldT, newT *catalog.Table) bool {
	oldPK, newPK := oldT.PKPositions(), newT.PKPositions()
	if len(oldPK) != len(newPK) {
		return true
	}
	for i := range oldPK {
		if oldT.ColumnsIncludingHidden()[oldPK[i]].Name != newT.ColumnsIncludingHidden()[newPK[i]].Name {
			return true
		}
	}
	return false
}

// CommonLevel folds the change sets of one session into the single level
// driving the background work. Mixing levels in one session is rejected.
func CommonLevel(changeSets []*catalog.ChangeSet) (catalog.ChangeLevel, error) {
	if len(changeSets) == 0 {
		return catalog.Metadata, nil
	}
	level := changeSets[0].Level
	for _, cs := range changeSets[1:] {
		if cs.Level != level {
			return 0, fmt.Errorf("%w: %s vs %s", ErrMixedChangeLevels, level, cs.Level)
		}
	}
	return level, nil
}
