/*
changes.go - Change detection and series replication

PURPOSE:
  When the operator edits one entry of a series, the engine compares the
  pre-edit and post-edit snapshots, enumerates exactly which replicable
  fields changed, and applies the operator-approved subset to the future
  open entries of the same series.

DETECTION:
  Iterates the fixed, ordered replicable-field list from the registry and
  compares normalized values (empty / nil / zero-ref all count as absent).
  DetectChanges(x, x) is always empty.

REPLICATION SEMANTICS:
  - Due date: the delta is computed once from the template's before/after
    dates and added to each target's OWN due date; the literal new date is
    never copied, since every target sits in a different month. An
    installment series uses the full day delta, a recurring series the
    day-of-month delta.
  - Amount: the literal new amount replaces each target's amount. No
    redistribution.
  - Everything else: the new value is copied as-is.

TARGET SET:
  Entries of the same series (shared plan, or shared lineage for recurring)
  with a strictly greater sequence number and a non-terminal status.
  Settled and cancelled entries are never written, even when a caller
  includes them explicitly.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// FIELD CHANGE
// =============================================================================

// FieldChange is one detected difference between the before and after
// snapshots of an entry.
type FieldChange struct {
	Field           string   `json:"field"`
	Category        Category `json:"category"`
	Old             Value    `json:"old"`
	New             Value    `json:"new"`
	DefaultSelected bool     `json:"default_selected"`
	Description     string   `json:"description"`
}

// DetectChanges enumerates the replicable fields that differ between two
// snapshots of the same entry, in registry order.
func DetectChanges(before, after InstallmentView) []FieldChange {
	var changes []FieldChange
	for _, spec := range ReplicableFields() {
		oldV := before.FieldValue(spec.Name)
		newV := after.FieldValue(spec.Name)
		if oldV.Equal(newV) {
			continue
		}
		changes = append(changes, FieldChange{
			Field:           spec.Name,
			Category:        spec.Category,
			Old:             oldV,
			New:             newV,
			DefaultSelected: spec.DefaultSelected,
			Description:     fmt.Sprintf("%s: %s -> %s", spec.Label, oldV, newV),
		})
	}
	return changes
}

// =============================================================================
// REPLICATION
// =============================================================================

// ApplyChanges writes the approved changes to every future open entry of
// the edited entry's series, one target at a time through the hierarchy
// manager's update routing. Returns the number of entries actually
// modified; a partial failure is visible as modified < targets plus a
// joined error.
func (s *Service) ApplyChanges(ctx context.Context, id InstallmentID, approved []FieldChange) (int, error) {
	if len(approved) == 0 {
		return 0, nil
	}

	template, err := s.GetView(ctx, id)
	if err != nil {
		return 0, err
	}

	kind := template.SeriesKind()
	targets, err := s.seriesTargets(ctx, template)
	if err != nil {
		return 0, err
	}

	modified := 0
	var errs []error
	for _, target := range targets {
		fields, err := replicationFields(target, approved, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("installment %s: %w", target.InstallmentID, err))
			continue
		}
		if len(fields) == 0 {
			continue
		}
		if _, err := s.UpdateInstallment(ctx, target.InstallmentID, fields); err != nil {
			errs = append(errs, fmt.Errorf("installment %s: %w", target.InstallmentID, err))
			continue
		}
		modified++
	}

	s.log.Info().
		Str("template_id", string(id)).
		Str("series", string(kind)).
		Int("targets", len(targets)).
		Int("modified", modified).
		Msg("changes replicated")
	return modified, errors.Join(errs...)
}

// seriesTargets selects the future open entries of the template's series:
// strictly greater sequence number, non-terminal status.
func (s *Service) seriesTargets(ctx context.Context, template InstallmentView) ([]InstallmentView, error) {
	var rows []Installment

	switch template.SeriesKind() {
	case SeriesRecurring:
		plans, err := s.store.ListPlansByLineage(ctx, template.Lineage)
		if err != nil {
			return nil, persistErr("list plans by lineage", err)
		}
		for _, plan := range plans {
			ins, err := s.store.ListInstallmentsByPlan(ctx, plan.ID)
			if err != nil {
				return nil, persistErr("list installments", err)
			}
			rows = append(rows, ins...)
		}
	default:
		ins, err := s.store.ListInstallmentsByPlan(ctx, template.PlanID)
		if err != nil {
			return nil, persistErr("list installments", err)
		}
		rows = ins
	}

	var targets []InstallmentView
	for _, row := range rows {
		if row.Seq <= template.Seq || row.Status.Terminal() {
			continue
		}
		view, err := s.viewOf(ctx, row)
		if err != nil {
			return nil, err
		}
		targets = append(targets, view)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Seq < targets[j].Seq })
	return targets, nil
}

// replicationFields converts approved changes into the update payload for
// one target, applying the per-field replication semantics.
func replicationFields(target InstallmentView, approved []FieldChange, kind SeriesKind) (Fields, error) {
	fields := Fields{}
	for _, change := range approved {
		spec, ok := LookupField(change.Field)
		if !ok || !spec.Replicable {
			return nil, &ValidationError{Field: change.Field, Message: "not a replicable field"}
		}

		switch spec.Category {
		case CategoryDate:
			if change.Old.Date == nil || change.New.Date == nil {
				return nil, &ValidationError{Field: change.Field, Message: "date change requires both old and new dates"}
			}
			delta := dateDelta(*change.Old.Date, *change.New.Date, kind)
			if delta == 0 {
				continue
			}
			fields[change.Field] = target.DueDate.AddDate(0, 0, delta)
		default:
			fields[change.Field] = change.New
		}
	}
	return fields, nil
}

// dateDelta computes the shift in days carried to each target. An
// installment series moves by the full day difference; a recurring series
// moves each occurrence's day-of-month by the template's day-of-month
// difference (the month itself stays each occurrence's own).
func dateDelta(oldDate, newDate time.Time, kind SeriesKind) int {
	if kind == SeriesRecurring {
		return newDate.Day() - oldDate.Day()
	}
	return int(dayOf(newDate).Sub(dayOf(oldDate)).Hours() / 24)
}
