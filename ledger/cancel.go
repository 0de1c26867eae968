/*
cancel.go - Cancellation eligibility

PURPOSE:
  Decides whether one installment may be deleted outright or must route
  through the batch-cancellation workflow. An installment that is the
  only row of its plan can be deleted directly (the cascade then removes
  the plan and possibly the invoice). An installment belonging to a true
  series cannot; the caller receives the full active sibling set so the
  operator can choose which entries to cancel, and CancelBatch
  (manager.go) re-applies the terminal-status filter defensively.
*/
package ledger

import "context"

// Eligibility is the answer to "can this installment be deleted?".
type Eligibility struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// BatchCandidates is the set of active entries of the same plan the
	// operator can select for batch cancellation. Populated only when
	// direct deletion is refused.
	BatchCandidates []InstallmentView `json:"batch_candidates,omitempty"`
}

// CanDelete reports whether the installment can be deleted directly.
// A plan with more than one active installment refuses direct deletion and
// returns all of its active entries as batch candidates.
func (s *Service) CanDelete(ctx context.Context, id InstallmentID) (Eligibility, error) {
	ins, err := s.store.GetInstallment(ctx, id)
	if err != nil {
		return Eligibility{}, persistErr("get installment", err)
	}
	if ins == nil {
		return Eligibility{}, &NotFoundError{Entity: "installment", ID: string(id)}
	}

	siblings, err := s.store.ListInstallmentsByPlan(ctx, ins.PlanID)
	if err != nil {
		return Eligibility{}, persistErr("list installments", err)
	}

	if len(siblings) <= 1 {
		return Eligibility{Allowed: true}, nil
	}

	candidates := make([]InstallmentView, 0, len(siblings))
	for _, sibling := range siblings {
		view, err := s.viewOf(ctx, sibling)
		if err != nil {
			return Eligibility{}, err
		}
		candidates = append(candidates, view)
	}

	return Eligibility{
		Allowed:         false,
		Reason:          "installment belongs to a series; cancel entries through the batch workflow",
		BatchCandidates: candidates,
	}, nil
}
