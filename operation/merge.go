package operation

// MergeActions restores persisted action state into a freshly built pool.
// Records are matched by action type, not position, so a pool whose shape
// changed between releases keeps the progress of the steps it still has.
// Fresh actions without a record stay as built; records without a fresh
// action are dropped. An action persisted in progress was cut off by a
// crash and comes back Waiting, to be run again.
//
// The fresh pool is not modified.
func MergeActions(fresh []*Action, persisted []ActionRecord) []*Action {
	merged := make([]*Action, len(fresh))
	for i, action := range fresh {
		merged[i] = action.clone()

		for _, rec := range persisted {
			if rec.Type != action.Type() {
				continue
			}
			merged[i].apply(rec)
			if rec.Status == InProgress {
				merged[i].status = Waiting
			}
			break
		}
	}
	return merged
}
