package history

// AlignCut maps a display-log truncation onto the model-native log.
//
// retainedUserTurns is the number of user-role entries kept in the truncated
// display prefix. The model-native log is walked from the start counting
// user-role turns; the cut lands immediately after the retainedUserTurns-th
// user turn. When includeTrailingModel is set, model-role turns that
// immediately follow that user turn are absorbed into the retained prefix as
// well (used when the deleted display entry was a user message, so the
// preceding exchange stays intact).
//
// Counting by user-turn ordinal is deliberate: it is the only quantity
// guaranteed to correspond 1:1 between the two logs. Raw indexes or content
// diffing would silently corrupt context whenever the display log carries
// grounding metadata or multi-part responses the model log does not.
//
// Edge cases:
//   - retainedUserTurns <= 0 cuts to an empty log.
//   - A log exhausted before reaching the target ordinal (e.g. a previous
//     cancellation left it short) keeps the entire log. Never an error.
func AlignCut(log []ModelTurn, retainedUserTurns int, includeTrailingModel bool) int {
	if retainedUserTurns <= 0 {
		return 0
	}

	users := 0
	for i, turn := range log {
		if turn.Role != RoleUser {
			continue
		}
		users++
		if users < retainedUserTurns {
			continue
		}

		cut := i + 1
		if includeTrailingModel {
			for cut < len(log) && log[cut].Role == RoleModel {
				cut++
			}
		}
		return cut
	}

	// Underflow clamp: keep the whole log.
	return len(log)
}
