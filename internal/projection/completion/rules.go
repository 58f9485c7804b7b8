package completion

import "github.com/nexevent/participation-backend/internal/domain"

// Partition rules for deriving pending/completed membership from facts.
//
// Tasks allow resubmission after rejection, so a rejected fact puts the task
// back in the pending list. A fact in pending-review state appears in
// neither list: the user has acted, the admin has not.
//
// Quizzes and forms are one-shot: any fact means completed.

// PendingForAction reports whether the activity belongs in the user's
// pending list given its fact (nil when the user never submitted).
func PendingForAction(t domain.ActivityType, f *Fact) bool {
	if f == nil {
		return true
	}
	if t == domain.ActivityTask {
		return f.Status == domain.SubmissionStatusRejected
	}
	return false
}

// Completed reports whether the activity belongs in the user's completed
// list given its fact.
func Completed(t domain.ActivityType, f *Fact) bool {
	if f == nil {
		return false
	}
	if t == domain.ActivityTask {
		return f.Status == domain.SubmissionStatusApproved
	}
	return true
}
