package pipeline

// State is the position of an inbound item in the publish state machine.
type State string

// Item states. FilteredOut, DupSkipped, ContextPosted and FailedPermanent are terminal.
const (
	StateReceived        State = "RECEIVED"
	StateFilteredOut     State = "FILTERED_OUT"
	StateCandidateFound  State = "CANDIDATE_FOUND"
	StateDupSkipped      State = "DUP_SKIPPED"
	StatePublishing      State = "PUBLISHING"
	StatePublished       State = "PUBLISHED"
	StateContextPosted   State = "CONTEXT_POSTED"
	StateFailedPermanent State = "FAILED_PERMANENT"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateFilteredOut, StateDupSkipped, StateContextPosted, StateFailedPermanent:
		return true
	default:
		return false
	}
}

// Log field constants
const (
	LogFieldItemID        = "item_id"
	LogFieldCorrelationID = "correlation_id"
	LogFieldURL           = "url"
	LogFieldClass         = "class"
	LogFieldAttempt       = "attempt"
	LogFieldChannel       = "channel"
	LogFieldSubmission    = "submission"
)

// Publish status labels
const (
	statusSuccess  = "success"
	statusAdopted  = "adopted"
	statusFailed   = "failed"
	statusAbandon  = "abandoned"
	statusReplyErr = "error"
)

// Title and reply formatting
const (
	maxTitleLength    = 300
	mysteryUser       = "Mystery user"
	editTitleFormat   = "EDIT to %s"
	contextFormat     = "[Context for the post: %s](%s)"
	nsfwBanner        = "**NSFW**"
	mentionFormat     = "Original comment by /u/%s"
	postMentionFormat = "Original post by /u/%s"
)

// DefaultRecentPostsLimit is how many destination posts are scanned when
// verifying an ambiguous submit.
const DefaultRecentPostsLimit = 300
