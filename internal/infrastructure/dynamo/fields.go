package dynamo

// DynamoDB attribute names used in update and condition expressions.
const (
	fieldUserID    = "user_id"
	fieldSessionID = "session_id"
	fieldEmail     = "email"
	fieldClientID  = "axiam_uid"
	fieldEnable    = "enable"
	fieldUpdatedAt = "updated_at"
	fieldExpiresAt = "expires_at"
)

// Global secondary indexes.
const (
	indexEmail    = "email-index"
	indexClientID = "axiam_uid-index"
	indexUserID   = "user_id-index"
)
