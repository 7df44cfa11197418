package core

import "time"

// ActivityKind names a user-visible dashboard action.
type ActivityKind string

const (
	ActivityLogin        ActivityKind = "login"
	ActivityLoginFailed  ActivityKind = "login_failed"
	ActivityUpload       ActivityKind = "upload"
	ActivityUploadFailed ActivityKind = "upload_failed"
	ActivityReport       ActivityKind = "report"
	ActivityLogout       ActivityKind = "logout"
)

// Activity is an audit record of one action. It never carries credentials.
type Activity struct {
	Username  string
	Kind      ActivityKind
	DatasetID DatasetID
	Filename  string
	Detail    string
	At        time.Time
}

// NewActivity stamps an activity with the current time.
func NewActivity(username string, kind ActivityKind) Activity {
	return Activity{Username: username, Kind: kind, At: time.Now().UTC()}
}
