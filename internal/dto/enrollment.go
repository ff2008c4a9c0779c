package dto

// CompleteEnrollmentRequest closes an active enrollment with a final grade.
type CompleteEnrollmentRequest struct {
	Grade string `json:"grade" validate:"required,oneof=A B C D F"`
}

// RosterExport is a rendered roster file ready to be sent to the client.
type RosterExport struct {
	Filename    string
	ContentType string
	Body        []byte
}
