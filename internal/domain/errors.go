package domain

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Custom errors
var (
	ErrProjectNotFound         = NewDomainError("project_not_found", "audit project not found")
	ErrInvalidProject          = NewDomainError("invalid_project", "invalid audit project")
	ErrInvalidTransition       = NewDomainError("invalid_transition", "invalid status transition")
	ErrTerminalState           = NewDomainError("terminal_state", "project is already in a terminal state")
	ErrPolicyNotGenerated      = NewDomainError("policy_not_generated", "no policy has been generated for this project yet")
	ErrPolicyNotEditable       = NewDomainError("policy_not_editable", "policy content can only be edited once generation has completed")
	ErrUnsupportedExportFormat = NewDomainError("unsupported_export_format", "unsupported export format")
	ErrFrameworkNotFound       = NewDomainError("framework_not_found", "framework not found")
)
