package backend

// Wire types shared by the client and the development backend.

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string    `json:"message"`
	SessionID string    `json:"session_id"`
	State     ChatState `json:"state"`
}

// ChatState is the client's view of the conversation sent with each turn.
type ChatState struct {
	Step     string            `json:"step"`
	UserData map[string]string `json:"user_data"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Reply            string            `json:"reply"`
	NextStep         string            `json:"next_step,omitempty"`
	UserDataPatch    map[string]string `json:"user_data_patch,omitempty"`
	VerificationLink string            `json:"verification_link,omitempty"`
	Action           string            `json:"action,omitempty"`
}

// Ack is returned by the upload endpoints.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned with non-2xx statuses.
type ErrorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message,omitempty"`
	Description string `json:"error_description,omitempty"`
}

// Routes.
const (
	PathChat          = "/api/chat"
	PathCollectedData = "/api/chat/collected-data"
	PathUploadPrefix  = "/api/chat/"
	PathVerify        = "/verify/"
)

// SessionField is the form and query parameter carrying the session id.
const SessionField = "session_id"
