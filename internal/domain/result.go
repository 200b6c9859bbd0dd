package domain

// ResultStatus — статус, который видит вызывающая сторона инструмента.
type ResultStatus string

const (
	StatusSuccess            ResultStatus = "success"
	StatusError              ResultStatus = "error"
	StatusWaitingForApproval ResultStatus = "waiting_for_approval"
)

// Result — единый ответ исполнителей, диспетчера и шлюза подтверждений.
type Result struct {
	Status     ResultStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

func Success(message string, data map[string]any) Result {
	return Result{Status: StatusSuccess, Message: message, Data: data}
}

func Failure(message string) Result {
	return Result{Status: StatusError, Message: message}
}
