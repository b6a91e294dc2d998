package monitor

import (
	"time"

	"astro-trader/internal/executor"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventExecution EventType = "execution"
	EventCancel    EventType = "cancel"
	EventAccount   EventType = "account"
	EventError     EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ExecutionPayload 记录一次下单指令及其结果。
type ExecutionPayload struct {
	Request executor.OrderRequest    `json:"request"`
	Result  executor.ExecutionResult `json:"result"`
}

// CancelPayload 记录撤单操作。
type CancelPayload struct {
	Request executor.CancelRequest `json:"request"`
	Result  executor.CancelResult  `json:"result"`
}

// AccountPayload 追踪账户估值与持仓快照。
type AccountPayload struct {
	Account   executor.Account    `json:"account"`
	Positions []executor.Position `json:"positions"`
}

// ErrorPayload 记录异常上下文。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
