package contract

// InsightStatus: 洞察结果状态。
type InsightStatus string

const (
	InsightOK          InsightStatus = "ok"
	InsightUnavailable InsightStatus = "unavailable"
)

// ReasonCode: 洞察不可用的原因。
type ReasonCode string

const (
	ReasonNone        ReasonCode = ""
	ReasonDisabled    ReasonCode = "disabled"
	ReasonNetwork     ReasonCode = "network"
	ReasonRateLimited ReasonCode = "rate_limited"
	ReasonAuth        ReasonCode = "auth"
	ReasonMalformed   ReasonCode = "malformed"
	ReasonCanceled    ReasonCode = "canceled"
	ReasonUnknown     ReasonCode = "unknown"
)

// Insight: 整段生成的结构化洞察，或显式的“不可用”标记。
//   - Status=ok：JSON 为后端返回的 JSON 对象原文，Fields 为其解码结果（不透明透传），
//     Explanation 为必需字段 explanation 的值；
//   - Status=unavailable：Reason 给出原因码，Detail 为简短诊断。
type Insight struct {
	Status      InsightStatus  `json:"status"`
	Reason      ReasonCode     `json:"reason,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	JSON        string         `json:"json,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
}

// Available 报告洞察是否可用。
func (i Insight) Available() bool { return i.Status == InsightOK }

// Unavailable 构造“不可用”标记。
func Unavailable(reason ReasonCode, detail string, attempts int) Insight {
	return Insight{Status: InsightUnavailable, Reason: reason, Detail: detail, Attempts: attempts}
}
