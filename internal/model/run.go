package model

// RunStatus はパイプライン1回分の実行結果の状態を表す。
type RunStatus string

const (
	RunStatusOK      RunStatus = "ok"
	RunStatusSkipped RunStatus = "skipped"
	RunStatusError   RunStatus = "error"
)

// RunSkipReasonAlreadyRunning は他の実行がロックを保持していたことを示す。
const RunSkipReasonAlreadyRunning = "already_running"

// EmailStats は通知ディスパッチの集計結果を表す。
type EmailStats struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
}

// SourceStats はサブレディット1件分の処理件数を表す。
type SourceStats struct {
	Items         int `json:"items"`
	Comments      int `json:"comments"`
	NewVisibility int `json:"new_visibility"`
}

// RunResult はパイプライン1回分の集計結果を表す。
// Emailsは通知ディスパッチを実行しなかった場合はnilになる。
type RunResult struct {
	Status  RunStatus               `json:"status"`
	Reason  string                  `json:"reason,omitempty"`
	Fetched []string                `json:"fetched"`
	Skipped int                     `json:"skipped"`
	Failed  []string                `json:"failed,omitempty"`
	Sources map[string]*SourceStats `json:"sources,omitempty"`
	Emails  *EmailStats             `json:"emails,omitempty"`
}

// NewSkippedRunResult はロック取得に失敗した場合の結果を生成する。
func NewSkippedRunResult() *RunResult {
	return &RunResult{
		Status: RunStatusSkipped,
		Reason: RunSkipReasonAlreadyRunning,
	}
}
