package models

// TurnLog is one best-effort analytics record describing a single exchanged
// turn. Delivery is never guaranteed; writers swallow failures.
type TurnLog struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Role      Role   `json:"role"`
	Step      Step   `json:"step"`
	Seq       int64  `json:"seq"`
	WidgetRef string `json:"widget_ref,omitempty"`
	DelayMS   int64  `json:"delay_ms,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Time      int64  `json:"time"`
}
