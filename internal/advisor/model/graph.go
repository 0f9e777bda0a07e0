package model

// BirthInput carries the raw parameters needed to compute a birth chart.
type BirthInput struct {
	SolarDatetime string `json:"solar_datetime" form:"solar_datetime"`
	LunarDatetime string `json:"lunar_datetime,omitempty"`
	// Gender is 0 for female, 1 for male.
	Gender   int    `json:"gender" validate:"oneof=0 1"`
	Timezone string `json:"timezone,omitempty"`
}

// Empty reports whether neither calendar date was supplied.
func (b *BirthInput) Empty() bool {
	return b == nil || (b.SolarDatetime == "" && b.LunarDatetime == "")
}

// TurnInput is one user question entering the advisor.
type TurnInput struct {
	SessionID string      `json:"session_id"`
	Query     string      `json:"query"`
	Birth     *BirthInput `json:"bazi_data,omitempty"`
	Locale    string      `json:"user_state,omitempty"`
}

// PreparedTurn is the prompt the answer will be streamed from.
type PreparedTurn struct {
	Prompt   string
	Topic    *TopicPath
	Content  *LeafContent
	Grounded bool
}

// AppState stores per-invocation state for the prepare graph.
// All reads/writes happen inside eino state handlers or compose.ProcessState.
type AppState struct {
	SessionID string
	Session   *Session
	Query     string
	Profile   string
	Locale    string
	Topic     *TopicPath
	Content   *LeafContent
	RouteErr  error
}
