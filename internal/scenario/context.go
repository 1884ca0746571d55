package scenario

// ExecutionState 执行器离散状态
type ExecutionState string

const (
	StateIdle      ExecutionState = "idle"
	StateRunning   ExecutionState = "running"
	StatePaused    ExecutionState = "paused"
	StateStepping  ExecutionState = "stepping"
	StateCompleted ExecutionState = "completed"
	StateError     ExecutionState = "error"
)

// IsTerminal 是否为终止状态
func (s ExecutionState) IsTerminal() bool {
	return s == StateCompleted || s == StateError || s == StateIdle
}

// IsActive 是否为活动状态
func (s ExecutionState) IsActive() bool {
	return s == StateRunning || s == StatePaused || s == StateStepping
}

// controlEvent 状态机输入事件
type controlEvent string

const (
	eventStartAuto controlEvent = "start_auto"
	eventStartStep controlEvent = "start_step"
	eventPause     controlEvent = "pause"
	eventResume    controlEvent = "resume"
	eventComplete  controlEvent = "complete"
	eventFail      controlEvent = "fail"
	eventStop      controlEvent = "stop"
)

// transition 显式状态转移表
//
// 非法转移返回ok=false，调用方按不变式静默忽略。
func transition(state ExecutionState, ev controlEvent) (ExecutionState, bool) {
	switch ev {
	case eventStartAuto:
		if state == StateIdle {
			return StateRunning, true
		}
	case eventStartStep:
		if state == StateIdle {
			return StateStepping, true
		}
	case eventPause:
		if state == StateRunning {
			return StatePaused, true
		}
	case eventResume:
		if state == StatePaused {
			return StateRunning, true
		}
	case eventComplete:
		if state == StateRunning || state == StateStepping {
			return StateCompleted, true
		}
	case eventFail:
		if state.IsActive() {
			return StateError, true
		}
	case eventStop:
		if state != StateIdle {
			return StateIdle, true
		}
	}
	return state, false
}

// ExecutionContext 一次场景执行的可观察上下文
type ExecutionContext struct {
	ScenarioID    string         `json:"scenario_id"`
	State         ExecutionState `json:"state"`
	Mode          ExecutionMode  `json:"mode"`
	CurrentNodeID string         `json:"current_node_id,omitempty"`
	ExecutedNodes []string       `json:"executed_nodes"`
	LoopCount     int            `json:"loop_count"`
	Error         string         `json:"error,omitempty"`
}

// snapshot 复制上下文，执行节点列表独立
func (c *ExecutionContext) snapshot() ExecutionContext {
	s := *c
	s.ExecutedNodes = make([]string, len(c.ExecutedNodes))
	copy(s.ExecutedNodes, c.ExecutedNodes)
	return s
}
