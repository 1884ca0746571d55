package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
)

func TestImport_ValidDocument(t *testing.T) {
	doc := []byte(`{
		"id": "charge-flow",
		"name": "基础充电流程",
		"nodes": [
			{"id": "n1", "type": "start"},
			{"id": "n2", "type": "statusChange", "data": {"statusChange": {"status": "Charging"}}},
			{"id": "n3", "type": "end"}
		],
		"edges": [
			{"source": "n1", "target": "n2"},
			{"source": "n2", "target": "n3"}
		],
		"trigger": {"type": "statusChange", "to": "Preparing"},
		"enabled": true
	}`)

	def, err := Import(doc)
	require.NoError(t, err)
	assert.Equal(t, "charge-flow", def.ID)
	assert.Len(t, def.Nodes, 3)
	assert.Len(t, def.Edges, 2)
	assert.True(t, def.Enabled)
	require.NotNil(t, def.Trigger)
	assert.Equal(t, TriggerTypeStatusChange, def.Trigger.Type)
}

func TestImport_InvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"非法JSON", `{not json`},
		{"缺少edges", `{"id": "s1", "nodes": [{"id": "n1", "type": "start"}]}`},
		{"缺少id", `{"nodes": [{"id": "n1", "type": "start"}], "edges": []}`},
		{"空节点列表", `{"id": "s1", "nodes": [], "edges": []}`},
		{"节点缺少type", `{"id": "s1", "nodes": [{"id": "n1"}], "edges": []}`},
		{"重复节点id", `{"id": "s1", "nodes": [{"id": "n1", "type": "start"}, {"id": "n1", "type": "end"}], "edges": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestExport_RoundTrip(t *testing.T) {
	doc := []byte(`{"id":"s1","nodes":[{"id":"n1","type":"start"},{"id":"n2","type":"end"}],"edges":[{"source":"n1","target":"n2"}],"enabled":true}`)

	def, err := Import(doc)
	require.NoError(t, err)

	exported, err := def.Export()
	require.NoError(t, err)

	// 导出结果再导入后字节一致
	reimported, err := Import(exported)
	require.NoError(t, err)
	reexported, err := reimported.Export()
	require.NoError(t, err)
	assert.Equal(t, exported, reexported)
}

func TestPreflight(t *testing.T) {
	start := Node{ID: "s", Type: NodeTypeStart}
	end := Node{ID: "e", Type: NodeTypeEnd}

	tests := []struct {
		name    string
		nodes   []Node
		wantErr error
	}{
		{"恰好一个start", []Node{start, end}, nil},
		{"没有start", []Node{end}, ErrMissingStartNode},
		{"多个start", []Node{start, {ID: "s2", Type: NodeTypeStart}}, ErrMultipleStartNodes},
		{"多个end", []Node{start, end, {ID: "e2", Type: NodeTypeEnd}}, ErrMultipleEndNodes},
		{"没有end是允许的", []Node{start}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &Definition{ID: "s1", Nodes: tt.nodes, Edges: []Edge{}}
			err := def.Preflight()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTargets_OrderDedupAndSkipRemoved(t *testing.T) {
	def := &Definition{
		ID: "s1",
		Nodes: []Node{
			{ID: "src", Type: NodeTypeStart},
			{ID: "a", Type: NodeTypeEnd},
			{ID: "b", Type: NodeTypeDelay},
		},
		Edges: []Edge{
			{Source: "src", Target: "b"},
			{Source: "src", Target: "ghost"}, // 指向已删除节点
			{Source: "src", Target: "a"},
			{Source: "src", Target: "b"}, // 重复
		},
	}

	targets := def.Targets("src")
	require.Len(t, targets, 2)
	assert.Equal(t, "b", targets[0].ID)
	assert.Equal(t, "a", targets[1].ID)
}

func TestTrigger_Matches(t *testing.T) {
	preparing := ocpp16.StatusPreparing
	charging := ocpp16.StatusCharging

	tests := []struct {
		name    string
		trigger *Trigger
		from    ocpp16.ChargePointStatus
		to      ocpp16.ChargePointStatus
		want    bool
	}{
		{"from和to都命中", &Trigger{Type: TriggerTypeStatusChange, From: &preparing, To: &charging}, preparing, charging, true},
		{"from不命中", &Trigger{Type: TriggerTypeStatusChange, From: &preparing, To: &charging}, ocpp16.StatusAvailable, charging, false},
		{"只约束to", &Trigger{Type: TriggerTypeStatusChange, To: &charging}, ocpp16.StatusAvailable, charging, true},
		{"无约束任意命中", &Trigger{Type: TriggerTypeStatusChange}, preparing, charging, true},
		{"manual触发器不命中", &Trigger{Type: TriggerTypeManual}, preparing, charging, false},
		{"nil触发器不命中", nil, preparing, charging, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.trigger.Matches(tt.from, tt.to))
		})
	}
}

func TestClone_Independent(t *testing.T) {
	to := ocpp16.StatusCharging
	def := &Definition{
		ID:      "s1",
		Nodes:   []Node{{ID: "n1", Type: NodeTypeStart}},
		Edges:   []Edge{{Source: "n1", Target: "n2"}},
		Trigger: &Trigger{Type: TriggerTypeStatusChange, To: &to},
	}

	clone := def.Clone()
	clone.Nodes[0].ID = "changed"
	clone.Edges[0].Target = "changed"
	clone.Trigger.Type = TriggerTypeManual

	assert.Equal(t, "n1", def.Nodes[0].ID)
	assert.Equal(t, "n2", def.Edges[0].Target)
	assert.Equal(t, TriggerTypeStatusChange, def.Trigger.Type)
}

func TestEffectiveMode(t *testing.T) {
	assert.Equal(t, ModeAuto, (&Definition{}).EffectiveMode())
	assert.Equal(t, ModeStep, (&Definition{Mode: ModeStep}).EffectiveMode())
	assert.Equal(t, ModeAuto, (&Definition{Mode: ModeAuto}).EffectiveMode())
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		state ExecutionState
		ev    controlEvent
		want  ExecutionState
		ok    bool
	}{
		{StateIdle, eventStartAuto, StateRunning, true},
		{StateIdle, eventStartStep, StateStepping, true},
		{StateRunning, eventPause, StatePaused, true},
		{StatePaused, eventResume, StateRunning, true},
		{StateRunning, eventComplete, StateCompleted, true},
		{StateStepping, eventComplete, StateCompleted, true},
		{StateRunning, eventFail, StateError, true},
		{StatePaused, eventFail, StateError, true},
		{StateRunning, eventStop, StateIdle, true},
		{StateCompleted, eventStop, StateIdle, true},

		// 非法转移
		{StateRunning, eventStartAuto, StateRunning, false},
		{StatePaused, eventPause, StatePaused, false},
		{StateRunning, eventResume, StateRunning, false},
		{StateIdle, eventFail, StateIdle, false},
		{StateIdle, eventStop, StateIdle, false},
		{StateCompleted, eventComplete, StateCompleted, false},
	}

	for _, tt := range tests {
		next, ok := transition(tt.state, tt.ev)
		assert.Equal(t, tt.ok, ok, "%s + %s", tt.state, tt.ev)
		assert.Equal(t, tt.want, next, "%s + %s", tt.state, tt.ev)
	}
}
