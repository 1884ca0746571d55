package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charging-platform/charge-point-simulator/internal/logger"
	"github.com/charging-platform/charge-point-simulator/internal/meter"
	"github.com/charging-platform/charge-point-simulator/internal/metrics"
)

// progressCadence 进度回调节拍
const progressCadence = 250 * time.Millisecond

// Executor 场景执行器
//
// 解释一份场景定义快照，支持暂停/恢复/单步/停止与并行分支。
// 实例一次性使用：每次执行创建新的执行器。
type Executor struct {
	def       *Definition
	callbacks Callbacks
	observer  Observer
	logger    *logger.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	ectx        ExecutionContext
	claimedBy   map[string]int
	stepPermits int
	gatePending int
	started     bool

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecutor 创建场景执行器
func NewExecutor(def *Definition, callbacks Callbacks, observer Observer, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Global()
	}
	e := &Executor{
		def:       def.Clone(),
		callbacks: callbacks,
		observer:  observer,
		logger:    log.With("scenario-executor"),
		ectx: ExecutionContext{
			ScenarioID: def.ID,
			State:      StateIdle,
			Mode:       ModeAuto,
		},
		claimedBy: make(map[string]int),
		done:      make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start 启动执行流程，拒绝重入
//
// 图结构检查与节点执行在独立协程中进行，错误通过Observer.OnError上报。
func (e *Executor) Start(mode ExecutionMode) error {
	ev := eventStartAuto
	if mode == ModeStep {
		ev = eventStartStep
	}

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	next, ok := transition(e.ectx.State, ev)
	if !ok {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.ectx.Mode = mode
	e.ectx.State = next
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	snapshot := e.ectx.snapshot()
	e.mu.Unlock()

	e.emitState(snapshot)
	metrics.ActiveExecutors.Inc()

	go e.run()
	return nil
}

// Pause 暂停执行，仅在running状态有效
func (e *Executor) Pause() {
	e.applyControl(eventPause)
}

// Resume 恢复执行，仅在paused状态有效
func (e *Executor) Resume() {
	e.applyControl(eventResume)
}

// Stop 强制停止，从任意非idle状态回到idle并解除所有阻塞
func (e *Executor) Stop() {
	e.mu.Lock()
	wasActive := e.ectx.State.IsActive()
	next, ok := transition(e.ectx.State, eventStop)
	if !ok {
		e.mu.Unlock()
		return
	}
	e.ectx.State = next
	e.ectx.CurrentNodeID = ""
	e.stepPermits = 0
	if e.cancel != nil {
		e.cancel()
	}
	e.cond.Broadcast()
	snapshot := e.ectx.snapshot()
	e.mu.Unlock()

	e.emitState(snapshot)
	if wasActive {
		metrics.ActiveExecutors.Dec()
		metrics.ScenariosFinished.WithLabelValues("stopped").Inc()
	}
}

// Step 单步模式下放行恰好一个挂起节点
//
// 仅在存在待放行的延续时生效：节点分发期间发出的Step不累积，
// 下一个节点到达挂起点后仍需新的Step。
func (e *Executor) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ectx.State != StateStepping {
		return
	}
	if e.stepPermits >= e.gatePending {
		return
	}
	e.stepPermits++
	e.cond.Broadcast()
}

// Context 获取当前执行上下文快照
func (e *Executor) Context() ExecutionContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ectx.snapshot()
}

// Done 流程协程退出后关闭
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// applyControl 应用状态机事件，非法转移静默忽略
func (e *Executor) applyControl(ev controlEvent) {
	e.mu.Lock()
	next, ok := transition(e.ectx.State, ev)
	if !ok {
		e.mu.Unlock()
		return
	}
	e.ectx.State = next
	e.cond.Broadcast()
	snapshot := e.ectx.snapshot()
	e.mu.Unlock()

	e.emitState(snapshot)
}

// run 流程主协程
func (e *Executor) run() {
	defer close(e.done)

	start, err := e.def.StartNode()
	if err != nil {
		e.fail(err)
		return
	}

	// start节点只做记录，不触发外部回调
	if !e.beginNode(start, 0, false) {
		return
	}
	e.completeNode(start)

	roots := e.def.Targets(start.ID)
	switch len(roots) {
	case 0:
		e.logger.Warnf("Scenario %s has no branches from start node", e.def.ID)
		e.finish(nil)
	case 1:
		e.finish(e.runBranch(roots[0], 0))
	default:
		// 并行分支：全部独立终止后流程才算完成
		errCh := make(chan error, len(roots))
		var wg sync.WaitGroup
		for i, root := range roots {
			wg.Add(1)
			go func(n *Node, branch int) {
				defer wg.Done()
				if err := e.runBranch(n, branch); err != nil {
					errCh <- err
				}
			}(root, i+1)
		}
		wg.Wait()
		close(errCh)
		e.finish(<-errCh)
	}
}

// runBranch 迭代执行一条线性分支
//
// 分支终止条件：到达end节点、无出边、出边目标全部不存在、汇入
// 其他分支已执行过的节点、或Stop()。节点处理器抛错终止本分支并
// 返回错误，同时取消运行上下文让兄弟分支协作排空。
func (e *Executor) runBranch(node *Node, branch int) error {
	current := node
	for current != nil {
		if !e.beginNode(current, branch, true) {
			return nil
		}
		if !e.awaitGate() {
			return nil
		}
		if err := e.dispatch(current); err != nil {
			e.fail(fmt.Errorf("node %s (%s): %w", current.ID, current.Type, err))
			return err
		}
		e.completeNode(current)
		if current.Type == NodeTypeEnd {
			return nil
		}
		current = e.nextNode(current)
	}
	return nil
}

// beginNode 登记当前节点并发出node-execute事件
//
// 节点归首个到达的分支所有：其他分支汇入已被占用的节点时不再
// 重复执行，返回false终止到达分支；同分支回边作为循环放行。
// gated节点随后进入awaitGate，登记时计入挂起延续。
func (e *Executor) beginNode(n *Node, branch int, gated bool) bool {
	e.mu.Lock()
	if !e.ectx.State.IsActive() {
		e.mu.Unlock()
		return false
	}
	if owner, taken := e.claimedBy[n.ID]; taken {
		if owner != branch {
			e.mu.Unlock()
			e.logger.Debugf("Node %s already taken by another branch, converging", n.ID)
			return false
		}
		e.ectx.LoopCount++
	}
	e.claimedBy[n.ID] = branch
	e.ectx.CurrentNodeID = n.ID
	e.ectx.ExecutedNodes = append(e.ectx.ExecutedNodes, n.ID)
	if gated {
		e.gatePending++
	}
	e.mu.Unlock()

	metrics.NodesExecuted.WithLabelValues(string(n.Type)).Inc()
	if e.observer.OnNodeExecute != nil {
		e.observer.OnNodeExecute(n.ID)
	}
	return true
}

// completeNode 发出node-complete事件
func (e *Executor) completeNode(n *Node) {
	e.mu.Lock()
	finished := !e.ectx.State.IsActive()
	e.mu.Unlock()
	if finished {
		return
	}
	if e.observer.OnNodeComplete != nil {
		e.observer.OnNodeComplete(n.ID)
	}
}

// awaitGate 协作式挂起点：暂停等待与单步放行
//
// 条件变量阻塞，不做忙轮询。停止或失败后返回false。
func (e *Executor) awaitGate() bool {
	e.mu.Lock()
	defer func() {
		e.gatePending--
		e.mu.Unlock()
	}()
	for {
		switch {
		case !e.ectx.State.IsActive():
			return false
		case e.ectx.State == StatePaused:
			e.cond.Wait()
		case e.ectx.State == StateStepping:
			if e.stepPermits > 0 {
				e.stepPermits--
				return true
			}
			e.cond.Wait()
		default:
			return true
		}
	}
}

// nextNode 选取首条目标仍然存在的出边
func (e *Executor) nextNode(n *Node) *Node {
	for _, edge := range e.def.Edges {
		if edge.Source != n.ID {
			continue
		}
		if target, ok := e.def.Node(edge.Target); ok {
			return target
		}
		e.logger.Warnf("Edge %s -> %s targets a removed node, skipping", edge.Source, edge.Target)
	}
	e.logger.Debugf("Node %s has no outgoing edge, branch ends", n.ID)
	return nil
}

// finish 流程收敛：join之后统一决定终态
func (e *Executor) finish(err error) {
	if err != nil {
		// 错误已由fail()上报
		return
	}

	e.mu.Lock()
	next, ok := transition(e.ectx.State, eventComplete)
	if !ok {
		e.mu.Unlock()
		return
	}
	e.ectx.State = next
	e.ectx.CurrentNodeID = ""
	snapshot := e.ectx.snapshot()
	e.mu.Unlock()

	e.emitState(snapshot)
	metrics.ActiveExecutors.Dec()
	metrics.ScenariosFinished.WithLabelValues("completed").Inc()
}

// fail 流程失败：首个错误生效，停止后的错误被忽略
//
// 取消运行上下文让兄弟分支就地排空，join仍等待它们退出。
func (e *Executor) fail(err error) {
	e.mu.Lock()
	next, ok := transition(e.ectx.State, eventFail)
	if !ok {
		e.mu.Unlock()
		return
	}
	e.ectx.State = next
	e.ectx.Error = err.Error()
	if e.cancel != nil {
		e.cancel()
	}
	e.cond.Broadcast()
	snapshot := e.ectx.snapshot()
	e.mu.Unlock()

	e.logger.ErrorWithErr(err, "Scenario flow failed")
	e.emitState(snapshot)
	if e.observer.OnError != nil {
		e.observer.OnError(err)
	}
	metrics.ActiveExecutors.Dec()
	metrics.ScenariosFinished.WithLabelValues("error").Inc()
}

// emitState 状态变更通知
func (e *Executor) emitState(snapshot ExecutionContext) {
	if e.observer.OnStateChange != nil {
		e.observer.OnStateChange(snapshot)
	}
}

// emitProgress 进度通知，终止后不再发出
func (e *Executor) emitProgress(nodeID string, remaining, total float64) {
	e.mu.Lock()
	finished := !e.ectx.State.IsActive()
	e.mu.Unlock()
	if finished {
		return
	}
	if e.observer.OnNodeProgress != nil {
		e.observer.OnNodeProgress(nodeID, remaining, total)
	}
}

// dispatch 按节点类型分发到处理器
//
// 回调panic被捕获并转换为流程错误，不越过执行器边界。
func (e *Executor) dispatch(n *Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node handler panicked: %v", r)
		}
	}()

	switch n.Type {
	case NodeTypeStart, NodeTypeEnd:
		return nil
	case NodeTypeStatusChange:
		return e.execStatusChange(n)
	case NodeTypeTransaction:
		return e.execTransaction(n)
	case NodeTypeMeterValue:
		return e.execMeterValue(n)
	case NodeTypeDelay:
		return e.execDelay(n)
	case NodeTypeNotification:
		return e.execNotification(n)
	case NodeTypeConnectorPlug:
		return e.execConnectorPlug(n)
	case NodeTypeRemoteStartTrigger:
		return e.execRemoteStartTrigger(n)
	case NodeTypeStatusTrigger:
		return e.execStatusTrigger(n)
	case NodeTypeReservationTrigger:
		return e.execReservationTrigger(n)
	case NodeTypeReserveNow:
		return e.execReserveNow(n)
	case NodeTypeCancelReservation:
		return e.execCancelReservation(n)
	default:
		return fmt.Errorf("unknown node type: %s", n.Type)
	}
}

func (e *Executor) execStatusChange(n *Node) error {
	data := n.Data.StatusChange
	if data == nil {
		return fmt.Errorf("statusChange node has no configuration")
	}
	if e.callbacks.ChangeStatus == nil {
		return nil
	}
	return e.callbacks.ChangeStatus(e.runCtx, data.Status)
}

func (e *Executor) execTransaction(n *Node) error {
	data := n.Data.Transaction
	if data == nil {
		return fmt.Errorf("transaction node has no configuration")
	}
	switch data.Action {
	case TransactionActionStart:
		if e.callbacks.StartTransaction == nil {
			return nil
		}
		var battery *BatteryParams
		if data.BatteryCapacityKWh != nil || data.InitialSoC != nil {
			battery = &BatteryParams{
				CapacityKWh: data.BatteryCapacityKWh,
				InitialSoC:  data.InitialSoC,
			}
		}
		return e.callbacks.StartTransaction(e.runCtx, data.IdTag, battery)
	case TransactionActionStop:
		if e.callbacks.StopTransaction == nil {
			return nil
		}
		return e.callbacks.StopTransaction(e.runCtx)
	default:
		return fmt.Errorf("unknown transaction action: %s", data.Action)
	}
}

func (e *Executor) execMeterValue(n *Node) error {
	data := n.Data.MeterValue
	if data == nil {
		return fmt.Errorf("meterValue node has no configuration")
	}
	if e.callbacks.SetMeterValue != nil {
		if err := e.callbacks.SetMeterValue(data.ValueWh, data.SendMessage); err != nil {
			return err
		}
	}
	// 自动递增针对连接器自身的调度器，不阻塞执行器
	if data.AutoIncrement && e.callbacks.StartAutoMeter != nil {
		cfg := meter.IncrementConfig{
			Interval:    time.Duration(data.IntervalSeconds) * time.Second,
			IncrementWh: data.IncrementWh,
		}
		if data.MaxTimeSeconds != nil {
			cfg.MaxTime = time.Duration(*data.MaxTimeSeconds) * time.Second
		}
		if data.MaxValueWh != nil {
			cfg.MaxValueWh = *data.MaxValueWh
		}
		return e.callbacks.StartAutoMeter(cfg)
	}
	return nil
}

func (e *Executor) execDelay(n *Node) error {
	data := n.Data.Delay
	if data == nil {
		return fmt.Errorf("delay node has no configuration")
	}
	if e.callbacks.Delay != nil {
		return e.callbacks.Delay(e.runCtx, data.Seconds)
	}
	return e.sleepWithProgress(n.ID, time.Duration(data.Seconds*float64(time.Second)))
}

func (e *Executor) execNotification(n *Node) error {
	data := n.Data.Notification
	if data == nil {
		return fmt.Errorf("notification node has no configuration")
	}
	if e.callbacks.SendMessage == nil {
		return nil
	}
	return e.callbacks.SendMessage(e.runCtx, data.MessageType, data.Payload)
}

func (e *Executor) execConnectorPlug(n *Node) error {
	data := n.Data.ConnectorPlug
	if data == nil {
		return fmt.Errorf("connectorPlug node has no configuration")
	}
	if e.callbacks.Plug == nil {
		return nil
	}
	return e.callbacks.Plug(e.runCtx, data.Action)
}

func (e *Executor) execRemoteStartTrigger(n *Node) error {
	if e.callbacks.WaitForRemoteStart == nil {
		return nil
	}
	timeout := triggerTimeout(n)
	return e.withCountdown(n.ID, timeout, func() error {
		idTag, err := e.callbacks.WaitForRemoteStart(e.runCtx)
		if err != nil {
			return err
		}
		e.logger.Infof("Remote start received for idTag %s", idTag)
		return nil
	})
}

func (e *Executor) execStatusTrigger(n *Node) error {
	data := n.Data.Trigger
	if data == nil || data.Status == "" {
		return fmt.Errorf("statusTrigger node has no target status")
	}
	if e.callbacks.WaitForStatus == nil {
		return nil
	}
	timeout := triggerTimeout(n)
	return e.withCountdown(n.ID, timeout, func() error {
		return e.callbacks.WaitForStatus(e.runCtx, data.Status, timeout)
	})
}

func (e *Executor) execReservationTrigger(n *Node) error {
	if e.callbacks.WaitForReservation == nil {
		return nil
	}
	timeout := triggerTimeout(n)
	return e.withCountdown(n.ID, timeout, func() error {
		reservationID, err := e.callbacks.WaitForReservation(e.runCtx, timeout)
		if err != nil {
			return err
		}
		e.logger.Infof("Reservation %d received", reservationID)
		return nil
	})
}

func (e *Executor) execReserveNow(n *Node) error {
	data := n.Data.ReserveNow
	if data == nil {
		return fmt.Errorf("reserveNow node has no configuration")
	}
	if e.callbacks.ReserveNow == nil {
		return nil
	}
	reservationID := int(time.Now().Unix())
	if data.ReservationID != nil {
		reservationID = *data.ReservationID
	}
	return e.callbacks.ReserveNow(e.runCtx, ReservationRequest{
		ReservationID: reservationID,
		Expiry:        time.Now().Add(time.Duration(data.ExpirySeconds) * time.Second),
		IdTag:         data.IdTag,
		ParentIdTag:   data.ParentIdTag,
	})
}

func (e *Executor) execCancelReservation(n *Node) error {
	data := n.Data.CancelReservation
	if data == nil {
		return fmt.Errorf("cancelReservation node has no configuration")
	}
	if e.callbacks.CancelReservation == nil {
		return nil
	}
	return e.callbacks.CancelReservation(e.runCtx, data.ReservationID)
}

// triggerTimeout 等待型节点的可选超时
func triggerTimeout(n *Node) time.Duration {
	if n.Data.Trigger == nil || n.Data.Trigger.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(n.Data.Trigger.TimeoutSeconds * float64(time.Second))
}

// sleepWithProgress 内置延时，按固定节拍发出剩余时间进度
func (e *Executor) sleepWithProgress(nodeID string, total time.Duration) error {
	deadline := time.Now().Add(total)
	timer := time.NewTimer(total)
	defer timer.Stop()
	ticker := time.NewTicker(progressCadence)
	defer ticker.Stop()

	totalSeconds := total.Seconds()
	for {
		select {
		case <-e.runCtx.Done():
			return nil
		case <-timer.C:
			e.emitProgress(nodeID, 0, totalSeconds)
			return nil
		case <-ticker.C:
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			e.emitProgress(nodeID, remaining.Seconds(), totalSeconds)
		}
	}
}

// withCountdown 等待回调期间并行驱动超时倒计时进度
//
// 倒计时只做上报，超时不会中止底层等待：等待的中止由注入的
// 回调自行负责，零超时表示允许无限等待。
func (e *Executor) withCountdown(nodeID string, timeout time.Duration, wait func() error) error {
	if timeout <= 0 {
		return wait()
	}

	done := make(chan struct{})
	go e.reportCountdown(nodeID, timeout, done)
	err := wait()
	close(done)
	return err
}

// reportCountdown 倒计时进度协程，等待结束或超时到期后清零退出
func (e *Executor) reportCountdown(nodeID string, total time.Duration, done <-chan struct{}) {
	deadline := time.Now().Add(total)
	ticker := time.NewTicker(progressCadence)
	defer ticker.Stop()

	totalSeconds := total.Seconds()
	for {
		select {
		case <-done:
			e.emitProgress(nodeID, 0, totalSeconds)
			return
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				e.emitProgress(nodeID, 0, totalSeconds)
				return
			}
			e.emitProgress(nodeID, remaining.Seconds(), totalSeconds)
		}
	}
}
