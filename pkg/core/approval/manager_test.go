package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []*events.Event
}

func (l *eventLog) Emit(ev *events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

type outcome struct {
	gate *Gate
	err  error
}

// requestAsync 在后台请求审批并等待审批门出现
func requestAsync(t *testing.T, m *Manager, workflowID string, req Request) <-chan outcome {
	t.Helper()
	done := make(chan outcome, 1)
	go func() {
		g, err := m.RequestApproval(context.Background(), workflowID, req)
		done <- outcome{gate: g, err: err}
	}()
	require.Eventually(t, func() bool {
		for _, g := range m.GetPendingApprovals(workflowID) {
			if g.StepIndex == req.StepIndex {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return done
}

func receive(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("审批请求未返回")
		return outcome{}
	}
}

func TestGateID(t *testing.T) {
	assert.Equal(t, "wf1_2", GateID("wf1", 2))
}

func TestRequestApproval_Approved(t *testing.T) {
	store := storage.NewMemoryStore()
	emitted := &eventLog{}
	m := NewManager(store, emitted)

	done := requestAsync(t, m, "wf1", Request{StepIndex: 2, Timeout: 5 * time.Second, Data: map[string]interface{}{"draft": "v1"}})

	pending := m.GetPendingApprovals("")
	require.Len(t, pending, 1)
	assert.Equal(t, "wf1_2", pending[0].ID)
	assert.Equal(t, StatusPending, pending[0].Status)
	assert.Equal(t, "v1", pending[0].Data["draft"])

	rec, err := store.LoadByID(context.Background(), storage.KindApprovalGate, "wf1_2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Pending)
	assert.Equal(t, "wf1", rec.OwnerID)

	resolved, err := m.ProvideDecision(context.Background(), "wf1_2", Decision{Approved: true, ResolvedBy: "alice", Comment: "lgtm"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resolved.Status)

	o := receive(t, done)
	require.NoError(t, o.err)
	assert.Equal(t, StatusApproved, o.gate.Status)
	assert.Equal(t, "alice", o.gate.ResolvedBy)
	assert.Equal(t, "lgtm", o.gate.Comment)
	require.NotNil(t, o.gate.ResolvedAt)

	assert.Empty(t, m.GetPendingApprovals(""))
	rec, err = store.LoadByID(context.Background(), storage.KindApprovalGate, "wf1_2")
	require.NoError(t, err)
	assert.False(t, rec.Pending)
	assert.Equal(t, string(StatusApproved), rec.Status)

	assert.Equal(t, []events.EventType{events.EventApprovalRequested, events.EventApprovalResolved}, emitted.types())
}

func TestRequestApproval_Rejected(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), nil)
	done := requestAsync(t, m, "wf1", Request{StepIndex: 0})

	_, err := m.ProvideDecision(context.Background(), "wf1_0", Decision{Approved: false, ResolvedBy: "bob", Comment: "needs work"})
	require.NoError(t, err)

	o := receive(t, done)
	assert.ErrorIs(t, o.err, ErrApprovalRejected)
	require.NotNil(t, o.gate)
	assert.Equal(t, StatusRejected, o.gate.Status)
	assert.Equal(t, "needs work", o.gate.Comment)
}

func TestRequestApproval_Timeout(t *testing.T) {
	store := storage.NewMemoryStore()
	emitted := &eventLog{}
	m := NewManager(store, emitted)

	start := time.Now()
	gate, err := m.RequestApproval(context.Background(), "wf1", Request{StepIndex: 1, Timeout: 50 * time.Millisecond})
	assert.Nil(t, gate)
	assert.ErrorIs(t, err, ErrApprovalTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// 超时后审批门被移除
	assert.Empty(t, m.GetPendingApprovals("wf1"))
	rec, err := store.LoadByID(context.Background(), storage.KindApprovalGate, "wf1_1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = m.ProvideDecision(context.Background(), "wf1_1", Decision{Approved: true})
	assert.ErrorIs(t, err, ErrGateNotFound)

	// 超时后可以重新请求
	done := requestAsync(t, m, "wf1", Request{StepIndex: 1, Timeout: time.Second})
	_, err = m.ProvideDecision(context.Background(), "wf1_1", Decision{Approved: true})
	require.NoError(t, err)
	require.NoError(t, receive(t, done).err)
}

func TestProvideDecision_OnlyOnce(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), nil)
	done := requestAsync(t, m, "wf1", Request{StepIndex: 3})

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(approved bool) {
			defer wg.Done()
			_, err := m.ProvideDecision(context.Background(), "wf1_3", Decision{Approved: approved, ResolvedBy: "user"})
			results <- err
		}(i%2 == 0)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrGateAlreadyResolved)
	}
	assert.Equal(t, 1, succeeded)
	receive(t, done)

	_, err := m.ProvideDecision(context.Background(), "wf1_3", Decision{Approved: true})
	assert.ErrorIs(t, err, ErrGateAlreadyResolved)
}

func TestProvideDecision_Unknown(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), nil)
	_, err := m.ProvideDecision(context.Background(), "nope_0", Decision{Approved: true})
	assert.ErrorIs(t, err, ErrGateNotFound)
}

func TestRequestApproval_DuplicatePending(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), nil)
	done := requestAsync(t, m, "wf1", Request{StepIndex: 0})

	_, err := m.RequestApproval(context.Background(), "wf1", Request{StepIndex: 0})
	assert.ErrorIs(t, err, ErrGatePending)

	require.NoError(t, m.CancelApproval(context.Background(), "wf1_0"))
	o := receive(t, done)
	assert.ErrorIs(t, o.err, ErrApprovalRejected)
	assert.Equal(t, "system", o.gate.ResolvedBy)
	assert.Equal(t, "cancelled", o.gate.Comment)

	assert.ErrorIs(t, m.CancelApproval(context.Background(), "wf1_0"), ErrGateAlreadyResolved)
	assert.ErrorIs(t, m.CancelApproval(context.Background(), "wf9_0"), ErrGateNotFound)
}

func TestRequestApproval_ContextCancelKeepsGate(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := m.RequestApproval(ctx, "wf1", Request{StepIndex: 0})
		done <- err
	}()
	require.Eventually(t, func() bool { return len(m.GetPendingApprovals("wf1")) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// 审批门仍待处理，可重新等待
	assert.Len(t, m.GetPendingApprovals("wf1"), 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = m.ProvideDecision(context.Background(), "wf1_0", Decision{Approved: true})
	}()
	gate, err := m.AwaitDecision(context.Background(), "wf1_0", time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, gate.Status)

	// 已决定的审批门立即返回
	gate, err = m.AwaitDecision(context.Background(), "wf1_0", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, gate.Status)
}

func TestRestore(t *testing.T) {
	store := storage.NewMemoryStore()
	first := NewManager(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _, _ = first.RequestApproval(ctx, "wf1", Request{StepIndex: 4}) }()
	require.Eventually(t, func() bool { return len(first.GetPendingApprovals("")) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	second := NewManager(store, nil)
	n, err := second.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending := second.GetPendingApprovals("wf1")
	require.Len(t, pending, 1)
	assert.Equal(t, 4, pending[0].StepIndex)

	// 重复恢复不会重复加载
	n, err = second.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = second.ProvideDecision(context.Background(), "wf1_4", Decision{Approved: false, ResolvedBy: "carol"})
	require.NoError(t, err)
	gate, err := second.GetGate(context.Background(), "wf1_4")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, gate.Status)

	// 从存储读取已决定的审批门
	gate, err = NewManager(store, nil).GetGate(context.Background(), "wf1_4")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, gate.Status)
}

func TestClearWorkflowApprovals(t *testing.T) {
	store := storage.NewMemoryStore()
	m := NewManager(store, nil)
	done := requestAsync(t, m, "wf1", Request{StepIndex: 0})
	other := requestAsync(t, m, "wf2", Request{StepIndex: 0})

	require.NoError(t, m.ClearWorkflowApprovals(context.Background(), "wf1"))
	o := receive(t, done)
	assert.True(t, errors.Is(o.err, ErrApprovalRejected))

	assert.Empty(t, m.GetPendingApprovals("wf1"))
	assert.Len(t, m.GetPendingApprovals("wf2"), 1)
	recs, err := store.ListByOwner(context.Background(), storage.KindApprovalGate, "wf1")
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = m.GetGate(context.Background(), "wf1_0")
	assert.ErrorIs(t, err, ErrGateNotFound)

	require.NoError(t, m.CancelApproval(context.Background(), "wf2_0"))
	receive(t, other)
}

func TestRequestApproval_EmptyWorkflowID(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), nil)
	_, err := m.RequestApproval(context.Background(), "", Request{})
	assert.Error(t, err)
}
