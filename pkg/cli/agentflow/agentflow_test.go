package agentflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LENAX/agent-flow/pkg/api"
	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/cli/agentflow"
	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/worker"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.AgentFlow.Storage.Database.Type = "memory"

	eng, err := engine.NewEngineBuilder("").
		WithConfig(cfg).
		WithStore(storage.NewMemoryStore()).
		WithWorker(worker.NewEchoWorker("echo", "Echo", "echo:")).
		WithWorker(worker.NewUpperWorker("upper", "Upper")).
		Build()
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)

	srv := httptest.NewServer(api.SetupRouter(eng, "test"))
	t.Cleanup(srv.Close)
	return srv
}

func definition() *workflow.Definition {
	return &workflow.Definition{
		Type:  workflow.TypeSequential,
		Steps: []workflow.Step{{WorkerID: "echo"}, {WorkerID: "upper"}},
	}
}

// TestAgentFlowClient 测试客户端与真实API交互
func TestAgentFlowClient(t *testing.T) {
	srv := newServer(t)
	client := agentflow.New(srv.URL + "/")

	t.Run("健康检查", func(t *testing.T) {
		h, err := client.Health()
		require.NoError(t, err)
		assert.Equal(t, "healthy", h.Status)

		workers, err := client.ListWorkers()
		require.NoError(t, err)
		assert.Equal(t, 2, workers.Total)
	})

	t.Run("同步执行并查询", func(t *testing.T) {
		out, err := client.StartRun(dto.StartRunRequest{WorkflowID: "cli", Definition: definition(), Input: "go"})
		require.NoError(t, err)
		assert.Equal(t, "completed", out.Run.Status)
		require.Len(t, out.Result.Steps, 2)
		assert.Equal(t, "ECHO:GO", out.Result.Steps[1].Output)

		detail, err := client.GetRun(out.Run.ID)
		require.NoError(t, err)
		assert.Equal(t, "cli", detail.WorkflowID)

		res, err := client.GetResult(out.Run.ID)
		require.NoError(t, err)
		assert.True(t, res.Success)

		snaps, err := client.GetSnapshots(out.Run.ID)
		require.NoError(t, err)
		assert.NotZero(t, snaps.Total)

		list, err := client.ListRuns("cli", "completed", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, list.Total)

		plan, err := client.Compensation(out.Run.ID, 1, -1)
		require.NoError(t, err)
		assert.Len(t, plan.Actions, 2)

		rolled, err := client.RollbackRun(out.Run.ID, dto.RollbackRequest{LastSuccess: true})
		require.NoError(t, err)
		assert.Equal(t, "paused", rolled.Status)

		terminated, err := client.TerminateRun(out.Run.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "failed", terminated.Status)

		cleaned, err := client.Cleanup(0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, cleaned.Removed, 1)
	})

	t.Run("不存在的运行返回APIError", func(t *testing.T) {
		_, err := client.GetRun("missing")
		var apiErr *agentflow.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		assert.Equal(t, 404, apiErr.Code)
	})

	t.Run("审批与事件流", func(t *testing.T) {
		detail, err := client.SubmitRun(dto.StartRunRequest{
			Definition: definition(),
			Input:      "ws",
			Approvals:  []dto.ApprovalPolicyRequest{{StepIndex: 0, Phase: "before"}},
		})
		require.NoError(t, err)

		var gateID string
		require.Eventually(t, func() bool {
			pending, err := client.ListApprovals(detail.ID)
			if err != nil || len(pending.Items) == 0 {
				return false
			}
			gateID = pending.Items[0].ID
			return true
		}, 5*time.Second, 10*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done := make(chan error, 1)
		var outputs []string
		go func() {
			done <- client.Watch(ctx, detail.ID, func(ev *events.Event) bool {
				if ev.Type == events.EventStep {
					outputs = append(outputs, ev.Step.Output)
				}
				return ev.Type != events.EventComplete
			})
		}()

		// 等待订阅建立后再批准
		time.Sleep(100 * time.Millisecond)
		gate, err := client.Approve(gateID, dto.DecisionRequest{ResolvedBy: "cli"})
		require.NoError(t, err)
		assert.Equal(t, "approved", string(gate.Status))

		require.NoError(t, <-done)
		assert.Equal(t, []string{"echo:ws", "ECHO:WS"}, outputs)

		_, err = client.Reject(gateID, dto.DecisionRequest{})
		assert.Error(t, err)
	})
}

func TestAgentFlowClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs/r1/pause", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(dto.NewErrorResponse(409, "run is already active"))
	}))
	defer srv.Close()

	_, err := agentflow.New(srv.URL).PauseRun("r1")
	var apiErr *agentflow.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 409, apiErr.Code)
	assert.Contains(t, err.Error(), "run is already active")
}
