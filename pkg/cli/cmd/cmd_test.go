package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/LENAX/agent-flow/pkg/api"
	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/cli/output"
	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/LENAX/agent-flow/pkg/core/worker"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineYAML = `type: sequential
steps:
  - workerId: echo
  - workerId: upper
`

// execute 执行命令并捕获输出，全局参数在每次执行前复位
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	prevOut, prevErr, prevColor := output.Stdout, output.Stderr, color.NoColor
	output.Stdout, output.Stderr, color.NoColor = buf, buf, true
	t.Cleanup(func() {
		output.Stdout, output.Stderr, color.NoColor = prevOut, prevErr, prevColor
	})

	outputJSON = false
	serverURL = "http://localhost:8080"
	localRun = runFlags{}
	submitRun = runFlags{}
	submitWait = false

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeDefinition(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0o644))
	return path
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"lang=go", " mode = fast", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"lang": "go", "mode": " fast", "empty": ""}, params)

	params, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}

func TestParseApprovals(t *testing.T) {
	policies, err := parseApprovals([]string{"before:1", "AFTER:2:30m"})
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, dto.ApprovalPolicyRequest{StepIndex: 1, Phase: "before"}, policies[0])
	assert.Equal(t, dto.ApprovalPolicyRequest{StepIndex: 2, Phase: "after", Timeout: "30m"}, policies[1])

	for _, bad := range []string{"before", "during:1", "before:-1", "before:x", "after:1:soon", "a:1:2:3"} {
		_, err := parseApprovals([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestPreviewAndWorkflowID(t *testing.T) {
	assert.Equal(t, "a b", preview("a\n  b"))
	long := preview(string(bytes.Repeat([]byte("x"), 100)))
	assert.Len(t, []rune(long), outputPreviewLen)
	assert.Equal(t, "pipeline", workflowIDFromPath("/tmp/defs/pipeline.yaml"))
}

func TestRunCommand_Local(t *testing.T) {
	path := writeDefinition(t)

	t.Run("表格输出", func(t *testing.T) {
		out, err := execute(t, "run", path, "--input", "hi")
		require.NoError(t, err)
		assert.Contains(t, out, "Workflow:  pipeline")
		assert.Contains(t, out, "✅ completed")
		assert.Contains(t, out, "最终输出: HI")
	})

	t.Run("JSON输出", func(t *testing.T) {
		out, err := execute(t, "run", path, "--input", "hi", "--json", "--workflow-id", "custom")
		require.NoError(t, err)

		var outcome dto.RunOutcomeResponse
		require.NoError(t, json.Unmarshal([]byte(out), &outcome))
		assert.Equal(t, "custom", outcome.Run.WorkflowID)
		assert.Equal(t, "completed", outcome.Run.Status)
		require.NotNil(t, outcome.Result)
		require.Len(t, outcome.Result.Steps, 2)
		assert.Equal(t, "hi", outcome.Result.Steps[0].Output)
		assert.Equal(t, "HI", outcome.Result.Steps[1].Output)
	})

	t.Run("定义文件不存在", func(t *testing.T) {
		_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("参数格式错误", func(t *testing.T) {
		_, err := execute(t, "run", path, "--param", "broken")
		assert.Error(t, err)
	})
}

func TestRunsCommand_Remote(t *testing.T) {
	cfg := config.Default()
	cfg.AgentFlow.Storage.Database.Type = "memory"
	eng, err := engine.NewEngineBuilder("").
		WithConfig(cfg).
		WithStore(storage.NewMemoryStore()).
		WithWorker(worker.NewEchoWorker("echo", "Echo", "")).
		WithWorker(worker.NewUpperWorker("upper", "Upper")).
		Build()
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)

	srv := httptest.NewServer(api.SetupRouter(eng, "test"))
	t.Cleanup(srv.Close)
	path := writeDefinition(t)

	out, err := execute(t, "runs", "submit", path, "--wait", "--input", "remote", "--server", srv.URL, "--json")
	require.NoError(t, err)
	var outcome dto.RunOutcomeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, "completed", outcome.Run.Status)
	assert.Equal(t, "REMOTE", outcome.Result.Steps[1].Output)

	out, err = execute(t, "runs", "list", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, outcome.Run.ID)
	assert.Contains(t, out, "共 1 条")

	out, err = execute(t, "runs", "get", outcome.Run.ID, "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "REMOTE")

	out, err = execute(t, "workers", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "共 2 个Worker")

	out, err = execute(t, "runs", "get", "missing", "--server", srv.URL)
	assert.Error(t, err)
	assert.Contains(t, out, "获取运行失败")
}
