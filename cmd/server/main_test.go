package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const straightLine = `
id: vendor_offboarding
nodes:
  - id: start
    kind: start
  - id: revoke
    kind: task
    label: Revoke access
    configuration:
      assigned_role: security_analyst
  - id: sign_off
    kind: approval
    label: Sign off
    configuration:
      assigned_role: procurement_lead
  - id: end
    kind: end
edges:
  - source: start
    target: revoke
  - source: revoke
    target: sign_off
  - source: sign_off
    target: end
`

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(straightLine), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("id: broken\nnodes:\n  - id: end\n    kind: end\n"), 0o600))

	var out bytes.Buffer
	cmd := newValidateCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{good})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "valid, 2 steps")
	assert.Contains(t, out.String(), "revoke (task, security_analyst)")

	out.Reset()
	cmd = newValidateCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{good, bad})
	assert.Error(t, cmd.Execute())
	assert.Contains(t, out.String(), "bad.yaml: invalid")
}
