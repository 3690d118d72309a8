package forbidden

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAnyListAcceptsBareScalarListAndAnyWire(t *testing.T) {
	var a AnyList
	require.NoError(t, yaml.Unmarshal([]byte(`curl`), &a))
	assert.Equal(t, []string{"curl"}, a.Values)

	var b AnyList
	require.NoError(t, yaml.Unmarshal([]byte(`[curl, wget]`), &b))
	assert.Equal(t, []string{"curl", "wget"}, b.Values)

	var c AnyList
	require.NoError(t, yaml.Unmarshal([]byte("any:\n  - curl\n  - wget\n"), &c))
	assert.Equal(t, []string{"curl", "wget"}, c.Values)
}

func TestAnyIntsAcceptsScalarAndList(t *testing.T) {
	var a AnyInts
	require.NoError(t, yaml.Unmarshal([]byte(`22`), &a))
	assert.Equal(t, []int{22}, a.Values)

	var b AnyInts
	require.NoError(t, yaml.Unmarshal([]byte(`[22, 23]`), &b))
	assert.Equal(t, []int{22, 23}, b.Values)
}

func TestPolicyUnmarshalAppliesRuleShapes(t *testing.T) {
	doc := `
policy_name: test-policy
defaults:
  severity: medium
  action: alert
  enabled: true
rules:
  - id: suspicious-curl
    match:
      comm: [curl, wget]
      dst_port: [4444, 4445]
`
	var p Policy
	require.NoError(t, yaml.Unmarshal([]byte(doc), &p))
	require.Len(t, p.Rules, 1)
	assert.Equal(t, "suspicious-curl", p.Rules[0].ID)
	assert.Equal(t, []string{"curl", "wget"}, p.Rules[0].Match.CommAny.Values)
	assert.Equal(t, []int{4444, 4445}, p.Rules[0].Match.DstPort.Values)
}
