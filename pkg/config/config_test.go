package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[defaults.adapter]
max_concurrency=4
single_instance=false

[adapter.base_download]
abstract=true
class=relay/adapter.Download
destination=/tmp/relay

[adapter.download_grib]
include=adapter.base_download
max_concurrency=8
check_hash=true

[executor.gridengine_a]
class=relay/executor.GridEngine
hosts=host1,host2,host3
queue=default.q
`

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"defaults.adapter", "adapter.base_download", "adapter.download_grib", "executor.gridengine_a"}, f.Sections())
}

func TestResolve_IncludeAndDefaults(t *testing.T) {
	f, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	resolved, err := f.Resolve("adapter.download_grib")
	require.NoError(t, err)

	assert.Equal(t, "8", resolved["max_concurrency"])
	assert.Equal(t, "false", resolved["single_instance"])
	assert.Equal(t, "/tmp/relay", resolved["destination"])
	assert.Equal(t, "true", resolved["check_hash"])
	_, hasClass := resolved["class"]
	assert.False(t, hasClass)
	_, hasInclude := resolved["include"]
	assert.False(t, hasInclude)
}

func TestIsAbstract(t *testing.T) {
	f, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.True(t, f.IsAbstract("adapter.base_download"))
	assert.False(t, f.IsAbstract("adapter.download_grib"))
}

func TestResolve_RecursionGuard(t *testing.T) {
	cyclic := `
[adapter.a]
include=adapter.b

[adapter.b]
include=adapter.a
`
	f, err := Parse(strings.NewReader(cyclic))
	require.NoError(t, err)

	_, err = f.Resolve("adapter.a")
	assert.Error(t, err)
}

func TestClassOf(t *testing.T) {
	f, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	class, ok := f.ClassOf("executor.gridengine_a")
	require.True(t, ok)
	assert.Equal(t, "relay/executor.GridEngine", class)
}

func TestTypedDecoders(t *testing.T) {
	n, err := PositiveInt("8")
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	_, err = PositiveInt("0")
	assert.Error(t, err)

	b, err := Bool("true")
	require.NoError(t, err)
	assert.True(t, b)

	list := ListString("host1, host2 ,host3")
	assert.Equal(t, []string{"host1", "host2", "host3"}, list)

	ints, err := ListInt("1,2,3")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ints)
}

func TestBinder(t *testing.T) {
	b := NewBinder()
	b.Bind("executor.gridengine_a", "the-executor")

	dep := ConfigClass("executor.gridengine_a")
	obj, err := b.Resolve(dep)
	require.NoError(t, err)
	assert.Equal(t, "the-executor", obj)

	_, err = b.Resolve(ConfigClass("executor.missing"))
	assert.Error(t, err)
}
