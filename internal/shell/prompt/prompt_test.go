package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegion_Default(t *testing.T) {
	var out strings.Builder
	p := New(strings.NewReader("\n"), &out)

	region, err := p.Region("us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", region)
	assert.Contains(t, out.String(), "[us-east-1]")
}

func TestRegion_Override(t *testing.T) {
	p := New(strings.NewReader("eu-west-1\n"), &strings.Builder{})

	region, err := p.Region("us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", region)
}

func TestRegion_TrimsWhitespace(t *testing.T) {
	p := New(strings.NewReader("  ap-south-1  \n"), &strings.Builder{})

	region, err := p.Region("us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", region)
}

func TestConfirm_Affirmative(t *testing.T) {
	for _, answer := range []string{"y\n", "Y\n"} {
		p := New(strings.NewReader(answer), &strings.Builder{})
		ok, err := p.Confirm("Deploy?")
		require.NoError(t, err)
		assert.True(t, ok, "answer %q should proceed", answer)
	}
}

func TestConfirm_Declines(t *testing.T) {
	for _, answer := range []string{"n\n", "N\n", "yes\n", "\n", "anything\n"} {
		p := New(strings.NewReader(answer), &strings.Builder{})
		ok, err := p.Confirm("Deploy?")
		require.NoError(t, err)
		assert.False(t, ok, "answer %q should decline", answer)
	}
}

func TestConfirm_EOFDeclines(t *testing.T) {
	p := New(strings.NewReader(""), &strings.Builder{})

	ok, err := p.Confirm("Deploy?")
	require.NoError(t, err)
	assert.False(t, ok)
}
