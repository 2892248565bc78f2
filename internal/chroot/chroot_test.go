package chroot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := Args{
		BuildRoot: "/tmp/build-123",
		Chdir:     "/steps/foo/build",
		Command:   []string{"sh", "-c", "echo hi"},
		Env:       map[string]string{"PKG": "foo", "DESTDIR": "/out"},
	}
	argv, err := Encode(a)
	require.NoError(t, err)

	got, err := Decode(argv)
	require.NoError(t, err)

	assert.Equal(t, a.BuildRoot, got.BuildRoot)
	assert.Equal(t, a.Chdir, got.Chdir)
	assert.Equal(t, a.Command, got.Command)
	assert.Equal(t, a.Env, got.Env)
}
