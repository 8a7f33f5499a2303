package intercept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netstub/netstub/pkg/api"
)

func TestApplyStaticResponse_Full(t *testing.T) {
	c := newFakeClient()
	err := ApplyStaticResponse(c, &api.StaticResponse{
		StatusCode: 418,
		Headers:    map[string]string{"x-teapot": "yes", "content-type": "text/plain"},
		Body:       strPtr("short and stout"),
	})
	require.NoError(t, err)

	assert.Equal(t, 418, c.status)
	assert.Equal(t, "yes", c.header.Get("X-Teapot"))
	assert.Equal(t, "text/plain", c.header.Get("Content-Type"))
	assert.Equal(t, "short and stout", c.body.String())
	assert.True(t, c.ended)
	assert.False(t, c.destroyed)
}

func TestApplyStaticResponse_DefaultStatus(t *testing.T) {
	c := newFakeClient()
	require.NoError(t, ApplyStaticResponse(c, &api.StaticResponse{}))

	assert.Equal(t, 200, c.status)
	assert.Empty(t, c.body.String())
	assert.True(t, c.ended)
}

func TestApplyStaticResponse_DestroySocketWins(t *testing.T) {
	c := newFakeClient()
	require.NoError(t, ApplyStaticResponse(c, &api.StaticResponse{
		StatusCode:    500,
		Headers:       map[string]string{"x-a": "b"},
		Body:          strPtr("ignored"),
		DestroySocket: true,
	}))

	assert.True(t, c.destroyed)
	assert.False(t, c.ended)
	assert.Zero(t, c.status)
	assert.Empty(t, c.header)
	assert.Empty(t, c.body.String())
}

func TestResumer_OneShot(t *testing.T) {
	calls := 0
	r := NewResumer("request", func() { calls++ })

	assert.False(t, r.Used())
	r.Resume()
	assert.True(t, r.Used())
	assert.Equal(t, 1, calls)
	assert.PanicsWithValue(t, "intercept: request continuation resumed twice", r.Resume)
	assert.Equal(t, 1, calls)
}
