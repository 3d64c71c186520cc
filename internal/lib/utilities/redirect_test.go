package utilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLocalRedirect(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"http://localhost:8080/cb":      true,
		"http://app.localhost/cb":       true,
		"http://127.0.0.1/cb":           true,
		"http://127.8.9.1:3000/cb":      true,
		"http://[::1]:9000/cb":          true,
		"http://0.0.0.0/cb":             true,
		"https://rp.example/cb":         false,
		"https://203.0.113.7/cb":        false,
		"https://localhost.example/cb":  false,
		"::not a url":                   true,
	}
	for raw, want := range tests {
		assert.Equal(t, want, IsLocalRedirect(raw), raw)
	}
}

func TestValidRedirectURI(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidRedirectURI("https://rp.example/cb"))
	assert.True(t, ValidRedirectURI("http://localhost:3000/cb?x=1"))
	assert.False(t, ValidRedirectURI("ftp://rp.example/cb"))
	assert.False(t, ValidRedirectURI("rp.example/cb"))
	assert.False(t, ValidRedirectURI("https://rp.example/cb#frag"))
	assert.False(t, ValidRedirectURI("https:///cb"))
}

func TestMap(t *testing.T) {
	t.Parallel()

	got := Map([]int{1, 2, 3}, func(i int) int { return i * 2 })
	assert.Equal(t, []int{2, 4, 6}, got)
}
