package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         string
		wantSet     Set
		wantUnknown []string
	}{
		{name: "empty", raw: "", wantSet: Set{}},
		{name: "canonical order", raw: "profile openid", wantSet: Set{OpenID, Profile}},
		{name: "duplicates collapse", raw: "email email  openid", wantSet: Set{OpenID, Email}},
		{name: "unknown kept apart", raw: "openid admin profile", wantSet: Set{OpenID, Profile}, wantUnknown: []string{"admin"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, unknown := ParseSet(tt.raw)
			assert.Equal(t, tt.wantSet, got)
			assert.Equal(t, tt.wantUnknown, unknown)
		})
	}
}

func TestSetOperations(t *testing.T) {
	t.Parallel()

	a := NewSet(OpenID, Profile, OfflineAccess)
	b := NewSet(Profile, Email)

	assert.Equal(t, Set{OpenID, Email, Profile, OfflineAccess}, a.Union(b))
	assert.Equal(t, Set{Profile}, a.Intersect(b))
	assert.Equal(t, Set{OpenID, OfflineAccess}, a.Without(b))
	assert.True(t, NewSet(Profile).SubsetOf(a))
	assert.False(t, b.SubsetOf(a))
	assert.True(t, Set{}.SubsetOf(a))
	assert.True(t, Set(nil).SubsetOf(Set{}))
	assert.True(t, NewSet(Profile, OpenID).Equal(NewSet(OpenID, Profile)))
	assert.False(t, a.Equal(b))
	assert.Equal(t, "openid profile offline_access", a.String())
}

func TestUnionIsMonotonic(t *testing.T) {
	t.Parallel()

	first := NewSet(OpenID, Email)
	second := NewSet(OpenID, Profile, UserID)
	merged := first.Union(second)

	assert.True(t, first.SubsetOf(merged))
	assert.True(t, second.SubsetOf(merged))
	assert.Equal(t, merged, merged.Union(first))
}

func TestNewSetDropsUnknown(t *testing.T) {
	t.Parallel()

	s := NewSet(Scope("root"), ModTools, GameData)
	assert.Equal(t, Set{GameData, ModTools}, s)
	assert.True(t, s.Has(ModTools))
	assert.False(t, s.Has(OpenID))
}
