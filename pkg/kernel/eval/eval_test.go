package eval

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() Scope {
	return Scope{
		Stored: Values{
			"x":       5,
			"token":   "abc123",
			"user.id": 42,
		},
		Saved: Values{
			"a": map[string]any{"b": map[string]any{"c": 7}},
			"user": map[string]any{
				"email": "jo@example.com",
				"roles": []any{"admin", map[string]any{"name": "viewer"}},
			},
		},
	}
}

func TestScan_Tokens(t *testing.T) {
	toks, err := Scan("Bearer ${stored.token}!")
	require.NoError(t, err)
	require.Len(t, toks, 3)
	assert.Equal(t, "Bearer ", toks[0].Literal)
	assert.Equal(t, []string{"stored", "token"}, toks[1].Path)
	assert.Equal(t, "!", toks[2].Literal)
}

func TestScan_Escape(t *testing.T) {
	toks, err := Scan("cost: $${price}")
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, "cost: ${price}", toks[0].Literal)
}

func TestScan_Errors(t *testing.T) {
	for _, in := range []string{"${", "${a.", "${a..b}", "${a b}", "${}"} {
		_, err := Scan(in)
		var re *ResolutionError
		assert.True(t, errors.As(err, &re), "input %q: %v", in, err)
	}
}

func TestResolve_StoredKeepsType(t *testing.T) {
	v, err := Resolve("${stored.x}", testScope())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestResolve_SavedNestedPath(t *testing.T) {
	v, err := Resolve("${a.b.c}", testScope())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestResolve_ListIndex(t *testing.T) {
	v, err := Resolve("${user.roles.1.name}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "viewer", v)
}

func TestResolve_Concatenation(t *testing.T) {
	v, err := Resolve("${user.email}_updated", testScope())
	require.NoError(t, err)
	assert.Equal(t, "jo@example.com_updated", v)

	v, err = Resolve("id=${stored.x}&t=${stored.token}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "id=5&t=abc123", v)
}

func TestResolve_DottedStoredName(t *testing.T) {
	v, err := Resolve("${stored.user.id}", testScope())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestResolve_Failures(t *testing.T) {
	cases := map[string]string{
		"unset name":     "${nope.field}",
		"unset stored":   "${stored.nope}",
		"missing field":  "${a.b.zzz}",
		"index range":    "${user.roles.9}",
		"bad index":      "${user.roles.first}",
		"bare stored":    "${stored}",
		"index a scalar": "${a.b.c.d}",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Resolve(in, testScope())
			var re *ResolutionError
			require.True(t, errors.As(err, &re), "got %v", err)
			assert.NotEmpty(t, re.Reason)
		})
	}
}

func TestResolveArgs_ErrorNamesArgumentPath(t *testing.T) {
	cases := map[string]struct {
		args map[string]any
		path string
	}{
		"top level":  {map[string]any{"id": "${nope.id}"}, "id"},
		"nested map": {map[string]any{"headers": map[string]any{"Authorization": "Bearer ${stored.missing}"}}, "headers.Authorization"},
		"list item":  {map[string]any{"ids": []any{"${stored.x}", 3, "${a.b.zzz}"}}, "ids[2]"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ResolveArgs(tc.args, testScope())
			var re *ResolutionError
			require.True(t, errors.As(err, &re), "got %v", err)
			assert.Equal(t, tc.path, re.Path)
			assert.Contains(t, err.Error(), " at "+tc.path+": ")
		})
	}

	_, err := Resolve("${nope}", testScope())
	var re *ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Empty(t, re.Path)
}

func TestResolve_Literal(t *testing.T) {
	v, err := Resolve("plain text", Scope{})
	require.NoError(t, err)
	assert.Equal(t, "plain text", v)
}

func TestResolveArgs_Recursive(t *testing.T) {
	args := map[string]any{
		"headers": map[string]any{"Authorization": "Bearer ${stored.token}"},
		"ids":     []any{"${stored.x}", 3, "${a.b.c}"},
		"limit":   10,
	}
	out, err := ResolveArgs(args, testScope())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc123", out["headers"].(map[string]any)["Authorization"])
	assert.Equal(t, []any{5, 3, 7}, out["ids"])
	assert.Equal(t, 10, out["limit"])
	assert.Equal(t, "Bearer ${stored.token}", args["headers"].(map[string]any)["Authorization"], "input must not be mutated")
}

type profile struct {
	Name string `json:"name"`
	Tags []string
}

func TestResolve_TypedResult(t *testing.T) {
	scope := Scope{Saved: Values{"p": &profile{Name: "ana", Tags: []string{"x", "y"}}}}

	v, err := Resolve("${p.name}", scope)
	require.NoError(t, err)
	assert.Equal(t, "ana", v)

	v, err = Resolve("${p.Tags.1}", scope)
	require.NoError(t, err)
	assert.Equal(t, "y", v)
}

func TestRender(t *testing.T) {
	assert.Equal(t, "", Render(nil))
	assert.Equal(t, "1.5", Render(1.5))
	assert.Equal(t, "42", Render(float64(42)))
	assert.Equal(t, "true", Render(true))
	assert.Equal(t, `{"a":1}`, Render(map[string]any{"a": 1}))
	assert.Equal(t, `[1,"b"]`, Render([]any{1, "b"}))
}

func TestReferences(t *testing.T) {
	refs, err := References(map[string]any{
		"a": "${login.token}",
		"b": []any{"x ${stored.y} z"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]string{{"login", "token"}, {"stored", "y"}}, refs)
}

func TestEvalBool(t *testing.T) {
	env := GuardEnv(map[string]any{"attempts": 2}, map[string]any{"login": map[string]any{"status_code": 200}})

	ok, err := EvalBool("stored.attempts < 3", env)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvalBool(`login.status_code == 500`, env)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = EvalBool("", env)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = EvalBool("1 +", env)
	assert.Error(t, err)
}

func TestCheckBool(t *testing.T) {
	assert.NoError(t, CheckBool("stored.ready == true"))
	assert.Error(t, CheckBool("(("))
}
