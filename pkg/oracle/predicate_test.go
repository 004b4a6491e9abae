package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ecoworks/retrofit/pkg/model"
)

func TestEvalCombinators(t *testing.T) {
	env := &Env{
		Principal:  &model.Principal{ID: "u1"},
		Assessment: &model.Assessment{ID: "a1", OwnerID: "u1"},
	}

	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{"atom true", Is(AtomIsOwner), true},
		{"atom false", Is(AtomIsSharedWith), false},
		{"empty and is true", AllOf(), true},
		{"empty or is false", AnyOf(), false},
		{"and short circuit", AllOf(Is(AtomIsOwner), Is(AtomIsSharedWith)), false},
		{"or picks true branch", AnyOf(Is(AtomIsSharedWith), Is(AtomIsOwner)), true},
		{"not inverts", Negate(Is(AtomIsSharedWith)), true},
		{"nested", AllOf(Is(AtomIsOwner), AnyOf(Is(AtomIsSharedWith), Negate(Is(AtomIsInOrganisation)))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eval(tt.expr, env))
		})
	}
}

func TestReadWriteSplit(t *testing.T) {
	expr := ReadWriteSplit(Is(AtomIsSharedWith), Is(AtomIsOwner))

	env := &Env{
		Principal:  &model.Principal{ID: "u1"},
		Assessment: &model.Assessment{ID: "a1", OwnerID: "u1", SharedWith: model.NewSet()},
	}

	env.Method = "GET"
	assert.False(t, Eval(expr, env), "owner without a sharing edge cannot use the read branch")

	env.Method = "PUT"
	assert.True(t, Eval(expr, env), "owner passes the write branch")

	env.Assessment.SharedWith.Add("u1")
	env.Method = "GET"
	assert.True(t, Eval(expr, env))
}

func TestExprString(t *testing.T) {
	expr := AnyOf(Is(AtomIsOwner), AllOf(Is(AtomIsInOrganisation), Negate(Is(AtomIsSharedWith))))
	assert.Equal(t, "(IsOwner OR (IsInOrganisation AND NOT IsSharedWith))", expr.String())
}

func TestAtomsAgainstEmptyEnv(t *testing.T) {
	env := &Env{}
	for kind, name := range atomNames {
		if kind == AtomIsWriteRequest {
			// Write is the complement of read; with no action or method
			// bound it holds vacuously.
			continue
		}
		assert.False(t, env.atom(kind), "atom %s must be false on an empty environment", name)
	}
}
