package scalar

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/morph/schema"
)

// TestRoundTrip verifies parse(serialize(v)) == v for every builtin scalar.
func TestRoundTrip(t *testing.T) {
	r := NewRegistry()
	ts, err := time.Parse(time.RFC3339Nano, "2024-03-01T10:30:00.000000001Z")
	require.NoError(t, err)
	tests := []struct {
		scalar string
		values []any
	}{
		{"ID", []any{int64(1), "abc", int64(1 << 40)}},
		{"String", []any{"", "hello", "héllo wörld"}},
		{"Int", []any{int64(0), int64(-5), int64(1<<62 - 1)}},
		{"Float", []any{0.0, -1.5, 3.14159}},
		{"Boolean", []any{true, false}},
		{"Time", []any{ts, ts.Add(24 * time.Hour)}},
		{"UUID", []any{uuid.MustParse("9b2b02cc-c1ee-4b21-a967-46dbbd7a4196")}},
		{"Bytes", []any{[]byte{}, []byte("raw\x00data")}},
		{"JSON", []any{map[string]any{"a": 1.0}, []any{"x", "y"}, "plain"}},
	}
	for _, tt := range tests {
		t.Run(tt.scalar, func(t *testing.T) {
			s, ok := r.Lookup(tt.scalar)
			require.True(t, ok)
			for _, v := range tt.values {
				wire, err := s.Serialize(v)
				require.NoError(t, err)
				got, err := s.Parse(wire)
				require.NoError(t, err)
				assert.Equal(t, v, got)
			}
		})
	}
}

func TestBooleanParsesExactStrings(t *testing.T) {
	r := NewRegistry()
	s, ok := r.Lookup("Boolean")
	require.True(t, ok)

	got, err := s.Parse("true")
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = s.Parse("false")
	require.NoError(t, err)
	assert.Equal(t, false, got)
}

func TestParseRejectsMalformed(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		scalar string
		value  any
	}{
		{"Int", "not a number"},
		{"Float", true},
		{"Boolean", "yes"},
		{"Boolean", 1},
		{"Boolean", "TRUE"},
		{"Time", "yesterday"},
		{"UUID", "not-a-uuid"},
		{"Bytes", 42},
		{"ID", true},
	}
	for _, tt := range tests {
		t.Run(tt.scalar, func(t *testing.T) {
			s, ok := r.Lookup(tt.scalar)
			require.True(t, ok)
			_, err := s.Parse(tt.value)
			assert.Error(t, err)
			assert.Error(t, s.Validate(tt.value))
		})
	}
}

func TestResolveForField(t *testing.T) {
	r := NewRegistry()

	t.Run("kind mapping", func(t *testing.T) {
		s := r.ResolveForField(&schema.FieldDescriptor{Name: "title", Kind: schema.KindString})
		assert.Equal(t, "String", s.Name)
		s = r.ResolveForField(&schema.FieldDescriptor{Name: "rating", Kind: schema.KindEnum})
		assert.Equal(t, "String", s.Name)
	})

	t.Run("override wins over kind", func(t *testing.T) {
		r.Register(&Scalar{Name: "Money", Parse: Int().Parse, Serialize: Int().Serialize, Validate: Int().Validate})
		s := r.ResolveForField(&schema.FieldDescriptor{
			Name: "price", Kind: schema.KindFloat, ScalarOverride: "Money",
		})
		assert.Equal(t, "Money", s.Name)
	})

	t.Run("native type for computed fields", func(t *testing.T) {
		s := r.ResolveForField(&schema.FieldDescriptor{
			Name: "published_at", Computed: true, NativeType: "time.Time",
			Kind: schema.FieldKind(250), // unmapped
		})
		assert.Equal(t, "Time", s.Name)
	})

	t.Run("unmapped degrades to JSON", func(t *testing.T) {
		s := r.ResolveForField(&schema.FieldDescriptor{Name: "blob", Kind: schema.FieldKind(250)})
		assert.Equal(t, "JSON", s.Name)
	})
}

func TestResolveForReturnType(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "Int", r.ResolveForReturnType("int64").Name)
	assert.Equal(t, "UUID", r.ResolveForReturnType("uuid.UUID").Name)
	assert.Equal(t, "JSON", r.ResolveForReturnType("map[string]int").Name)
}
