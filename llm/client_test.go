package llm

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		want    Params
		wantErr string
	}{
		{name: "defaults", raw: nil, want: DefaultParams},
		{name: "yaml ints", raw: map[string]any{"temperature": 1, "max_tokens": 256}, want: Params{Temperature: 1, MaxTokens: 256}},
		{name: "float tokens", raw: map[string]any{"max_tokens": 12.0}, want: Params{Temperature: 0.7, MaxTokens: 12}},
		{name: "unknown keys", raw: map[string]any{"top_p": 0.9, "seed": 1}, wantErr: "seed, top_p"},
		{name: "temperature too high", raw: map[string]any{"temperature": 2.5}, wantErr: "temperature"},
		{name: "temperature not a number", raw: map[string]any{"temperature": "hot"}, wantErr: "number"},
		{name: "fractional tokens", raw: map[string]any{"max_tokens": 1.5}, wantErr: "integer"},
		{name: "zero tokens", raw: map[string]any{"max_tokens": 0}, wantErr: "positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, errors.IsKind(err, errors.KindConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	p, err := New(context.Background(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &MockLLMClient{}, p)

	_, err = New(context.Background(), "llama-on-a-toaster", "m")
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))

	t.Setenv("OPENAI_API_KEY", "")
	_, err = New(context.Background(), "openai", "gpt")
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestMockLLMClient(t *testing.T) {
	m := &MockLLMClient{}
	msgs := []session.Message{
		{Role: session.RoleUser, Content: "first"},
		{Role: session.RoleAssistant, Content: "ok"},
		{Role: session.RoleUser, Content: "hello there"},
	}

	reply, err := m.Complete(context.Background(), msgs, DefaultParams)
	require.NoError(t, err)
	assert.Equal(t, "I am a mock LLM. You said: 'hello there'.", reply)

	s, err := m.Stream(context.Background(), msgs, DefaultParams)
	require.NoError(t, err)
	defer s.Close()
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Delta())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, reply, b.String())
}

func TestSliceStream(t *testing.T) {
	t.Run("ends with error", func(t *testing.T) {
		s := NewSliceStream(context.Background(), []string{"Hel", "lo"}, stderrors.New("connection reset"))
		var got []string
		for s.Next() {
			got = append(got, s.Delta())
		}
		assert.Equal(t, []string{"Hel", "lo"}, got)
		require.Error(t, s.Err())
		assert.True(t, errors.IsKind(s.Err(), errors.KindProvider))
	})

	t.Run("stops on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		s := NewSliceStream(ctx, []string{"a", "b"}, nil)
		require.True(t, s.Next())
		cancel()
		assert.False(t, s.Next())
		assert.ErrorIs(t, s.Err(), context.Canceled)
	})

	t.Run("closed", func(t *testing.T) {
		s := NewSliceStream(context.Background(), []string{"a"}, nil)
		require.NoError(t, s.Close())
		assert.False(t, s.Next())
		assert.NoError(t, s.Err())
	})
}

func TestConvertMessagesToGeminiContent(t *testing.T) {
	system, contents := convertMessagesToGeminiContent([]session.Message{
		{Role: session.RoleSystem, Content: "sys"},
		{Role: session.RoleUser, Content: "q"},
		{Role: session.RoleAssistant, Content: "a"},
		{Role: session.RoleUser, Content: "q2"},
		{Role: session.RoleTool, Content: "result"},
	})
	assert.Equal(t, "sys", system)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "user", contents[2].Role)
	assert.Len(t, contents[2].Parts, 2)
}
