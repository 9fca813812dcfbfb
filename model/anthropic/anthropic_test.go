package anthropic

import (
	"testing"

	"github.com/hupe1980/relaymesh/model"
	"github.com/stretchr/testify/assert"
)

func TestSplitMessages(t *testing.T) {
	system, messages := splitMessages([]model.Message{
		model.System("rules"),
		model.User("question"),
		model.System("format reminder"),
		model.Assistant(""),
	})

	assert.Len(t, system, 2)
	assert.Equal(t, "format reminder", system[1].Text)
	assert.Len(t, messages, 1)
}

func TestNewModel_Info(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "test-key" })
	assert.Equal(t, "anthropic", m.Info().Provider)
	assert.NotEmpty(t, m.Info().Name)
}
