package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface{ Greet() string }

type hello struct{ name string }

func (h hello) Greet() string { return "hello " + h.name }

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry[greeter]()
	require.NoError(t, r.Register("hello", func(conf map[string]any) (greeter, error) {
		var c struct {
			Name string `json:"name"`
		}
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return hello{name: c.Name}, nil
	}))
	assert.Error(t, r.Register("hello", func(map[string]any) (greeter, error) { return hello{}, nil }))
	assert.Error(t, r.Register("nil", nil))

	g, err := r.Create(ModuleConfig{Type: "hello", Conf: map[string]any{"name": "ops"}})
	require.NoError(t, err)
	assert.Equal(t, "hello ops", g.Greet())

	_, err = r.Create(ModuleConfig{Type: "missing"})
	assert.Error(t, err)
	assert.Equal(t, []string{"hello"}, r.Names())
}

func TestRegistryCreateAll(t *testing.T) {
	r := NewRegistry[greeter]()
	require.NoError(t, r.Register("hello", func(map[string]any) (greeter, error) { return hello{name: "x"}, nil }))
	all, err := r.CreateAll([]ModuleConfig{{Type: "hello"}, {Type: "hello"}})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = r.CreateAll([]ModuleConfig{{Type: "hello"}, {Type: "nope"}})
	assert.ErrorContains(t, err, "module 1 (nope)")
}

func TestDecodeDurationAndWeakTypes(t *testing.T) {
	var c struct {
		Timeout time.Duration `json:"timeout"`
		Retries int           `json:"retries"`
	}
	require.NoError(t, Decode(map[string]any{"timeout": "2s", "retries": "4"}, &c))
	assert.Equal(t, 2*time.Second, c.Timeout)
	assert.Equal(t, 4, c.Retries)
}
