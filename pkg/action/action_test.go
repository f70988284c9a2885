package action

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/stratum/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAction struct {
	params Params
}

func (a *echoAction) Name() string                 { return "Echo" }
func (a *echoAction) Params() Params               { return a.params }
func (a *echoAction) Validate(*Context) error      { return nil }
func (a *echoAction) Run(*Context) (*Result, error) { return Completed(), nil }

func TestParamsExportImport(t *testing.T) {
	p := NewParams("target", "layer_1", "name", "it's a \\ path")
	p.SetFloat("lower", 0.25)
	p.SetBool("replace", true)
	p.SetStrings("layers", []string{"layer_1", "layer_2"})
	p.SetInt("sandbox", -1)

	exported := p.String()
	assert.Equal(t, `target='layer_1' name='it\'s a \\ path' lower='0.25' replace='true' layers='layer_1,layer_2' sandbox='-1'`, exported)

	parsed, err := ParseParams(exported)
	require.NoError(t, err)
	assert.Equal(t, p, parsed)

	lower, err := parsed.GetFloat("lower", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.25, lower)
	replace, err := parsed.GetBool("replace", false)
	require.NoError(t, err)
	assert.True(t, replace)
	sandbox, err := parsed.GetInt("sandbox", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), sandbox)
	assert.Equal(t, []string{"layer_1", "layer_2"}, parsed.GetStrings("layers"))
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Params
		wantErr bool
	}{
		{name: "empty", in: "   ", want: nil},
		{name: "bare tokens", in: "a=1 b=two", want: NewParams("a", "1", "b", "two")},
		{name: "double quotes", in: `a="x y"`, want: NewParams("a", "x y")},
		{name: "empty value", in: "a=''", want: NewParams("a", "")},
		{name: "list", in: "layers='[layer_1, layer_2]'", want: NewParams("layers", "[layer_1, layer_2]")},
		{name: "missing equals", in: "a", wantErr: true},
		{name: "unterminated", in: "a='x", wantErr: true},
		{name: "empty key", in: "='x'", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidParam))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	p, err := ParseParams("layers='[layer_1, layer_2]'")
	require.NoError(t, err)
	assert.Equal(t, []string{"layer_1", "layer_2"}, p.GetStrings("layers"))
}

func TestParamsTypedGetters(t *testing.T) {
	p := NewParams("n", "abc", "empty", "")

	_, err := p.GetInt("n", 0)
	assert.True(t, errors.Is(err, ErrInvalidParam))
	_, err = p.GetFloat("n", 0)
	assert.Error(t, err)
	_, err = p.GetBool("n", false)
	assert.Error(t, err)

	v, err := p.GetInt("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = p.RequireString("empty")
	assert.Error(t, err)
	assert.Equal(t, "def", p.GetString("missing", "def"))
	assert.Nil(t, p.GetStrings("missing"))

	clone := p.Clone()
	clone.Set("n", "1")
	assert.Equal(t, "abc", p.GetString("n", ""))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, types.StatusSuccess, StatusFor(nil))
	assert.Equal(t, types.StatusUnavailable, StatusFor(Invalid("X", fmt.Errorf("%w: layer_1", ErrLayerUnavailable))))
	assert.Equal(t, types.StatusInvalid, StatusFor(Invalid("X", ErrOutOfRange)))
	assert.Equal(t, types.StatusError, StatusFor(errors.New("boom")))

	err := Invalid("X", ErrWrongType)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "X", ve.Action)
	assert.True(t, errors.Is(err, ErrWrongType))
	assert.Same(t, err, Invalid("Y", err))
	assert.Nil(t, Invalid("X", nil))
}

func TestContextLifecycle(t *testing.T) {
	ctx := NewContext(types.SourceScript)
	assert.Equal(t, types.SourceScript, ctx.Source())
	assert.NotEmpty(t, ctx.ID())
	assert.Equal(t, types.StatusPending, ctx.Status())

	ctx.ReportError(Invalid("X", ErrLayerNotFound))
	ctx.ReportMessage("checked")
	ctx.ReportDone()
	ctx.ReportDone()

	err := ctx.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrLayerNotFound))
	assert.Equal(t, types.StatusInvalid, ctx.Status())
	assert.Equal(t, []string{"checked"}, ctx.Messages())
	assert.Nil(t, ctx.Result())
}

func TestContextWaitHonoursContext(t *testing.T) {
	ctx := NewContext(types.SourceInterface)
	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(ctx.Wait(wctx), context.DeadlineExceeded))
}

func TestResultNotifier(t *testing.T) {
	r := NewResult("layer_3")
	select {
	case <-r.Done():
		t.Fatal("result completed early")
	default:
	}

	go r.Complete(errors.New("failed"))
	err := r.Wait(context.Background())
	assert.EqualError(t, err, "failed")

	r.Complete(nil)
	assert.EqualError(t, r.Err(), "failed")

	assert.NoError(t, Completed().Wait(context.Background()))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Echo", func(p Params) (Action, error) {
		if !p.Has("target") {
			return nil, fmt.Errorf("%w: target", ErrInvalidParam)
		}
		return &echoAction{params: p}, nil
	})
	assert.Equal(t, []string{"Echo"}, reg.Names())

	a, err := reg.Parse(`Echo target='layer_1' note='x y'`)
	require.NoError(t, err)
	assert.Equal(t, "Echo target='layer_1' note='x y'", Export(a))

	_, err = reg.Parse("Echo")
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = reg.Create("Nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownAction))
	_, err = reg.Parse("  ")
	assert.Error(t, err)
}
