package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
)

func validParams() Params {
	return Params{
		GraphFile:    "edges.csv",
		GraphType:    "undirected",
		Model:        "icm",
		Deadline:     15,
		Epsilon:      0.5,
		Ell:          1,
		K:            2,
		Trials:       100,
		MaxSamples:   1000,
		Participants: []int{1, 2, 3},
	}
}

func fields(t *testing.T, err error) []string {
	t.Helper()
	var errs ValidationErrors
	require.True(t, errors.As(err, &errs), "expected ValidationErrors, got %v", err)
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		fields []string
	}{
		{"valid", func(*Params) {}, nil},
		{"instant without deadline", func(p *Params) { p.Model = "ic"; p.Deadline = 0 }, nil},
		{"missing graph", func(p *Params) { p.GraphFile = "" }, []string{"graph_file"}},
		{"bad graph type", func(p *Params) { p.GraphType = "mixed" }, []string{"graph_type"}},
		{"bad model", func(p *Params) { p.Model = "lt" }, []string{"model"}},
		{"epsilon too large", func(p *Params) { p.Epsilon = 1 }, []string{"epsilon"}},
		{"zero ell", func(p *Params) { p.Ell = 0 }, []string{"ell"}},
		{"negative k", func(p *Params) { p.K = -1 }, []string{"k"}},
		{"zero trials", func(p *Params) { p.Trials = 0 }, []string{"trials"}},
		{"negative participant", func(p *Params) { p.Participants = []int{1, -4} }, []string{"participants"}},
		{"delayed without deadline", func(p *Params) { p.Deadline = 0 }, []string{"deadline"}},
		{"several", func(p *Params) { p.Ell = -1; p.Trials = -1 }, []string{"ell", "trials"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := ValidateParams(p)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.fields, fields(t, err))
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "k", Message: "must be at least 0", Value: "-1"},
		{Field: "ell", Message: "must be greater than 0"},
	}
	assert.Contains(t, errs.Error(), "2 validation errors")
	assert.Equal(t, "validation error in field 'ell': must be greater than 0", errs[1].Error())
}

func TestValidateParticipants(t *testing.T) {
	g := models.NewGraph(4)
	assert.NoError(t, ValidateParticipants(g, []int{0, 3}))
	assert.Equal(t, []string{"participants", "participants"}, fields(t, ValidateParticipants(g, []int{4, -1, 2})))
}

func TestValidateGraph(t *testing.T) {
	g := models.NewGraph(3)
	require.NoError(t, g.AddEdge(0, 1, 1))
	assert.Equal(t, []string{"model"}, fields(t, ValidateGraph(g)))

	_, err := g.SetDiffusionModel(models.ModelInstant, 0)
	require.NoError(t, err)
	assert.NoError(t, ValidateGraph(g))

	assert.Equal(t, []string{"graph", "model"}, fields(t, ValidateGraph(models.NewGraph(0))))
}
