package engine

import (
	"testing"

	"github.com/llamacore/llamacore/gpu"
	"github.com/llamacore/llamacore/model"
)

func TestRopeParamsForMapsScalingType(t *testing.T) {
	cases := []struct {
		in   string
		want gpu.RopeScalingType
	}{
		{"none", gpu.RopeScalingNone},
		{"linear", gpu.RopeScalingLinear},
		{"yarn", gpu.RopeScalingYarn},
		{"", gpu.RopeScalingNone},
	}

	for _, c := range cases {
		hp := &model.Hyperparameters{RopeScaling: model.RopeScaling{Type: c.in}}
		got := ropeParamsFor(hp)
		if got.Type != c.want {
			t.Errorf("ropeParamsFor(%q).Type = %v, want %v", c.in, got.Type, c.want)
		}
	}
}
