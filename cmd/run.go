package cmd

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/llamacore/llamacore/engine"
	"github.com/llamacore/llamacore/envconfig"
	"github.com/llamacore/llamacore/fs/ggml"
	"github.com/llamacore/llamacore/gpu"
	"github.com/llamacore/llamacore/model"
	"github.com/llamacore/llamacore/tokenizer"
	"github.com/llamacore/llamacore/weights"
)

func newRunCmd() *cobra.Command {
	var prompt string
	var maxTokens int

	cmd := &cobra.Command{
		Use:   "run MODEL",
		Short: "Load a GGUF model and generate tokens from a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], prompt, maxTokens)
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text to encode and run")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 64, "maximum tokens to generate")

	return cmd
}

func run(cmd *cobra.Command, path, prompt string, maxTokens int) error {
	file, err := ggml.Open(path, ggml.Options{MaxArraySize: envconfig.MaxArraySize()})
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	device, err := gpu.NewDevice()
	if err != nil {
		return fmt.Errorf("opening GPU device: %w", err)
	}
	defer device.Close()

	mat := weights.New(file, device, envconfig.Validation())

	tok, err := tokenizer.New(file.KV)
	if err != nil {
		return fmt.Errorf("initializing tokenizer: %w", err)
	}

	m, err := model.Load(file, mat)
	if err != nil {
		return fmt.Errorf("assembling model: %w", err)
	}

	eng, err := engine.New(m, device)
	if err != nil {
		return fmt.Errorf("constructing inference engine: %w", err)
	}
	defer eng.Release()

	ids := tok.Encode(prompt)

	out := cmd.OutOrStdout()
	for i := 0; i < len(ids)-1; i++ {
		logits, err := eng.Forward(ids[i])
		if err != nil {
			return fmt.Errorf("prefill token %d: %w", i, err)
		}
		logits.Release()
	}

	token := ids[len(ids)-1]
	for n := 0; n < maxTokens; n++ {
		logits, err := eng.Forward(token)
		if err != nil {
			return fmt.Errorf("forward pass at position %d: %w", eng.CurrentPosition(), err)
		}

		next := argmax(logits)
		logits.Release()

		if next == tok.EOS() {
			break
		}

		fmt.Fprint(out, tok.Decode([]int32{next}))
		token = next
	}

	return nil
}

// argmax reads an F32 logits buffer on the host and returns the index of
// its largest element. Sampling policy is out of scope; this is the CLI's
// own convenience, not an engine contract.
func argmax(logits *gpu.Buffer) int32 {
	data := logits.Bytes()
	best := int32(0)
	bestVal := float32(math.Inf(-1))
	for i := uint64(0); i < logits.Count; i++ {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
		if v > bestVal {
			bestVal = v
			best = int32(i)
		}
	}
	return best
}
