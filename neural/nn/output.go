package nn

// OutputProjection maps hidden states to vocabulary logits.
type OutputProjection struct {
	*Linear
}

// NewOutputProjection creates a dimModel×vocabSize projection with bias.
func NewOutputProjection(dimModel, vocabSize int, src *Init) *OutputProjection {
	return &OutputProjection{Linear: NewLinear("OutputProjection", dimModel, vocabSize, src)}
}

func (o *OutputProjection) Kind() string { return "OutputProjection" }

// VocabSize is the width of the logits.
func (o *OutputProjection) VocabSize() int { return o.OutputCols() }

var (
	_ Layer = (*Embedding)(nil)
	_ Layer = (*TransformerBlock)(nil)
	_ Layer = (*NormalizedResidual)(nil)
	_ Layer = (*SelfAttention)(nil)
	_ Layer = (*FeedForward)(nil)
	_ Layer = (*LayerNorm)(nil)
	_ Layer = (*OutputProjection)(nil)
)
